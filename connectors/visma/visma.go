// Package visma connects to the Visma HR REST API.
package visma

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/tidwall/gjson"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/connectors/internal/apiclient"
	"github.com/spec-sa/netsync/internal/model"
)

const (
	Name = "visma"

	getEmployees = "get_employees"
	postPayments = "post_payments"
)

type Connector struct {
	log  logger.Logger
	opts []apiclient.Opt
}

func New(conf *config.Config, log logger.Logger, opts ...apiclient.Opt) *Connector {
	log = log.Child(Name)
	return &Connector{
		log:  log,
		opts: append(apiclient.FromConfig(conf, log), opts...),
	}
}

func (c *Connector) Name() string { return Name }

func (c *Connector) Methods() []string {
	return (&session{}).methods().Names()
}

func (c *Connector) Open(_ context.Context, creds connectors.Credentials, lastRun time.Time) (connectors.Session, error) {
	if err := creds.Require(model.ParamHost, model.ParamUser, model.ParamPassword); err != nil {
		return nil, err
	}
	opts := append([]apiclient.Opt{
		apiclient.WithAuth(apiclient.BasicAuth(creds.Get(model.ParamUser), creds.Get(model.ParamPassword))),
	}, c.opts...)
	client, err := apiclient.New(creds.Get(model.ParamHost), opts...)
	if err != nil {
		return nil, err
	}
	return &session{
		client:  client,
		lastRun: lastRun,
		log:     c.log,
		tenants: map[string]string{},
	}, nil
}

type session struct {
	client  *apiclient.Client
	lastRun time.Time
	log     logger.Logger

	tenantsMu sync.Mutex
	tenants   map[string]string
}

func (s *session) methods() connectors.Methods {
	return connectors.Methods{
		getEmployees: s.getEmployees,
		postPayments: s.postPayments,
	}
}

func (s *session) Method(name string) (connectors.Method, bool) {
	return s.methods().Method(name)
}

func (s *session) Close() error { return nil }

// tenant returns the id of the first tenant whose attributes match filter.
func (s *session) tenant(ctx context.Context, filter map[string]any) (string, error) {
	key := fmt.Sprint(filter)
	s.tenantsMu.Lock()
	defer s.tenantsMu.Unlock()
	if id, ok := s.tenants[key]; ok {
		return id, nil
	}

	res, err := s.client.Get(ctx, "api/tenants", nil)
	if err != nil {
		return "", fmt.Errorf("listing tenants: %w", err)
	}
	for _, tenant := range res.Get("values").Array() {
		if matches(tenant, filter) {
			id := tenant.Get("id").String()
			s.tenants[key] = id
			return id, nil
		}
	}
	return "", fmt.Errorf("no tenant matches %v", filter)
}

func matches(tenant gjson.Result, filter map[string]any) bool {
	for k, v := range filter {
		if tenant.Get(k).String() != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func (s *session) get(ctx context.Context, tenantID, path string, query url.Values) (gjson.Result, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("tenant", tenantID)
	return s.client.Get(ctx, path, query)
}

type employeesOptions struct {
	Active       *bool          `mapstructure:"active"`
	Extensions   []string       `mapstructure:"extensions"`
	PageSize     int            `mapstructure:"pageSize"`
	AllPages     bool           `mapstructure:"all_pages"`
	TenantFilter map[string]any `mapstructure:"tenant_filter"`
}

// getEmployees lists the employees updated since the last run, or since
// updatedFrom, and returns the detail of each with the requested extensions
// under _<extension>.
func (s *session) getEmployees(ctx context.Context, _ []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	opts := employeesOptions{PageSize: 5}
	if err := connectors.DecodeParams(kw, &opts); err != nil {
		return nil, err
	}
	since, err := connectors.TimeParam(kw, "updatedFrom", s.lastRun)
	if err != nil {
		return nil, err
	}
	tenantID, err := s.tenant(ctx, opts.TenantFilter)
	if err != nil {
		return nil, err
	}

	list, err := apiclient.Paginate(ctx, opts.AllPages, func(ctx context.Context, page int) ([]map[string]any, int, error) {
		query := url.Values{
			"updatedFrom": {since.Format(time.DateOnly)},
			"pageSize":    {strconv.Itoa(opts.PageSize)},
			"page":        {strconv.Itoa(page)},
		}
		if opts.Active != nil {
			query.Set("active", strconv.FormatBool(*opts.Active))
		}
		res, err := s.get(ctx, tenantID, "api/employees", query)
		if err != nil {
			return nil, 0, err
		}
		records, err := apiclient.Records(res, "values")
		return records, int(res.Get("totalPages").Int()), err
	})
	if err != nil {
		return nil, fmt.Errorf("listing employees: %w", err)
	}

	employees := make([]connectors.Record, 0, len(list))
	for _, item := range list {
		path := "api/employees/" + url.PathEscape(fmt.Sprintf("rh-%v", item["id"]))
		res, err := s.get(ctx, tenantID, path, nil)
		if err != nil {
			return nil, fmt.Errorf("employee detail %v: %w", item["id"], err)
		}
		employee, ok := res.Value().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("employee detail %v: expected an object", item["id"])
		}

		for _, extension := range opts.Extensions {
			values, err := apiclient.Paginate(ctx, true, func(ctx context.Context, page int) ([]map[string]any, int, error) {
				res, err := s.get(ctx, tenantID, path+"/"+url.PathEscape(extension), url.Values{"page": {strconv.Itoa(page)}})
				if err != nil {
					return nil, 0, err
				}
				records, err := apiclient.Records(res, "values")
				return records, int(res.Get("totalPages").Int()), err
			})
			if err != nil {
				return nil, fmt.Errorf("employee %v extension %q: %w", item["id"], extension, err)
			}
			if values == nil {
				values = []map[string]any{}
			}
			employee["_"+extension] = values
		}
		employees = append(employees, employee)
	}
	return employees, nil
}

type paymentsOptions struct {
	SyncCfgs     paymentsConfig `mapstructure:"sync_cfgs"`
	TenantFilter map[string]any `mapstructure:"tenant_filter"`
}

// postPayments turns result syncs into pay elements and sends them in one request.
func (s *session) postPayments(ctx context.Context, in []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	var opts paymentsOptions
	if err := connectors.DecodeParams(kw, &opts); err != nil {
		return nil, err
	}
	elements, err := payElements(in, opts.SyncCfgs)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		s.log.Infon("No pay elements to send")
		return nil, nil
	}

	tenantID, err := s.tenant(ctx, opts.TenantFilter)
	if err != nil {
		return nil, err
	}
	query := url.Values{"tenant": {tenantID}}
	if _, err := s.client.Do(ctx, http.MethodPost, "api/payelements", query, map[string]any{"values": elements}); err != nil {
		return nil, fmt.Errorf("posting pay elements: %w", err)
	}
	s.log.Infon("Pay elements sent", logger.NewIntField("count", int64(len(elements))))
	return nil, nil
}
