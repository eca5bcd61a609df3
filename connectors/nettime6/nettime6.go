// Package nettime6 connects to the NetTime 6 REST API.
package nettime6

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/connectors/internal/apiclient"
	"github.com/spec-sa/netsync/internal/model"
)

const (
	Name = "nettime6"

	getEmployees    = "get_employees"
	getResultSyncs  = "get_result_syncs"
	postEmployees   = "post_employees"
	postDepartments = "post_departments"

	modifiedLayout = "2006-01-02 15:04:05"
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

// Open logs into NetTime and keeps the access token until Close.
func (c *Connector) Open(ctx context.Context, creds connectors.Credentials, lastRun time.Time) (connectors.Session, error) {
	if err := creds.Require(model.ParamHost, model.ParamUser, model.ParamPassword); err != nil {
		return nil, err
	}
	client, err := apiclient.New(creds.Get(model.ParamHost), c.opts...)
	if err != nil {
		return nil, err
	}

	res, err := client.Post(ctx, "api/login", map[string]string{
		"username": creds.Get(model.ParamUser),
		"pwd":      creds.Get(model.ParamPassword),
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	token := res.Get("access_token").String()
	if token == "" {
		return nil, fmt.Errorf("login: no access token in response")
	}
	client.SetAuth(apiclient.Bearer(token))

	return &session{
		client:  client,
		lastRun: lastRun,
		log:     c.log,
	}, nil
}

type session struct {
	client  *apiclient.Client
	lastRun time.Time
	log     logger.Logger
}

func (s *session) methods() connectors.Methods {
	return connectors.Methods{
		getEmployees:    s.getEmployees,
		getResultSyncs:  s.getResultSyncs,
		postEmployees:   s.postEmployees,
		postDepartments: s.postDepartments,
	}
}

func (s *session) Method(name string) (connectors.Method, bool) {
	return s.methods().Method(name)
}

// Close ends the API session. It uses its own context since the run's may be gone.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.client.Do(ctx, "POST", "api/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// query runs a NetTime query and returns the total and the raw items.
func (s *session) query(ctx context.Context, path string, fields []string, filterExp string) (int64, []gjson.Result, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "fields", fields)
	if err != nil {
		return 0, nil, fmt.Errorf("building query: %w", err)
	}
	if filterExp != "" {
		if body, err = sjson.SetBytes(body, "filterExp", filterExp); err != nil {
			return 0, nil, fmt.Errorf("building query: %w", err)
		}
	}
	res, err := s.client.Post(ctx, path, body)
	if err != nil {
		return 0, nil, err
	}
	return res.Get("total").Int(), res.Get("items").Array(), nil
}

type employeesOptions struct {
	FilterExp string `mapstructure:"filterExp"`
}

// getEmployees reads the employees modified since the last run, or since _from.
func (s *session) getEmployees(ctx context.Context, _ []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	var opts employeesOptions
	if err := connectors.DecodeParams(kw, &opts); err != nil {
		return nil, err
	}
	fields, err := connectors.SourceFields(kw)
	if err != nil {
		return nil, err
	}
	since, err := connectors.TimeParam(kw, "_from", s.lastRun)
	if err != nil {
		return nil, err
	}

	filterExp := fmt.Sprintf(`(this.modified >= "%s")`, since.Format(modifiedLayout))
	if opts.FilterExp != "" {
		filterExp = fmt.Sprintf("(%s) && %s", opts.FilterExp, filterExp)
	}

	_, items, err := s.query(ctx, "api/employees/query", fields, filterExp)
	if err != nil {
		return nil, fmt.Errorf("querying employees: %w", err)
	}
	return decodeItems(items)
}

// postEmployees imports the employees one by one.
func (s *session) postEmployees(ctx context.Context, in []connectors.Record, _ connectors.Params) ([]connectors.Record, error) {
	for i, employee := range in {
		if _, err := s.client.Post(ctx, "api/import/employee", employee); err != nil {
			return nil, fmt.Errorf("importing employee %d: %w", i, err)
		}
	}
	return nil, nil
}

type departmentsOptions struct {
	Levels  []string `mapstructure:"levels"`
	Reverse bool     `mapstructure:"reverse"`
}

// postDepartments moves every employee found by nif to the department path of
// its record, built from levels when given.
func (s *session) postDepartments(ctx context.Context, in []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	var opts departmentsOptions
	if err := connectors.DecodeParams(kw, &opts); err != nil {
		return nil, err
	}

	for _, element := range in {
		nif := fmt.Sprint(element["nif"])
		total, items, err := s.query(ctx, "api/employees/query", []string{"id", "nif"}, fmt.Sprintf(`this.nif = "%s"`, nif))
		if err != nil {
			return nil, fmt.Errorf("searching employee %q: %w", nif, err)
		}
		if total != 1 {
			s.log.Warnn("Skipping department, employee not found",
				logger.NewStringField("nif", nif),
				logger.NewIntField("matches", total),
			)
			continue
		}

		path := departmentPath(element, opts.Levels)
		if opts.Reverse {
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
		}

		id := url.PathEscape(items[0].Get("id").String())
		if _, err := s.client.Post(ctx, "api/employees/"+id+"/department", map[string]any{"nodePath": path}); err != nil {
			return nil, fmt.Errorf("setting department of %q: %w", nif, err)
		}
	}
	return nil, nil
}

func departmentPath(element connectors.Record, levels []string) []any {
	if len(levels) > 0 {
		path := make([]any, 0, len(levels))
		for _, level := range levels {
			path = append(path, element[level])
		}
		return path
	}
	switch path := element["path"].(type) {
	case []any:
		return append([]any(nil), path...)
	case []string:
		out := make([]any, len(path))
		for i := range path {
			out[i] = path[i]
		}
		return out
	case nil:
		return nil
	default:
		return []any{path}
	}
}

func decodeItems(items []gjson.Result) ([]connectors.Record, error) {
	records := make([]connectors.Record, 0, len(items))
	for _, item := range items {
		record, ok := item.Value().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object item, got %s", item.Type)
		}
		records = append(records, record)
	}
	return records, nil
}
