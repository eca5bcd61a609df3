// Package specmanagerapi connects to the SPEC Manager REST API.
package specmanagerapi

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/tidwall/sjson"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/connectors/internal/apiclient"
	"github.com/spec-sa/netsync/internal/model"
	"github.com/spec-sa/netsync/jsonrs"
)

const (
	Name = "specmanagerapi"

	getClockings  = "get_clockings"
	postEmployees = "post_employees"

	apiKeyHeader = "apikey"
	queryLayout  = "2006-01-02T15:04:05"
)

type Connector struct {
	opts []apiclient.Opt
	now  func() time.Time
}

func New(conf *config.Config, log logger.Logger, opts ...apiclient.Opt) *Connector {
	return &Connector{
		opts: append(apiclient.FromConfig(conf, log.Child(Name)), opts...),
		now:  time.Now,
	}
}

func (c *Connector) Name() string { return Name }

func (c *Connector) Methods() []string {
	return (&session{}).methods().Names()
}

func (c *Connector) Open(_ context.Context, creds connectors.Credentials, lastRun time.Time) (connectors.Session, error) {
	if err := creds.Require(model.ParamHost, model.ParamAPIKey); err != nil {
		return nil, err
	}
	opts := append([]apiclient.Opt{
		apiclient.WithAuth(apiclient.Header(apiKeyHeader, creds.Get(model.ParamAPIKey))),
	}, c.opts...)
	client, err := apiclient.New(creds.Get(model.ParamHost), opts...)
	if err != nil {
		return nil, err
	}
	return &session{client: client, lastRun: lastRun, now: c.now}, nil
}

type session struct {
	client  *apiclient.Client
	lastRun time.Time
	now     func() time.Time
}

func (s *session) methods() connectors.Methods {
	return connectors.Methods{
		getClockings:  s.getClockings,
		postEmployees: s.postEmployees,
	}
}

func (s *session) Method(name string) (connectors.Method, bool) {
	return s.methods().Method(name)
}

func (s *session) Close() error { return nil }

type clockingsOptions struct {
	Type     string `mapstructure:"_type"`
	From     string `mapstructure:"_from"`
	To       string `mapstructure:"_to"`
	AllPages bool   `mapstructure:"all_pages"`
	Fields   any    `mapstructure:"fields"`

	Extra map[string]any `mapstructure:",remain"`
}

// getClockings reads the clockings of one employee type between the last run
// and now, or between _from and _to.
func (s *session) getClockings(ctx context.Context, _ []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	var opts clockingsOptions
	if err := connectors.DecodeParams(kw, &opts); err != nil {
		return nil, err
	}
	if opts.Type == "" {
		return nil, fmt.Errorf("param _type is required")
	}
	from, err := connectors.TimeParam(kw, "_from", s.lastRun)
	if err != nil {
		return nil, err
	}
	to, err := connectors.TimeParam(kw, "_to", s.now())
	if err != nil {
		return nil, err
	}

	return apiclient.Paginate(ctx, opts.AllPages, func(ctx context.Context, page int) ([]map[string]any, int, error) {
		query := apiclient.Query(opts.Extra)
		query.Set("type", opts.Type)
		query.Set("from", from.Format(queryLayout))
		query.Set("to", to.Format(queryLayout))
		if page > 1 {
			query.Set("page", strconv.Itoa(page))
		}
		res, err := s.client.Get(ctx, "api/clockings", query)
		if err != nil {
			return nil, 0, err
		}
		pages := 1
		if p := res.Get("response.pages"); p.Exists() {
			pages = int(p.Int())
		}
		records, err := apiclient.Records(res, "response.clockings")
		return records, pages, err
	})
}

type employeesOptions struct {
	Fields any `mapstructure:"fields"`

	Extra map[string]any `mapstructure:",remain"`
}

// postEmployees sends the employees as employeeData and returns the API response.
func (s *session) postEmployees(ctx context.Context, in []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	var opts employeesOptions
	if err := connectors.DecodeParams(kw, &opts); err != nil {
		return nil, err
	}

	body := []byte(`{}`)
	if len(opts.Extra) > 0 {
		var err error
		if body, err = jsonrs.Marshal(opts.Extra); err != nil {
			return nil, fmt.Errorf("marshalling params: %w", err)
		}
	}
	employees := in
	if employees == nil {
		employees = []connectors.Record{}
	}
	body, err := sjson.SetBytes(body, "employeeData", employees)
	if err != nil {
		return nil, fmt.Errorf("building body: %w", err)
	}

	res, err := s.client.Post(ctx, "api/employees", body)
	if err != nil {
		return nil, fmt.Errorf("posting %d employees: %w", len(in), err)
	}
	if result, ok := res.Value().(map[string]any); ok {
		return []connectors.Record{result}, nil
	}
	return nil, nil
}
