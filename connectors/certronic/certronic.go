// Package certronic connects to the Certronic REST API.
package certronic

import (
	"context"
	"fmt"
	"math"
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
	Name = "certronic"

	getEmployees  = "get_employees"
	postClockings = "post_clockings"

	apiKeyHeader = "apikey"
)

type Connector struct {
	opts []apiclient.Opt
}

func New(conf *config.Config, log logger.Logger, opts ...apiclient.Opt) *Connector {
	return &Connector{
		opts: append(apiclient.FromConfig(conf, log.Child(Name)), opts...),
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
	return &session{client: client, lastRun: lastRun}, nil
}

type session struct {
	client  *apiclient.Client
	lastRun time.Time
}

func (s *session) methods() connectors.Methods {
	return connectors.Methods{
		getEmployees:  s.getEmployees,
		postClockings: s.postClockings,
	}
}

func (s *session) Method(name string) (connectors.Method, bool) {
	return s.methods().Method(name)
}

func (s *session) Close() error { return nil }

type employeesOptions struct {
	AllPages bool   `mapstructure:"all_pages"`
	From     string `mapstructure:"_from"`
	Fields   any    `mapstructure:"fields"`

	Extra map[string]any `mapstructure:",remain"`
}

// getEmployees reads the employees updated since the last run, or since
// _from. Unknown parameters are forwarded as query values.
func (s *session) getEmployees(ctx context.Context, _ []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	var opts employeesOptions
	if err := connectors.DecodeParams(kw, &opts); err != nil {
		return nil, err
	}
	since, err := connectors.TimeParam(kw, "_from", s.lastRun)
	if err != nil {
		return nil, err
	}

	return apiclient.Paginate(ctx, opts.AllPages, func(ctx context.Context, page int) ([]map[string]any, int, error) {
		query := apiclient.Query(opts.Extra)
		query.Set("updatedFrom", since.Format(time.DateTime))
		if page > 1 {
			query.Set("page", strconv.Itoa(page))
		}
		res, err := s.client.Get(ctx, "api/employees", query)
		if err != nil {
			return nil, 0, err
		}
		records, err := apiclient.Records(res, "employees")
		return records, pages(res.Get("count").Int(), res.Get("pageSize").Int()), err
	})
}

func pages(count, pageSize int64) int {
	if count == 0 || pageSize == 0 {
		return 1
	}
	return int(math.Ceil(float64(count) / float64(pageSize)))
}

type clockingsOptions struct {
	Fields any `mapstructure:"fields"`

	Extra map[string]any `mapstructure:",remain"`
}

// postClockings sends every clocking in a single request and returns the
// API response.
func (s *session) postClockings(ctx context.Context, in []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	var opts clockingsOptions
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
	clockings := in
	if clockings == nil {
		clockings = []connectors.Record{}
	}
	body, err := sjson.SetBytes(body, "clockings", clockings)
	if err != nil {
		return nil, fmt.Errorf("building body: %w", err)
	}

	res, err := s.client.Post(ctx, "api/clockings", body)
	if err != nil {
		return nil, fmt.Errorf("posting %d clockings: %w", len(in), err)
	}
	if result, ok := res.Value().(map[string]any); ok {
		return []connectors.Record{result}, nil
	}
	return nil, nil
}
