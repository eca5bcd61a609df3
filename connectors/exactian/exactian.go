// Package exactian reads employees from the Exactian REST API.
package exactian

import (
	"context"
	"fmt"
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/connectors/internal/apiclient"
	"github.com/spec-sa/netsync/internal/model"
)

const (
	Name = "exactian"

	getEmployees = "get_employees"
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

func (c *Connector) Open(_ context.Context, creds connectors.Credentials, _ time.Time) (connectors.Session, error) {
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
	return &session{client: client}, nil
}

type session struct {
	client *apiclient.Client
}

func (s *session) methods() connectors.Methods {
	return connectors.Methods{getEmployees: s.getEmployees}
}

func (s *session) Method(name string) (connectors.Method, bool) {
	return s.methods().Method(name)
}

func (s *session) Close() error { return nil }

// getEmployees returns every employee; Exactian has no incremental filter.
func (s *session) getEmployees(ctx context.Context, _ []connectors.Record, _ connectors.Params) ([]connectors.Record, error) {
	res, err := s.client.Get(ctx, "api/employees", nil)
	if err != nil {
		return nil, fmt.Errorf("getting employees: %w", err)
	}
	return apiclient.Records(res, "")
}
