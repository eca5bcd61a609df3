// Package specmanagerdb reads and writes the SPEC Manager SQL Server database.
package specmanagerdb

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"time"

	_ "github.com/denisenkom/go-mssqldb"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/internal/model"
	sqlmw "github.com/spec-sa/netsync/middleware/sqlquerywrapper"
	"github.com/spec-sa/netsync/utils/logfield"
)

const (
	Name = "specmanagerdb"

	getEmployees  = "get_employees"
	getResults    = "get_results"
	postEmployees = "post_employees"
)

// Opener returns the database handle for a credential.
type Opener func(ctx context.Context, creds connectors.Credentials) (*sql.DB, error)

type Opt func(*Connector)

func WithOpener(open Opener) Opt {
	return func(c *Connector) {
		c.open = open
	}
}

type Connector struct {
	log                logger.Logger
	open               Opener
	slowQueryThreshold time.Duration
}

func New(conf *config.Config, log logger.Logger, opts ...Opt) *Connector {
	c := &Connector{
		log:                log.Child(Name),
		open:               openSQLServer,
		slowQueryThreshold: conf.GetDurationVar(10, time.Second, "NetSync.Manager.slowQueryThreshold"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Name() string { return Name }

func (c *Connector) Methods() []string {
	return (&session{}).methods().Names()
}

func (c *Connector) Open(ctx context.Context, creds connectors.Credentials, _ time.Time) (connectors.Session, error) {
	if err := creds.Require(model.ParamServer, model.ParamUser, model.ParamPassword, model.ParamDatabase); err != nil {
		return nil, err
	}
	db, err := c.open(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", creds.Get(model.ParamServer), err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s: %w", creds.Get(model.ParamServer), err)
	}

	return &session{
		db: sqlmw.New(db,
			sqlmw.WithLogger(c.log),
			sqlmw.WithSlowQueryThreshold(c.slowQueryThreshold),
			sqlmw.WithFields(logger.NewStringField(logfield.Database, creds.Get(model.ParamDatabase))),
		),
		controller: creds.Get(model.ParamController),
		log:        c.log,
	}, nil
}

// DSN builds the sqlserver connection string of a credential.
func DSN(creds connectors.Credentials) (string, error) {
	host := creds.Get(model.ParamServer)
	if port := creds.Get(model.ParamPort); port != "" {
		if _, err := creds.Int(model.ParamPort, 0); err != nil {
			return "", err
		}
		host = net.JoinHostPort(host, port)
	}
	query := url.Values{}
	query.Set("database", creds.Get(model.ParamDatabase))
	query.Set("app name", "netsync")

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(creds.Get(model.ParamUser), creds.Get(model.ParamPassword)),
		Host:     host,
		RawQuery: query.Encode(),
	}
	if instance := creds.Get(model.ParamInstance); instance != "" {
		u.Path = instance
	}
	return u.String(), nil
}

func openSQLServer(_ context.Context, creds connectors.Credentials) (*sql.DB, error) {
	dsn, err := DSN(creds)
	if err != nil {
		return nil, err
	}
	return sql.Open("sqlserver", dsn)
}

type session struct {
	db         *sqlmw.DB
	controller string
	log        logger.Logger
}

func (s *session) methods() connectors.Methods {
	return connectors.Methods{
		getEmployees:  s.getEmployees,
		getResults:    s.getResults,
		postEmployees: s.postEmployees,
	}
}

func (s *session) Method(name string) (connectors.Method, bool) {
	return s.methods().Method(name)
}

func (s *session) Close() error {
	return s.db.Close()
}
