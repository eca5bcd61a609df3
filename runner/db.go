package runner

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"

	"github.com/rudderlabs/rudder-go-kit/logger"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	sqlmw "github.com/spec-sa/netsync/middleware/sqlquerywrapper"
	migrator "github.com/spec-sa/netsync/services/sql-migrator"
	"github.com/spec-sa/netsync/utils/logfield"
	"github.com/spec-sa/netsync/utils/misc"
)

const (
	migrationsDir   = "netsync"
	migrationsTable = "migrations_netsync"
)

// connect returns the database handle, opening and pinging it with retries
// unless one was injected.
func (r *Runner) connect(ctx context.Context) (*sqlmw.DB, error) {
	handle := r.handle
	if handle == nil {
		var err error
		if handle, err = sql.Open("postgres", misc.GetConnectionString(r.conf, "netsync")); err != nil {
			return nil, fmt.Errorf("opening connection to database: %w", err)
		}
		handle.SetMaxOpenConns(r.conf.GetIntVar(20, 1, "NetSync.maxOpenConnections"))

		operation := func() error {
			return handle.PingContext(ctx)
		}
		retry := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
		err = backoff.RetryNotify(operation, retry, func(err error, t time.Duration) {
			r.log.Warnn("Retrying database connection",
				logger.NewDurationField("retryIn", t),
				obskit.Error(err),
			)
		})
		if err != nil {
			_ = handle.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}
		r.handle, r.ownDB = handle, true
	}

	return sqlmw.New(handle,
		sqlmw.WithLogger(r.log.Child("db")),
		sqlmw.WithSlowQueryThreshold(r.conf.GetDurationVar(300, time.Second, "NetSync.slowQueryThreshold")),
		sqlmw.WithFields(logger.NewStringField(logfield.Database, "netsync")),
		sqlmw.WithSecretsRegex(map[string]string{
			`(?i)(password\s*=\s*)\S+`: "${1}***",
		}),
	), nil
}

// migrate applies the embedded migrations, retrying while the database comes up.
func (r *Runner) migrate(db *sqlmw.DB) error {
	m := &migrator.Migrator{
		Handle:                     db.DB,
		MigrationsTable:            migrationsTable,
		ShouldForceSetLowerVersion: r.conf.GetBoolVar(true, "SQLMigrator.forceSetLowerVersion"),
	}

	operation := func() error {
		return m.Migrate(migrationsDir)
	}
	backoffWithMaxRetry := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err := backoff.RetryNotify(operation, backoffWithMaxRetry, func(err error, t time.Duration) {
		r.log.Warnn("Retrying database migration",
			logger.NewDurationField("retryIn", t),
			obskit.Error(err),
		)
	})
	if err != nil {
		return fmt.Errorf("could not migrate: %w", err)
	}
	return nil
}

func (r *Runner) closeDB() {
	if !r.ownDB {
		return
	}
	if err := r.handle.Close(); err != nil {
		r.log.Warnn("Closing database", obskit.Error(err))
	}
	r.handle, r.ownDB = nil, false
}
