package sqlquerywrapper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/spec-sa/netsync/utils/logfield"
	"github.com/spec-sa/netsync/utils/misc"
)

type Opt func(*DB)

type DB struct {
	*sql.DB

	since              func(time.Time) time.Duration
	logger             logger.Logger
	fields             []logger.Field
	slowQueryThreshold time.Duration
	secretsRegex       map[string]string
}

type Tx struct {
	*sql.Tx
	db *DB
}

func WithLogger(logger logger.Logger) Opt {
	return func(s *DB) {
		s.logger = logger
	}
}

func WithFields(fields ...logger.Field) Opt {
	return func(s *DB) {
		s.fields = fields
	}
}

func WithSlowQueryThreshold(slowQueryThreshold time.Duration) Opt {
	return func(s *DB) {
		s.slowQueryThreshold = slowQueryThreshold
	}
}

// WithSecretsRegex masks matches of each key with its value before a slow query is logged.
func WithSecretsRegex(secretsRegex map[string]string) Opt {
	return func(s *DB) {
		s.secretsRegex = secretsRegex
	}
}

func New(db *sql.DB, opts ...Opt) *DB {
	s := &DB{
		DB:                 db,
		since:              time.Since,
		logger:             logger.NOP,
		slowQueryThreshold: 300 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	startedAt := time.Now()
	result, err := db.DB.ExecContext(ctx, query, args...)
	db.logQuery(query, db.since(startedAt))
	return result, err
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	startedAt := time.Now()
	rows, err := db.DB.QueryContext(ctx, query, args...)
	db.logQuery(query, db.since(startedAt))
	return rows, err
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	startedAt := time.Now()
	row := db.DB.QueryRowContext(ctx, query, args...)
	db.logQuery(query, db.since(startedAt))
	return row
}

func (db *DB) logQuery(query string, elapsed time.Duration) {
	if elapsed < db.slowQueryThreshold {
		return
	}

	sanitizedQuery, _ := misc.ReplaceMultiRegex(query, db.secretsRegex)

	fields := []logger.Field{
		logger.NewStringField(logfield.Query, sanitizedQuery),
		logger.NewDurationField(logfield.QueryExecutionTime, elapsed),
	}
	fields = append(fields, db.fields...)

	db.logger.Infon("executing query", fields...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, db: db}, nil
}

// WithTx runs fn inside a transaction, committing when fn returns nil and rolling back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			return fmt.Errorf("%w; rollback transaction: %v", err, rollbackErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	startedAt := time.Now()
	result, err := tx.Tx.ExecContext(ctx, query, args...)
	tx.db.logQuery(query, tx.db.since(startedAt))
	return result, err
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	startedAt := time.Now()
	rows, err := tx.Tx.QueryContext(ctx, query, args...)
	tx.db.logQuery(query, tx.db.since(startedAt))
	return rows, err
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	startedAt := time.Now()
	row := tx.Tx.QueryRowContext(ctx, query, args...)
	tx.db.logQuery(query, tx.db.since(startedAt))
	return row
}
