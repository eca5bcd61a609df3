package migrator

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/spec-sa/netsync/sql/migrations"
)

// Migrator is responsible for migrating postgres tables
type Migrator struct {
	// Handle is the sql.DB handle used to execute migration statements
	Handle *sql.DB
	// MigrationsTable is the table used to store the current schema version
	MigrationsTable string
	// ShouldForceSetLowerVersion forces the schema version down to the latest
	// embedded migration when the database is ahead of this binary.
	ShouldForceSetLowerVersion bool
}

// Migrate applies every pending up migration found under migrationsDir of the embedded FS.
func (m *Migrator) Migrate(migrationsDir string) error {
	if m.Handle == nil {
		return errors.New("migrator: no database handle")
	}
	if m.MigrationsTable == "" {
		return errors.New("migrator: no migrations table")
	}

	destinationDriver, err := postgres.WithInstance(m.Handle, &postgres.Config{MigrationsTable: m.MigrationsTable})
	if err != nil {
		return fmt.Errorf("creating postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, migrationsDir)
	if err != nil {
		return fmt.Errorf("creating source driver for %q: %w", migrationsDir, err)
	}

	migration, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", destinationDriver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	if m.ShouldForceSetLowerVersion {
		if err := m.forceSetLowerVersion(migration, sourceDriver); err != nil {
			return err
		}
	}

	if err := migration.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations from %q: %w", migrationsDir, err)
	}
	return nil
}

func (m *Migrator) forceSetLowerVersion(migration *migrate.Migrate, sourceDriver source.Driver) error {
	current, dirty, err := migration.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return fmt.Errorf("reading current schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", current)
	}

	latest, err := sourceDriver.First()
	if err != nil {
		return fmt.Errorf("reading first migration: %w", err)
	}
	for {
		next, err := sourceDriver.Next(latest)
		if err != nil {
			break
		}
		latest = next
	}

	if current > latest {
		if err := migration.Force(int(latest)); err != nil {
			return fmt.Errorf("forcing schema version %d: %w", latest, err)
		}
	}
	return nil
}
