package testhelper

import (
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/testhelper/docker/resource/postgres"

	sqlmw "github.com/spec-sa/netsync/middleware/sqlquerywrapper"
	migrator "github.com/spec-sa/netsync/services/sql-migrator"
)

// SetupDB starts a postgres container with every netsync migration applied.
func SetupDB(t testing.TB) (*sqlmw.DB, *postgres.Resource) {
	t.Helper()

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)

	pgResource, err := postgres.Setup(pool, t)
	require.NoError(t, err)

	m := migrator.Migrator{
		Handle:          pgResource.DB,
		MigrationsTable: "migrations_netsync",
	}
	require.NoError(t, m.Migrate("netsync"))

	return sqlmw.New(pgResource.DB), pgResource
}
