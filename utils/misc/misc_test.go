package misc_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/config"

	"github.com/spec-sa/netsync/utils/misc"
)

func TestGetConnectionString(t *testing.T) {
	c := config.New()
	c.Set("DB.host", "db.internal")
	c.Set("DB.port", 6543)
	c.Set("DB.user", "sync")
	c.Set("DB.password", "secret")
	c.Set("DB.name", "jobs")

	dsn := misc.GetConnectionString(c, "scheduler")
	require.Contains(t, dsn, "host=db.internal port=6543 user=sync password=secret dbname=jobs sslmode=disable")
	require.Contains(t, dsn, "application_name=sc-")
	require.Contains(t, dsn, "idle_in_transaction_session_timeout=300000")
}

func TestTruncateStr(t *testing.T) {
	require.Equal(t, "abc", misc.TruncateStr("abcdef", 3))
	require.Equal(t, "ab", misc.TruncateStr("ab", 3))
	require.Equal(t, "abcdef", misc.TruncateStr("abcdef", -1))
}

func TestReplaceMultiRegex(t *testing.T) {
	got, err := misc.ReplaceMultiRegex("password=secret user=admin", map[string]string{
		"password=[^ ]*": "password=***",
	})
	require.NoError(t, err)
	require.Equal(t, "password=*** user=admin", got)

	_, err = misc.ReplaceMultiRegex("x", map[string]string{"(": ""})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "missing closing )"))
}
