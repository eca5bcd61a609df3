package exactian_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/connectors/exactian"
	"github.com/spec-sa/netsync/connectors/internal/apiclient"
)

func TestGetEmployees(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pwd, ok := r.BasicAuth(); !ok || user != "u" || pwd != "p" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Equal(t, "/api/employees", r.URL.Path)
		_, _ = w.Write([]byte(`[{"legajo":"10","nombre":"Ana"},{"legajo":"11","nombre":"Luis"}]`))
	}))
	defer srv.Close()

	c := exactian.New(config.New(), logger.NOP, apiclient.WithRetry(0, time.Millisecond, time.Millisecond))
	require.Equal(t, "exactian", c.Name())
	require.Equal(t, []string{"get_employees"}, c.Methods())

	s, err := c.Open(context.Background(), connectors.Credentials{"host": srv.URL, "user": "u", "password": "p"}, time.Time{})
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	m, ok := s.Method("get_employees")
	require.True(t, ok)
	records, err := m(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, []connectors.Record{{"legajo": "10", "nombre": "Ana"}, {"legajo": "11", "nombre": "Luis"}}, records)

	s, err = c.Open(context.Background(), connectors.Credentials{"host": srv.URL, "user": "u", "password": "bad"}, time.Time{})
	require.NoError(t, err)
	m, _ = s.Method("get_employees")
	_, err = m(context.Background(), nil, nil)
	var statusErr *apiclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.Code)
}
