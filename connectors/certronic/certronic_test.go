package certronic_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/connectors/certronic"
	"github.com/spec-sa/netsync/connectors/internal/apiclient"
)

func open(t *testing.T, handler http.HandlerFunc, lastRun time.Time) connectors.Session {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := certronic.New(config.New(), logger.NOP, apiclient.WithRetry(0, time.Millisecond, time.Millisecond))
	s, err := c.Open(context.Background(), connectors.Credentials{"host": srv.URL, "apikey": "key"}, lastRun)
	require.NoError(t, err)
	return s
}

func TestConnector(t *testing.T) {
	c := certronic.New(config.New(), logger.NOP)
	require.Equal(t, "certronic", c.Name())
	require.Equal(t, []string{"get_employees", "post_clockings"}, c.Methods())

	_, err := c.Open(context.Background(), connectors.Credentials{"host": "http://localhost"}, time.Time{})
	require.ErrorContains(t, err, "missing credential parameters: [apikey]")
}

func TestGetEmployees(t *testing.T) {
	lastRun := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	var (
		mu      sync.Mutex
		queries []map[string][]string
	)
	handler := func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query())
		mu.Unlock()
		switch r.URL.Query().Get("page") {
		case "":
			_, _ = w.Write([]byte(`{"count":5,"pageSize":2,"employees":[{"id":1},{"id":2}]}`))
		case "2":
			_, _ = w.Write([]byte(`{"count":5,"pageSize":2,"employees":[{"id":3},{"id":4}]}`))
		case "3":
			_, _ = w.Write([]byte(`{"count":5,"pageSize":2,"employees":[{"id":5}]}`))
		}
	}

	t.Run("first page", func(t *testing.T) {
		queries = nil
		s := open(t, handler, lastRun)
		m, _ := s.Method("get_employees")

		records, err := m(context.Background(), nil, connectors.Params{"fields": []any{"id"}, "company": 4})
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Len(t, queries, 1)
		require.Equal(t, "2024-02-01 12:00:00", queries[0]["updatedFrom"][0])
		require.Equal(t, []string{"4"}, queries[0]["company"])
		require.NotContains(t, queries[0], "fields")
	})

	t.Run("all pages", func(t *testing.T) {
		queries = nil
		s := open(t, handler, lastRun)
		m, _ := s.Method("get_employees")

		records, err := m(context.Background(), nil, connectors.Params{"all_pages": true, "_from": "20240301000000"})
		require.NoError(t, err)
		require.Len(t, records, 5)
		require.Len(t, queries, 3)
		require.Equal(t, "2024-03-01 00:00:00", queries[2]["updatedFrom"][0])
	})
}

func TestPostClockings(t *testing.T) {
	var body map[string]any
	s := open(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/clockings", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		_, _ = w.Write([]byte(`{"status":"ok","processed":2}`))
	}, time.Time{})

	m, ok := s.Method("post_clockings")
	require.True(t, ok)
	out, err := m(context.Background(),
		[]connectors.Record{{"card": "1", "date": "2024-01-01 08:00"}, {"card": "2", "date": "2024-01-01 08:05"}},
		connectors.Params{"source": "netsync"},
	)
	require.NoError(t, err)
	require.Equal(t, []connectors.Record{{"status": "ok", "processed": float64(2)}}, out)
	require.Equal(t, "netsync", body["source"])
	require.Len(t, body["clockings"], 2)
}
