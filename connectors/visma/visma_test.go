package visma_test

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
	"github.com/spec-sa/netsync/connectors/internal/apiclient"
	"github.com/spec-sa/netsync/connectors/visma"
)

type fakeVisma struct {
	*httptest.Server

	mu       sync.Mutex
	requests []*http.Request
	posted   []map[string]any
}

func newFakeVisma(t *testing.T) *fakeVisma {
	t.Helper()
	f := &fakeVisma{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tenants", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"values":[{"id":"t1","name":"main"},{"id":"t2","name":"other"}]}`))
	})
	mux.HandleFunc("GET /api/employees", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			_, _ = w.Write([]byte(`{"values":[{"id":1}],"totalPages":2}`))
			return
		}
		_, _ = w.Write([]byte(`{"values":[{"id":2}],"totalPages":2}`))
	})
	mux.HandleFunc("GET /api/employees/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"` + r.PathValue("id") + `","name":"emp"}`))
	})
	mux.HandleFunc("GET /api/employees/{id}/{ext}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"values":[{"ext":"` + r.PathValue("ext") + `"}],"totalPages":1}`))
	})
	mux.HandleFunc("POST /api/payelements", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		f.mu.Lock()
		f.posted = append(f.posted, body)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pwd, ok := r.BasicAuth(); !ok || user != "u" || pwd != "p" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, r)
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func open(t *testing.T, host string, lastRun time.Time) connectors.Session {
	t.Helper()
	c := visma.New(config.New(), logger.NOP, apiclient.WithRetry(0, time.Millisecond, time.Millisecond))
	s, err := c.Open(context.Background(), connectors.Credentials{"host": host, "user": "u", "password": "p"}, lastRun)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestConnector(t *testing.T) {
	c := visma.New(config.New(), logger.NOP)
	require.Equal(t, "visma", c.Name())
	require.Equal(t, []string{"get_employees", "post_payments"}, c.Methods())

	_, err := c.Open(context.Background(), connectors.Credentials{"user": "u", "password": "p"}, time.Time{})
	require.ErrorContains(t, err, "missing credential parameters: [host]")
}

func TestGetEmployees(t *testing.T) {
	lastRun := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	t.Run("all pages with extensions", func(t *testing.T) {
		f := newFakeVisma(t)
		s := open(t, f.URL, lastRun)
		m, ok := s.Method("get_employees")
		require.True(t, ok)

		records, err := m(context.Background(), nil, connectors.Params{
			"all_pages":     true,
			"active":        true,
			"extensions":    []any{"contracts"},
			"tenant_filter": map[string]any{"name": "other"},
		})
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, "rh-1", records[0]["id"])
		require.Equal(t, []map[string]any{{"ext": "contracts"}}, records[1]["_contracts"])

		f.mu.Lock()
		defer f.mu.Unlock()
		var listed bool
		for _, r := range f.requests {
			if r.URL.Path == "/api/employees" {
				listed = true
				require.Equal(t, "2024-05-06", r.URL.Query().Get("updatedFrom"))
				require.Equal(t, "5", r.URL.Query().Get("pageSize"))
				require.Equal(t, "true", r.URL.Query().Get("active"))
			}
			if r.URL.Path != "/api/tenants" {
				require.Equal(t, "t2", r.URL.Query().Get("tenant"))
			}
		}
		require.True(t, listed)
	})

	t.Run("first page and updatedFrom", func(t *testing.T) {
		f := newFakeVisma(t)
		s := open(t, f.URL, lastRun)
		m, _ := s.Method("get_employees")

		records, err := m(context.Background(), nil, connectors.Params{"updatedFrom": "20240101000000", "pageSize": "10"})
		require.NoError(t, err)
		require.Len(t, records, 1)

		f.mu.Lock()
		defer f.mu.Unlock()
		for _, r := range f.requests {
			if r.URL.Path == "/api/employees" {
				require.Equal(t, "2024-01-01", r.URL.Query().Get("updatedFrom"))
				require.Equal(t, "10", r.URL.Query().Get("pageSize"))
				require.Equal(t, "t1", r.URL.Query().Get("tenant"))
			}
		}
	})

	t.Run("unknown tenant", func(t *testing.T) {
		f := newFakeVisma(t)
		s := open(t, f.URL, lastRun)
		m, _ := s.Method("get_employees")

		_, err := m(context.Background(), nil, connectors.Params{"tenant_filter": map[string]any{"name": "nope"}})
		require.ErrorContains(t, err, "no tenant matches")
	})
}

func TestPostPayments(t *testing.T) {
	syncs := []connectors.Record{{
		"sync_id": 3,
		"from":    "2024-03-01",
		"to":      "2024-03-31",
		"data": []map[string]any{{
			"employee": map[string]any{"employeeCode": "E1"},
			"totals":   map[string]any{"HS_50": 8.0, "HS_100": 0, "OTHER": 4},
			"frame": map[string]any{
				"2024-03-01": map[string]any{"HS_50": 5},
				"2024-03-02": map[string]any{"HS_50": 3},
			},
		}},
	}}

	t.Run("totals", func(t *testing.T) {
		f := newFakeVisma(t)
		s := open(t, f.URL, time.Time{})
		m, _ := s.Method("post_payments")

		out, err := m(context.Background(), syncs, connectors.Params{
			"sync_cfgs": map[string]any{"concepts": map[string]any{"HS_50": "PE50", "HS_100": "PE100"}},
		})
		require.NoError(t, err)
		require.Nil(t, out)
		require.Len(t, f.posted, 1)
		require.Equal(t, []any{map[string]any{
			"employeeId": "E1", "payElementId": "PE50", "value": float64(8), "dateFrom": "2024-03-01", "dateTo": "2024-03-31",
		}}, f.posted[0]["values"])
	})

	t.Run("per day", func(t *testing.T) {
		f := newFakeVisma(t)
		s := open(t, f.URL, time.Time{})
		m, _ := s.Method("post_payments")

		_, err := m(context.Background(), syncs, connectors.Params{
			"sync_cfgs": map[string]any{"per_day": true, "concepts": map[string]any{"HS_50": "PE50"}},
		})
		require.NoError(t, err)
		require.Len(t, f.posted, 1)
		values := f.posted[0]["values"].([]any)
		require.Len(t, values, 2)
		require.Equal(t, "2024-03-02", values[1].(map[string]any)["dateFrom"])
	})

	t.Run("nothing to send", func(t *testing.T) {
		f := newFakeVisma(t)
		s := open(t, f.URL, time.Time{})
		m, _ := s.Method("post_payments")

		_, err := m(context.Background(), nil, connectors.Params{
			"sync_cfgs": map[string]any{"concepts": map[string]any{"HS_50": "PE50"}},
		})
		require.NoError(t, err)
		require.Empty(t, f.posted)
	})

	t.Run("missing concepts", func(t *testing.T) {
		f := newFakeVisma(t)
		s := open(t, f.URL, time.Time{})
		m, _ := s.Method("post_payments")

		_, err := m(context.Background(), syncs, nil)
		require.ErrorContains(t, err, "no concepts configured")
	})
}
