package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/stats"
	"github.com/rudderlabs/rudder-go-kit/stats/memstats"

	"github.com/spec-sa/netsync/middleware"
)

func TestLimitConcurrentRequests(t *testing.T) {
	t.Run("unlimited", func(t *testing.T) {
		handler := middleware.LimitConcurrentRequests(0)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects above the limit", func(t *testing.T) {
		entered := make(chan struct{})
		release := make(chan struct{})
		handler := middleware.LimitConcurrentRequests(1)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			close(entered)
			<-release
			w.WriteHeader(http.StatusOK)
		}))

		var wg sync.WaitGroup
		first := httptest.NewRecorder()
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/health", nil))
		}()
		<-entered

		second := httptest.NewRecorder()
		handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusServiceUnavailable, second.Code)

		close(release)
		wg.Wait()
		require.Equal(t, http.StatusOK, first.Code)
	})
}

func TestStatMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	statsStore, err := memstats.New()
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Use(middleware.StatMiddleware(ctx, statsStore))
	router.Get("/syncs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/syncs/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	m := statsStore.Get("netsync_http_response_time", stats.Tags{"reqType": "/syncs/{id}", "method": http.MethodGet})
	require.NotNil(t, m)
	require.Len(t, m.Durations(), 1)
}
