package middleware

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rudderlabs/rudder-go-kit/stats"
)

// LimitConcurrentRequests rejects requests with 503 once maxRequests are in
// flight. Zero disables the limit.
func LimitConcurrentRequests(maxRequests int) func(http.Handler) http.Handler {
	requests := make(chan struct{}, maxRequests)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxRequests != 0 {
				select {
				case requests <- struct{}{}:
					defer func() {
						<-requests
					}()
				default:
					http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StatMiddleware times every request, tagged by its chi route pattern, and
// reports the requests in flight every 10 seconds until ctx is done.
func StatMiddleware(ctx context.Context, statsFactory stats.Stats) func(http.Handler) http.Handler {
	var concurrentRequests int32
	activeClientCount := statsFactory.NewStat("netsync_http_concurrent_requests_count", stats.GaugeType)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
				activeClientCount.Gauge(atomic.LoadInt32(&concurrentRequests))
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			atomic.AddInt32(&concurrentRequests, 1)
			defer atomic.AddInt32(&concurrentRequests, -1)

			next.ServeHTTP(w, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}
			statsFactory.NewTaggedStat("netsync_http_response_time", stats.TimerType, stats.Tags{
				"reqType": path,
				"method":  r.Method,
			}).Since(start)
		})
	}
}
