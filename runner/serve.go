package runner

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	kithttputil "github.com/rudderlabs/rudder-go-kit/httputil"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/spec-sa/netsync/jsonrs"
	"github.com/spec-sa/netsync/middleware"
	sqlmw "github.com/spec-sa/netsync/middleware/sqlquerywrapper"
	"github.com/spec-sa/netsync/utils/crash"
)

func (r *Runner) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "migrate, then poll for due syncs until interrupted",
		Action: func(c *cli.Context) error {
			env, err := r.environment(c.Context)
			if err != nil {
				return err
			}
			if err := r.migrate(env.db); err != nil {
				return err
			}
			return r.serve(c.Context, env)
		},
	}
}

func (r *Runner) serve(ctx context.Context, env *environment) error {
	panics := crash.New(r.log)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(panics.Wrapper(func() error {
		if err := env.manager.Poll(ctx, env.db.DB); err != nil {
			return fmt.Errorf("scheduler routine: %w", err)
		}
		return nil
	}))

	address := r.conf.GetStringVar(":8080", "NetSync.httpAddress")
	srv := &http.Server{
		Addr:              address,
		Handler:           r.router(ctx, env.db),
		ReadHeaderTimeout: r.conf.GetDurationVar(3, time.Second, "NetSync.readHeaderTimeout"),
	}
	g.Go(panics.Wrapper(func() error {
		r.log.Infon("Starting http server", logger.NewStringField("address", address))
		if err := kithttputil.ListenAndServe(ctx, srv); err != nil {
			return fmt.Errorf("http server routine: %w", err)
		}
		return nil
	}))

	err := g.Wait()
	r.log.Infon("Shutting down")
	return err
}

func (r *Runner) router(ctx context.Context, db *sqlmw.DB) http.Handler {
	healthTimeout := r.conf.GetDurationVar(10, time.Second, "NetSync.healthTimeout")

	mux := chi.NewRouter()
	mux.Use(
		middleware.StatMiddleware(ctx, r.stats),
		middleware.LimitConcurrentRequests(r.conf.GetIntVar(16, 1, "NetSync.maxConcurrentRequests")),
	)
	mux.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), healthTimeout)
		defer cancel()

		dbStatus := "UP"
		if err := db.PingContext(ctx); err != nil {
			dbStatus = "DOWN"
		}
		body, _ := jsonrs.Marshal(map[string]string{
			"server":  "UP",
			"db":      dbStatus,
			"version": r.releaseInfo.Version,
		})
		w.Header().Set("Content-Type", "application/json")
		if dbStatus != "UP" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write(body)
	})
	mux.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		body, _ := jsonrs.Marshal(r.releaseInfo)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	return mux
}
