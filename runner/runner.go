// Package runner wires configuration, logging, stats and persistence into
// the netsync command line.
package runner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	svcMetric "github.com/rudderlabs/rudder-go-kit/stats/metric"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	nsconfig "github.com/spec-sa/netsync/config"
	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/utils/crash"
)

// ReleaseInfo holds the release information
type ReleaseInfo struct {
	Version   string
	Commit    string
	BuildDate string
	BuiltBy   string
}

// RegistryFactory builds the connector registry syncs are resolved against.
type RegistryFactory func(conf *config.Config, log logger.Logger) (*connectors.Registry, error)

type Opt func(*Runner)

// WithConfig skips loading env files and uses conf instead.
func WithConfig(conf *config.Config) Opt {
	return func(r *Runner) {
		r.conf = conf
	}
}

// WithStats replaces the stats client started from configuration.
func WithStats(statsFactory stats.Stats) Opt {
	return func(r *Runner) {
		r.stats = statsFactory
	}
}

// WithDB uses handle instead of connecting with the DB.* settings.
func WithDB(handle *sql.DB) Opt {
	return func(r *Runner) {
		r.handle = handle
	}
}

func WithRegistry(factory RegistryFactory) Opt {
	return func(r *Runner) {
		r.registry = factory
	}
}

func WithOutput(stdout io.Writer) Opt {
	return func(r *Runner) {
		r.stdout = stdout
	}
}

func WithNow(now func() time.Time) Opt {
	return func(r *Runner) {
		r.now = now
	}
}

// Runner is responsible for running the application
type Runner struct {
	releaseInfo ReleaseInfo
	conf        *config.Config
	log         logger.Logger
	stats       stats.Stats
	handle      *sql.DB
	registry    RegistryFactory
	stdout      io.Writer
	now         func() time.Time

	syncLogs func()
	ownStats bool
	ownDB    bool
}

// New creates and initializes a new Runner
func New(releaseInfo ReleaseInfo, opts ...Opt) *Runner {
	r := &Runner{
		releaseInfo: releaseInfo,
		log:         logger.NOP,
		registry:    DefaultRegistry,
		stdout:      os.Stdout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run runs the command line and returns the exit code
func (r *Runner) Run(ctx context.Context, args []string) int {
	err := r.app().RunContext(ctx, args)
	if err == nil {
		return 0
	}

	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		if msg := exitErr.Error(); msg != "" {
			r.log.Errorn(msg)
		}
		return exitErr.ExitCode()
	}
	r.log.Errorn("Terminal error", obskit.Error(err))
	if r.log == logger.NOP {
		_, _ = fmt.Fprintln(os.Stderr, err)
	}
	return 1
}

func (r *Runner) app() *cli.App {
	return &cli.App{
		Name:    "netsync",
		Usage:   "synchronize employees, clockings, structure and results between HR systems",
		Version: r.releaseInfo.Version,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "load `FILE` into the environment before reading configuration",
			},
		},
		Before: r.setup,
		After:  r.teardown,
		// exit codes are returned by Run, never through os.Exit
		ExitErrHandler: func(*cli.Context, error) {},
		Writer:         r.stdout,
		Commands: []*cli.Command{
			r.serveCommand(),
			r.runSyncsCommand(),
			r.cleanLogsCommand(),
			r.queueCommand(),
			r.validateCommand(),
			r.historyCommand(),
			r.migrateCommand(),
			r.importCommand(),
		},
	}
}

func (r *Runner) setup(c *cli.Context) error {
	if r.conf == nil {
		conf, err := nsconfig.Load(c.StringSlice("env-file")...)
		if err != nil {
			return err
		}
		r.conf = conf
	}

	factory := logger.NewFactory(r.conf)
	r.syncLogs = factory.Sync
	r.log = factory.NewLogger().Child("runner")

	if r.stats == nil {
		statsOptions := []stats.Option{
			stats.WithServiceName("netsync"),
			stats.WithServiceVersion(r.releaseInfo.Version),
			stats.WithDefaultHistogramBuckets(defaultHistogramBuckets),
		}
		for histogramName, buckets := range customBuckets {
			statsOptions = append(statsOptions, stats.WithHistogramBuckets(histogramName, buckets))
		}
		r.stats = stats.NewStats(r.conf, factory, svcMetric.Instance, statsOptions...)
		if err := r.stats.Start(c.Context, crash.New(r.log)); err != nil {
			return fmt.Errorf("starting stats: %w", err)
		}
		r.ownStats = true
	}

	r.stats.NewTaggedStat("netsync_config", stats.GaugeType, stats.Tags{
		"version":   r.releaseInfo.Version,
		"commit":    r.releaseInfo.Commit,
		"buildDate": r.releaseInfo.BuildDate,
		"builtBy":   r.releaseInfo.BuiltBy,
	}).Gauge(1)
	return nil
}

func (r *Runner) teardown(*cli.Context) error {
	r.closeDB()
	if r.ownStats {
		r.stats.Stop()
	}
	if r.syncLogs != nil {
		r.syncLogs()
	}
	return nil
}

// timestamp formats now for the plain operator messages.
func (r *Runner) timestamp() string {
	return r.now().Format("02/01/2006 15:04:05")
}

func (r *Runner) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.stdout, format+"\n", args...)
}
