package runner

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/internal/model"
	"github.com/spec-sa/netsync/internal/repo"
	sqlmw "github.com/spec-sa/netsync/middleware/sqlquerywrapper"
	"github.com/spec-sa/netsync/syncer"
	"github.com/spec-sa/netsync/utils/logfield"
)

var (
	forceFlag = func(usage string) *cli.BoolFlag {
		return &cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: usage}
	}
	messagesFlag = func(usage string) *cli.BoolFlag {
		return &cli.BoolFlag{Name: "messages", Aliases: []string{"m"}, Usage: usage}
	}
	idFlag = &cli.Int64Flag{Name: "id", Usage: "sync `ID`", Required: true}
)

// environment is what every command operating on syncs needs.
type environment struct {
	db       *sqlmw.DB
	registry *connectors.Registry
	syncs    *repo.Syncs
	history  *repo.History
	manager  *syncer.Manager
}

func (r *Runner) environment(ctx context.Context, opts ...syncer.Opt) (*environment, error) {
	db, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := r.registry(r.conf, r.log)
	if err != nil {
		return nil, err
	}

	env := &environment{
		db:       db,
		registry: registry,
		syncs:    repo.NewSyncs(db, repo.WithNow(r.now)),
		history:  repo.NewHistory(db, repo.WithNow(r.now)),
	}
	opts = append([]syncer.Opt{syncer.WithNow(r.now)}, opts...)
	env.manager = syncer.New(r.conf, r.log, r.stats, env.syncs, env.history, registry, opts...)
	return env, nil
}

// printer reports every sync of a batch on stdout.
type printer struct {
	r *Runner
}

func (p printer) SyncStarted(sync model.Sync) {
	p.r.printf("%s - INFO - Running sync #%d %s", p.r.timestamp(), sync.ID, sync)
}

func (p printer) SyncFinished(sync model.Sync, ok bool) {
	result := "OK"
	if !ok {
		result = "ERROR"
	}
	p.r.printf("%s - %s - Sync #%d %s finished", p.r.timestamp(), result, sync.ID, sync)
}

func (r *Runner) runSyncsCommand() *cli.Command {
	return &cli.Command{
		Name:  "run-syncs",
		Usage: "run the syncs that are due",
		Flags: []cli.Flag{
			forceFlag("run every active sync whether it is due or not"),
			messagesFlag("print progress messages"),
		},
		Action: func(c *cli.Context) error {
			messages := c.Bool("messages")

			var opts []syncer.Opt
			if messages {
				opts = append(opts, syncer.WithObserver(printer{r: r}))
				r.printf("%s - INFO - Starting run of syncs...", r.timestamp())
			}
			env, err := r.environment(c.Context, opts...)
			if err != nil {
				return cli.Exit(fmt.Sprintf("%s - ERROR - %v", r.timestamp(), err), 1)
			}

			var ok bool
			if c.Bool("force") {
				ok = env.manager.RunAll(c.Context)
			} else {
				ok = env.manager.RunNeeds(c.Context)
			}
			if !ok {
				r.printf("%s - ERROR - See sync history for more information.", r.timestamp())
				return cli.Exit("", 1)
			}
			if messages {
				r.printf("%s - OK - The syncs have finished!", r.timestamp())
			}
			return nil
		},
	}
}

func (r *Runner) cleanLogsCommand() *cli.Command {
	return &cli.Command{
		Name:  "clean-logs",
		Usage: "delete the sync history older than the retention window",
		Flags: []cli.Flag{
			forceFlag("clean even when NetSync.History.autoClean is disabled"),
			messagesFlag("print progress messages"),
		},
		Action: func(c *cli.Context) error {
			messages := c.Bool("messages")
			if messages {
				r.printf("%s - INFO - Starting logs cleaning...", r.timestamp())
			}
			env, err := r.environment(c.Context)
			if err != nil {
				return cli.Exit(fmt.Sprintf("%s - ERROR - %v", r.timestamp(), err), 1)
			}

			deleted, err := env.manager.CleanHistory(c.Context, c.Bool("force"))
			if err != nil {
				r.printf("%s - ERROR - %v", r.timestamp(), err)
				return cli.Exit("", 1)
			}
			if messages {
				if deleted > 0 {
					r.printf("%s - INFO - Deleted %d history rows", r.timestamp(), deleted)
				}
				r.printf("%s - INFO - Cleaning ended.", r.timestamp())
			}
			return nil
		},
	}
}

func (r *Runner) queueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "run a pending sync on the next poll",
		Flags: []cli.Flag{idFlag},
		Action: func(c *cli.Context) error {
			env, err := r.environment(c.Context)
			if err != nil {
				return err
			}
			id := c.Int64("id")
			if err := env.manager.Queue(c.Context, id); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			r.log.Infon("Sync queued", logger.NewIntField(logfield.SyncID, id))
			r.printf("Sync #%d queued", id)
			return nil
		},
	}
}

func (r *Runner) validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "list every sync with its validity and next run",
		Action: func(c *cli.Context) error {
			env, err := r.environment(c.Context)
			if err != nil {
				return err
			}
			syncs, err := env.syncs.List(c.Context)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(r.stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tSYNC\tACTIVE\tSTATUS\tVALID\tLAST RUN\tNEXT RUN")
			allValid := true
			for _, sync := range syncs {
				valid := env.manager.IsValid(sync)
				allValid = allValid && (valid || !sync.Active)

				lastRun, err := env.manager.GetLastRun(c.Context, sync)
				if err != nil {
					return err
				}
				nextRun, err := env.manager.GetNextRun(c.Context, sync)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%t\t%s\t%s\n",
					sync.ID, sync, sync.Active, sync.Status, valid, formatTime(lastRun), formatTime(nextRun),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !allValid {
				return cli.Exit("some active syncs are not valid", 1)
			}
			return nil
		},
	}
}

func (r *Runner) historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "show the latest runs of a sync",
		Flags: []cli.Flag{
			idFlag,
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10, Usage: "show at most `N` runs"},
		},
		Action: func(c *cli.Context) error {
			env, err := r.environment(c.Context)
			if err != nil {
				return err
			}
			rows, err := env.history.List(c.Context, c.Int64("id"), c.Int("limit"))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(r.stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tSTART\tEND\tOK\tMESSAGE")
			for _, row := range rows {
				end := "-"
				if row.Completed() {
					end = row.EndTime.Format(time.DateTime)
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n",
					row.ID, row.StartTime.Format(time.DateTime), end, row.OK, firstLine(row.Message),
				)
			}
			return w.Flush()
		},
	}
}

func (r *Runner) migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the database migrations",
		Action: func(c *cli.Context) error {
			db, err := r.connect(c.Context)
			if err != nil {
				return err
			}
			if err := r.migrate(db); err != nil {
				return err
			}
			r.log.Infon("Database migrated")
			return nil
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateTime)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
