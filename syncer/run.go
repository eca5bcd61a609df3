package syncer

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/go-errors/errors"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/internal/model"
	"github.com/spec-sa/netsync/internal/repo"
	"github.com/spec-sa/netsync/mapping"
	"github.com/spec-sa/netsync/processes"
	"github.com/spec-sa/netsync/syncer/params"
	"github.com/spec-sa/netsync/utils/logfield"
)

// Run executes the sync once. The sync moves to running only from pending or
// queued, so a sync already running elsewhere is skipped and reported as a
// failure. Every attempt leaves one closed history row and the sync pending.
// Run never panics.
func (m *Manager) Run(ctx context.Context, sync model.Sync) bool {
	log := m.log.Withn(
		logger.NewIntField(logfield.SyncID, sync.ID),
		logger.NewStringField(logfield.JobType, string(sync.Synchronize)),
		logger.NewStringField(logfield.Origin, string(sync.Origin.Application)),
		logger.NewStringField(logfield.Destiny, string(sync.Destiny.Application)),
	)

	started, err := m.syncs.MarkRunning(ctx, sync.ID)
	if err != nil {
		log.Errorn("Marking sync running", obskit.Error(err))
		return false
	}
	if !started {
		log.Warnn("Skipping sync", obskit.Error(ErrAlreadyRunning))
		return false
	}

	// bookkeeping outlives the run's deadline so the sync never stays running
	bookkeeping := context.WithoutCancel(ctx)
	defer func() {
		if err := m.syncs.MarkPending(bookkeeping, sync.ID); err != nil {
			log.Errorn("Marking sync pending", obskit.Error(err))
		}
	}()

	history, err := m.history.Create(bookkeeping, sync.ID)
	if err != nil {
		log.Errorn("Creating history", obskit.Error(err))
		return false
	}
	log = log.Withn(logger.NewIntField(logfield.HistoryID, history.ID))
	log.Infon("Sync started")

	start := m.now()
	records, runErr := m.execute(ctx, log, sync)
	ok := runErr == nil

	message := ""
	if !ok {
		message = m.failureMessage(runErr)
		log.Errorn("Sync failed", obskit.Error(runErr))
	} else {
		log.Infon("Sync finished", logger.NewIntField(logfield.Records, int64(records)))
	}
	if err := m.history.Close(bookkeeping, history.ID, ok, message); err != nil {
		log.Errorn("Closing history", obskit.Error(err))
	}

	m.measure(sync, ok, records, start)
	return ok
}

func (m *Manager) measure(sync model.Sync, ok bool, records int, start time.Time) {
	status := "succeeded"
	if !ok {
		status = "failed"
	}
	tags := stats.Tags{
		"job_type": string(sync.Synchronize),
		"origin":   string(sync.Origin.Application),
		"destiny":  string(sync.Destiny.Application),
	}
	m.stats.NewTaggedStat("netsync_sync_run_duration", stats.TimerType, tags).SendTiming(m.now().Sub(start))
	if ok {
		m.stats.NewTaggedStat("netsync_sync_records", stats.GaugeType, tags).Gauge(records)
	}
	tags["status"] = status
	m.stats.NewTaggedStat("netsync_sync_runs", stats.CountType, tags).Increment()
}

// failureMessage is the error text, or its stack trace in debug mode with
// tracebacks enabled.
func (m *Manager) failureMessage(err error) string {
	if !m.config.debug.Load() || !m.config.logTraceback.Load() {
		return err.Error()
	}
	var traced *goerrors.Error
	if errors.As(err, &traced) {
		return traced.ErrorStack()
	}
	return goerrors.Wrap(err, 0).ErrorStack()
}

// execute moves the records from origin to destiny and returns how many were
// delivered. Panics are recovered as errors carrying their stack.
func (m *Manager) execute(ctx context.Context, log logger.Logger, sync model.Sync) (delivered int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerrors.WrapPrefix(r, "panic", 2)
		}
	}()

	from, to, err := m.resolver.Resolve(sync.Synchronize, sync.Origin.Application, sync.Destiny.Application)
	if err != nil {
		return 0, goerrors.WrapPrefix(err, "resolving connectors", 0)
	}
	lastRun, err := m.lastSuccessfulRun(ctx, sync.ID)
	if err != nil {
		return 0, goerrors.WrapPrefix(err, "reading last run", 0)
	}

	originParams, err := params.Decode(sync.Parameters, model.UseInOrigin)
	if err != nil {
		return 0, goerrors.WrapPrefix(err, "origin parameters", 0)
	}
	records, err := m.call(ctx, log, from, sync.Origin, lastRun, nil, originParams)
	if err != nil {
		return 0, goerrors.WrapPrefix(err, "reading "+from.String(), 0)
	}
	if records, err = m.mapFields(records, originParams); err != nil {
		return 0, goerrors.WrapPrefix(err, "origin fields", 0)
	}

	if records, err = processes.NewChain(m.lib, log).Execute(ctx, sync, records); err != nil {
		return 0, goerrors.WrapPrefix(err, "custom processes", 0)
	}

	destinyParams, err := params.Decode(sync.Parameters, model.UseInDestiny)
	if err != nil {
		return 0, goerrors.WrapPrefix(err, "destiny parameters", 0)
	}
	if records, err = m.mapFields(records, destinyParams); err != nil {
		return 0, goerrors.WrapPrefix(err, "destiny fields", 0)
	}
	if _, err := m.call(ctx, log, to, sync.Destiny, lastRun, records, destinyParams); err != nil {
		return 0, goerrors.WrapPrefix(err, "delivering to "+to.String(), 0)
	}
	return len(records), nil
}

// call opens a session for the binding, invokes its method and always closes
// the session.
func (m *Manager) call(
	ctx context.Context,
	log logger.Logger,
	binding connectors.Binding,
	credential model.Credential,
	lastRun time.Time,
	in []connectors.Record,
	kw connectors.Params,
) (records []connectors.Record, err error) {
	log = log.Withn(
		logger.NewStringField(logfield.Connector, binding.Connector),
		logger.NewStringField(logfield.Method, binding.Method),
	)

	session, err := binding.Open(ctx, connectors.Credentials(credential.Params()), lastRun)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.Warnn("Closing connector session", obskit.Error(closeErr))
		}
	}()

	records, err = session.Invoke(ctx, in, kw)
	if err != nil {
		return nil, err
	}
	log.Debugn("Connector method returned", logger.NewIntField(logfield.Records, int64(len(records))))
	return records, nil
}

// mapFields applies the fields parameter when present.
func (m *Manager) mapFields(records []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	raw, ok := kw["fields"]
	if !ok || raw == nil {
		return records, nil
	}
	defs, err := mapping.ParseDefinitions(raw)
	if err != nil {
		return nil, err
	}
	return mapping.Apply(records, defs, m.lib)
}

// lastSuccessfulRun is the start of the last successful run, the point
// connectors extract from.
func (m *Manager) lastSuccessfulRun(ctx context.Context, syncID int64) (time.Time, error) {
	history, err := m.history.LastSuccessful(ctx, syncID)
	if errors.Is(err, repo.ErrHistoryNotFound) {
		return connectors.DefaultLastRun, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return history.StartTime, nil
}
