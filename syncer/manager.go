// Package syncer drives syncs through their run state machine and decides
// which of them are due.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/internal/model"
	"github.com/spec-sa/netsync/mapping"
	"github.com/spec-sa/netsync/mapping/funcs"
	"github.com/spec-sa/netsync/utils/logfield"
)

var (
	ErrAlreadyRunning = errors.New("sync is already running")
	ErrNotQueueable   = errors.New("sync is not pending")
)

// SyncStore persists syncs and their status.
type SyncStore interface {
	Get(ctx context.Context, id int64) (model.Sync, error)
	ListActive(ctx context.Context) ([]model.Sync, error)
	MarkRunning(ctx context.Context, id int64) (bool, error)
	Queue(ctx context.Context, id int64) (bool, error)
	MarkPending(ctx context.Context, id int64) error
}

// HistoryStore persists one row per run attempt.
type HistoryStore interface {
	Create(ctx context.Context, syncID int64) (model.SyncHistory, error)
	Close(ctx context.Context, id int64, ok bool, message string) error
	LastCompleted(ctx context.Context, syncID int64) (model.SyncHistory, error)
	LastSuccessful(ctx context.Context, syncID int64) (model.SyncHistory, error)
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Resolver binds a job type and application pair to connector methods.
type Resolver interface {
	IsValid(jobType model.JobType, origin, destiny model.Application) bool
	Resolve(jobType model.JobType, origin, destiny model.Application) (from, to connectors.Binding, err error)
}

// Observer is told about every sync a batch runs.
type Observer interface {
	SyncStarted(sync model.Sync)
	SyncFinished(sync model.Sync, ok bool)
}

type Opt func(*Manager)

func WithNow(now func() time.Time) Opt {
	return func(m *Manager) {
		m.now = now
	}
}

func WithLibrary(lib mapping.Library) Opt {
	return func(m *Manager) {
		m.lib = lib
	}
}

func WithObserver(observer Observer) Opt {
	return func(m *Manager) {
		m.observer = observer
	}
}

type Manager struct {
	log      logger.Logger
	stats    stats.Stats
	syncs    SyncStore
	history  HistoryStore
	resolver Resolver
	lib      mapping.Library
	observer Observer
	now      func() time.Time

	config struct {
		debug         config.ValueLoader[bool]
		logTraceback  config.ValueLoader[bool]
		autoClean     config.ValueLoader[bool]
		retentionDays config.ValueLoader[int]
		pollInterval  config.ValueLoader[time.Duration]
		lockRetry     time.Duration
	}
}

func New(
	conf *config.Config,
	log logger.Logger,
	statsFactory stats.Stats,
	syncs SyncStore,
	history HistoryStore,
	resolver Resolver,
	opts ...Opt,
) *Manager {
	m := &Manager{
		log:      log.Child("syncer"),
		stats:    statsFactory,
		syncs:    syncs,
		history:  history,
		resolver: resolver,
		lib:      funcs.New(),
		now:      time.Now,
	}
	m.config.debug = conf.GetReloadableBoolVar(false, "NetSync.debug")
	m.config.logTraceback = conf.GetReloadableBoolVar(false, "NetSync.logTraceback")
	m.config.autoClean = conf.GetReloadableBoolVar(true, "NetSync.History.autoClean")
	m.config.retentionDays = conf.GetReloadableIntVar(30, 1, "NetSync.History.retentionDays")
	m.config.pollInterval = conf.GetReloadableDurationVar(60, time.Second, "NetSync.pollInterval")
	m.config.lockRetry = conf.GetDurationVar(10, time.Second, "NetSync.lockRetryInterval")

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsValid reports whether the sync's applications support its job type.
func (m *Manager) IsValid(sync model.Sync) bool {
	return sync.IsValid(m.resolver)
}

// Queue asks for a pending sync to run on the next poll.
func (m *Manager) Queue(ctx context.Context, id int64) error {
	queued, err := m.syncs.Queue(ctx, id)
	if err != nil {
		return fmt.Errorf("queueing sync %d: %w", id, err)
	}
	if !queued {
		return fmt.Errorf("queueing sync %d: %w", id, ErrNotQueueable)
	}
	return nil
}

// CleanHistory deletes the history rows that finished before the retention
// window. Nothing is deleted unless auto clean is enabled or force is set.
func (m *Manager) CleanHistory(ctx context.Context, force bool) (int64, error) {
	if !force && !m.config.autoClean.Load() {
		return 0, nil
	}
	before := m.now().AddDate(0, 0, -m.config.retentionDays.Load())
	deleted, err := m.history.DeleteFinishedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("cleaning history: %w", err)
	}
	if deleted > 0 {
		m.log.Infon("History cleaned",
			logger.NewIntField(logfield.Deleted, deleted),
			logger.NewStringField("before", before.Format(time.RFC3339)),
		)
	}
	return deleted, nil
}
