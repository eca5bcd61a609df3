package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/spec-sa/netsync/internal/model"
	"github.com/spec-sa/netsync/internal/repo"
	"github.com/spec-sa/netsync/syncer/schedule"
	"github.com/spec-sa/netsync/utils/logfield"
)

// GetLastRun returns the start time of the last completed run, nil if the
// sync never completed one.
func (m *Manager) GetLastRun(ctx context.Context, sync model.Sync) (*time.Time, error) {
	history, err := m.history.LastCompleted(ctx, sync.ID)
	if errors.Is(err, repo.ErrHistoryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last run of sync %d: %w", sync.ID, err)
	}
	return &history.StartTime, nil
}

// GetNextRun returns the next activation of the sync's cron expression after
// its last completed run, or after now when it never ran. It is nil when the
// expression is empty or malformed.
func (m *Manager) GetNextRun(ctx context.Context, sync model.Sync) (*time.Time, error) {
	from := m.now()
	lastRun, err := m.GetLastRun(ctx, sync)
	if err != nil {
		return nil, err
	}
	if lastRun != nil {
		from = *lastRun
	}

	next, ok := schedule.Next(sync.CronExpression, from)
	if !ok {
		if sync.CronExpression != "" {
			m.log.Debugn("Ignoring malformed cron expression",
				logger.NewIntField(logfield.SyncID, sync.ID),
				logger.NewStringField("cronExpression", sync.CronExpression),
			)
		}
		return nil, nil
	}
	return &next, nil
}

// NeedsRun reports whether the sync is due: queued syncs always are, running
// ones never, pending ones once their next run is reached.
func (m *Manager) NeedsRun(ctx context.Context, sync model.Sync) (bool, error) {
	switch sync.Status {
	case model.StatusQueued:
		return true, nil
	case model.StatusRunning:
		return false, nil
	}

	next, err := m.GetNextRun(ctx, sync)
	if err != nil {
		return false, err
	}
	if next == nil {
		return false, nil
	}
	return !m.now().Before(*next), nil
}

// GetNeedsRun returns the active syncs that are due.
func (m *Manager) GetNeedsRun(ctx context.Context) ([]model.Sync, error) {
	syncs, err := m.syncs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active syncs: %w", err)
	}

	var due []model.Sync
	for _, sync := range syncs {
		needs, err := m.NeedsRun(ctx, sync)
		if err != nil {
			return nil, err
		}
		if needs {
			due = append(due, sync)
		}
	}
	return due, nil
}

// RunNeeds runs every due sync in turn. It reports false when any of them,
// or the lookup itself, failed.
func (m *Manager) RunNeeds(ctx context.Context) bool {
	syncs, err := m.GetNeedsRun(ctx)
	if err != nil {
		m.log.Errorn("Getting syncs to run", obskit.Error(err))
		return false
	}
	return m.runBatch(ctx, syncs)
}

// RunAll runs every active sync that is not running, whatever its schedule.
func (m *Manager) RunAll(ctx context.Context) bool {
	syncs, err := m.syncs.ListActive(ctx)
	if err != nil {
		m.log.Errorn("Listing active syncs", obskit.Error(err))
		return false
	}

	var runnable []model.Sync
	for _, sync := range syncs {
		if sync.Status != model.StatusRunning {
			runnable = append(runnable, sync)
		}
	}
	return m.runBatch(ctx, runnable)
}

func (m *Manager) runBatch(ctx context.Context, syncs []model.Sync) bool {
	result := true
	for i, sync := range syncs {
		if ctx.Err() != nil {
			m.log.Warnn("Batch interrupted", logger.NewIntField("remaining", int64(len(syncs)-i)))
			return false
		}
		if m.observer != nil {
			m.observer.SyncStarted(sync)
		}
		ok := m.Run(ctx, sync)
		if m.observer != nil {
			m.observer.SyncFinished(sync, ok)
		}
		result = result && ok
	}
	return result
}
