package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/allisson/go-pglock/v3"
	"github.com/spaolacci/murmur3"

	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"
)

const schedulerLockName = "netsync_scheduler"

// SchedulerLockID is the advisory lock held by the process polling for due syncs.
func SchedulerLockID() int64 {
	return int64(murmur3.Sum64([]byte(schedulerLockName)))
}

// Poll runs the due syncs every poll interval until ctx is done. Only the
// process holding the scheduler lock polls; the others wait for it.
func (m *Manager) Poll(ctx context.Context, db *sql.DB) error {
	lock, err := pglock.NewLock(ctx, SchedulerLockID(), db)
	if err != nil {
		return fmt.Errorf("creating scheduler lock: %w", err)
	}
	defer func() { _ = lock.Close() }()

	var locked bool
	defer func() {
		if locked {
			if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				m.log.Warnn("Releasing scheduler lock", obskit.Error(err))
			}
		}
	}()

	for {
		if locked, err = lock.Lock(ctx); err != nil {
			m.log.Warnn("Acquiring scheduler lock", obskit.Error(err))
		} else if locked {
			break
		}

		m.log.Infon("Scheduler lock held by another process, waiting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.config.lockRetry):
		}
	}
	m.log.Infon("Scheduler lock acquired")

	for {
		start := m.now()
		if ok := m.RunNeeds(ctx); !ok {
			m.log.Warnn("Some syncs failed, see sync history for more information")
		}
		if _, err := m.CleanHistory(ctx, false); err != nil {
			m.log.Warnn("Cleaning history", obskit.Error(err))
		}

		wait := m.config.pollInterval.Load() - m.now().Sub(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
