package syncer_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spec-sa/netsync/internal/model"
	"github.com/spec-sa/netsync/internal/repo"
)

// memSyncs mirrors the status transitions of repo.Syncs in memory.
type memSyncs struct {
	mu    sync.Mutex
	syncs map[int64]model.Sync
}

func newMemSyncs(syncs ...model.Sync) *memSyncs {
	m := &memSyncs{syncs: map[int64]model.Sync{}}
	for _, s := range syncs {
		m.syncs[s.ID] = s
	}
	return m
}

func (m *memSyncs) Get(_ context.Context, id int64) (model.Sync, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.syncs[id]
	if !ok {
		return model.Sync{}, fmt.Errorf("sync %d: %w", id, repo.ErrSyncNotFound)
	}
	return s, nil
}

func (m *memSyncs) ListActive(context.Context) ([]model.Sync, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Sync
	for _, s := range m.syncs {
		if s.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memSyncs) transition(id int64, to model.Status, from ...model.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.syncs[id]
	if !ok {
		return false, fmt.Errorf("sync %d: %w", id, repo.ErrSyncNotFound)
	}
	if !s.Active {
		return false, nil
	}
	for _, status := range from {
		if s.Status == status {
			s.Status = to
			m.syncs[id] = s
			return true, nil
		}
	}
	return false, nil
}

func (m *memSyncs) MarkRunning(_ context.Context, id int64) (bool, error) {
	return m.transition(id, model.StatusRunning, model.StatusPending, model.StatusQueued)
}

func (m *memSyncs) Queue(_ context.Context, id int64) (bool, error) {
	return m.transition(id, model.StatusQueued, model.StatusPending)
}

func (m *memSyncs) MarkPending(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.syncs[id]
	if !ok {
		return fmt.Errorf("sync %d: %w", id, repo.ErrSyncNotFound)
	}
	s.Status = model.StatusPending
	m.syncs[id] = s
	return nil
}

func (m *memSyncs) status(id int64) model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncs[id].Status
}

// memHistory mirrors repo.History in memory.
type memHistory struct {
	mu   sync.Mutex
	now  func() time.Time
	rows []model.SyncHistory
}

func newMemHistory(now func() time.Time, rows ...model.SyncHistory) *memHistory {
	h := &memHistory{now: now}
	for _, row := range rows {
		row.ID = int64(len(h.rows) + 1)
		h.rows = append(h.rows, row)
	}
	return h
}

func (h *memHistory) Create(_ context.Context, syncID int64) (model.SyncHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	row := model.SyncHistory{ID: int64(len(h.rows) + 1), SyncID: syncID, StartTime: h.now(), OK: true}
	h.rows = append(h.rows, row)
	return row, nil
}

func (h *memHistory) Close(_ context.Context, id int64, ok bool, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.rows {
		if h.rows[i].ID == id && h.rows[i].EndTime.IsZero() {
			h.rows[i].EndTime = h.now()
			h.rows[i].OK = ok
			h.rows[i].Message = message
			return nil
		}
	}
	return fmt.Errorf("history %d: %w", id, repo.ErrHistoryNotFound)
}

func (h *memHistory) last(syncID int64, match func(model.SyncHistory) bool) (model.SyncHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var (
		found model.SyncHistory
		ok    bool
	)
	for _, row := range h.rows {
		if row.SyncID == syncID && match(row) && (!ok || !row.StartTime.Before(found.StartTime)) {
			found, ok = row, true
		}
	}
	if !ok {
		return model.SyncHistory{}, fmt.Errorf("sync %d: %w", syncID, repo.ErrHistoryNotFound)
	}
	return found, nil
}

func (h *memHistory) LastCompleted(_ context.Context, syncID int64) (model.SyncHistory, error) {
	return h.last(syncID, model.SyncHistory.Completed)
}

func (h *memHistory) LastSuccessful(_ context.Context, syncID int64) (model.SyncHistory, error) {
	return h.last(syncID, func(row model.SyncHistory) bool { return row.Completed() && row.OK })
}

func (h *memHistory) DeleteFinishedBefore(_ context.Context, before time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var (
		kept    []model.SyncHistory
		deleted int64
	)
	for _, row := range h.rows {
		if row.Completed() && row.EndTime.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	h.rows = kept
	return deleted, nil
}

func (h *memHistory) forSync(syncID int64) []model.SyncHistory {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []model.SyncHistory
	for _, row := range h.rows {
		if row.SyncID == syncID {
			out = append(out, row)
		}
	}
	return out
}
