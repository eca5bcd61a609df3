package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlmw "github.com/spec-sa/netsync/middleware/sqlquerywrapper"

	"github.com/spec-sa/netsync/internal/model"
)

const historyColumns = `
	id,
	sync_id,
	start_time,
	end_time,
	ok,
	message
`

type History repo

func NewHistory(db *sqlmw.DB, opts ...Opt) *History {
	return (*History)(newRepo(db, opts...))
}

// Create opens a successful, unfinished history row for the sync starting now.
func (h *History) Create(ctx context.Context, syncID int64) (model.SyncHistory, error) {
	history := model.SyncHistory{
		SyncID:    syncID,
		StartTime: h.now(),
		OK:        true,
	}
	err := h.db.QueryRowContext(ctx, `
		INSERT INTO sync_histories (sync_id, start_time, ok)
		VALUES ($1, $2, TRUE)
		RETURNING id;
	`,
		syncID,
		history.StartTime,
	).Scan(&history.ID)
	if err != nil {
		return model.SyncHistory{}, fmt.Errorf("executing: %w", err)
	}
	return history, nil
}

// Close sets the end time of an open history row. A row is closed once, later
// calls report ErrHistoryNotFound.
func (h *History) Close(ctx context.Context, id int64, ok bool, message string) error {
	result, err := h.db.ExecContext(ctx, `
		UPDATE
			sync_histories
		SET
			end_time = $2,
			ok = $3,
			message = $4
		WHERE
			id = $1 AND end_time IS NULL;
	`,
		id,
		h.now(),
		ok,
		sql.NullString{String: message, Valid: message != ""},
	)
	if err != nil {
		return fmt.Errorf("executing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("open history %d: %w", id, ErrHistoryNotFound)
	}
	return nil
}

// LastCompleted returns the most recently started history row of the sync that has finished.
func (h *History) LastCompleted(ctx context.Context, syncID int64) (model.SyncHistory, error) {
	return h.last(ctx, syncID, `end_time IS NOT NULL`)
}

// LastSuccessful returns the most recently started finished history row with ok set.
func (h *History) LastSuccessful(ctx context.Context, syncID int64) (model.SyncHistory, error) {
	return h.last(ctx, syncID, `end_time IS NOT NULL AND ok = TRUE`)
}

func (h *History) last(ctx context.Context, syncID int64, condition string) (model.SyncHistory, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT
			`+historyColumns+`
		FROM
			sync_histories
		WHERE
			sync_id = $1 AND `+condition+`
		ORDER BY
			start_time DESC, id DESC
		LIMIT 1;
	`,
		syncID,
	)

	var history model.SyncHistory
	err := scanHistory(row.Scan, &history)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncHistory{}, fmt.Errorf("sync %d: %w", syncID, ErrHistoryNotFound)
	}
	if err != nil {
		return model.SyncHistory{}, fmt.Errorf("scanning history: %w", err)
	}
	return history, nil
}

// List returns the latest history rows of the sync, newest first.
func (h *History) List(ctx context.Context, syncID int64, limit int) ([]model.SyncHistory, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT
			`+historyColumns+`
		FROM
			sync_histories
		WHERE
			sync_id = $1
		ORDER BY
			start_time DESC, id DESC
		LIMIT $2;
	`,
		syncID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var histories []model.SyncHistory
	for rows.Next() {
		var history model.SyncHistory
		if err := scanHistory(rows.Scan, &history); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		histories = append(histories, history)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating histories: %w", err)
	}
	return histories, nil
}

// DeleteFinishedBefore removes history rows that finished before the given time
// and returns how many were removed. Open rows are never removed.
func (h *History) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := h.db.ExecContext(ctx, `
		DELETE FROM
			sync_histories
		WHERE
			end_time IS NOT NULL AND end_time < $1;
	`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("executing: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}

func scanHistory(scan scanFn, history *model.SyncHistory) error {
	var (
		endTime sql.NullTime
		message sql.NullString
	)
	if err := scan(
		&history.ID,
		&history.SyncID,
		&history.StartTime,
		&endTime,
		&history.OK,
		&message,
	); err != nil {
		return err
	}
	history.StartTime = history.StartTime.UTC()
	if endTime.Valid {
		history.EndTime = endTime.Time.UTC()
	}
	history.Message = message.String
	return nil
}
