package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlmw "github.com/spec-sa/netsync/middleware/sqlquerywrapper"

	"github.com/spec-sa/netsync/internal/model"
)

const syncColumns = `
	id,
	synchronize,
	origin_id,
	destiny_id,
	cron_expression,
	active,
	status,
	created_at,
	updated_at
`

type Syncs repo

func NewSyncs(db *sqlmw.DB, opts ...Opt) *Syncs {
	return (*Syncs)(newRepo(db, opts...))
}

// Create inserts the sync with its parameters and processes. Origin and
// destiny credentials must already exist.
func (s *Syncs) Create(ctx context.Context, sync model.Sync) (int64, error) {
	if !sync.Synchronize.Valid() {
		return 0, fmt.Errorf("invalid job type %q", sync.Synchronize)
	}

	var id int64
	err := s.db.WithTx(ctx, func(tx *sqlmw.Tx) error {
		now := s.now()
		err := tx.QueryRowContext(ctx, `
			INSERT INTO syncs (
			  synchronize, origin_id, destiny_id, cron_expression,
			  active, status, created_at, updated_at
			)
			VALUES
			  ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id;
		`,
			string(sync.Synchronize),
			sync.Origin.ID,
			sync.Destiny.ID,
			sql.NullString{String: sync.CronExpression, Valid: sync.CronExpression != ""},
			sync.Active,
			int(sync.Status),
			now,
			now,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("inserting sync: %w", err)
		}

		for _, param := range sync.Parameters {
			paramType := param.Type
			if paramType == "" {
				paramType = model.ParamTypePython
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sync_parameters (sync_id, position, use_in, key, value, type)
				VALUES ($1, $2, $3, $4, $5, $6);
			`,
				id,
				param.Position,
				string(param.UseIn),
				param.Key,
				param.Value,
				string(paramType),
			)
			if err != nil {
				return fmt.Errorf("inserting sync parameter %q: %w", param.Key, err)
			}
		}

		for _, process := range sync.Processes {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sync_processes (sync_id, ordering, requirements, name, expression)
				VALUES ($1, $2, $3, $4, $5);
			`,
				id,
				process.Order,
				process.Requirements,
				process.Name,
				process.Expression,
			)
			if err != nil {
				return fmt.Errorf("inserting sync process %q: %w", process.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the sync with its credentials, parameters and processes.
func (s *Syncs) Get(ctx context.Context, id int64) (model.Sync, error) {
	syncs, err := s.query(ctx, `WHERE id = $1`, id)
	if err != nil {
		return model.Sync{}, err
	}
	if len(syncs) == 0 {
		return model.Sync{}, fmt.Errorf("sync %d: %w", id, ErrSyncNotFound)
	}
	return syncs[0], nil
}

func (s *Syncs) List(ctx context.Context) ([]model.Sync, error) {
	return s.query(ctx, ``)
}

func (s *Syncs) ListActive(ctx context.Context) ([]model.Sync, error) {
	return s.query(ctx, `WHERE active = TRUE`)
}

// MarkRunning moves the sync from pending or queued to running in a single
// statement. It reports false when the sync is already running or inactive.
func (s *Syncs) MarkRunning(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, id, model.StatusRunning, `active = TRUE AND status IN ($4, $5)`, model.StatusPending, model.StatusQueued)
}

// Queue asks for a pending sync to run on the next poll regardless of its schedule.
func (s *Syncs) Queue(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, id, model.StatusQueued, `active = TRUE AND status = $4`, model.StatusPending)
}

func (s *Syncs) MarkPending(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE
			syncs
		SET
			status = $2,
			updated_at = $3
		WHERE
			id = $1;
	`,
		id,
		int(model.StatusPending),
		s.now(),
	)
	if err != nil {
		return fmt.Errorf("executing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sync %d: %w", id, ErrSyncNotFound)
	}
	return nil
}

func (s *Syncs) transition(ctx context.Context, id int64, to model.Status, condition string, from ...model.Status) (bool, error) {
	args := []any{id, int(to), s.now()}
	for _, status := range from {
		args = append(args, int(status))
	}

	var updatedID int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE
			syncs
		SET
			status = $2,
			updated_at = $3
		WHERE
			id = $1 AND `+condition+`
		RETURNING id;
	`,
		args...,
	).Scan(&updatedID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("executing: %w", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM syncs WHERE id = $1);`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking sync existence: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("sync %d: %w", id, ErrSyncNotFound)
	}
	return false, nil
}

func (s *Syncs) query(ctx context.Context, where string, args ...any) ([]model.Sync, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			`+syncColumns+`
		FROM
			syncs
		`+where+`
		ORDER BY
			id;
	`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying syncs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var syncs []model.Sync
	for rows.Next() {
		var sync model.Sync
		if err := scanSync(rows.Scan, &sync); err != nil {
			return nil, fmt.Errorf("scanning sync: %w", err)
		}
		syncs = append(syncs, sync)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating syncs: %w", err)
	}
	_ = rows.Close()

	credentials := (*Credentials)(s)
	cache := make(map[int64]model.Credential)
	credential := func(id int64) (model.Credential, error) {
		if c, ok := cache[id]; ok {
			return c, nil
		}
		c, err := credentials.Get(ctx, id)
		if err != nil {
			return model.Credential{}, err
		}
		cache[id] = c
		return c, nil
	}

	for i := range syncs {
		if syncs[i].Origin, err = credential(syncs[i].Origin.ID); err != nil {
			return nil, fmt.Errorf("loading origin of sync %d: %w", syncs[i].ID, err)
		}
		if syncs[i].Destiny, err = credential(syncs[i].Destiny.ID); err != nil {
			return nil, fmt.Errorf("loading destiny of sync %d: %w", syncs[i].ID, err)
		}
		if syncs[i].Parameters, err = s.parameters(ctx, syncs[i].ID); err != nil {
			return nil, err
		}
		if syncs[i].Processes, err = s.processes(ctx, syncs[i].ID); err != nil {
			return nil, err
		}
	}
	return syncs, nil
}

func (s *Syncs) parameters(ctx context.Context, syncID int64) ([]model.SyncParameter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id,
			position,
			use_in,
			key,
			value,
			type
		FROM
			sync_parameters
		WHERE
			sync_id = $1
		ORDER BY
			position, id;
	`,
		syncID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sync parameters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var params []model.SyncParameter
	for rows.Next() {
		var (
			param      model.SyncParameter
			useIn, typ string
			value      sql.NullString
		)
		if err := rows.Scan(&param.ID, &param.Position, &useIn, &param.Key, &value, &typ); err != nil {
			return nil, fmt.Errorf("scanning sync parameter: %w", err)
		}
		param.UseIn = model.UseIn(useIn)
		param.Type = model.ParamType(typ)
		param.Value = value.String
		params = append(params, param)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync parameters: %w", err)
	}
	return params, nil
}

func (s *Syncs) processes(ctx context.Context, syncID int64) ([]model.SyncProcess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id,
			ordering,
			requirements,
			name,
			expression
		FROM
			sync_processes
		WHERE
			sync_id = $1
		ORDER BY
			ordering, id;
	`,
		syncID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sync processes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var processes []model.SyncProcess
	for rows.Next() {
		var process model.SyncProcess
		if err := rows.Scan(&process.ID, &process.Order, &process.Requirements, &process.Name, &process.Expression); err != nil {
			return nil, fmt.Errorf("scanning sync process: %w", err)
		}
		processes = append(processes, process)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync processes: %w", err)
	}
	return processes, nil
}

func scanSync(scan scanFn, sync *model.Sync) error {
	var (
		synchronize    string
		cronExpression sql.NullString
		status         int
	)
	if err := scan(
		&sync.ID,
		&synchronize,
		&sync.Origin.ID,
		&sync.Destiny.ID,
		&cronExpression,
		&sync.Active,
		&status,
		&sync.CreatedAt,
		&sync.UpdatedAt,
	); err != nil {
		return err
	}
	sync.Synchronize = model.JobType(synchronize)
	sync.CronExpression = cronExpression.String
	sync.Status = model.Status(status)
	sync.CreatedAt = sync.CreatedAt.UTC()
	sync.UpdatedAt = sync.UpdatedAt.UTC()
	return nil
}
