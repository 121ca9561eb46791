package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/store"
)

const taskColumns = `id, type, gid, token, pid, details`

func scanTask(s rowScanner) (domain.Task, error) {
	var (
		t       domain.Task
		details sql.NullString
	)
	if err := s.Scan(&t.ID, &t.Type, &t.GID, &t.Token, &t.PID, &details); err != nil {
		return domain.Task{}, err
	}
	t.Details = stringPtr(details)
	return t, nil
}

func queryTasks(ctx context.Context, q store.DBTX, query string, args ...any) ([]domain.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err, "task", "select", nil)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err, "task", "scan", nil)
		}
		out = append(out, t)
	}
	return out, MapError(rows.Err(), "task", "select", nil)
}

// queryOptionalTask returns the first matching task or nil.
func queryOptionalTask(ctx context.Context, q store.DBTX, query string, args ...any) (*domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, MapError(err, "task", "select", nil)
	}
	return &t, nil
}

// AddTask inserts t and reads it back by its natural key to learn the id.
func (d *DB) AddTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if !t.Type.Valid() {
		return domain.Task{}, store.NewStoreError("task", "insert", "invalid task",
			errors.Join(store.ErrInvalidEntity, fmt.Errorf("%w: %d", domain.ErrInvalidTaskType, int(t.Type))))
	}

	var added domain.Task
	err := d.withTx(ctx, store.TxExclusive, func(ctx context.Context, q store.DBTX) error {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO task (type, gid, token, pid, details) VALUES (?, ?, ?, ?, ?)`,
			t.Type, t.GID, t.Token, t.PID, nullString(t.Details)); err != nil {
			return MapError(err, "task", "insert", nil)
		}
		row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task
			WHERE type = ? AND gid = ? AND token = ? AND pid = ? AND details IS ?
			ORDER BY id DESC LIMIT 1`,
			t.Type, t.GID, t.Token, t.PID, nullString(t.Details))
		var err error
		added, err = scanTask(row)
		if err != nil {
			return MapError(err, "task", "select", store.ErrTaskNotFound)
		}
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	d.logger.Debug("task added",
		slog.Int64("task_id", added.ID),
		slog.String("task_type", added.Type.String()),
		slog.Int64("gid", added.GID))
	return added, nil
}

// GetTask retrieves a task by id.
func (d *DB) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	t, err := scanTask(d.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task WHERE id = ?`, id))
	if err != nil {
		return domain.Task{}, MapError(err, "task", "select", store.ErrTaskNotFound)
	}
	return t, nil
}

// GetTasks returns every queued task ordered by id.
func (d *DB) GetTasks(ctx context.Context) ([]domain.Task, error) {
	return queryTasks(ctx, d.db, `SELECT `+taskColumns+` FROM task ORDER BY id`)
}

// GetTasksByPID returns the tasks owned by pid.
func (d *DB) GetTasksByPID(ctx context.Context, pid int) ([]domain.Task, error) {
	return queryTasks(ctx, d.db, `SELECT `+taskColumns+` FROM task WHERE pid = ? ORDER BY id`, pid)
}

// GetOtherPIDTasks returns the tasks not owned by pid.
func (d *DB) GetOtherPIDTasks(ctx context.Context, pid int) ([]domain.Task, error) {
	return queryTasks(ctx, d.db, `SELECT `+taskColumns+` FROM task WHERE pid != ? ORDER BY id`, pid)
}

// CheckDownloadTask returns the pending download of the gallery, or nil.
func (d *DB) CheckDownloadTask(ctx context.Context, gid int64, token string) (*domain.Task, error) {
	return queryOptionalTask(ctx, d.db, `SELECT `+taskColumns+` FROM task
		WHERE type = ? AND gid = ? AND token = ? ORDER BY id LIMIT 1`,
		domain.TaskTypeDownload, gid, token)
}

// CheckExportZipTask returns the pending export of the gallery with the same
// details, or nil.
func (d *DB) CheckExportZipTask(ctx context.Context, gid int64, details *string) (*domain.Task, error) {
	return queryOptionalTask(ctx, d.db, `SELECT `+taskColumns+` FROM task
		WHERE type = ? AND gid = ? AND details IS ? ORDER BY id LIMIT 1`,
		domain.TaskTypeExportZip, gid, nullString(details))
}

// CheckImportTask returns the pending import of the gallery, or nil.
func (d *DB) CheckImportTask(ctx context.Context, gid int64, token string) (*domain.Task, error) {
	return queryOptionalTask(ctx, d.db, `SELECT `+taskColumns+` FROM task
		WHERE type = ? AND gid = ? AND token = ? ORDER BY id LIMIT 1`,
		domain.TaskTypeImport, gid, token)
}

// CheckTask returns the first pending task of typ for gid, or nil.
func (d *DB) CheckTask(ctx context.Context, typ domain.TaskType, gid int64) (*domain.Task, error) {
	return queryOptionalTask(ctx, d.db, `SELECT `+taskColumns+` FROM task
		WHERE type = ? AND gid = ? ORDER BY id LIMIT 1`, typ, gid)
}

// CheckOnetimeTask returns the lowest-id one-shot task, or nil.
func (d *DB) CheckOnetimeTask(ctx context.Context) (*domain.Task, error) {
	kinds := domain.OnetimeTaskTypes()
	args := make([]any, len(kinds))
	for i, k := range kinds {
		args[i] = k
	}
	return queryOptionalTask(ctx, d.db, `SELECT `+taskColumns+` FROM task
		WHERE type IN (`+placeholders(len(kinds))+`) ORDER BY id LIMIT 1`, args...)
}

// SetTaskPID transfers ownership of t to pid when the stored owner is still
// t.PID. The read and the write share one exclusive transaction, so of two
// processes racing on the same row only one sees claimed=true.
func (d *DB) SetTaskPID(ctx context.Context, t domain.Task, pid int) (domain.Task, bool, error) {
	var (
		updated domain.Task
		claimed bool
	)
	err := d.withTx(ctx, store.TxExclusive, func(ctx context.Context, q store.DBTX) error {
		claimed = false
		cur, err := scanTask(q.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM task WHERE id = ?`, t.ID))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return MapError(err, "task", "select", nil)
		}
		if cur.PID != t.PID {
			return nil
		}
		if _, err := q.ExecContext(ctx, `UPDATE task SET pid = ? WHERE id = ?`, pid, t.ID); err != nil {
			return MapError(err, "task", "update", nil)
		}
		cur.PID = pid
		updated = cur
		claimed = true
		return nil
	})
	if err != nil {
		return domain.Task{}, false, err
	}
	return updated, claimed, nil
}

// UpdateTask rewrites the details of a task.
func (d *DB) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := d.db.ExecContext(ctx, `UPDATE task SET details = ? WHERE id = ?`,
		nullString(t.Details), t.ID)
	if err != nil {
		return MapError(err, "task", "update", nil)
	}
	return requireAffected(res, "task", "update", store.ErrTaskNotFound)
}

// DeleteTask removes a task. A missing task is not an error.
func (d *DB) DeleteTask(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM task WHERE id = ?`, id)
	return MapError(err, "task", "delete", nil)
}
