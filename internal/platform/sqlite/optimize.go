package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/eharchive/internal/store"
)

// sequenceTable is an autoincrement table Optimize may renumber, with the
// columns elsewhere that mirror its id.
type sequenceTable struct {
	name    string
	mirrors []mirrorColumn
	// onlyWhenEmpty tables are reset but never renumbered, since live
	// processes hold their ids in memory.
	onlyWhenEmpty bool
}

type mirrorColumn struct {
	table  string
	column string
}

var sequenceTables = map[string]sequenceTable{
	"task":         {name: "task", onlyWhenEmpty: true},
	"file":         {name: "file"},
	"tag":          {name: "tag", mirrors: []mirrorColumn{{table: "gtag", column: "id"}}},
	"user":         {name: "user", mirrors: []mirrorColumn{{table: "token", column: "uid"}}},
	"token":        {name: "token"},
	"shared_token": {name: "shared_token"},
}

// Optimize removes dangling tag associations, renumbers autoincrement
// tables densely from 1 where rows were deleted, then vacuums the file.
// The tag cache is rebuilt on next use.
func (d *DB) Optimize(ctx context.Context) error {
	renumbered := make(map[string]int)
	err := d.withTx(ctx, store.TxExclusive, func(ctx context.Context, q store.DBTX) error {
		clear(renumbered)

		if _, err := q.ExecContext(ctx,
			`DELETE FROM gtag WHERE id NOT IN (SELECT id FROM tag)`); err != nil {
			return MapError(err, "gtag", "delete", nil)
		}

		rows, err := q.QueryContext(ctx, `SELECT name, seq FROM sqlite_sequence`)
		if err != nil {
			return MapError(err, "sqlite_sequence", "select", nil)
		}
		seqs := make(map[string]int64)
		for rows.Next() {
			var (
				name string
				seq  int64
			)
			if err := rows.Scan(&name, &seq); err != nil {
				_ = rows.Close()
				return MapError(err, "sqlite_sequence", "scan", nil)
			}
			seqs[name] = seq
		}
		if err := rows.Close(); err != nil {
			return MapError(err, "sqlite_sequence", "select", nil)
		}

		for name, seq := range seqs {
			table, ok := sequenceTables[name]
			if !ok {
				continue
			}
			n, err := renumberTable(ctx, q, table, seq)
			if err != nil {
				return err
			}
			if n > 0 {
				renumbered[name] = n
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.tags.invalidate()

	if err := d.vacuum(ctx); err != nil {
		return err
	}

	d.logger.Info("database optimized", slog.Any("renumbered", renumbered))
	return nil
}

// renumberTable compacts ids of table to 1..count and resets its sequence.
// It returns how many rows changed id.
func renumberTable(ctx context.Context, q store.DBTX, table sequenceTable, seq int64) (int, error) {
	var count int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM "`+table.name+`"`).Scan(&count); err != nil {
		return 0, MapError(err, table.name, "count", nil)
	}
	if count == seq {
		return 0, nil
	}
	if table.onlyWhenEmpty && count > 0 {
		return 0, nil
	}

	rows, err := q.QueryContext(ctx, `SELECT id FROM "`+table.name+`" ORDER BY id`)
	if err != nil {
		return 0, MapError(err, table.name, "select", nil)
	}
	ids, err := scanInt64s(rows, table.name)
	if err != nil {
		return 0, err
	}

	// Ascending order guarantees the target id is always free.
	changed := 0
	for i, old := range ids {
		next := int64(i + 1)
		if old == next {
			continue
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE "`+table.name+`" SET id = ? WHERE id = ?`, next, old); err != nil {
			return 0, MapError(err, table.name, "update", nil)
		}
		for _, m := range table.mirrors {
			if _, err := q.ExecContext(ctx,
				fmt.Sprintf(`UPDATE "%s" SET "%s" = ? WHERE "%s" = ?`, m.table, m.column, m.column),
				next, old); err != nil {
				return 0, MapError(err, m.table, "update", nil)
			}
		}
		changed++
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE sqlite_sequence SET seq = ? WHERE name = ?`, len(ids), table.name); err != nil {
		return 0, MapError(err, "sqlite_sequence", "update", nil)
	}
	return changed, nil
}

// vacuum rebuilds the database file. VACUUM cannot run inside a
// transaction, so only the advisory lock guards it.
func (d *DB) vacuum(ctx context.Context) error {
	// Connection before lock, the same order Transaction uses.
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := d.lock.Lock(); err != nil {
		return err
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Error("failed to release file lock", slog.String("error", err.Error()))
		}
	}()
	if _, err := conn.ExecContext(ctx, `VACUUM`); err != nil {
		if isBusy(err) {
			return fmt.Errorf("%w: vacuum", store.ErrBusy)
		}
		return MapError(err, "database", "vacuum", nil)
	}
	return nil
}
