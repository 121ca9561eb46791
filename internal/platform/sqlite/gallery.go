package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/store"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const gmetaColumns = `gid, token, title, title_jpn, category, uploader, posted, filecount,
	filesize, expunged, rating, parent_gid, parent_key, first_gid, first_key`

func scanGMeta(s rowScanner) (*domain.GMeta, error) {
	var (
		g                   domain.GMeta
		titleJpn, uploader  sql.NullString
		expunged            int
		parentGID, firstGID sql.NullInt64
		parentKey, firstKey sql.NullString
	)
	err := s.Scan(&g.GID, &g.Token, &g.Title, &titleJpn, &g.Category, &uploader,
		&g.Posted, &g.Filecount, &g.Filesize, &expunged, &g.Rating,
		&parentGID, &parentKey, &firstGID, &firstKey)
	if err != nil {
		return nil, err
	}
	g.TitleJpn = titleJpn.String
	g.Uploader = uploader.String
	g.Expunged = expunged != 0
	g.ParentGID = int64Ptr(parentGID)
	g.ParentKey = stringPtr(parentKey)
	g.FirstGID = int64Ptr(firstGID)
	g.FirstKey = stringPtr(firstKey)
	return &g, nil
}

// AddGMeta inserts or replaces a gallery row.
func (d *DB) AddGMeta(ctx context.Context, g *domain.GMeta) error {
	if err := g.Validate(); err != nil {
		return store.NewStoreError("gmeta", "insert", "invalid gallery", errors.Join(store.ErrInvalidEntity, err))
	}
	_, err := d.db.ExecContext(ctx, `INSERT OR REPLACE INTO gmeta (`+gmetaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.GID, g.Token, g.Title, g.TitleJpn, g.Category, g.Uploader, g.Posted,
		g.Filecount, g.Filesize, boolToInt(g.Expunged), g.Rating,
		nullInt64(g.ParentGID), nullString(g.ParentKey), nullInt64(g.FirstGID), nullString(g.FirstKey))
	return MapError(err, "gmeta", "insert", nil)
}

// GetGMeta retrieves a gallery by gid.
func (d *DB) GetGMeta(ctx context.Context, gid int64) (*domain.GMeta, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+gmetaColumns+` FROM gmeta WHERE gid = ?`, gid)
	g, err := scanGMeta(row)
	if err != nil {
		return nil, MapError(err, "gmeta", "select", store.ErrGalleryNotFound)
	}
	return g, nil
}

// GetGMetas retrieves the galleries that exist among gids, ordered by gid.
func (d *DB) GetGMetas(ctx context.Context, gids []int64) ([]domain.GMeta, error) {
	if len(gids) == 0 {
		return []domain.GMeta{}, nil
	}
	args := make([]any, len(gids))
	for i, gid := range gids {
		args[i] = gid
	}
	rows, err := d.db.QueryContext(ctx, `SELECT `+gmetaColumns+` FROM gmeta
		WHERE gid IN (`+placeholders(len(gids))+`) ORDER BY gid`, args...)
	if err != nil {
		return nil, MapError(err, "gmeta", "select", nil)
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.GMeta, 0, len(gids))
	for rows.Next() {
		g, err := scanGMeta(rows)
		if err != nil {
			return nil, MapError(err, "gmeta", "scan", nil)
		}
		out = append(out, *g)
	}
	return out, MapError(rows.Err(), "gmeta", "select", nil)
}

// GetGIDs pages through all gids in ascending order.
func (d *DB) GetGIDs(ctx context.Context, offset, limit int) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT gid FROM gmeta ORDER BY gid LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, MapError(err, "gmeta", "select", nil)
	}
	return scanInt64s(rows, "gmeta")
}

// CountGMeta returns the number of galleries.
func (d *DB) CountGMeta(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gmeta`).Scan(&n)
	return n, MapError(err, "gmeta", "count", nil)
}

// DeleteGallery removes the gallery, its tag associations and pages, then
// every file whose token no other page references. Files are unlinked from
// disk only after the rows are gone; unlink failures are logged.
func (d *DB) DeleteGallery(ctx context.Context, gid int64) error {
	var paths []string
	err := d.withTx(ctx, store.TxExclusive, func(ctx context.Context, q store.DBTX) error {
		paths = paths[:0]

		rows, err := q.QueryContext(ctx, `SELECT DISTINCT token FROM pmeta WHERE gid = ?`, gid)
		if err != nil {
			return MapError(err, "pmeta", "select", nil)
		}
		tokens, err := scanStrings(rows, "pmeta")
		if err != nil {
			return err
		}

		for _, stmt := range []string{
			`DELETE FROM gtag WHERE gid = ?`,
			`DELETE FROM pmeta WHERE gid = ?`,
			`DELETE FROM gmeta WHERE gid = ?`,
		} {
			if _, err := q.ExecContext(ctx, stmt, gid); err != nil {
				return MapError(err, "gmeta", "delete", nil)
			}
		}

		for _, token := range tokens {
			var refs int
			if err := q.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM pmeta WHERE token = ?`, token).Scan(&refs); err != nil {
				return MapError(err, "pmeta", "count", nil)
			}
			if refs > 0 {
				continue
			}

			rows, err := q.QueryContext(ctx, `SELECT path FROM file WHERE token = ?`, token)
			if err != nil {
				return MapError(err, "file", "select", nil)
			}
			filePaths, err := scanStrings(rows, "file")
			if err != nil {
				return err
			}
			paths = append(paths, filePaths...)

			if _, err := q.ExecContext(ctx, `DELETE FROM file WHERE token = ?`, token); err != nil {
				return MapError(err, "file", "delete", nil)
			}
			if _, err := q.ExecContext(ctx, `DELETE FROM filemeta WHERE token = ?`, token); err != nil {
				return MapError(err, "filemeta", "delete", nil)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("failed to remove file",
				slog.Int64("gid", gid),
				slog.String("path", p),
				slog.String("error", err.Error()))
		}
	}
	d.logger.Debug("gallery deleted",
		slog.Int64("gid", gid),
		slog.Int("files_removed", len(paths)))
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func scanInt64s(rows *sql.Rows, entity string) ([]int64, error) {
	defer func() { _ = rows.Close() }()
	out := []int64{}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, MapError(err, entity, "scan", nil)
		}
		out = append(out, v)
	}
	return out, MapError(rows.Err(), entity, "select", nil)
}

func scanStrings(rows *sql.Rows, entity string) ([]string, error) {
	defer func() { _ = rows.Close() }()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, MapError(err, entity, "scan", nil)
		}
		out = append(out, v)
	}
	return out, MapError(rows.Err(), entity, "select", nil)
}
