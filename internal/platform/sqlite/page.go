package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/store"
)

const pmetaColumns = `gid, "index", token, name, width, height`

func scanPMeta(s rowScanner) (*domain.PMeta, error) {
	var p domain.PMeta
	if err := s.Scan(&p.GID, &p.Index, &p.Token, &p.Name, &p.Width, &p.Height); err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *DB) queryPMetas(ctx context.Context, query string, args ...any) ([]domain.PMeta, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err, "pmeta", "select", nil)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.PMeta{}
	for rows.Next() {
		p, err := scanPMeta(rows)
		if err != nil {
			return nil, MapError(err, "pmeta", "scan", nil)
		}
		out = append(out, *p)
	}
	return out, MapError(rows.Err(), "pmeta", "select", nil)
}

// AddPMeta inserts or replaces the page at (gid, index).
func (d *DB) AddPMeta(ctx context.Context, p *domain.PMeta) error {
	_, err := d.db.ExecContext(ctx, `INSERT OR REPLACE INTO pmeta (`+pmetaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.GID, p.Index, p.Token, p.Name, p.Width, p.Height)
	return MapError(err, "pmeta", "insert", nil)
}

// GetPMeta returns the page at (gid, index).
func (d *DB) GetPMeta(ctx context.Context, gid int64, index int) (*domain.PMeta, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+pmetaColumns+` FROM pmeta WHERE gid = ? AND "index" = ?`, gid, index)
	p, err := scanPMeta(row)
	if err != nil {
		return nil, MapError(err, "pmeta", "select", store.ErrPageNotFound)
	}
	return p, nil
}

// GetPMetaByToken returns the page of gid carrying token.
func (d *DB) GetPMetaByToken(ctx context.Context, gid int64, token string) (*domain.PMeta, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+pmetaColumns+` FROM pmeta WHERE gid = ? AND token = ? LIMIT 1`, gid, token)
	p, err := scanPMeta(row)
	if err != nil {
		return nil, MapError(err, "pmeta", "select", store.ErrPageNotFound)
	}
	return p, nil
}

// GetPMetaByTokenOnly returns pages of any gallery carrying token.
func (d *DB) GetPMetaByTokenOnly(ctx context.Context, token string) ([]domain.PMeta, error) {
	return d.queryPMetas(ctx,
		`SELECT `+pmetaColumns+` FROM pmeta WHERE token = ? ORDER BY gid, "index"`, token)
}

// GetPMetas returns every page of a gallery ordered by index.
func (d *DB) GetPMetas(ctx context.Context, gid int64) ([]domain.PMeta, error) {
	return d.queryPMetas(ctx,
		`SELECT `+pmetaColumns+` FROM pmeta WHERE gid = ? ORDER BY "index"`, gid)
}

// CountPMeta returns the number of pages stored for a gallery.
func (d *DB) CountPMeta(ctx context.Context, gid int64) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pmeta WHERE gid = ?`, gid).Scan(&n)
	return n, MapError(err, "pmeta", "count", nil)
}

const fileColumns = `id, token, path, width, height, is_original`

func scanFile(s rowScanner) (*domain.File, error) {
	var (
		f          domain.File
		isOriginal int
	)
	if err := s.Scan(&f.ID, &f.Token, &f.Path, &f.Width, &f.Height, &isOriginal); err != nil {
		return nil, err
	}
	f.IsOriginal = isOriginal != 0
	return &f, nil
}

// AddFile inserts a file row and sets f.ID.
func (d *DB) AddFile(ctx context.Context, f *domain.File) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO file (token, path, width, height, is_original) VALUES (?, ?, ?, ?, ?)`,
		f.Token, f.Path, f.Width, f.Height, boolToInt(f.IsOriginal))
	if err != nil {
		return MapError(err, "file", "insert", nil)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return MapError(err, "file", "insert", nil)
	}
	f.ID = id
	return nil
}

// GetFile returns a file by id.
func (d *DB) GetFile(ctx context.Context, id int64) (*domain.File, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM file WHERE id = ?`, id)
	f, err := scanFile(row)
	if err != nil {
		return nil, MapError(err, "file", "select", store.ErrFileNotFound)
	}
	return f, nil
}

// GetFiles returns every file for a page token ordered by id.
func (d *DB) GetFiles(ctx context.Context, token string) ([]domain.File, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM file WHERE token = ? ORDER BY id`, token)
	if err != nil {
		return nil, MapError(err, "file", "select", nil)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, MapError(err, "file", "scan", nil)
		}
		out = append(out, *f)
	}
	return out, MapError(rows.Err(), "file", "select", nil)
}

// UpdateFile rewrites path, size and originality of a file.
func (d *DB) UpdateFile(ctx context.Context, f *domain.File) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE file SET token = ?, path = ?, width = ?, height = ?, is_original = ? WHERE id = ?`,
		f.Token, f.Path, f.Width, f.Height, boolToInt(f.IsOriginal), f.ID)
	if err != nil {
		return MapError(err, "file", "update", nil)
	}
	return requireAffected(res, "file", "update", store.ErrFileNotFound)
}

// DeleteFile removes a file row. The file on disk is left alone.
func (d *DB) DeleteFile(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM file WHERE id = ?`, id)
	return MapError(err, "file", "delete", nil)
}

// GetFileMeta returns the flags of a token, zero-valued when none are stored.
func (d *DB) GetFileMeta(ctx context.Context, token string) (*domain.FileMeta, error) {
	var nsfw, ad int
	err := d.db.QueryRowContext(ctx,
		`SELECT is_nsfw, is_ad FROM filemeta WHERE token = ?`, token).Scan(&nsfw, &ad)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.FileMeta{Token: token}, nil
	}
	if err != nil {
		return nil, MapError(err, "filemeta", "select", nil)
	}
	return &domain.FileMeta{Token: token, IsNSFW: nsfw != 0, IsAd: ad != 0}, nil
}

// SetFileMeta inserts or replaces the flags of a token.
func (d *DB) SetFileMeta(ctx context.Context, m *domain.FileMeta) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO filemeta (token, is_nsfw, is_ad) VALUES (?, ?, ?)`,
		m.Token, boolToInt(m.IsNSFW), boolToInt(m.IsAd))
	return MapError(err, "filemeta", "insert", nil)
}

// requireAffected maps an update that touched no rows to notFound.
func requireAffected(res sql.Result, entity, operation string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return MapError(err, entity, operation, nil)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
