package sqlite

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/store"
)

// tagCache maps tag names to ids. It is built on first use and is never
// refreshed from the database again until invalidate is called.
type tagCache struct {
	mu     sync.Mutex
	loaded bool
	ids    map[string]int64
}

func newTagCache() *tagCache {
	return &tagCache{ids: make(map[string]int64)}
}

// ensure loads the cache through q unless it is already loaded.
func (c *tagCache) ensure(ctx context.Context, q store.DBTX) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}

	rows, err := q.QueryContext(ctx, `SELECT id, tag FROM tag`)
	if err != nil {
		return MapError(err, "tag", "select", nil)
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]int64)
	for rows.Next() {
		var (
			id  int64
			tag string
		)
		if err := rows.Scan(&id, &tag); err != nil {
			return MapError(err, "tag", "scan", nil)
		}
		ids[tag] = id
	}
	if err := rows.Err(); err != nil {
		return MapError(err, "tag", "select", nil)
	}
	c.ids = ids
	c.loaded = true
	return nil
}

func (c *tagCache) get(tag string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[tag]
	return id, ok
}

func (c *tagCache) merge(ids map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return
	}
	for tag, id := range ids {
		c.ids[tag] = id
	}
}

func (c *tagCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[string]int64)
	c.loaded = false
}

// ReloadTags drops the tag cache; the next tag lookup rebuilds it.
func (d *DB) ReloadTags() {
	d.tags.invalidate()
}

// AddGTag replaces the tag set of a gallery. Associations missing from tags
// are removed, tags not yet in the catalog are created, and new associations
// are inserted. Tag catalog rows are never removed here.
func (d *DB) AddGTag(ctx context.Context, gid int64, tags []string) error {
	want := make(map[string]struct{}, len(tags))
	ordered := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, dup := want[t]; t == "" || dup {
			continue
		}
		want[t] = struct{}{}
		ordered = append(ordered, t)
	}
	sort.Strings(ordered)

	var created map[string]int64
	err := d.withTx(ctx, store.TxExclusive, func(ctx context.Context, q store.DBTX) error {
		created = make(map[string]int64)
		if err := d.tags.ensure(ctx, q); err != nil {
			return err
		}

		rows, err := q.QueryContext(ctx, `SELECT t.id, t.tag FROM gtag g
			JOIN tag t ON t.id = g.id WHERE g.gid = ?`, gid)
		if err != nil {
			return MapError(err, "gtag", "select", nil)
		}
		have := make(map[string]int64)
		for rows.Next() {
			var (
				id  int64
				tag string
			)
			if err := rows.Scan(&id, &tag); err != nil {
				_ = rows.Close()
				return MapError(err, "gtag", "scan", nil)
			}
			have[tag] = id
		}
		if err := rows.Close(); err != nil {
			return MapError(err, "gtag", "select", nil)
		}

		for tag, id := range have {
			if _, ok := want[tag]; ok {
				continue
			}
			if _, err := q.ExecContext(ctx,
				`DELETE FROM gtag WHERE gid = ? AND id = ?`, gid, id); err != nil {
				return MapError(err, "gtag", "delete", nil)
			}
		}

		for _, tag := range ordered {
			if _, ok := have[tag]; ok {
				continue
			}
			id, ok := d.tags.get(tag)
			if !ok {
				id, err = createTag(ctx, q, tag)
				if err != nil {
					return err
				}
				created[tag] = id
			}
			if _, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO gtag (gid, id) VALUES (?, ?)`, gid, id); err != nil {
				return MapError(err, "gtag", "insert", nil)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.tags.merge(created)
	return nil
}

// createTag inserts tag when absent and reads back its id.
func createTag(ctx context.Context, q store.DBTX, tag string) (int64, error) {
	if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO tag (tag) VALUES (?)`, tag); err != nil {
		return 0, MapError(err, "tag", "insert", nil)
	}
	var id int64
	if err := q.QueryRowContext(ctx, `SELECT id FROM tag WHERE tag = ?`, tag).Scan(&id); err != nil {
		return 0, MapError(err, "tag", "select", store.ErrTagNotFound)
	}
	return id, nil
}

func scanTag(s rowScanner) (domain.Tag, error) {
	var (
		t                 domain.Tag
		translated, intro sql.NullString
	)
	if err := s.Scan(&t.ID, &t.Tag, &translated, &intro); err != nil {
		return domain.Tag{}, err
	}
	t.Translated = translated.String
	t.Intro = intro.String
	return t, nil
}

func queryTags(ctx context.Context, q store.DBTX, query string, args ...any) ([]domain.Tag, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err, "tag", "select", nil)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.Tag{}
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, MapError(err, "tag", "scan", nil)
		}
		out = append(out, t)
	}
	return out, MapError(rows.Err(), "tag", "select", nil)
}

// GetGTags returns the tags of a gallery ordered by name.
func (d *DB) GetGTags(ctx context.Context, gid int64) ([]domain.Tag, error) {
	return queryTags(ctx, d.db, `SELECT t.id, t.tag, t.translated, t.intro
		FROM gtag g JOIN tag t ON t.id = g.id WHERE g.gid = ? ORDER BY t.tag`, gid)
}

// GetTags returns the whole tag catalog ordered by id.
func (d *DB) GetTags(ctx context.Context) ([]domain.Tag, error) {
	return queryTags(ctx, d.db, `SELECT id, tag, translated, intro FROM tag ORDER BY id`)
}

// GetTag returns one tag by name.
func (d *DB) GetTag(ctx context.Context, tag string) (*domain.Tag, error) {
	row := d.db.QueryRowContext(ctx, `SELECT id, tag, translated, intro FROM tag WHERE tag = ?`, tag)
	t, err := scanTag(row)
	if err != nil {
		return nil, MapError(err, "tag", "select", store.ErrTagNotFound)
	}
	return &t, nil
}

// UpdateTags stores translations and intros, creating tags that do not exist.
func (d *DB) UpdateTags(ctx context.Context, tags []domain.Tag) error {
	sorted := make([]domain.Tag, len(tags))
	copy(sorted, tags)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Tag < sorted[j].Tag })

	err := d.withTx(ctx, store.TxExclusive, func(ctx context.Context, q store.DBTX) error {
		for _, t := range sorted {
			if t.Tag == "" {
				continue
			}
			_, err := q.ExecContext(ctx, `INSERT INTO tag (tag, translated, intro) VALUES (?, ?, ?)
				ON CONFLICT (tag) DO UPDATE SET translated = excluded.translated, intro = excluded.intro`,
				t.Tag, t.Translated, t.Intro)
			if err != nil {
				return MapError(err, "tag", "upsert", nil)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.tags.invalidate()
	return nil
}
