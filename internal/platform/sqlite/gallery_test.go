package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGMeta(gid int64) *domain.GMeta {
	parent := gid - 1
	key := "parentkey"
	return &domain.GMeta{
		GID:       gid,
		Token:     "token" + string(rune('a'+gid%26)),
		Title:     "Title",
		TitleJpn:  "タイトル",
		Category:  "Doujinshi",
		Uploader:  "uploader",
		Posted:    1700000000,
		Filecount: 2,
		Filesize:  12345,
		Expunged:  true,
		Rating:    4.5,
		ParentGID: &parent,
		ParentKey: &key,
	}
}

func tagNames(tags []domain.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.Tag
	}
	return out
}

func TestGMeta(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, "")

	g := testGMeta(10)
	require.NoError(t, db.AddGMeta(ctx, g))
	require.NoError(t, db.AddGMeta(ctx, testGMeta(3)))

	t.Run("round trip", func(t *testing.T) {
		got, err := db.GetGMeta(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, g, got)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		changed := *g
		changed.Title = "New title"
		changed.ParentGID = nil
		changed.ParentKey = nil
		require.NoError(t, db.AddGMeta(ctx, &changed))

		got, err := db.GetGMeta(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, &changed, got)
	})

	t.Run("missing gallery", func(t *testing.T) {
		_, err := db.GetGMeta(ctx, 404)
		assert.ErrorIs(t, err, store.ErrGalleryNotFound)
	})

	t.Run("invalid gallery", func(t *testing.T) {
		err := db.AddGMeta(ctx, &domain.GMeta{GID: 0, Token: "x"})
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.ErrorIs(t, err, domain.ErrInvalidGID)
	})

	t.Run("listing", func(t *testing.T) {
		gids, err := db.GetGIDs(ctx, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 10}, gids)

		gids, err = db.GetGIDs(ctx, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{10}, gids)

		metas, err := db.GetGMetas(ctx, []int64{10, 3, 77})
		require.NoError(t, err)
		require.Len(t, metas, 2)
		assert.Equal(t, int64(3), metas[0].GID)

		n, err := db.CountGMeta(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		empty, err := db.GetGMetas(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestAddGTag(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces associations and keeps catalog rows", func(t *testing.T) {
		db := openTestDB(t, "")

		require.NoError(t, db.AddGTag(ctx, 1, []string{"a", "b"}))
		require.NoError(t, db.AddGTag(ctx, 1, []string{"b", "c"}))

		tags, err := db.GetGTags(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, tagNames(tags))

		a, err := db.GetTag(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), a.ID)

		c, err := db.GetTag(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, int64(3), c.ID)
	})

	t.Run("shares tags across galleries", func(t *testing.T) {
		db := openTestDB(t, "")

		require.NoError(t, db.AddGTag(ctx, 1, []string{"female:glasses", "language:english"}))
		require.NoError(t, db.AddGTag(ctx, 2, []string{"language:english", "", "language:english"}))

		all, err := db.GetTags(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		tags, err := db.GetGTags(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"language:english"}, tagNames(tags))
	})

	t.Run("tag created by another process is reused", func(t *testing.T) {
		base := t.TempDir()
		first := openTestDB(t, base)
		second := openTestDB(t, base)

		// second's cache is built before "x" exists.
		require.NoError(t, second.AddGTag(ctx, 9, []string{"y"}))
		require.NoError(t, first.AddGTag(ctx, 1, []string{"x"}))
		require.NoError(t, second.AddGTag(ctx, 2, []string{"x"}))

		x, err := first.GetTag(ctx, "x")
		require.NoError(t, err)
		tags, err := second.GetGTags(ctx, 2)
		require.NoError(t, err)
		require.Len(t, tags, 1)
		assert.Equal(t, x.ID, tags[0].ID)
	})

	t.Run("clearing all tags", func(t *testing.T) {
		db := openTestDB(t, "")
		require.NoError(t, db.AddGTag(ctx, 1, []string{"a"}))
		require.NoError(t, db.AddGTag(ctx, 1, nil))

		tags, err := db.GetGTags(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, tags)
	})
}

func TestUpdateTags(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, "")

	require.NoError(t, db.AddGTag(ctx, 1, []string{"female:glasses"}))
	require.NoError(t, db.UpdateTags(ctx, []domain.Tag{
		{Tag: "female:glasses", Translated: "眼镜", Intro: "wears glasses"},
		{Tag: "male:beard", Translated: "胡子"},
	}))

	glasses, err := db.GetTag(ctx, "female:glasses")
	require.NoError(t, err)
	assert.Equal(t, domain.Tag{ID: 1, Tag: "female:glasses", Translated: "眼镜", Intro: "wears glasses"}, *glasses)

	beard, err := db.GetTag(ctx, "male:beard")
	require.NoError(t, err)
	assert.Equal(t, "胡子", beard.Translated)

	tags, err := db.GetGTags(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "眼镜", tags[0].Translated)

	_, err = db.GetTag(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrTagNotFound)
}

// addPage stores a page and one file for it, writing the file to disk.
func addPage(t *testing.T, db *DB, gid int64, index int, token string) string {
	t.Helper()
	ctx := context.Background()
	dir := filepath.Join(db.Base(), "galleries", token)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "page.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))

	require.NoError(t, db.AddPMeta(ctx, &domain.PMeta{GID: gid, Index: index, Token: token, Name: "page.jpg", Width: 10, Height: 20}))
	require.NoError(t, db.AddFile(ctx, &domain.File{Token: token, Path: path, Width: 10, Height: 20, IsOriginal: true}))
	return path
}

func TestDeleteGallery(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, "")

	require.NoError(t, db.AddGMeta(ctx, testGMeta(1)))
	require.NoError(t, db.AddGMeta(ctx, testGMeta(2)))
	require.NoError(t, db.AddGTag(ctx, 1, []string{"a"}))
	require.NoError(t, db.AddGTag(ctx, 2, []string{"a"}))

	onlyOne := addPage(t, db, 1, 1, "only")
	shared := addPage(t, db, 1, 2, "shared")
	require.NoError(t, db.AddPMeta(ctx, &domain.PMeta{GID: 2, Index: 1, Token: "shared", Name: "page.jpg"}))
	require.NoError(t, db.SetFileMeta(ctx, &domain.FileMeta{Token: "only", IsAd: true}))

	require.NoError(t, db.DeleteGallery(ctx, 1))

	_, err := db.GetGMeta(ctx, 1)
	assert.ErrorIs(t, err, store.ErrGalleryNotFound)
	pages, err := db.GetPMetas(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, pages)
	tags, err := db.GetGTags(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, tags)

	onlyFiles, err := db.GetFiles(ctx, "only")
	require.NoError(t, err)
	assert.Empty(t, onlyFiles)
	assert.NoFileExists(t, onlyOne)
	meta, err := db.GetFileMeta(ctx, "only")
	require.NoError(t, err)
	assert.False(t, meta.IsAd)

	sharedFiles, err := db.GetFiles(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, sharedFiles, 1)
	assert.FileExists(t, shared)

	_, err = db.GetGMeta(ctx, 2)
	assert.NoError(t, err)
	tags, err = db.GetGTags(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, tags, 1)

	t.Run("missing file on disk is not an error", func(t *testing.T) {
		require.NoError(t, os.Remove(shared))
		assert.NoError(t, db.DeleteGallery(ctx, 2))
	})
}

func TestPages(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, "")

	for i, token := range []string{"p1", "p2", "p3"} {
		require.NoError(t, db.AddPMeta(ctx, &domain.PMeta{GID: 1, Index: i + 1, Token: token, Name: token + ".png"}))
	}
	require.NoError(t, db.AddPMeta(ctx, &domain.PMeta{GID: 2, Index: 1, Token: "p2", Name: "p2.png"}))

	t.Run("lookups", func(t *testing.T) {
		p, err := db.GetPMeta(ctx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, "p2", p.Token)

		p, err = db.GetPMetaByToken(ctx, 1, "p3")
		require.NoError(t, err)
		assert.Equal(t, 3, p.Index)

		pages, err := db.GetPMetaByTokenOnly(ctx, "p2")
		require.NoError(t, err)
		assert.Len(t, pages, 2)

		n, err := db.CountPMeta(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		_, err = db.GetPMeta(ctx, 1, 9)
		assert.ErrorIs(t, err, store.ErrPageNotFound)
	})

	t.Run("overwrite keeps index unique", func(t *testing.T) {
		require.NoError(t, db.AddPMeta(ctx, &domain.PMeta{GID: 1, Index: 1, Token: "p1b", Name: "new.png"}))
		pages, err := db.GetPMetas(ctx, 1)
		require.NoError(t, err)
		require.Len(t, pages, 3)
		assert.Equal(t, "p1b", pages[0].Token)
	})

	t.Run("files", func(t *testing.T) {
		f := &domain.File{Token: "p1b", Path: "/tmp/a.png", Width: 1, Height: 2}
		require.NoError(t, db.AddFile(ctx, f))
		assert.NotZero(t, f.ID)

		f.IsOriginal = true
		f.Path = "/tmp/b.png"
		require.NoError(t, db.UpdateFile(ctx, f))
		got, err := db.GetFile(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, f, got)

		require.NoError(t, db.DeleteFile(ctx, f.ID))
		_, err = db.GetFile(ctx, f.ID)
		assert.ErrorIs(t, err, store.ErrFileNotFound)
		assert.ErrorIs(t, db.UpdateFile(ctx, f), store.ErrFileNotFound)
	})

	t.Run("file meta defaults to unset", func(t *testing.T) {
		m, err := db.GetFileMeta(ctx, "nothing")
		require.NoError(t, err)
		assert.Equal(t, &domain.FileMeta{Token: "nothing"}, m)

		require.NoError(t, db.SetFileMeta(ctx, &domain.FileMeta{Token: "nothing", IsNSFW: true}))
		m, err = db.GetFileMeta(ctx, "nothing")
		require.NoError(t, err)
		assert.True(t, m.IsNSFW)
	})
}

func TestOptimize(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, "")

	require.NoError(t, db.AddGTag(ctx, 1, []string{"a", "b", "c"}))
	a, err := db.GetTag(ctx, "a")
	require.NoError(t, err)
	b, err := db.GetTag(ctx, "b")
	require.NoError(t, err)
	c, err := db.GetTag(ctx, "c")
	require.NoError(t, err)

	// Drop "a" and "b" from the catalog, leaving gtag rows dangling.
	_, err = db.db.Exec(`DELETE FROM tag WHERE id IN (?, ?)`, a.ID, b.ID)
	require.NoError(t, err)

	task, err := db.AddTask(ctx, domain.Task{Type: domain.TaskTypeDownload, GID: 1, Token: "x", PID: 1})
	require.NoError(t, err)
	require.NoError(t, db.DeleteTask(ctx, task.ID))

	require.NoError(t, db.Optimize(ctx))

	renamed, err := db.GetTag(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), renamed.ID)
	assert.NotEqual(t, c.ID, renamed.ID)

	tags, err := db.GetGTags(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "c", tags[0].Tag)

	var dangling int
	require.NoError(t, db.db.QueryRow(`SELECT COUNT(*) FROM gtag WHERE id NOT IN (SELECT id FROM tag)`).Scan(&dangling))
	assert.Zero(t, dangling)

	// New rows continue from the compacted sequence.
	require.NoError(t, db.AddGTag(ctx, 2, []string{"d"}))
	d, err := db.GetTag(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.ID)

	next, err := db.AddTask(ctx, domain.Task{Type: domain.TaskTypeDownload, GID: 1, Token: "x", PID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.ID)
}
