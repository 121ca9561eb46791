package ehentai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, Cookies: "ipb_member_id=1", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, "e-hentai.org", c.Host())
	assert.Equal(t, "https://api.e-hentai.org/api.php", c.api)

	c, err = New(Options{Ex: true})
	require.NoError(t, err)
	assert.Equal(t, "exhentai.org", c.Host())

	c, err = New(Options{BaseURL: "http://127.0.0.1:9999/"})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999/api.php", c.api)

	assert.True(t, c.isHost("http://127.0.0.1:9999/g/1/a/"))
	assert.True(t, c.isHost("https://abc.hath.network.e-hentai.org/x.jpg"))
	assert.False(t, c.isHost("https://github.com/x"))
}

func TestFetchMetadata(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api.php", r.URL.Path)
		assert.Equal(t, "ipb_member_id=1", r.Header.Get("Cookie"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, map[string]any{"gmetadata": []map[string]any{
			{
				"gid": 1001, "token": "abcd1234", "title": "Tom &amp; Jerry", "title_jpn": "",
				"category": "Manga", "uploader": "u", "posted": "1700000000",
				"filecount": "19", "filesize": 12345, "expunged": false, "rating": "4.5",
				"tags": []string{"female:glasses"}, "parent_gid": "999", "parent_key": "ffff",
			},
			{"gid": 1002, "error": "Key missing, or incorrect key provided."},
		}})
	}))

	res, err := c.FetchMetadata(context.Background(),
		GalleryRef{GID: 1001, Token: "abcd1234"}, GalleryRef{GID: 1002, Token: "bad"})
	require.NoError(t, err)

	assert.Equal(t, "gdata", got["method"])
	assert.Equal(t, []any{[]any{float64(1001), "abcd1234"}, []any{float64(1002), "bad"}}, got["gidlist"])

	require.Contains(t, res, int64(1001))
	require.NoError(t, res[1001].Err)
	g, err := res[1001].Meta.GMeta()
	require.NoError(t, err)
	assert.Equal(t, "Tom & Jerry", g.Title)
	assert.Equal(t, int64(1700000000), g.Posted)
	assert.Equal(t, 19, g.Filecount)
	assert.InDelta(t, 4.5, g.Rating, 0.001)
	require.NotNil(t, g.ParentGID)
	assert.Equal(t, int64(999), *g.ParentGID)
	assert.Nil(t, g.FirstGID)

	require.Contains(t, res, int64(1002))
	assert.Error(t, res[1002].Err)
	assert.Nil(t, res[1002].Meta)

	refs := make([]GalleryRef, MaxMetadataBatch+1)
	_, err = c.FetchMetadata(context.Background(), refs...)
	assert.ErrorIs(t, err, ErrTooManyGalleries)
}

func TestFetchGalleryToken(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"tokenlist": []map[string]any{{"gid": 7, "token": "cafe"}}})
	}))
	token, err := c.FetchGalleryToken(context.Background(), 7, "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, "cafe", token)

	_, err = c.FetchGalleryToken(context.Background(), 8, "p1", 3)
	assert.ErrorIs(t, err, ErrParse)
}

func TestStatusErrors(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	_, err := c.FetchGalleryPage(context.Background(), 1, "a", 0)
	assert.ErrorIs(t, err, ErrStatus)
}

func TestRateLimitPause(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	var waited []time.Duration
	c.sleepFor = func(_ context.Context, d time.Duration) error {
		waited = append(waited, d)
		return nil
	}

	_, err := c.getText(context.Background(), c.url("/"))
	assert.ErrorIs(t, err, ErrStatus)
	assert.Empty(t, waited)

	body, err := c.getText(context.Background(), c.url("/"))
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
	require.Len(t, waited, 1)
	assert.Greater(t, waited[0], 9*time.Second)
	assert.LessOrEqual(t, waited[0], rateLimitPause)
}

func TestDownload(t *testing.T) {
	payload := []byte("0123456789abcdef")
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img.jpg":
			_, _ = w.Write(payload)
		case "/short.jpg":
			w.Header().Set("Content-Length", "100")
			_, _ = w.Write(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	dir := t.TempDir()

	t.Run("writes the whole body", func(t *testing.T) {
		path := filepath.Join(dir, "a", "1.jpg")
		var last int64
		n, err := c.Download(context.Background(), srv.URL+"/img.jpg", path, func(written, total int64) {
			last = written
		})
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), n)
		assert.Equal(t, n, last)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, payload, data)
		assert.NoFileExists(t, path+".tmp")
	})

	t.Run("truncated body leaves nothing behind", func(t *testing.T) {
		path := filepath.Join(dir, "2.jpg")
		_, err := c.Download(context.Background(), srv.URL+"/short.jpg", path, nil)
		assert.Error(t, err)
		assert.NoFileExists(t, path)
		assert.NoFileExists(t, path+".tmp")
	})

	t.Run("status error", func(t *testing.T) {
		path := filepath.Join(dir, "3.jpg")
		_, err := c.Download(context.Background(), srv.URL+"/missing.jpg", path, nil)
		assert.ErrorIs(t, err, ErrStatus)
		assert.NoFileExists(t, path)
	})
}
