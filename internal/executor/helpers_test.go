package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/events"
	"github.com/phrazzld/eharchive/internal/platform/ehentai"
	"github.com/phrazzld/eharchive/internal/platform/sqlite"
	"github.com/phrazzld/eharchive/internal/task"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeHost records what an executor reports to the manager.
type fakeHost struct {
	abort       context.Context
	abortCancel context.CancelFunc

	mu        sync.Mutex
	progress  []any
	downloads []domain.Task
	addErr    error
}

func newFakeHost() *fakeHost {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeHost{abort: ctx, abortCancel: cancel}
}

func (h *fakeHost) AbortContext() context.Context { return h.abort }

func (h *fakeHost) DispatchTaskProgress(_ domain.TaskType, _ int64, progress any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = append(h.progress, progress)
}

func (h *fakeHost) UpdateTaskDetails(context.Context, domain.Task) error { return nil }

func (h *fakeHost) AddDownloadTask(_ context.Context, gid int64, token string, _ *task.DownloadConfig) (domain.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.addErr != nil {
		return domain.Task{}, h.addErr
	}
	t := domain.Task{ID: int64(len(h.downloads) + 1), Type: domain.TaskTypeDownload, GID: gid, Token: token}
	h.downloads = append(h.downloads, t)
	return t, nil
}

func (h *fakeHost) lastProgress() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.progress) == 0 {
		return nil
	}
	return h.progress[len(h.progress)-1]
}

// recordingEmitter collects gallery events.
type recordingEmitter struct {
	mu     sync.Mutex
	events []events.GalleryEvent
}

func (r *recordingEmitter) EmitEvent(_ context.Context, e *events.GalleryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *recordingEmitter) types() []events.GalleryEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.GalleryEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func openDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), sqlite.Options{Base: t.TempDir(), Logger: discard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newRemote(t *testing.T, srv *httptest.Server) *ehentai.Client {
	t.Helper()
	c, err := ehentai.New(ehentai.Options{BaseURL: srv.URL, Timeout: 5 * time.Second, Logger: discard})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// gdata answers a metadata request for one gallery.
func gdata(gid int64, token string, filecount int, extra map[string]any) map[string]any {
	m := map[string]any{
		"gid": gid, "token": token, "title": "Sample", "title_jpn": "サンプル",
		"category": "Manga", "uploader": "u", "posted": "1700000000",
		"filecount": strconv.Itoa(filecount), "filesize": 1000, "expunged": false,
		"rating": "4.50", "tags": []string{"female:glasses", "language:english"},
	}
	for k, v := range extra {
		m[k] = v
	}
	return map[string]any{"gmetadata": []map[string]any{m}}
}

// pngBytes renders a solid w x h PNG.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTask(id int64, typ domain.TaskType, gid int64, token string, details any) domain.Task {
	t := domain.Task{ID: id, Type: typ, GID: gid, Token: token, PID: 1}
	if details != nil {
		b, _ := json.Marshal(details)
		s := string(b)
		t.Details = &s
	}
	return t
}
