package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/eharchive/internal/api/shared"
	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/platform/sqlite"
	"github.com/phrazzld/eharchive/internal/store"
	"github.com/phrazzld/eharchive/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTasks records admissions and returns canned results.
type fakeTasks struct {
	err     error
	details []task.Detail
	calls   []string
	last    any
}

func (f *fakeTasks) admit(kind string, gid int64, token string, cfg any) (domain.Task, error) {
	f.calls = append(f.calls, kind)
	f.last = cfg
	if f.err != nil {
		return domain.Task{}, f.err
	}
	return domain.Task{ID: int64(len(f.calls)), GID: gid, Token: token, PID: 42}, nil
}

func (f *fakeTasks) Tasks(context.Context) ([]task.Detail, error) { return f.details, f.err }

func (f *fakeTasks) AddDownloadTask(_ context.Context, gid int64, token string, cfg *task.DownloadConfig) (domain.Task, error) {
	return f.admit("download", gid, token, cfg)
}

func (f *fakeTasks) AddExportZipTask(_ context.Context, gid int64, cfg *task.ExportZipConfig) (domain.Task, error) {
	return f.admit("export_zip", gid, "", cfg)
}

func (f *fakeTasks) AddImportTask(_ context.Context, gid int64, token string, cfg task.ImportConfig) (domain.Task, error) {
	return f.admit("import", gid, token, cfg)
}

func (f *fakeTasks) AddFixGalleryPageTask(context.Context) (domain.Task, error) {
	return f.admit("fix_gallery_page", 0, "", nil)
}

func (f *fakeTasks) AddUpdateMeiliSearchDataTask(_ context.Context, gid int64) (domain.Task, error) {
	return f.admit("update_meili_search_data", gid, "", nil)
}

func (f *fakeTasks) AddUpdateTagTranslationTask(_ context.Context, cfg *task.UpdateTagTranslationConfig) (domain.Task, error) {
	return f.admit("update_tag_translation", 0, "", cfg)
}

func call(t *testing.T, h http.HandlerFunc, method, body string) (*httptest.ResponseRecorder, shared.Response) {
	t.Helper()
	r := httptest.NewRequest(method, "/api/x", strings.NewReader(body))
	if body == "" {
		r = httptest.NewRequest(method, "/api/x", http.NoBody)
	}
	rec := httptest.NewRecorder()
	h(rec, r)
	var resp shared.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func TestTaskHandler(t *testing.T) {
	t.Run("download by gid and token", func(t *testing.T) {
		f := &fakeTasks{}
		h := NewTaskHandler(f)
		rec, resp := call(t, h.Download, http.MethodPut, `{"gid":1001,"token":"abcd1234","cfg":{"mpv":true}}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.True(t, resp.OK)
		data := resp.Data.(map[string]any)
		assert.Equal(t, float64(1001), data["gid"])
		assert.Equal(t, "abcd1234", data["token"])
		assert.Equal(t, &task.DownloadConfig{MPV: true}, f.last)
	})

	t.Run("download by url", func(t *testing.T) {
		f := &fakeTasks{}
		rec, resp := call(t, NewTaskHandler(f).Download, http.MethodPut, `{"url":"https://e-hentai.org/g/1001/abcd1234/"}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "abcd1234", resp.Data.(map[string]any)["token"])
	})

	tests := []struct {
		name     string
		handler  func(h *TaskHandler) http.HandlerFunc
		body     string
		wantHTTP int
		wantCode int
	}{
		{"invalid json", func(h *TaskHandler) http.HandlerFunc { return h.Download }, `{"gid":`, http.StatusBadRequest, StatusInvalidBody},
		{"missing gid", func(h *TaskHandler) http.HandlerFunc { return h.Download }, `{"token":"abc"}`, http.StatusBadRequest, StatusMissingGallery},
		{"missing token", func(h *TaskHandler) http.HandlerFunc { return h.Download }, `{"gid":1}`, http.StatusBadRequest, StatusMissingToken},
		{"foreign url", func(h *TaskHandler) http.HandlerFunc { return h.Download }, `{"url":"https://example.com/g/1/abc/"}`, http.StatusBadRequest, StatusMissingGallery},
		{"export without gid", func(h *TaskHandler) http.HandlerFunc { return h.ExportZip }, `{}`, http.StatusBadRequest, StatusInvalidBody},
		{"import without path", func(h *TaskHandler) http.HandlerFunc { return h.Import }, `{"gid":1,"token":"abc"}`, http.StatusBadRequest, StatusInvalidConfig},
		{"negative meili gid", func(h *TaskHandler) http.HandlerFunc { return h.UpdateMeiliSearchData }, `{"gid":-1}`, http.StatusBadRequest, StatusInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeTasks{}
			rec, resp := call(t, tt.handler(NewTaskHandler(f)), http.MethodPut, tt.body)
			assert.Equal(t, tt.wantHTTP, rec.Code)
			assert.False(t, resp.OK)
			assert.Equal(t, tt.wantCode, resp.Status)
			assert.Empty(t, f.calls)
		})
	}

	t.Run("global tasks accept an empty body", func(t *testing.T) {
		f := &fakeTasks{}
		h := NewTaskHandler(f)
		for _, fn := range []http.HandlerFunc{h.FixGalleryPage, h.UpdateMeiliSearchData, h.UpdateTagTranslation} {
			rec, _ := call(t, fn, http.MethodPut, "")
			assert.Equal(t, http.StatusCreated, rec.Code)
		}
		assert.Equal(t, []string{"fix_gallery_page", "update_meili_search_data", "update_tag_translation"}, f.calls)
		cfg, ok := f.last.(*task.UpdateTagTranslationConfig)
		require.True(t, ok, "unexpected config %#v", f.last)
		assert.Nil(t, cfg)
	})

	t.Run("global tasks read a streamed body", func(t *testing.T) {
		f := &fakeTasks{}
		h := NewTaskHandler(f)
		r := httptest.NewRequest(http.MethodPut, "/api/x", io.NopCloser(strings.NewReader(`{"file":"/tmp/db.json"}`)))
		require.Equal(t, int64(-1), r.ContentLength)
		rec := httptest.NewRecorder()
		h.UpdateTagTranslation(rec, r)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, &task.UpdateTagTranslationConfig{File: "/tmp/db.json"}, f.last)
	})

	t.Run("import and export", func(t *testing.T) {
		f := &fakeTasks{}
		h := NewTaskHandler(f)
		rec, _ := call(t, h.Import, http.MethodPut, `{"gid":1,"token":"abc","cfg":{"import_path":"/tmp/g","method":"move"}}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, task.ImportConfig{ImportPath: "/tmp/g", Method: task.ImportMethodMove}, f.last)

		rec, _ = call(t, h.ExportZip, http.MethodPut, `{"gid":1,"cfg":{"jpn_title":true}}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, &task.ExportZipConfig{JpnTitle: true}, f.last)
	})

	t.Run("admission errors are mapped", func(t *testing.T) {
		cases := []struct {
			err  error
			want int
		}{
			{domain.NewValidationError("gid", "must be positive", domain.ErrInvalidGID), http.StatusBadRequest},
			{task.ErrAlreadyClosed, http.StatusServiceUnavailable},
			{store.ErrBusy, http.StatusServiceUnavailable},
			{io.ErrUnexpectedEOF, http.StatusInternalServerError},
		}
		for _, c := range cases {
			rec, resp := call(t, NewTaskHandler(&fakeTasks{err: c.err}).FixGalleryPage, http.MethodPut, "")
			assert.Equal(t, c.want, rec.Code, c.err.Error())
			assert.NotContains(t, resp.Message, "unexpected EOF")
		}
	})

	t.Run("list", func(t *testing.T) {
		f := &fakeTasks{details: []task.Detail{{Base: domain.Task{ID: 1, Type: domain.TaskTypeDownload}, Status: task.StatusRunning}}}
		rec, resp := call(t, NewTaskHandler(f).List, http.MethodGet, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, resp.Data, 1)
	})
}

func TestAuthHandler(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.Options{Base: t.TempDir(), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	u, err := domain.NewUser("alice", "correct horse", false, domain.PermissionManageTasks)
	require.NoError(t, err)
	require.NoError(t, db.AddUser(ctx, u))

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := NewAuthHandler(db, 24*time.Hour)
	h.now = func() time.Time { return now }

	t.Run("login creates a session", func(t *testing.T) {
		rec, resp := call(t, h.Login, http.MethodPost, `{"username":"alice","password":"correct horse","set_cookie":true}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		data := resp.Data.(map[string]any)
		token := data["token"].(string)
		assert.Equal(t, "2024-05-02T12:00:00Z", data["expires_at"])

		stored, err := db.GetToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, u.ID, stored.UID)
		assert.True(t, stored.HTTPOnly)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, token, cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
	})

	t.Run("bad credentials", func(t *testing.T) {
		for _, body := range []string{
			`{"username":"alice","password":"wrong password"}`,
			`{"username":"bob","password":"correct horse"}`,
		} {
			rec, resp := call(t, h.Login, http.MethodPost, body)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, StatusInvalidCredentials, resp.Status)
			assert.Empty(t, rec.Result().Cookies())
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		rec, resp := call(t, h.Login, http.MethodPost, `{"username":"alice"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid Password: required field", resp.Message)
	})

	t.Run("logout and me", func(t *testing.T) {
		session := &domain.Token{UID: u.ID, Token: "session-1", Expired: now.Add(time.Hour)}
		require.NoError(t, db.AddToken(ctx, session))

		r := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
		r = r.WithContext(shared.WithUser(r.Context(), u, session))
		rec := httptest.NewRecorder()
		h.Me(rec, r)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"username":"alice"`)

		rec = httptest.NewRecorder()
		h.Logout(rec, r)
		assert.Equal(t, http.StatusOK, rec.Code)
		_, err := db.GetToken(ctx, "session-1")
		assert.ErrorIs(t, err, store.ErrTokenNotFound)

		rec, _ = call(t, h.Logout, http.MethodDelete, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	rec, resp := call(t, Health, http.MethodGet, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, shared.Response{OK: true, Data: true}, resp)
}

func TestSanitizeValidationError(t *testing.T) {
	err := shared.ValidateRequest(LoginRequest{Password: "x"})
	require.Error(t, err)
	assert.Equal(t, "Invalid Username: required field", SanitizeValidationError(err))
	assert.Equal(t, "Validation error", SanitizeValidationError(bytes.ErrTooLarge))
}
