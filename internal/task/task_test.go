package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRecoverable(t *testing.T) {
	base := errors.New("page 3 failed")

	assert.False(t, IsRecoverable(base))
	assert.False(t, IsRecoverable(nil))
	assert.Nil(t, Recoverable(nil))

	rec := Recoverable(base)
	assert.True(t, IsRecoverable(rec))
	assert.ErrorIs(t, rec, base)
	assert.Equal(t, "page 3 failed", rec.Error())

	wrapped := fmt.Errorf("download gallery 1: %w", rec)
	assert.True(t, IsRecoverable(wrapped))
	assert.True(t, IsRecoverable(Recoverablef("%d pages failed", 2)))
}

func TestDetailApply(t *testing.T) {
	task := domain.Task{ID: 1, Type: domain.TaskTypeImport, GID: 5, Token: "t"}
	d := Detail{}

	d.Apply(Event{Type: EventNewTask, Task: task})
	assert.Equal(t, task, d.Base)
	assert.Equal(t, StatusWait, d.Status)

	d.Apply(Event{Type: EventTaskStarted, Task: task})
	assert.Equal(t, StatusRunning, d.Status)

	progress := ImportProgress{ImportedPage: 2, TotalPage: 4}
	d.Apply(Event{Type: EventTaskProgress, TaskID: 1, Progress: progress})
	assert.Equal(t, progress, d.Progress)

	d.Apply(Event{Type: EventTaskError, TaskID: 1, Error: "disk full", Fatal: false})
	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, "disk full", d.Error)
	assert.False(t, d.Fataled)

	d.Apply(Event{Type: EventTaskStarted, Task: task})
	assert.Equal(t, StatusRunning, d.Status)
	assert.Empty(t, d.Error)

	d.Apply(Event{Type: EventTaskFinished, Task: task})
	assert.Equal(t, StatusFinished, d.Status)
	assert.Equal(t, "finished", d.Status.String())
}

func TestDecodeDetails(t *testing.T) {
	def := ExportZipConfig{MaxLength: 200}

	t.Run("nil details keep the default", func(t *testing.T) {
		got, err := DecodeDetails(domain.Task{ID: 1}, def)
		require.NoError(t, err)
		assert.Equal(t, def, got)
	})

	t.Run("fields present override the default", func(t *testing.T) {
		details := `{"jpn_title":true}`
		got, err := DecodeDetails(domain.Task{ID: 1, Details: &details}, def)
		require.NoError(t, err)
		assert.Equal(t, ExportZipConfig{JpnTitle: true, MaxLength: 200}, got)
	})

	t.Run("malformed details", func(t *testing.T) {
		details := `{"jpn_title":`
		_, err := DecodeDetails(domain.Task{ID: 1, Details: &details}, def)
		assert.Error(t, err)
	})
}

func TestProcessLease(t *testing.T) {
	ctx := context.Background()
	l := NewProcessLease()
	assert.Equal(t, os.Getpid(), l.Self())

	alive, err := l.Alive(ctx, os.Getpid())
	require.NoError(t, err)
	assert.True(t, alive)

	alive, err = l.Alive(ctx, 0)
	require.NoError(t, err)
	assert.False(t, alive)

	if os.Getppid() > 1 {
		alive, err = l.Alive(ctx, os.Getppid())
		require.NoError(t, err)
		assert.True(t, alive)
	}
}

func TestImportMethodValid(t *testing.T) {
	for _, m := range []ImportMethod{ImportMethodKeep, ImportMethodCopy, ImportMethodMove, ImportMethodCopyThenDelete} {
		assert.True(t, m.Valid(), m)
	}
	assert.False(t, ImportMethod("").Valid())
	assert.False(t, ImportMethod("link").Valid())
}
