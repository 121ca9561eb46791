package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransactor reports busy for the first busyCount calls.
type fakeTransactor struct {
	busyCount int
	calls     int
	ran       int
	modes     []TxMode
}

func (f *fakeTransactor) Transaction(ctx context.Context, mode TxMode, fn TxFn) (bool, error) {
	f.calls++
	f.modes = append(f.modes, mode)
	if f.calls <= f.busyCount {
		return true, nil
	}
	f.ran++
	return false, fn(ctx, nil)
}

func TestRunInTransaction(t *testing.T) {
	policy := BusyPolicy{Attempts: 3, Sleep: time.Millisecond}

	t.Run("success on first attempt", func(t *testing.T) {
		tx := &fakeTransactor{}
		err := RunInTransaction(context.Background(), tx, TxExclusive, policy, func(ctx context.Context, q DBTX) error {
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, tx.calls)
		assert.Equal(t, []TxMode{TxExclusive}, tx.modes)
	})

	t.Run("retries busy begin", func(t *testing.T) {
		tx := &fakeTransactor{busyCount: 2}
		err := RunInTransaction(context.Background(), tx, TxImmediate, policy, func(ctx context.Context, q DBTX) error {
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, tx.calls)
		assert.Equal(t, 1, tx.ran)
	})

	t.Run("gives up after policy attempts", func(t *testing.T) {
		tx := &fakeTransactor{busyCount: 10}
		err := RunInTransaction(context.Background(), tx, TxExclusive, policy, func(ctx context.Context, q DBTX) error {
			return nil
		})
		assert.ErrorIs(t, err, ErrBusy)
		assert.Equal(t, 3, tx.calls)
		assert.Equal(t, 0, tx.ran)
	})

	t.Run("returns function error unchanged", func(t *testing.T) {
		want := errors.New("body failed")
		tx := &fakeTransactor{}
		err := RunInTransaction(context.Background(), tx, TxExclusive, policy, func(ctx context.Context, q DBTX) error {
			return want
		})
		assert.Equal(t, want, err)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		tx := &fakeTransactor{busyCount: 10}
		err := RunInTransaction(ctx, tx, TxExclusive, BusyPolicy{Attempts: 5, Sleep: time.Hour}, func(ctx context.Context, q DBTX) error {
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, tx.calls)
	})
}
