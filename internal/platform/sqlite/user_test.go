package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsers(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, "")

	u := &domain.User{Username: "alice", Password: "hash", Permissions: domain.PermissionReadGallery}
	require.NoError(t, db.AddUser(ctx, u))
	assert.Equal(t, int64(1), u.ID)

	t.Run("duplicate username", func(t *testing.T) {
		err := db.AddUser(ctx, &domain.User{Username: "alice", Password: "x"})
		assert.ErrorIs(t, err, store.ErrUsernameExists)
		assert.True(t, store.IsDuplicateError(err))
	})

	t.Run("lookups", func(t *testing.T) {
		byID, err := db.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u, byID)

		byName, err := db.GetUserByName(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, u, byName)

		_, err = db.GetUserByName(ctx, "bob")
		assert.ErrorIs(t, err, store.ErrUserNotFound)

		n, err := db.UserCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		users, err := db.GetUsers(ctx, 0, 10)
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})

	t.Run("update", func(t *testing.T) {
		u.IsAdmin = true
		require.NoError(t, db.UpdateUser(ctx, u))
		got, err := db.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, got.IsAdmin)

		assert.ErrorIs(t, db.UpdateUser(ctx, &domain.User{ID: 99}), store.ErrUserNotFound)
	})

	t.Run("delete removes sessions", func(t *testing.T) {
		require.NoError(t, db.AddToken(ctx, &domain.Token{UID: u.ID, Token: "sess", Expired: time.Now().Add(time.Hour)}))
		require.NoError(t, db.DeleteUser(ctx, u.ID))

		_, err := db.GetUser(ctx, u.ID)
		assert.ErrorIs(t, err, store.ErrUserNotFound)
		_, err = db.GetToken(ctx, "sess")
		assert.ErrorIs(t, err, store.ErrTokenNotFound)

		assert.ErrorIs(t, db.DeleteUser(ctx, u.ID), store.ErrUserNotFound)
	})
}

func TestTokens(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, "")

	client := "web"
	expires := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
	tok := &domain.Token{UID: 1, Token: "abc", Expired: expires, HTTPOnly: true, Client: &client}
	require.NoError(t, db.AddToken(ctx, tok))
	assert.NotZero(t, tok.ID)

	got, err := db.GetToken(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, expires, got.Expired)
	assert.True(t, got.HTTPOnly)
	assert.False(t, got.Secure)
	require.NotNil(t, got.Client)
	assert.Equal(t, "web", *got.Client)
	assert.Nil(t, got.Device)

	before := got.LastUsed
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, db.UpdateTokenLastUsed(ctx, "abc"))
	got, err = db.GetToken(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, got.LastUsed.After(before))

	assert.ErrorIs(t, db.UpdateTokenLastUsed(ctx, "nope"), store.ErrTokenNotFound)

	require.NoError(t, db.AddToken(ctx, &domain.Token{UID: 1, Token: "stale", Expired: time.Now().Add(-time.Minute)}))
	n, err := db.DeleteExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, db.DeleteToken(ctx, "abc"))
	_, err = db.GetToken(ctx, "abc")
	assert.ErrorIs(t, err, store.ErrTokenNotFound)
}

func TestSharedTokens(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, "")

	expires := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
	require.NoError(t, db.AddSharedToken(ctx, &domain.SharedToken{
		Token: "forever", Type: domain.SharedTokenTypeGallery, Info: `{"gid":1}`,
	}))
	require.NoError(t, db.AddSharedToken(ctx, &domain.SharedToken{
		Token: "hour", Type: domain.SharedTokenTypeGallery, Info: `{"gid":2}`, Expired: &expires,
	}))

	forever, err := db.GetSharedToken(ctx, "forever")
	require.NoError(t, err)
	assert.Nil(t, forever.Expired)

	hour, err := db.GetSharedToken(ctx, "hour")
	require.NoError(t, err)
	require.NotNil(t, hour.Expired)
	assert.Equal(t, expires, *hour.Expired)

	all, err := db.GetSharedTokens(ctx, domain.SharedTokenTypeGallery)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, db.DeleteSharedToken(ctx, "forever"))
	_, err = db.GetSharedToken(ctx, "forever")
	assert.ErrorIs(t, err, store.ErrSharedTokenNotFound)
}
