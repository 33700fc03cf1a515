package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStore_CreateGetUpdateDelete(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	sess := &Session{
		SessionID: "sess-1", PrincipalID: "p1", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		LastAccessedAt: now, IP: "10.0.0.1", UserAgent: "curl/8", Active: true,
		Metadata: map[string]string{"k": "v"},
	}
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PrincipalID)
	assert.True(t, got.Active)
	assert.Equal(t, "v", got.Metadata["k"])
	assert.WithinDuration(t, now, got.CreatedAt, time.Millisecond)

	got.Active = false
	require.NoError(t, store.Update(ctx, got))

	updated, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, updated.Active)

	require.NoError(t, store.Delete(ctx, "sess-1"))
	_, err = store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := newTestSQLiteStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpdateMissing(t *testing.T) {
	store := newTestSQLiteStore(t)
	err := store.Update(context.Background(), &Session{SessionID: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DeleteAllForPrincipal(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, store.Create(ctx, &Session{
			SessionID: id, PrincipalID: "p1", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
			LastAccessedAt: now, Active: true,
		}))
	}
	require.NoError(t, store.Create(ctx, &Session{
		SessionID: "s3", PrincipalID: "p2", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		LastAccessedAt: now, Active: true,
	}))

	require.NoError(t, store.DeleteAllForPrincipal(ctx, "p1"))

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "s2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "s3")
	assert.NoError(t, err, "other principal's session must survive")
}

func TestSQLiteStore_DeleteExpiredBefore(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Create(ctx, &Session{
		SessionID: "expired", PrincipalID: "p1", CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour), LastAccessedAt: now, Active: true,
	}))
	require.NoError(t, store.Create(ctx, &Session{
		SessionID: "live", PrincipalID: "p1", CreatedAt: now,
		ExpiresAt: now.Add(time.Hour), LastAccessedAt: now, Active: true,
	}))

	n, err := store.DeleteExpiredBefore(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, "live")
	assert.NoError(t, err)
}
