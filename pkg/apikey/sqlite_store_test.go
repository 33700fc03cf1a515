package apikey

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

func TestSQLiteStore_InsertAndGetByPrefix(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	fullKey, prefix, hash, err := Generate("sark", "prod")
	require.NoError(t, err)

	k := &Key{
		ID: "key-1", PrincipalID: "p1", Name: "ci key", Prefix: prefix, Hash: hash,
		Scopes: []string{"server:read"}, RateLimitPerMin: 60,
	}
	require.NoError(t, store.Insert(ctx, k))

	got, err := store.GetByPrefix(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PrincipalID)
	assert.Equal(t, []string{"server:read"}, got.Scopes)
	assert.True(t, VerifyHash(fullKey, got.Hash))
}

func TestSQLiteStore_GetByPrefix_NotFound(t *testing.T) {
	store := newTestSQLiteStore(t)
	_, err := store.GetByPrefix(context.Background(), "ghost1234")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_RecordUsage(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	_, prefix, hash, err := Generate("sark", "prod")
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, &Key{ID: "key-1", PrincipalID: "p1", Prefix: prefix, Hash: hash}))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.RecordUsage(ctx, "key-1", "203.0.113.5", now))

	got, err := store.GetByPrefix(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.Equal(t, "203.0.113.5", got.LastUsedIP)
	require.NotNil(t, got.LastUsedAt)
	assert.WithinDuration(t, now, *got.LastUsedAt, time.Second)
}

func TestSQLiteStore_ExpiryAndRevocationRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	_, prefix, hash, err := Generate("sark", "prod")
	require.NoError(t, err)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, store.Insert(ctx, &Key{
		ID: "key-1", PrincipalID: "p1", Prefix: prefix, Hash: hash, ExpiresAt: &expires,
	}))

	got, err := store.GetByPrefix(ctx, prefix)
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, expires, *got.ExpiresAt, time.Second)
	assert.Nil(t, got.RevokedAt)
}
