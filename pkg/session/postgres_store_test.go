package session

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_CreateGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WithArgs("sess-1", "p1", now, now.Add(time.Hour), now, "10.0.0.1", "curl/8",
			sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sess := &Session{
		SessionID: "sess-1", PrincipalID: "p1", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		LastAccessedAt: now, IP: "10.0.0.1", UserAgent: "curl/8", Active: true,
	}
	require.NoError(t, store.Create(ctx, sess))

	rows := sqlmock.NewRows([]string{"session_id", "principal_id", "created_at", "expires_at",
		"last_accessed_at", "ip", "user_agent", "metadata", "active"}).
		AddRow("sess-1", "p1", now, now.Add(time.Hour), now, "10.0.0.1", "curl/8", `{}`, true)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT session_id, principal_id")).
		WithArgs("sess-1").
		WillReturnRows(rows)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PrincipalID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT session_id, principal_id")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "principal_id", "created_at",
			"expires_at", "last_accessed_at", "ip", "user_agent", "metadata", "active"}))

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_DeleteExpiredBefore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE expires_at <= $1")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.DeleteExpiredBefore(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
