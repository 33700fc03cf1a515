package apikey

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_GetByPrefix(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	rows := sqlmock.NewRows([]string{"id", "principal_id", "team_id", "name", "prefix", "hash",
		"scopes", "rate_limit_per_min", "expires_at", "revoked_at", "usage_count",
		"last_used_ip", "last_used_at"}).
		AddRow("key-1", "p1", nil, "ci", "abcd1234", "bcrypthash", `["server:read"]`, 60,
			nil, nil, int64(3), "203.0.113.5", nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, principal_id")).
		WithArgs("abcd1234").
		WillReturnRows(rows)

	k, err := store.GetByPrefix(context.Background(), "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "p1", k.PrincipalID)
	assert.Equal(t, []string{"server:read"}, k.Scopes)
	assert.Nil(t, k.ExpiresAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByPrefix_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, principal_id")).
		WithArgs("missing1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "principal_id", "team_id", "name", "prefix",
			"hash", "scopes", "rate_limit_per_min", "expires_at", "revoked_at", "usage_count",
			"last_used_ip", "last_used_at"}))

	_, err = store.GetByPrefix(context.Background(), "missing1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_RecordUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE api_keys SET usage_count = usage_count + 1")).
		WithArgs("203.0.113.5", at, "key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.RecordUsage(context.Background(), "key-1", "203.0.113.5", at))
	require.NoError(t, mock.ExpectationsWereMet())
}
