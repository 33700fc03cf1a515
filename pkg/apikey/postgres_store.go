package apikey

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store against an `api_keys` table using plain
// database/sql + lib/pq.
//
// Expected schema:
//
//	CREATE TABLE api_keys (
//	  id TEXT PRIMARY KEY, principal_id TEXT NOT NULL, team_id TEXT, name TEXT,
//	  prefix TEXT NOT NULL UNIQUE, hash TEXT NOT NULL, scopes JSONB,
//	  rate_limit_per_min INT, expires_at TIMESTAMPTZ, revoked_at TIMESTAMPTZ,
//	  usage_count BIGINT NOT NULL DEFAULT 0, last_used_ip TEXT,
//	  last_used_at TIMESTAMPTZ
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert provisions a new key row; not part of the Store interface.
func (s *PostgresStore) Insert(ctx context.Context, k *Key) error {
	scopes, err := json.Marshal(k.Scopes)
	if err != nil {
		return fmt.Errorf("apikey: postgres: marshal scopes: %w", err)
	}
	const query = `INSERT INTO api_keys (
		id, principal_id, team_id, name, prefix, hash, scopes, rate_limit_per_min,
		expires_at, revoked_at, usage_count, last_used_ip, last_used_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = s.db.ExecContext(ctx, query, k.ID, k.PrincipalID, k.TeamID, k.Name, k.Prefix,
		k.Hash, scopes, k.RateLimitPerMin, k.ExpiresAt, k.RevokedAt, k.UsageCount,
		k.LastUsedIP, k.LastUsedAt)
	if err != nil {
		return fmt.Errorf("apikey: postgres: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByPrefix(ctx context.Context, prefix string) (*Key, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, principal_id, team_id, name, prefix, hash,
		scopes, rate_limit_per_min, expires_at, revoked_at, usage_count, last_used_ip, last_used_at
		FROM api_keys WHERE prefix = $1`, prefix)

	var k Key
	var teamID, name, lastUsedIP sql.NullString
	var scopesRaw sql.NullString
	var expiresAt, revokedAt, lastUsedAt sql.NullTime
	err := row.Scan(&k.ID, &k.PrincipalID, &teamID, &name, &k.Prefix, &k.Hash, &scopesRaw,
		&k.RateLimitPerMin, &expiresAt, &revokedAt, &k.UsageCount, &lastUsedIP, &lastUsedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("apikey: postgres: get by prefix: %w", err)
	}
	k.TeamID = teamID.String
	k.Name = name.String
	k.LastUsedIP = lastUsedIP.String
	if scopesRaw.Valid && scopesRaw.String != "" {
		_ = json.Unmarshal([]byte(scopesRaw.String), &k.Scopes)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		k.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		k.RevokedAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		k.LastUsedAt = &t
	}
	return &k, nil
}

func (s *PostgresStore) RecordUsage(ctx context.Context, id string, ip string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET usage_count = usage_count + 1,
		last_used_ip = $1, last_used_at = $2 WHERE id = $3`, ip, at, id)
	if err != nil {
		return fmt.Errorf("apikey: postgres: record usage: %w", err)
	}
	return nil
}
