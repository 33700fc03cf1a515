package apikey

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the pure-Go dev/test backend for Store: a self-migrating
// table plus RFC3339Nano text timestamps.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and ensures the api_keys table exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("apikey: sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const query = `
	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		principal_id TEXT NOT NULL,
		team_id TEXT,
		name TEXT,
		prefix TEXT NOT NULL UNIQUE,
		hash TEXT NOT NULL,
		scopes TEXT,
		rate_limit_per_min INTEGER,
		expires_at TEXT,
		revoked_at TEXT,
		usage_count INTEGER NOT NULL DEFAULT 0,
		last_used_ip TEXT,
		last_used_at TEXT
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Insert provisions a new key row. Not part of the Store interface, which
// scopes validate/record-usage as the hot path; exposed for
// admin/provisioning callers.
func (s *SQLiteStore) Insert(ctx context.Context, k *Key) error {
	scopes, err := json.Marshal(k.Scopes)
	if err != nil {
		return fmt.Errorf("apikey: sqlite: marshal scopes: %w", err)
	}
	const query = `INSERT INTO api_keys (
		id, principal_id, team_id, name, prefix, hash, scopes, rate_limit_per_min,
		expires_at, revoked_at, usage_count, last_used_ip, last_used_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, k.ID, k.PrincipalID, k.TeamID, k.Name, k.Prefix,
		k.Hash, string(scopes), k.RateLimitPerMin, nullableTime(k.ExpiresAt), nullableTime(k.RevokedAt),
		k.UsageCount, k.LastUsedIP, nullableTime(k.LastUsedAt))
	if err != nil {
		return fmt.Errorf("apikey: sqlite: insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetByPrefix(ctx context.Context, prefix string) (*Key, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, principal_id, team_id, name, prefix, hash,
		scopes, rate_limit_per_min, expires_at, revoked_at, usage_count, last_used_ip, last_used_at
		FROM api_keys WHERE prefix = ?`, prefix)
	k, err := scanKey(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("apikey: sqlite: get by prefix: %w", err)
	}
	return k, nil
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, id string, ip string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET usage_count = usage_count + 1,
		last_used_ip = ?, last_used_at = ? WHERE id = ?`, ip, fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("apikey: sqlite: record usage: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(r rowScanner) (*Key, error) {
	var k Key
	var teamID, name sql.NullString
	var scopesRaw sql.NullString
	var expiresAt, revokedAt, lastUsedAt sql.NullString
	var lastUsedIP sql.NullString

	err := r.Scan(&k.ID, &k.PrincipalID, &teamID, &name, &k.Prefix, &k.Hash, &scopesRaw,
		&k.RateLimitPerMin, &expiresAt, &revokedAt, &k.UsageCount, &lastUsedIP, &lastUsedAt)
	if err != nil {
		return nil, err
	}

	k.TeamID = teamID.String
	k.Name = name.String
	k.LastUsedIP = lastUsedIP.String
	if scopesRaw.Valid && scopesRaw.String != "" {
		_ = json.Unmarshal([]byte(scopesRaw.String), &k.Scopes)
	}
	if expiresAt.Valid && expiresAt.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, expiresAt.String); err == nil {
			k.ExpiresAt = &t
		}
	}
	if revokedAt.Valid && revokedAt.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, revokedAt.String); err == nil {
			k.RevokedAt = &t
		}
	}
	if lastUsedAt.Valid && lastUsedAt.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastUsedAt.String); err == nil {
			k.LastUsedAt = &t
		}
	}
	return &k, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}
