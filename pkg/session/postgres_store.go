package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store against a `sessions` table using plain
// database/sql + lib/pq.
//
// Expected schema:
//
//	CREATE TABLE sessions (
//	  session_id TEXT PRIMARY KEY, principal_id TEXT NOT NULL,
//	  created_at TIMESTAMPTZ NOT NULL, expires_at TIMESTAMPTZ NOT NULL,
//	  last_accessed_at TIMESTAMPTZ NOT NULL, ip TEXT, user_agent TEXT,
//	  metadata JSONB, active BOOLEAN NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, sess *Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("session: postgres: marshal metadata: %w", err)
	}
	const query = `INSERT INTO sessions (
		session_id, principal_id, created_at, expires_at, last_accessed_at,
		ip, user_agent, metadata, active
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.db.ExecContext(ctx, query, sess.SessionID, sess.PrincipalID, sess.CreatedAt,
		sess.ExpiresAt, sess.LastAccessedAt, sess.IP, sess.UserAgent, meta, sess.Active)
	if err != nil {
		return fmt.Errorf("session: postgres: create: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, principal_id, created_at, expires_at,
		last_accessed_at, ip, user_agent, metadata, active FROM sessions WHERE session_id = $1`, sessionID)

	var sess Session
	var ip, userAgent sql.NullString
	var meta sql.NullString
	err := row.Scan(&sess.SessionID, &sess.PrincipalID, &sess.CreatedAt, &sess.ExpiresAt,
		&sess.LastAccessedAt, &ip, &userAgent, &meta, &sess.Active)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: postgres: get: %w", err)
	}
	sess.IP = ip.String
	sess.UserAgent = userAgent.String
	if meta.Valid && meta.String != "" && meta.String != "null" {
		_ = json.Unmarshal([]byte(meta.String), &sess.Metadata)
	}
	return &sess, nil
}

func (s *PostgresStore) Update(ctx context.Context, sess *Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("session: postgres: marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET principal_id = $1, created_at = $2,
		expires_at = $3, last_accessed_at = $4, ip = $5, user_agent = $6, metadata = $7, active = $8
		WHERE session_id = $9`,
		sess.PrincipalID, sess.CreatedAt, sess.ExpiresAt, sess.LastAccessedAt, sess.IP,
		sess.UserAgent, meta, sess.Active, sess.SessionID)
	if err != nil {
		return fmt.Errorf("session: postgres: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session: postgres: update rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("session: postgres: delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAllForPrincipal(ctx context.Context, principalID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE principal_id = $1", principalID)
	if err != nil {
		return fmt.Errorf("session: postgres: delete all for principal: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpiredBefore(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("session: postgres: delete expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session: postgres: delete expired rows affected: %w", err)
	}
	return int(n), nil
}
