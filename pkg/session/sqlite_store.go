package session

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

// NewSQLiteStore wraps db and ensures the sessions table exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("session: sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const query = `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		principal_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL,
		ip TEXT,
		user_agent TEXT,
		metadata TEXT,
		active INTEGER NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("session: sqlite: marshal metadata: %w", err)
	}
	const query = `INSERT INTO sessions (
		session_id, principal_id, created_at, expires_at, last_accessed_at,
		ip, user_agent, metadata, active
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		sess.SessionID, sess.PrincipalID, fmtTime(sess.CreatedAt), fmtTime(sess.ExpiresAt),
		fmtTime(sess.LastAccessedAt), sess.IP, sess.UserAgent, string(meta), boolToInt(sess.Active))
	if err != nil {
		return fmt.Errorf("session: sqlite: create: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, principal_id, created_at, expires_at,
		last_accessed_at, ip, user_agent, metadata, active FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: sqlite: get: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Update(ctx context.Context, sess *Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("session: sqlite: marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET principal_id = ?, created_at = ?,
		expires_at = ?, last_accessed_at = ?, ip = ?, user_agent = ?, metadata = ?, active = ?
		WHERE session_id = ?`,
		sess.PrincipalID, fmtTime(sess.CreatedAt), fmtTime(sess.ExpiresAt), fmtTime(sess.LastAccessedAt),
		sess.IP, sess.UserAgent, string(meta), boolToInt(sess.Active), sess.SessionID)
	if err != nil {
		return fmt.Errorf("session: sqlite: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session: sqlite: update rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("session: sqlite: delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAllForPrincipal(ctx context.Context, principalID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE principal_id = ?", principalID)
	if err != nil {
		return fmt.Errorf("session: sqlite: delete all for principal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpiredBefore(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", fmtTime(now))
	if err != nil {
		return 0, fmt.Errorf("session: sqlite: delete expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session: sqlite: delete expired rows affected: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var sess Session
	var createdAt, expiresAt, lastAccessedAt string
	var ip, userAgent sql.NullString
	var meta sql.NullString
	var active int

	err := r.Scan(&sess.SessionID, &sess.PrincipalID, &createdAt, &expiresAt,
		&lastAccessedAt, &ip, &userAgent, &meta, &active)
	if err != nil {
		return nil, err
	}

	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sess.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
	sess.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessedAt)
	sess.IP = ip.String
	sess.UserAgent = userAgent.String
	sess.Active = active != 0
	if meta.Valid && meta.String != "" && meta.String != "null" {
		_ = json.Unmarshal([]byte(meta.String), &sess.Metadata)
	}
	return &sess, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
