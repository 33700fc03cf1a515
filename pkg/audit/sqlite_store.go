package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/brevanhowe/govern-core/pkg/model"
)

// SQLiteStore is the pure-Go dev/test backend for Store: a self-migrating
// table plus RFC3339Nano text timestamps (sqlite has no native timestamp
// type).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and ensures the audit_events table exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("audit: sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const query = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		principal_id TEXT,
		principal_email TEXT,
		resource_id TEXT,
		capability_id TEXT,
		decision TEXT,
		correlation_id TEXT,
		source_node TEXT,
		target_node TEXT,
		ip TEXT,
		user_agent TEXT,
		request_id TEXT,
		duration_ms INTEGER,
		details TEXT,
		siem_forwarded_at TEXT
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, event model.AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("audit: sqlite: marshal details: %w", err)
	}

	var forwardedAt sql.NullString
	if event.SIEMForwardedAt != nil {
		forwardedAt = sql.NullString{String: event.SIEMForwardedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	const query = `INSERT INTO audit_events (
		id, timestamp, event_type, severity, principal_id, principal_email,
		resource_id, capability_id, decision, correlation_id, source_node,
		target_node, ip, user_agent, request_id, duration_ms, details,
		siem_forwarded_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.Timestamp.UTC().Format(time.RFC3339Nano), event.EventType,
		string(event.Severity), event.PrincipalID, event.PrincipalEmail, event.ResourceID,
		event.CapabilityID, event.Decision, event.CorrelationID, event.SourceNode,
		event.TargetNode, event.IP, event.UserAgent, event.RequestID, event.DurationMS,
		string(details), forwardedAt)
	if err != nil {
		return fmt.Errorf("audit: sqlite: append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]model.AuditEvent, error) {
	clauses := []string{"1=1"}
	var args []any

	if q.PrincipalID != "" {
		clauses = append(clauses, "principal_id = ?")
		args = append(args, q.PrincipalID)
	}
	if q.ResourceID != "" {
		clauses = append(clauses, "resource_id = ?")
		args = append(args, q.ResourceID)
	}
	if q.Severity != nil {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(*q.Severity))
	}
	if q.After != nil {
		clauses = append(clauses, "timestamp > ?")
		args = append(args, q.After.UTC().Format(time.RFC3339Nano))
	}
	if q.Before != nil {
		clauses = append(clauses, "timestamp < ?")
		args = append(args, q.Before.UTC().Format(time.RFC3339Nano))
	}

	query := `SELECT id, timestamp, event_type, severity, principal_id, principal_email,
		resource_id, capability_id, decision, correlation_id, source_node, target_node,
		ip, user_agent, request_id, duration_ms, details, siem_forwarded_at
		FROM audit_events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY timestamp ASC`
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: sqlite: query: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		e, err := scanAuditEventText(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: sqlite: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkForwarded(ctx context.Context, eventID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE audit_events SET siem_forwarded_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339Nano), eventID)
	if err != nil {
		return fmt.Errorf("audit: sqlite: mark forwarded: %w", err)
	}
	return nil
}

// scanAuditEventText scans a row whose timestamp columns are RFC3339Nano
// text rather than native TIMESTAMPTZ, as sqlite stores them.
func scanAuditEventText(r rowScanner) (model.AuditEvent, error) {
	var e model.AuditEvent
	var timestamp, severity string
	var detailsRaw sql.NullString
	var principalEmail, resourceID, capabilityID, decision sql.NullString
	var correlationID, sourceNode, targetNode, ip, userAgent, requestID sql.NullString
	var forwardedAt sql.NullString

	err := r.Scan(&e.ID, &timestamp, &e.EventType, &severity, &e.PrincipalID,
		&principalEmail, &resourceID, &capabilityID, &decision, &correlationID,
		&sourceNode, &targetNode, &ip, &userAgent, &requestID, &e.DurationMS,
		&detailsRaw, &forwardedAt)
	if err != nil {
		return model.AuditEvent{}, err
	}

	e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	e.Severity = model.Severity(severity)
	e.PrincipalEmail = principalEmail.String
	e.ResourceID = resourceID.String
	e.CapabilityID = capabilityID.String
	e.Decision = decision.String
	e.CorrelationID = correlationID.String
	e.SourceNode = sourceNode.String
	e.TargetNode = targetNode.String
	e.IP = ip.String
	e.UserAgent = userAgent.String
	e.RequestID = requestID.String

	if detailsRaw.Valid && detailsRaw.String != "" && detailsRaw.String != "null" {
		_ = json.Unmarshal([]byte(detailsRaw.String), &e.Details)
	}
	if forwardedAt.Valid && forwardedAt.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, forwardedAt.String); err == nil {
			e.SIEMForwardedAt = &t
		}
	}
	return e, nil
}
