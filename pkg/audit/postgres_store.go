package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/brevanhowe/govern-core/pkg/model"
)

// PostgresStore implements Store against a Postgres `audit_events` table
// using a plain database/sql + lib/pq driver.
//
// Expected schema:
//
//	CREATE TABLE audit_events (
//	  id TEXT PRIMARY KEY, timestamp TIMESTAMPTZ NOT NULL,
//	  event_type TEXT NOT NULL, severity TEXT NOT NULL,
//	  principal_id TEXT, principal_email TEXT, resource_id TEXT,
//	  capability_id TEXT, decision TEXT, correlation_id TEXT,
//	  source_node TEXT, target_node TEXT, ip TEXT, user_agent TEXT,
//	  request_id TEXT, duration_ms BIGINT, details JSONB,
//	  siem_forwarded_at TIMESTAMPTZ
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB; migration is an
// operator concern.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event model.AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("audit: postgres: marshal details: %w", err)
	}

	const query = `
		INSERT INTO audit_events (
			id, timestamp, event_type, severity, principal_id, principal_email,
			resource_id, capability_id, decision, correlation_id, source_node,
			target_node, ip, user_agent, request_id, duration_ms, details,
			siem_forwarded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, event.EventType, string(event.Severity),
		event.PrincipalID, event.PrincipalEmail, event.ResourceID, event.CapabilityID,
		event.Decision, event.CorrelationID, event.SourceNode, event.TargetNode,
		event.IP, event.UserAgent, event.RequestID, event.DurationMS, details,
		event.SIEMForwardedAt)
	if err != nil {
		return fmt.Errorf("audit: postgres: append: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]model.AuditEvent, error) {
	clauses := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.PrincipalID != "" {
		clauses = append(clauses, "principal_id = "+arg(q.PrincipalID))
	}
	if q.ResourceID != "" {
		clauses = append(clauses, "resource_id = "+arg(q.ResourceID))
	}
	if q.Severity != nil {
		clauses = append(clauses, "severity = "+arg(string(*q.Severity)))
	}
	if q.After != nil {
		clauses = append(clauses, "timestamp > "+arg(*q.After))
	}
	if q.Before != nil {
		clauses = append(clauses, "timestamp < "+arg(*q.Before))
	}

	query := `SELECT id, timestamp, event_type, severity, principal_id, principal_email,
		resource_id, capability_id, decision, correlation_id, source_node, target_node,
		ip, user_agent, request_id, duration_ms, details, siem_forwarded_at
		FROM audit_events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY timestamp ASC`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %s", arg(q.Limit))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: postgres: query: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: postgres: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkForwarded(ctx context.Context, eventID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE audit_events SET siem_forwarded_at = $1 WHERE id = $2", at, eventID)
	if err != nil {
		return fmt.Errorf("audit: postgres: mark forwarded: %w", err)
	}
	return nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows so PostgresStore and
// SQLiteStore can share one scan routine.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditEvent(r rowScanner) (model.AuditEvent, error) {
	var e model.AuditEvent
	var severity string
	var detailsRaw sql.NullString
	var principalEmail, resourceID, capabilityID, decision sql.NullString
	var correlationID, sourceNode, targetNode, ip, userAgent, requestID sql.NullString
	var forwardedAt sql.NullTime

	err := r.Scan(&e.ID, &e.Timestamp, &e.EventType, &severity, &e.PrincipalID,
		&principalEmail, &resourceID, &capabilityID, &decision, &correlationID,
		&sourceNode, &targetNode, &ip, &userAgent, &requestID, &e.DurationMS,
		&detailsRaw, &forwardedAt)
	if err != nil {
		return model.AuditEvent{}, err
	}

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
	if forwardedAt.Valid {
		t := forwardedAt.Time
		e.SIEMForwardedAt = &t
	}
	return e, nil
}
