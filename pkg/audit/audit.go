// Package audit implements the audit event emitter: every pipeline stage
// emits a model.AuditEvent, which is persisted and selectively forwarded
// to the SIEM layer by severity.
package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brevanhowe/govern-core/pkg/model"
	"github.com/brevanhowe/govern-core/pkg/siem"
)

// Store persists audit events. The concrete backend (Postgres/sqlite via
// github.com/lib/pq / modernc.org/sqlite) is an external collaborator;
// this package defines the contract plus an in-memory reference
// implementation for tests/dev mode.
type Store interface {
	Append(ctx context.Context, event model.AuditEvent) error
	Query(ctx context.Context, q Query) ([]model.AuditEvent, error)
	MarkForwarded(ctx context.Context, eventID string, at time.Time) error
}

// Query filters stored audit events by principal, resource, severity, and
// time range.
type Query struct {
	PrincipalID string
	ResourceID  string
	Severity    *model.Severity
	After       *time.Time
	Before      *time.Time
	Limit       int
}

// SeverityRoute decides which severities get forwarded to a SIEM sink
// immediately versus batched on the Forwarder's normal cadence:
// high/critical events are forwarded without delay; low/medium batch
// normally.
type SeverityRoute struct {
	Immediate map[model.Severity]bool
}

// DefaultSeverityRoute forwards high and critical severities immediately.
func DefaultSeverityRoute() SeverityRoute {
	return SeverityRoute{Immediate: map[model.Severity]bool{
		model.SeverityHigh:     true,
		model.SeverityCritical: true,
	}}
}

// Emitter appends audit events to a Store and forwards them to zero or more
// SIEM forwarders according to a SeverityRoute.
type Emitter struct {
	store      Store
	forwarders []*siem.Forwarder
	route      SeverityRoute
	clock      func() time.Time
}

// NewEmitter constructs an Emitter. forwarders may be empty (audit-only,
// no SIEM configured).
func NewEmitter(store Store, route SeverityRoute, forwarders ...*siem.Forwarder) *Emitter {
	return &Emitter{store: store, forwarders: forwarders, route: route, clock: time.Now}
}

// Emit persists event (assigning an ID/timestamp if absent) and forwards it
// to every configured SIEM sink. Persistence failures are returned;
// forwarding is always best-effort since pkg/siem already owns its own
// durability story (bounded queue + disk fallback).
func (e *Emitter) Emit(ctx context.Context, event model.AuditEvent) (model.AuditEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.clock()
	}

	if err := e.store.Append(ctx, event); err != nil {
		return event, fmt.Errorf("audit: append: %w", err)
	}

	if e.route.Immediate[event.Severity] && len(e.forwarders) > 0 {
		for _, f := range e.forwarders {
			f.Enqueue(event)
		}
		now := e.clock()
		_ = e.store.MarkForwarded(ctx, event.ID, now)
	}

	return event, nil
}

// Query proxies to the underlying store.
func (e *Emitter) Query(ctx context.Context, q Query) ([]model.AuditEvent, error) {
	return e.store.Query(ctx, q)
}

// EmitFederated persists a cross-node audit record, satisfying
// pkg/federation's AuditSink. The correlation/source/target fields already
// live on model.AuditEvent, so a FederatedAuditEvent is stored as a plain
// AuditEvent plus those three fields populated.
func (e *Emitter) EmitFederated(ctx context.Context, event model.FederatedAuditEvent) error {
	ae := event.AuditEvent
	ae.CorrelationID = event.CorrelationID
	ae.SourceNode = event.SourceNodeID
	ae.TargetNode = event.TargetNodeID
	_, err := e.Emit(ctx, ae)
	return err
}

// QueryFederated filters stored events down to federation records matching
// q, re-deriving the FederatedAuditEvent's correlation/node fields from the
// underlying AuditEvent.
func (e *Emitter) QueryFederated(ctx context.Context, q FederatedQuery) ([]model.FederatedAuditEvent, error) {
	events, err := e.store.Query(ctx, Query{
		PrincipalID: q.PrincipalID,
		ResourceID:  q.ResourceID,
		After:       q.After,
		Before:      q.Before,
	})
	if err != nil {
		return nil, err
	}

	var out []model.FederatedAuditEvent
	for _, ae := range events {
		if q.CorrelationID != "" && ae.CorrelationID != q.CorrelationID {
			continue
		}
		if ae.CorrelationID == "" && ae.SourceNode == "" && ae.TargetNode == "" {
			continue
		}
		out = append(out, model.FederatedAuditEvent{
			AuditEvent:    ae,
			CorrelationID: ae.CorrelationID,
			SourceNodeID:  ae.SourceNode,
			TargetNodeID:  ae.TargetNode,
		})
	}
	return out, nil
}

// FederatedQuery mirrors pkg/federation's AuditCorrelationQuery without
// importing that package (audit must not depend on federation).
type FederatedQuery struct {
	CorrelationID string
	PrincipalID   string
	ResourceID    string
	After         *time.Time
	Before        *time.Time
}

// InMemoryStore is a reference Store for tests and single-instance dev
// mode: events are kept in append order with a secondary index by
// PrincipalID for fast per-principal queries.
type InMemoryStore struct {
	mu      sync.RWMutex
	events  []model.AuditEvent
	byPrinc map[string][]int
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byPrinc: make(map[string][]int)}
}

func (st *InMemoryStore) Append(ctx context.Context, event model.AuditEvent) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	idx := len(st.events)
	st.events = append(st.events, event)
	if event.PrincipalID != "" {
		st.byPrinc[event.PrincipalID] = append(st.byPrinc[event.PrincipalID], idx)
	}
	return nil
}

func (st *InMemoryStore) Query(ctx context.Context, q Query) ([]model.AuditEvent, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var candidates []model.AuditEvent
	if q.PrincipalID != "" {
		for _, idx := range st.byPrinc[q.PrincipalID] {
			candidates = append(candidates, st.events[idx])
		}
	} else {
		candidates = make([]model.AuditEvent, len(st.events))
		copy(candidates, st.events)
	}

	var results []model.AuditEvent
	for _, e := range candidates {
		if q.ResourceID != "" && e.ResourceID != q.ResourceID {
			continue
		}
		if q.Severity != nil && e.Severity != *q.Severity {
			continue
		}
		if q.After != nil && e.Timestamp.Before(*q.After) {
			continue
		}
		if q.Before != nil && e.Timestamp.After(*q.Before) {
			continue
		}
		results = append(results, e)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (st *InMemoryStore) MarkForwarded(ctx context.Context, eventID string, at time.Time) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.events {
		if st.events[i].ID == eventID {
			t := at
			st.events[i].SIEMForwardedAt = &t
			return nil
		}
	}
	return nil
}
