package audit

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brevanhowe/govern-core/pkg/model"
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

func TestSQLiteStore_AppendAndQuery(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.Append(ctx, model.AuditEvent{
		ID: "evt-1", Timestamp: now, EventType: "invoke", Severity: model.SeverityMedium,
		PrincipalID: "p1", ResourceID: "res-1", DurationMS: 42,
		Details: map[string]any{"key": "value"},
	}))
	require.NoError(t, store.Append(ctx, model.AuditEvent{
		ID: "evt-2", Timestamp: now.Add(time.Second), EventType: "deny",
		Severity: model.SeverityHigh, PrincipalID: "p2", ResourceID: "res-1", DurationMS: 1,
	}))

	all, err := store.Query(ctx, Query{ResourceID: "res-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "evt-1", all[0].ID, "results are ordered by timestamp ascending")

	onlyP1, err := store.Query(ctx, Query{PrincipalID: "p1"})
	require.NoError(t, err)
	require.Len(t, onlyP1, 1)
	assert.Equal(t, "value", onlyP1[0].Details["key"])
	assert.WithinDuration(t, now, onlyP1[0].Timestamp, time.Millisecond)

	highOnly, err := store.Query(ctx, Query{Severity: severityPtr(model.SeverityHigh)})
	require.NoError(t, err)
	require.Len(t, highOnly, 1)
	assert.Equal(t, "evt-2", highOnly[0].ID)
}

func TestSQLiteStore_MarkForwarded(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, model.AuditEvent{
		ID: "evt-1", Timestamp: time.Now(), EventType: "invoke", Severity: model.SeverityLow,
	}))

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.MarkForwarded(ctx, "evt-1", at))

	events, err := store.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].SIEMForwardedAt)
	assert.WithinDuration(t, at, *events[0].SIEMForwardedAt, time.Millisecond)
}

func TestSQLiteStore_QueryLimit(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, model.AuditEvent{
			ID:        fmt.Sprintf("evt-%d", i),
			Timestamp: time.Now().Add(time.Duration(i) * time.Millisecond),
			EventType: "invoke", Severity: model.SeverityLow,
		}))
	}

	events, err := store.Query(ctx, Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func severityPtr(s model.Severity) *model.Severity { return &s }
