package federation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brevanhowe/govern-core/pkg/audit"
	"github.com/brevanhowe/govern-core/pkg/model"
)

func TestFindRoute_PrefersLocalResource(t *testing.T) {
	r := NewRouter(RouterConfig{
		SelfNodeID: "self",
		Nodes:      NewInMemoryNodeStore(),
		LocalLookup: func(resourceID string) (model.Resource, bool) {
			return model.Resource{ID: resourceID, Endpoint: "local://res"}, true
		},
		PeerLookup: func(ctx context.Context, node model.FederationNode, resourceID string) (model.RouteEntry, bool, error) {
			t.Fatal("peer lookup should not be reached for a local resource")
			return model.RouteEntry{}, false, nil
		},
	})

	entry, err := r.FindRoute(context.Background(), "res-1", "", false)
	require.NoError(t, err)
	assert.Equal(t, "self", entry.NodeID)
	assert.Equal(t, int64(0), entry.LatencyMS)
}

func TestFindRoute_PicksLowestLatencyPeer(t *testing.T) {
	nodes := NewInMemoryNodeStore()
	nodes.Put(model.FederationNode{NodeID: "node-a", Enabled: true})
	nodes.Put(model.FederationNode{NodeID: "node-b", Enabled: true})

	r := NewRouter(RouterConfig{
		SelfNodeID: "self",
		Nodes:      nodes,
		PeerLookup: func(ctx context.Context, node model.FederationNode, resourceID string) (model.RouteEntry, bool, error) {
			latency := map[string]int64{"node-a": 80, "node-b": 20}[node.NodeID]
			return model.RouteEntry{ResourceID: resourceID, NodeID: node.NodeID, LatencyMS: latency}, true, nil
		},
	})

	entry, err := r.FindRoute(context.Background(), "res-1", "", false)
	require.NoError(t, err)
	assert.Equal(t, "node-b", entry.NodeID)
}

func TestFindRoute_PreferredNodeOverridesLatency(t *testing.T) {
	nodes := NewInMemoryNodeStore()
	nodes.Put(model.FederationNode{NodeID: "node-a", Enabled: true})
	nodes.Put(model.FederationNode{NodeID: "node-b", Enabled: true})

	r := NewRouter(RouterConfig{
		SelfNodeID: "self",
		Nodes:      nodes,
		PeerLookup: func(ctx context.Context, node model.FederationNode, resourceID string) (model.RouteEntry, bool, error) {
			latency := map[string]int64{"node-a": 80, "node-b": 20}[node.NodeID]
			return model.RouteEntry{ResourceID: resourceID, NodeID: node.NodeID, LatencyMS: latency}, true, nil
		},
	})

	entry, err := r.FindRoute(context.Background(), "res-1", "node-a", false)
	require.NoError(t, err)
	assert.Equal(t, "node-a", entry.NodeID)
}

func TestFindRoute_ExcludesDisabledNodeAndReturnsNotFound(t *testing.T) {
	nodes := NewInMemoryNodeStore()
	nodes.Put(model.FederationNode{NodeID: "node-a", Enabled: false})

	r := NewRouter(RouterConfig{
		SelfNodeID: "self",
		Nodes:      nodes,
		PeerLookup: func(ctx context.Context, node model.FederationNode, resourceID string) (model.RouteEntry, bool, error) {
			t.Fatal("disabled node should never be queried")
			return model.RouteEntry{}, false, nil
		},
	})

	_, err := r.FindRoute(context.Background(), "res-1", "", false)
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestInvokeFederated_SuccessRecordsAuditEvent(t *testing.T) {
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "result": {"ok": true}}`))
	}))
	t.Cleanup(peer.Close)

	nodes := NewInMemoryNodeStore()
	nodes.Put(model.FederationNode{NodeID: "node-a", Enabled: true, Endpoint: peer.URL})

	emitter := audit.NewEmitter(audit.NewInMemoryStore(), audit.DefaultSeverityRoute())
	r := NewRouter(RouterConfig{
		SelfNodeID: "self",
		Nodes:      nodes,
		Audit:      EmitterAuditSink{Emitter: emitter},
	})

	result, err := r.InvokeFederated(context.Background(), FederatedResourceRequest{
		NodeID:     "node-a",
		ResourceID: "res-1",
		Principal:  model.Principal{ID: "principal-1"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	events, err := r.CorrelateAuditEvents(context.Background(), AuditCorrelationQuery{PrincipalID: "principal-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "self", events[0].SourceNodeID)
	assert.Equal(t, "node-a", events[0].TargetNodeID)
	assert.NotEmpty(t, events[0].CorrelationID)
}

func TestInvokeFederated_DisabledNodeFails(t *testing.T) {
	nodes := NewInMemoryNodeStore()
	nodes.Put(model.FederationNode{NodeID: "node-a", Enabled: false})

	r := NewRouter(RouterConfig{SelfNodeID: "self", Nodes: nodes})

	_, err := r.InvokeFederated(context.Background(), FederatedResourceRequest{NodeID: "node-a", ResourceID: "res-1"})
	assert.ErrorIs(t, err, ErrNodeDisabled)
}

func TestInvokeFederated_UnknownNodeFails(t *testing.T) {
	r := NewRouter(RouterConfig{SelfNodeID: "self", Nodes: NewInMemoryNodeStore()})

	_, err := r.InvokeFederated(context.Background(), FederatedResourceRequest{NodeID: "missing", ResourceID: "res-1"})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestInvokeFederated_PeerFailureTripsBreaker(t *testing.T) {
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(peer.Close)

	nodes := NewInMemoryNodeStore()
	nodes.Put(model.FederationNode{NodeID: "node-a", Enabled: true, Endpoint: peer.URL})

	r := NewRouter(RouterConfig{SelfNodeID: "self", Nodes: nodes})

	for i := 0; i < 5; i++ {
		_, err := r.InvokeFederated(context.Background(), FederatedResourceRequest{NodeID: "node-a", ResourceID: "res-1"})
		assert.Error(t, err)
	}

	_, err := r.FindRoute(context.Background(), "res-1", "", false)
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestCheckNodeHealth_ClassifiesResponses(t *testing.T) {
	online := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	t.Cleanup(online.Close)
	degraded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }))
	t.Cleanup(degraded.Close)

	r := NewRouter(RouterConfig{SelfNodeID: "self", Nodes: NewInMemoryNodeStore()})

	assert.Equal(t, model.HealthOnline, r.CheckNodeHealth(context.Background(), model.FederationNode{NodeID: "a", Endpoint: online.URL}))
	assert.Equal(t, model.HealthDegraded, r.CheckNodeHealth(context.Background(), model.FederationNode{NodeID: "b", Endpoint: degraded.URL}))
	assert.Equal(t, model.HealthOffline, r.CheckNodeHealth(context.Background(), model.FederationNode{NodeID: "c", Endpoint: "http://127.0.0.1:1"}))
}

func TestCorrelateAuditEvents_FiltersByTimeWindow(t *testing.T) {
	emitter := audit.NewEmitter(audit.NewInMemoryStore(), audit.DefaultSeverityRoute())
	r := NewRouter(RouterConfig{
		SelfNodeID: "self",
		Nodes:      NewInMemoryNodeStore(),
		Audit:      EmitterAuditSink{Emitter: emitter},
	})

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, emitter.EmitFederated(context.Background(), model.FederatedAuditEvent{
		AuditEvent:    model.AuditEvent{PrincipalID: "p1", Timestamp: old},
		CorrelationID: "corr-old",
		SourceNodeID:  "self",
		TargetNodeID:  "node-a",
	}))

	after := time.Now().Add(-time.Hour)
	events, err := r.CorrelateAuditEvents(context.Background(), AuditCorrelationQuery{PrincipalID: "p1", After: &after})
	require.NoError(t, err)
	assert.Empty(t, events)
}
