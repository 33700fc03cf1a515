// Router implements route discovery across trusted peers, federated
// invocation, per-peer circuit breaking, and cross-node audit correlation.
//
// Per-node availability is gated by this package's own breaker type (see
// pkg/breaker), reused here rather than a second hand-rolled per-node
// breaker, since this repo already has one general-purpose breaker
// implementation every other guarded call site shares. Federated invocation
// POSTs to a peer's invoke endpoint and records a FederatedAuditEvent for
// correlation.
package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brevanhowe/govern-core/pkg/audit"
	"github.com/brevanhowe/govern-core/pkg/breaker"
	"github.com/brevanhowe/govern-core/pkg/model"
)

var (
	ErrRouteNotFound = fmt.Errorf("federation: no route found for resource")
)

// RouteCache stores resolved routes, keyed by resource ID.
type RouteCache interface {
	Get(resourceID string) (model.RouteEntry, bool)
	Put(entry model.RouteEntry)
}

// InMemoryRouteCache is a reference RouteCache.
type InMemoryRouteCache struct {
	mu      sync.RWMutex
	entries map[string]model.RouteEntry
}

func NewInMemoryRouteCache() *InMemoryRouteCache {
	return &InMemoryRouteCache{entries: make(map[string]model.RouteEntry)}
}

func (c *InMemoryRouteCache) Get(resourceID string) (model.RouteEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[resourceID]
	return e, ok
}

func (c *InMemoryRouteCache) Put(entry model.RouteEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.ResourceID] = entry
}

// PeerResourceLookup asks a peer node whether it has resourceID, returning
// the route entry and whether it was found. An external HTTP collaborator;
// tests inject a fake.
type PeerResourceLookup func(ctx context.Context, node model.FederationNode, resourceID string) (model.RouteEntry, bool, error)

// LocalResourceLookup checks whether resourceID is hosted locally, for the
// "a found local resource yields a synthetic route with zero latency"
// branch of FindRoute.
type LocalResourceLookup func(resourceID string) (model.Resource, bool)

// FederatedResourceRequest is the payload invoke_federated sends.
type FederatedResourceRequest struct {
	NodeID       string
	ResourceID   string
	CapabilityID string
	Principal    model.Principal
	Arguments    map[string]any
}

// AuditCorrelationQuery matches CorrelateAuditEvents'
// filter set.
type AuditCorrelationQuery struct {
	CorrelationID string
	PrincipalID   string
	ResourceID    string
	After         *time.Time
	Before        *time.Time
}

// AuditSink records FederatedAuditEvents for later correlation; normally
// an EmitterAuditSink wrapping the same audit.Emitter the rest of the
// gateway uses.
type AuditSink interface {
	EmitFederated(ctx context.Context, event model.FederatedAuditEvent) error
	QueryFederated(ctx context.Context, q AuditCorrelationQuery) ([]model.FederatedAuditEvent, error)
}

// EmitterAuditSink adapts an *audit.Emitter to AuditSink.
type EmitterAuditSink struct {
	Emitter *audit.Emitter
}

func (s EmitterAuditSink) EmitFederated(ctx context.Context, event model.FederatedAuditEvent) error {
	return s.Emitter.EmitFederated(ctx, event)
}

func (s EmitterAuditSink) QueryFederated(ctx context.Context, q AuditCorrelationQuery) ([]model.FederatedAuditEvent, error) {
	return s.Emitter.QueryFederated(ctx, audit.FederatedQuery{
		CorrelationID: q.CorrelationID,
		PrincipalID:   q.PrincipalID,
		ResourceID:    q.ResourceID,
		After:         q.After,
		Before:        q.Before,
	})
}

// Router implements find_route/invoke_federated/check_node_health/
// correlate_audit_events.
type Router struct {
	nodes        NodeStore
	cache        RouteCache
	localLookup  LocalResourceLookup
	peerLookup   PeerResourceLookup
	client       *http.Client
	audit        AuditSink
	breakers     map[string]*breaker.Breaker
	breakersMu   sync.Mutex
	selfNodeID   string
}

// RouterConfig wires Router's collaborators.
type RouterConfig struct {
	SelfNodeID  string
	Nodes       NodeStore
	Cache       RouteCache
	LocalLookup LocalResourceLookup
	PeerLookup  PeerResourceLookup
	Audit       AuditSink
	Client      *http.Client
}

// NewRouter constructs a Router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Cache == nil {
		cfg.Cache = NewInMemoryRouteCache()
	}
	return &Router{
		nodes:       cfg.Nodes,
		cache:       cfg.Cache,
		localLookup: cfg.LocalLookup,
		peerLookup:  cfg.PeerLookup,
		client:      cfg.Client,
		audit:       cfg.Audit,
		breakers:    make(map[string]*breaker.Breaker),
		selfNodeID:  cfg.SelfNodeID,
	}
}

func (r *Router) breakerFor(nodeID string) *breaker.Breaker {
	r.breakersMu.Lock()
	defer r.breakersMu.Unlock()
	b, ok := r.breakers[nodeID]
	if !ok {
		b = breaker.New(breaker.Config{Name: "federation:" + nodeID})
		r.breakers[nodeID] = b
	}
	return b
}

// FindRoute resolves the best route to a resource, consulting the local
// cache before fanning out to peers.
func (r *Router) FindRoute(ctx context.Context, resourceID, preferredNode string, includeUnhealthy bool) (model.RouteEntry, error) {
	if r.localLookup != nil {
		if res, ok := r.localLookup(resourceID); ok {
			return model.RouteEntry{
				ResourceID:   res.ID,
				NodeID:       r.selfNodeID,
				Endpoint:     res.Endpoint,
				LastVerified: time.Now(),
				HealthStatus: model.HealthOnline,
				LatencyMS:    0,
			}, nil
		}
	}

	if cached, ok := r.cache.Get(resourceID); ok {
		if preferredNode == "" || cached.NodeID == preferredNode {
			return cached, nil
		}
	}

	var candidates []model.RouteEntry
	for _, node := range r.nodes.All() {
		if !node.Enabled {
			continue
		}
		b := r.breakerFor(node.NodeID)
		if !includeUnhealthy && b.State() == breaker.Open {
			continue
		}
		entry, found, err := r.peerLookup(ctx, node, resourceID)
		if err != nil || !found {
			continue
		}
		candidates = append(candidates, entry)
	}

	if len(candidates) == 0 {
		return model.RouteEntry{}, ErrRouteNotFound
	}

	if preferredNode != "" {
		for _, c := range candidates {
			if c.NodeID == preferredNode {
				r.cache.Put(c)
				return c, nil
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].LatencyMS < candidates[j].LatencyMS })
	best := candidates[0]
	r.cache.Put(best)
	return best, nil
}

// InvokeFederated dispatches an invocation to a trusted peer node.
func (r *Router) InvokeFederated(ctx context.Context, req FederatedResourceRequest) (model.InvocationResult, error) {
	node, ok := r.nodes.Get(req.NodeID)
	if !ok {
		return model.InvocationResult{}, ErrNodeNotFound
	}
	if !node.Enabled {
		return model.InvocationResult{}, ErrNodeDisabled
	}
	b := r.breakerFor(req.NodeID)

	correlationID := uuid.NewString()
	start := time.Now()

	var result model.InvocationResult
	callErr := b.Call(ctx, func(ctx context.Context) error {
		var err error
		result, err = r.postInvoke(ctx, node, req, correlationID)
		return err
	})

	event := model.FederatedAuditEvent{
		AuditEvent: model.AuditEvent{
			ID:           uuid.NewString(),
			Timestamp:    time.Now(),
			EventType:    "federation.invoke",
			PrincipalID:  req.Principal.ID,
			ResourceID:   req.ResourceID,
			CapabilityID: req.CapabilityID,
			SourceNode:   r.selfNodeID,
			TargetNode:   req.NodeID,
			DurationMS:   time.Since(start).Milliseconds(),
		},
		CorrelationID: correlationID,
		SourceNodeID:  r.selfNodeID,
		TargetNodeID:  req.NodeID,
	}
	if callErr != nil {
		event.Severity = model.SeverityHigh
		event.Decision = callErr.Error()
	} else {
		event.Severity = model.SeverityLow
		event.Decision = "success"
	}
	if r.audit != nil {
		_ = r.audit.EmitFederated(ctx, event)
	}

	if callErr != nil {
		return model.InvocationResult{}, callErr
	}
	return result, nil
}

func (r *Router) postInvoke(ctx context.Context, node model.FederationNode, req FederatedResourceRequest, correlationID string) (model.InvocationResult, error) {
	payload := map[string]any{
		"source_node_id": r.selfNodeID,
		"correlation_id":  correlationID,
		"resource_id":     req.ResourceID,
		"capability_id":   req.CapabilityID,
		"principal":       req.Principal,
		"arguments":       req.Arguments,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return model.InvocationResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, node.Endpoint+"/federation/invoke", bytes.NewReader(body))
	if err != nil {
		return model.InvocationResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return model.InvocationResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.InvocationResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return model.InvocationResult{}, fmt.Errorf("federation: peer %q returned status %d", node.NodeID, resp.StatusCode)
	}

	var result model.InvocationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return model.InvocationResult{}, err
	}
	return result, nil
}

// CheckNodeHealth GETs /health on node with a short timeout, per the
// §4.12's check_node_health.
func (r *Router) CheckNodeHealth(ctx context.Context, node model.FederationNode) model.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.Endpoint+"/health", nil)
	if err != nil {
		return model.HealthOffline
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return model.HealthOffline
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return model.HealthOnline
	case resp.StatusCode >= 500:
		return model.HealthDegraded
	default:
		return model.HealthOffline
	}
}

// CorrelateAuditEvents returns federated audit events matching the query.
func (r *Router) CorrelateAuditEvents(ctx context.Context, q AuditCorrelationQuery) ([]model.FederatedAuditEvent, error) {
	if r.audit == nil {
		return nil, nil
	}
	return r.audit.QueryFederated(ctx, q)
}
