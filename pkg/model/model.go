// Package model holds the shared data types threaded through the gateway's
// invocation data-plane.
package model

import "time"

// PrincipalKind classifies who/what is making a request.
type PrincipalKind string

const (
	PrincipalUser    PrincipalKind = "user"
	PrincipalAgent   PrincipalKind = "agent"
	PrincipalService PrincipalKind = "service"
)

// TrustLevel is the principal's federation/authz trust posture.
type TrustLevel string

const (
	TrustUntrusted TrustLevel = "untrusted"
	TrustPending   TrustLevel = "pending"
	TrustTrusted   TrustLevel = "trusted"
	TrustRevoked   TrustLevel = "revoked"
)

// Principal is the authenticated identity making a request.
type Principal struct {
	ID         string        `json:"id"`
	Kind       PrincipalKind `json:"kind"`
	Email      string        `json:"email,omitempty"`
	Role       string        `json:"role"`
	Teams      []string      `json:"teams,omitempty"`
	TrustLevel TrustLevel    `json:"trust_level"`
}

// Sensitivity is an operator-assigned risk tier.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityMedium   Sensitivity = "medium"
	SensitivityHigh     Sensitivity = "high"
	SensitivityCritical Sensitivity = "critical"
)

// Protocol identifies the wire protocol a Resource speaks.
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
	ProtocolGRPC Protocol = "grpc"
	ProtocolMCP  Protocol = "mcp"
)

// Resource is a backend endpoint grouping related capabilities.
type Resource struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Protocol    Protocol          `json:"protocol"`
	Endpoint    string            `json:"endpoint"`
	Sensitivity Sensitivity       `json:"sensitivity"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Capability is an invokable operation exposed by a Resource.
type Capability struct {
	ID           string            `json:"id"`
	ResourceID   string            `json:"resource_id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	InputSchema  map[string]any    `json:"input_schema,omitempty"`
	OutputSchema map[string]any    `json:"output_schema,omitempty"`
	Sensitivity  Sensitivity       `json:"sensitivity"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	// APIVersionConstraint is a semver range (e.g. ">=1.2.0 <2.0.0") the
	// resolved adapter implementation must satisfy. Empty means any.
	APIVersionConstraint string `json:"api_version_constraint,omitempty"`
}

// InvocationRequest is the caller-supplied invocation.
type InvocationRequest struct {
	CapabilityID string         `json:"capability_id"`
	PrincipalID  string         `json:"principal_id"`
	Arguments    map[string]any `json:"arguments"`
	Context      map[string]any `json:"context,omitempty"`
}

// InvocationResult is a tagged-union result: exactly one of Success's
// payload fields or the Failure fields is meaningful, discriminated by
// Success, modeling a tagged variant over the two outcomes.
type InvocationResult struct {
	Success    bool           `json:"success"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorType  string         `json:"error_type,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// AuthorizationDecision is returned by the PolicyClient.
type AuthorizationDecision struct {
	Allow              bool              `json:"allow"`
	Reason             string            `json:"reason"`
	FilteredParameters map[string]any    `json:"filtered_parameters,omitempty"`
	PoliciesEvaluated  []string          `json:"policies_evaluated,omitempty"`
	Violations         []string          `json:"violations,omitempty"`
	CacheTTLSeconds    int               `json:"cache_ttl_seconds"`
	Details            map[string]string `json:"details,omitempty"`
}

// Severity drives audit routing and SIEM forwarding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AuditEvent is the canonical audit record shape.
type AuditEvent struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	EventType       string         `json:"event_type"`
	Severity        Severity       `json:"severity"`
	PrincipalID     string         `json:"principal_id"`
	PrincipalEmail  string         `json:"principal_email,omitempty"`
	ResourceID      string         `json:"resource_id,omitempty"`
	CapabilityID    string         `json:"capability_id,omitempty"`
	Decision        string         `json:"decision,omitempty"`
	CorrelationID   string         `json:"correlation_id,omitempty"`
	SourceNode      string         `json:"source_node,omitempty"`
	TargetNode      string         `json:"target_node,omitempty"`
	IP              string         `json:"ip,omitempty"`
	UserAgent       string         `json:"user_agent,omitempty"`
	RequestID       string         `json:"request_id,omitempty"`
	DurationMS      int64          `json:"duration_ms"`
	Details         map[string]any `json:"details,omitempty"`
	SIEMForwardedAt *time.Time     `json:"siem_forwarded_at,omitempty"`
}

// FederationNode is a trust-peered remote instance.
type FederationNode struct {
	NodeID           string            `json:"node_id"`
	Name             string            `json:"name"`
	Endpoint         string            `json:"endpoint"`
	TrustAnchorCert  string            `json:"trust_anchor_cert"` // PEM
	Enabled          bool              `json:"enabled"`
	RateLimitPerHour int               `json:"rate_limit_per_hour"`
	TrustedSince     time.Time         `json:"trusted_since"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// HealthStatus is a peer/route health classification.
type HealthStatus string

const (
	HealthOnline   HealthStatus = "online"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
)

// RouteEntry caches where a resource can be reached.
type RouteEntry struct {
	ResourceID   string       `json:"resource_id"`
	NodeID       string       `json:"node_id"`
	Endpoint     string       `json:"endpoint"`
	LastVerified time.Time    `json:"last_verified"`
	HealthStatus HealthStatus `json:"health_status"`
	LatencyMS    int64        `json:"latency_ms"`
}

// FederatedAuditEvent extends AuditEvent with mandatory cross-node fields.
type FederatedAuditEvent struct {
	AuditEvent
	CorrelationID string `json:"correlation_id"`
	SourceNodeID  string `json:"source_node_id"`
	TargetNodeID  string `json:"target_node_id"`
}
