// Package observability provides gateway-specific instrumentation helpers:
// semantic-convention attribute keys for the invocation data-plane, plus
// thin span helpers used by every component that emits a trace event.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Gateway-specific semantic convention attributes.
var (
	// Principal attributes
	AttrPrincipalID    = attribute.Key("govern.principal.id")
	AttrPrincipalKind  = attribute.Key("govern.principal.kind")
	AttrPrincipalTrust = attribute.Key("govern.principal.trust_level")

	// Resource/capability attributes
	AttrResourceID   = attribute.Key("govern.resource.id")
	AttrCapabilityID = attribute.Key("govern.capability.id")
	AttrSensitivity  = attribute.Key("govern.sensitivity")
	AttrInvocationID = attribute.Key("govern.invocation.id")
	AttrDurationMs   = attribute.Key("govern.invocation.duration_ms")

	// Policy attributes
	AttrPolicyAction  = attribute.Key("govern.policy.action")
	AttrPolicyAllow   = attribute.Key("govern.policy.allow")
	AttrPolicyReason  = attribute.Key("govern.policy.reason")
	AttrPolicyLatency = attribute.Key("govern.policy.latency_ms")

	// Federation attributes
	AttrCorrelationID = attribute.Key("govern.federation.correlation_id")
	AttrSourceNode    = attribute.Key("govern.federation.source_node")
	AttrTargetNode    = attribute.Key("govern.federation.target_node")

	// Secret-scan attributes
	AttrScanPattern = attribute.Key("govern.secretscan.pattern")
	AttrScanPath    = attribute.Key("govern.secretscan.path")
)

// InvocationOperation creates attributes for one adapter invocation.
func InvocationOperation(resourceID, capabilityID, invocationID string, durationMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrResourceID.String(resourceID),
		AttrCapabilityID.String(capabilityID),
		AttrInvocationID.String(invocationID),
		AttrDurationMs.Float64(durationMs),
	}
}

// PrincipalAttributes creates attributes identifying the requesting principal.
func PrincipalAttributes(principalID, kind, trustLevel string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPrincipalID.String(principalID),
		AttrPrincipalKind.String(kind),
		AttrPrincipalTrust.String(trustLevel),
	}
}

// PolicyOperation creates attributes for a policy evaluation.
func PolicyOperation(action string, allow bool, reason string, latencyMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPolicyAction.String(action),
		AttrPolicyAllow.Bool(allow),
		AttrPolicyReason.String(reason),
		AttrPolicyLatency.Float64(latencyMs),
	}
}

// FederationOperation creates attributes for a cross-node invocation.
func FederationOperation(correlationID, sourceNode, targetNode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCorrelationID.String(correlationID),
		AttrSourceNode.String(sourceNode),
		AttrTargetNode.String(targetNode),
	}
}

// SecretScanOperation creates attributes for a redaction finding.
func SecretScanOperation(pattern, path string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrScanPattern.String(pattern),
		AttrScanPath.String(path),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
