// Package pipeline's Pipeline type implements the nine-step invocation
// flow: authenticate, screen, authorize, filter, invoke, sanitize, audit,
// forward to SIEM, return.
//
// Grounded on github.com/brevanhowe/govern-core's pkg/adapter.Guard.Run
// (which already composes rate-limit -> breaker -> retry into a single
// never-panics InvocationResult) for the "convert any failure into a typed
// result, never an escaping error" discipline this package applies one
// level up, across the whole request lifecycle rather than one adapter
// call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brevanhowe/govern-core/pkg/adapter"
	"github.com/brevanhowe/govern-core/pkg/apikey"
	"github.com/brevanhowe/govern-core/pkg/audit"
	"github.com/brevanhowe/govern-core/pkg/firewall"
	"github.com/brevanhowe/govern-core/pkg/model"
	"github.com/brevanhowe/govern-core/pkg/policy"
	"github.com/brevanhowe/govern-core/pkg/resource"
	"github.com/brevanhowe/govern-core/pkg/secretscan"
	"github.com/brevanhowe/govern-core/pkg/session"
)

// State is one node of the per-invocation state machine:
// "Received -> Authenticated -> Screened -> Authorized -> Invoking ->
// Scanned -> Audited -> Returned", with terminal error branches.
type State string

const (
	StateReceived       State = "Received"
	StateAuthenticated  State = "Authenticated"
	StateScreened       State = "Screened"
	StateAuthorized     State = "Authorized"
	StateInvoking       State = "Invoking"
	StateScanned        State = "Scanned"
	StateAudited        State = "Audited"
	StateReturned       State = "Returned"
	StateRejectedAuth   State = "RejectedAuth"
	StateRejectedPolicy State = "RejectedPolicy"
	StateInvocationFail State = "InvocationFailed"
)

var (
	ErrNoCredentials  = errors.New("pipeline: no session or api key credential supplied")
	ErrResourceLookup = errors.New("pipeline: resource or capability not found")
	ErrNoAdapter      = errors.New("pipeline: no adapter registered for resource protocol")
)

// Credentials is the authenticate step's input: exactly one of SessionID or
// APIKey should be set.
type Credentials struct {
	SessionID string
	APIKey    string
	IP        string
	UserAgent string
}

// PrincipalLookup resolves a principal ID (from a validated session or API
// key) to the full model.Principal the rest of the pipeline authorizes and
// audits against. An external collaborator: the principal
// directory as outside this component's scope.
type PrincipalLookup func(ctx context.Context, principalID string) (model.Principal, error)

// Config wires every collaborator the pipeline orchestrates.
type Config struct {
	Sessions     *session.Manager // optional
	APIKeys      *apikey.Validator
	RequiredScope string // scope required on an API-key credential, e.g. "invoke"
	Principals   PrincipalLookup
	Screen       *InjectionScreen
	Policy       *policy.Client
	Registry     *resource.Registry
	Schema       *firewall.Validator
	Scanner      *secretscan.Scanner
	Audit        *audit.Emitter
}

// Pipeline runs the nine-step invocation flow.
type Pipeline struct {
	cfg Config
}

// New constructs a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Screen == nil {
		cfg.Screen = NewInjectionScreen(ScreenOff, 0.5)
	}
	return &Pipeline{cfg: cfg}
}

// Outcome is everything the caller and tests need from one Invoke: the
// final result, the state the machine terminated in, and the audit event
// that was durably persisted before Invoke returned (per the
// ordering guarantee).
type Outcome struct {
	Result     model.InvocationResult
	State      State
	AuditEvent model.AuditEvent
}

// Invoke runs one invocation through the full pipeline. It never returns a
// Go error for a failure that the caller should see as a normal denial or
// adapter failure: those are communicated through Outcome.Result and
// Outcome.State. A non-nil error return means the pipeline itself could not
// complete (e.g. the audit store is unreachable) and is always preceded by
// a best-effort attempt to still produce a critical-severity audit event.
func (p *Pipeline) Invoke(ctx context.Context, creds Credentials, req model.InvocationRequest) (Outcome, error) {
	start := time.Now()
	state := StateReceived

	principal, err := p.authenticate(ctx, creds)
	if err != nil {
		return p.terminal(ctx, state, StateRejectedAuth, model.Principal{}, req, start, err.Error(), nil, nil)
	}
	req.PrincipalID = principal.ID
	state = StateAuthenticated

	var screenFindings []ScreenFinding
	if p.cfg.Screen.Mode != ScreenOff {
		screenFindings = p.cfg.Screen.Scan(req.Arguments)
		if len(screenFindings) > 0 && p.cfg.Screen.Mode == ScreenBlock {
			reason := "prompt injection detected: " + Summarize(screenFindings)
			return p.terminal(ctx, state, StateRejectedPolicy, principal, req, start, reason, screenFindings, nil)
		}
	}
	state = StateScreened

	cap, res, err := p.lookupCapability(req.CapabilityID)
	if err != nil {
		return p.terminal(ctx, state, StateRejectedPolicy, principal, req, start, err.Error(), screenFindings, nil)
	}

	decision := p.cfg.Policy.Evaluate(ctx, policy.AuthorizationInput{
		Principal: principal,
		Action:    "invoke",
		Resource:  res.ID,
		Tool:      cap.Name,
		Context:   req.Context,
	}, cap.Sensitivity)
	if !decision.Allow {
		return p.terminal(ctx, state, StateRejectedPolicy, principal, req, start, decision.Reason, screenFindings, nil)
	}
	state = StateAuthorized

	return p.invokeAuthorized(ctx, principal, cap, res, req, creds, decision, start, state, screenFindings)
}

// Authenticate resolves creds to a model.Principal. Exported so callers
// that need to authenticate once and then drive several invocations
// themselves (pkg/bulk's best-effort mode) don't re-authenticate per item.
func (p *Pipeline) Authenticate(ctx context.Context, creds Credentials) (model.Principal, error) {
	return p.authenticate(ctx, creds)
}

// LookupCapability exposes the capability/resource resolution bulk
// operations need before building a batch policy.AuthorizationInput list.
func (p *Pipeline) LookupCapability(capabilityID string) (model.Capability, model.Resource, error) {
	return p.lookupCapability(capabilityID)
}

// InvokeAuthorized runs the parameter-filter/schema/invoke/sanitize/audit
// portion of the pipeline for a request whose AuthorizationDecision the
// caller already obtained — e.g. via a single policy.Client.EvaluateBatch
// call across an entire bulk batch rather than one Evaluate per item.
func (p *Pipeline) InvokeAuthorized(ctx context.Context, principal model.Principal, cap model.Capability, res model.Resource,
	req model.InvocationRequest, creds Credentials, decision model.AuthorizationDecision, start time.Time) (Outcome, error) {
	return p.invokeAuthorized(ctx, principal, cap, res, req, creds, decision, start, StateAuthorized, nil)
}

func (p *Pipeline) invokeAuthorized(ctx context.Context, principal model.Principal, cap model.Capability, res model.Resource,
	req model.InvocationRequest, creds Credentials, decision model.AuthorizationDecision, start time.Time,
	state State, screenFindings []ScreenFinding) (Outcome, error) {

	if decision.FilteredParameters != nil {
		req.Arguments = decision.FilteredParameters
	}
	if p.cfg.Schema != nil {
		if err := p.cfg.Schema.Validate(cap.ID, cap.InputSchema, req.Arguments); err != nil {
			return p.terminal(ctx, state, StateRejectedPolicy, principal, req, start, err.Error(), screenFindings, nil)
		}
	}

	a, ok := p.adapterFor(res.Protocol)
	if !ok {
		return p.terminal(ctx, state, StateInvocationFail, principal, req, start, ErrNoAdapter.Error(), screenFindings, nil)
	}
	state = StateInvoking

	result := a.Invoke(ctx, req)
	result.DurationMS = time.Since(start).Milliseconds()

	var secretFindings []secretscan.Finding
	if p.cfg.Scanner != nil && result.Result != nil {
		secretFindings = p.cfg.Scanner.Scan(result.Result)
		if len(secretFindings) > 0 && sensitivityAtLeast(cap.Sensitivity, model.SensitivityMedium) {
			result.Result = p.cfg.Scanner.Redact(result.Result)
		}
	}
	state = StateScanned

	severity := deriveSeverity(decision, cap.Sensitivity, screenFindings, secretFindings, result.Success)
	event := model.AuditEvent{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		EventType:    "invocation.completed",
		Severity:     severity,
		PrincipalID:  principal.ID,
		ResourceID:   res.ID,
		CapabilityID: cap.ID,
		Decision:     decision.Reason,
		IP:           creds.IP,
		UserAgent:    creds.UserAgent,
		DurationMS:   result.DurationMS,
		Details: map[string]any{
			"success":            result.Success,
			"injection_findings": len(screenFindings),
			"secret_findings":    len(secretFindings),
		},
	}

	persisted, auditErr := p.cfg.Audit.Emit(ctx, event)
	if auditErr != nil {
		return Outcome{Result: result, State: StateAudited}, fmt.Errorf("pipeline: audit emit failed: %w", auditErr)
	}
	state = StateAudited

	if !result.Success {
		state = StateInvocationFail
	} else {
		state = StateReturned
	}

	return Outcome{Result: result, State: state, AuditEvent: persisted}, nil
}

func (p *Pipeline) authenticate(ctx context.Context, creds Credentials) (model.Principal, error) {
	switch {
	case creds.SessionID != "" && p.cfg.Sessions != nil:
		sess, err := p.cfg.Sessions.Validate(ctx, creds.SessionID)
		if err != nil {
			return model.Principal{}, err
		}
		return p.resolvePrincipal(ctx, sess.PrincipalID)

	case creds.APIKey != "" && p.cfg.APIKeys != nil:
		key, err := p.cfg.APIKeys.Validate(ctx, creds.APIKey, p.cfg.RequiredScope, creds.IP)
		if err != nil {
			return model.Principal{}, err
		}
		return p.resolvePrincipal(ctx, key.PrincipalID)

	default:
		return model.Principal{}, ErrNoCredentials
	}
}

func (p *Pipeline) resolvePrincipal(ctx context.Context, principalID string) (model.Principal, error) {
	if p.cfg.Principals == nil {
		return model.Principal{ID: principalID}, nil
	}
	return p.cfg.Principals(ctx, principalID)
}

func (p *Pipeline) lookupCapability(capabilityID string) (model.Capability, model.Resource, error) {
	cap, err := p.cfg.Registry.Capability(capabilityID)
	if err != nil {
		return model.Capability{}, model.Resource{}, fmt.Errorf("%w: %v", ErrResourceLookup, err)
	}
	res, err := p.cfg.Registry.Resource(cap.ResourceID)
	if err != nil {
		return model.Capability{}, model.Resource{}, fmt.Errorf("%w: %v", ErrResourceLookup, err)
	}
	return cap, res, nil
}

func (p *Pipeline) adapterFor(protocol model.Protocol) (adapter.Adapter, bool) {
	return p.cfg.Registry.AdapterFor(protocol)
}

// terminal builds and persists the audit event required for every error
// branch (every terminal branch must produce an audit
// event"), then returns the matching failure Outcome.
func (p *Pipeline) terminal(ctx context.Context, from, to State, principal model.Principal, req model.InvocationRequest,
	start time.Time, reason string, screenFindings []ScreenFinding, secretFindings []secretscan.Finding) (Outcome, error) {

	severity := model.SeverityMedium
	if to == StateRejectedAuth {
		severity = model.SeverityHigh
	}

	event := model.AuditEvent{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		EventType:    string(to),
		Severity:     severity,
		PrincipalID:  principal.ID,
		CapabilityID: req.CapabilityID,
		Decision:     reason,
		DurationMS:   time.Since(start).Milliseconds(),
		Details: map[string]any{
			"injection_findings": len(screenFindings),
			"secret_findings":    len(secretFindings),
		},
	}

	result := model.InvocationResult{Success: false, Error: reason, ErrorType: string(to), DurationMS: event.DurationMS}

	if p.cfg.Audit == nil {
		return Outcome{Result: result, State: to, AuditEvent: event}, nil
	}
	persisted, err := p.cfg.Audit.Emit(ctx, event)
	if err != nil {
		return Outcome{Result: result, State: to}, fmt.Errorf("pipeline: audit emit failed: %w", err)
	}
	return Outcome{Result: result, State: to, AuditEvent: persisted}, nil
}

func deriveSeverity(decision model.AuthorizationDecision, sensitivity model.Sensitivity, screenFindings []ScreenFinding, secretFindings []secretscan.Finding, success bool) model.Severity {
	if !success {
		return model.SeverityHigh
	}
	if len(secretFindings) > 0 || sensitivityAtLeast(sensitivity, model.SensitivityCritical) {
		return model.SeverityCritical
	}
	if len(screenFindings) > 0 || sensitivityAtLeast(sensitivity, model.SensitivityHigh) {
		return model.SeverityHigh
	}
	if sensitivityAtLeast(sensitivity, model.SensitivityMedium) {
		return model.SeverityMedium
	}
	return model.SeverityLow
}

var sensitivityRank = map[model.Sensitivity]int{
	model.SensitivityLow:      0,
	model.SensitivityMedium:   1,
	model.SensitivityHigh:     2,
	model.SensitivityCritical: 3,
}

func sensitivityAtLeast(s, floor model.Sensitivity) bool {
	return sensitivityRank[s] >= sensitivityRank[floor]
}
