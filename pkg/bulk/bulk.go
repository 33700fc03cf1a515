// Package bulk implements best-effort and transactional batch invocation
// with per-item policy evaluation. Per-item policy evaluation reuses
// pkg/policy.Client.EvaluateBatch (fans out per item without one failure
// poisoning the others), and invocation itself reuses
// pkg/pipeline.Pipeline's exported Authenticate/LookupCapability/
// InvokeAuthorized hooks rather than re-implementing the auth/invoke/scan/
// audit steps a second time.
package bulk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brevanhowe/govern-core/pkg/model"
	"github.com/brevanhowe/govern-core/pkg/pipeline"
	"github.com/brevanhowe/govern-core/pkg/policy"
)

// Mode selects best-effort or transactional batch semantics.
type Mode string

const (
	// BestEffort evaluates policy per item and attempts each allowed item
	// independently; successes and failures are both collected.
	BestEffort Mode = "best_effort"
	// Transactional treats the whole batch as a single unit: any denied
	// item or any invocation failure fails every item in the batch.
	Transactional Mode = "transactional"
)

// ItemResult is one batch member's outcome.
type ItemResult struct {
	Request model.InvocationRequest `json:"request"`
	Result  model.InvocationResult  `json:"result,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// Result accumulates per-item outcomes across a batch, grounded on the
// Python reference's BulkOperationResult (total/succeeded/failed,
// success_count/failure_count properties, to_dict export).
type Result struct {
	mu        sync.Mutex
	Total     int
	Succeeded []ItemResult
	Failed    []ItemResult
}

// NewResult constructs an empty Result for a batch of size total.
func NewResult(total int) *Result {
	return &Result{Total: total}
}

// AddSuccess records a successful item outcome.
func (r *Result) AddSuccess(item ItemResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Succeeded = append(r.Succeeded, item)
}

// AddFailure records a failed item outcome.
func (r *Result) AddFailure(item ItemResult, reason string) {
	item.Error = reason
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed = append(r.Failed, item)
}

// SuccessCount is the number of items recorded as succeeded.
func (r *Result) SuccessCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Succeeded)
}

// FailureCount is the number of items recorded as failed.
func (r *Result) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Failed)
}

// ToMap renders the result in the canonical shape the original
// BulkOperationResult.to_dict() produces, for API-surface JSON encoding.
func (r *Result) ToMap() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{
		"total":           r.Total,
		"succeeded":       len(r.Succeeded),
		"failed":          len(r.Failed),
		"succeeded_items": r.Succeeded,
		"failed_items":    r.Failed,
	}
}

// Config wires the collaborators a batch run needs.
type Config struct {
	Pipeline *pipeline.Pipeline
	Policy   *policy.Client
}

// Executor runs a batch of InvocationRequests against the same pipeline a
// single /invoke call would use, with per-item policy evaluation batched
// into one policy.Client.EvaluateBatch round trip; a single failing item
// never poisons the others.
type Executor struct {
	cfg Config
}

// itemResolution is one item's capability/resource lookup outcome, computed
// once up front so both execution modes can reuse it without looking up
// twice.
type itemResolution struct {
	ok  bool
	cap model.Capability
	res model.Resource
	err string
}

// New constructs an Executor.
func New(cfg Config) *Executor {
	return &Executor{cfg: cfg}
}

// Execute authenticates creds once, resolves every item's capability/
// resource, evaluates policy for the whole batch in one call, and then
// invokes according to mode. A non-nil error means creds did not
// authenticate at all; per-item failures are always reported through the
// returned Result, never as a Go error.
func (e *Executor) Execute(ctx context.Context, creds pipeline.Credentials, items []model.InvocationRequest, mode Mode) (*Result, error) {
	result := NewResult(len(items))
	if len(items) == 0 {
		return result, nil
	}

	principal, err := e.cfg.Pipeline.Authenticate(ctx, creds)
	if err != nil {
		for _, req := range items {
			result.AddFailure(ItemResult{Request: req}, fmt.Sprintf("authentication failed: %v", err))
		}
		return result, nil
	}

	resolvedItems := make([]itemResolution, len(items))
	inputs := make([]policy.AuthorizationInput, len(items))
	sensitivities := make([]model.Sensitivity, len(items))

	for i, req := range items {
		req.PrincipalID = principal.ID
		items[i] = req

		cap, res, lookupErr := e.cfg.Pipeline.LookupCapability(req.CapabilityID)
		if lookupErr != nil {
			resolvedItems[i] = itemResolution{err: lookupErr.Error()}
			continue
		}
		resolvedItems[i] = itemResolution{ok: true, cap: cap, res: res}
		inputs[i] = policy.AuthorizationInput{
			Principal: principal,
			Action:    "invoke",
			Resource:  res.ID,
			Tool:      cap.Name,
			Context:   req.Context,
		}
		sensitivities[i] = cap.Sensitivity
	}

	decisions := e.cfg.Policy.EvaluateBatch(ctx, inputs, sensitivities)

	switch mode {
	case Transactional:
		e.runTransactional(ctx, principal, creds, items, resolvedItems, decisions, result)
	default:
		e.runBestEffort(ctx, principal, creds, items, resolvedItems, decisions, result)
	}

	return result, nil
}

func (e *Executor) runBestEffort(ctx context.Context, principal model.Principal, creds pipeline.Credentials,
	items []model.InvocationRequest, resolvedItems []itemResolution,
	decisions []model.AuthorizationDecision, result *Result) {

	var wg sync.WaitGroup
	for i := range items {
		if !resolvedItems[i].ok {
			result.AddFailure(ItemResult{Request: items[i]}, resolvedItems[i].err)
			continue
		}
		if !decisions[i].Allow {
			result.AddFailure(ItemResult{Request: items[i]}, decisions[i].Reason)
			continue
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			outcome, err := e.cfg.Pipeline.InvokeAuthorized(ctx, principal, resolvedItems[i].cap, resolvedItems[i].res,
				items[i], creds, decisions[i], start)
			if err != nil {
				result.AddFailure(ItemResult{Request: items[i]}, err.Error())
				return
			}
			if !outcome.Result.Success {
				result.AddFailure(ItemResult{Request: items[i], Result: outcome.Result}, outcome.Result.Error)
				return
			}
			result.AddSuccess(ItemResult{Request: items[i], Result: outcome.Result})
		}(i)
	}
	wg.Wait()
}

func (e *Executor) runTransactional(ctx context.Context, principal model.Principal, creds pipeline.Credentials,
	items []model.InvocationRequest, resolvedItems []itemResolution,
	decisions []model.AuthorizationDecision, result *Result) {

	// All-or-nothing: any lookup failure or policy denial fails the whole
	// batch before a single adapter call is attempted, matching the
	// reference's "policy denied -> all fail due to transactional nature".
	for i := range items {
		if !resolvedItems[i].ok {
			for _, req := range items {
				result.AddFailure(ItemResult{Request: req}, resolvedItems[i].err)
			}
			return
		}
		if !decisions[i].Allow {
			for _, req := range items {
				result.AddFailure(ItemResult{Request: req}, decisions[i].Reason)
			}
			return
		}
	}

	outcomes := make([]pipeline.Outcome, len(items))
	errs := make([]error, len(items))
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			outcomes[i], errs[i] = e.cfg.Pipeline.InvokeAuthorized(ctx, principal, resolvedItems[i].cap, resolvedItems[i].res,
				items[i], creds, decisions[i], start)
		}(i)
	}
	wg.Wait()

	// A single failure rolls back the whole batch: every item reports
	// failed, even the ones whose own invocation succeeded, matching the
	// reference's mock_db.rollback assertion.
	for i := range items {
		if errs[i] != nil || !outcomes[i].Result.Success {
			reason := "transaction rolled back"
			if errs[i] != nil {
				reason = fmt.Sprintf("transaction rolled back: %v", errs[i])
			} else if outcomes[i].Result.Error != "" {
				reason = fmt.Sprintf("transaction rolled back: %s", outcomes[i].Result.Error)
			}
			for _, req := range items {
				result.AddFailure(ItemResult{Request: req}, reason)
			}
			return
		}
	}

	for i := range items {
		result.AddSuccess(ItemResult{Request: items[i], Result: outcomes[i].Result})
	}
}
