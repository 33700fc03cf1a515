// Package policy implements the policy client: an external
// HTTP policy-engine RPC with decision caching and strict fail-closed
// semantics.
//
// Grounded on github.com/brevanhowe/govern-core's pkg/pdp/pdp.go (the
// PolicyDecisionPoint interface and JCS+SHA-256 decision hashing) and
// pkg/pdp/opa.go (OPAPDP, whose every error path returns a deny decision
// rather than propagating a Go error — the defining fail-closed pattern
// this package generalizes).
package policy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/brevanhowe/govern-core/pkg/model"
)

// AuthorizationInput is the canonical policy-evaluation request.
type AuthorizationInput struct {
	Principal model.Principal `json:"principal"`
	Action    string          `json:"action"`
	Resource  string          `json:"resource"`
	Tool      string          `json:"tool,omitempty"`
	Context   map[string]any  `json:"context,omitempty"`
}

// HashKey returns a deterministic cache key for this input, using JSON
// Canonicalization Scheme (RFC 8785) + SHA-256, matching the
// ComputeDecisionHash pattern.
func (in AuthorizationInput) HashKey() (string, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("policy: marshal input: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("policy: canonicalize input: %w", err)
	}
	sum := sha256.Sum256(canon)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Config points at the external policy endpoint.
type Config struct {
	URL        string
	PolicyPath string // default "/v1/data/gateway/authz"
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.PolicyPath == "" {
		c.PolicyPath = "/v1/data/gateway/authz"
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second // policy eval <= 1s default
	}
	return c
}

type opaRequest struct {
	Input AuthorizationInput `json:"input"`
}

type opaResult struct {
	Allow              bool           `json:"allow"`
	Reason             string         `json:"reason"`
	FilteredParameters map[string]any `json:"filtered_parameters,omitempty"`
	PoliciesEvaluated  []string       `json:"policies_evaluated,omitempty"`
	Violations         []string       `json:"violations,omitempty"`
}

type opaResponse struct {
	Result *opaResult `json:"result"`
}

// Client evaluates AuthorizationInput against an external OPA-style HTTP
// endpoint, caching decisions by sensitivity-derived TTL. Every failure path
// — marshal error, request construction failure, network failure, non-200,
// unmarshal failure, nil result — returns a deny decision, never a Go
// error, so callers can never accidentally fail open.
type Client struct {
	cfg    Config
	client *http.Client
	cache  *decisionCache
}

// New constructs a fail-closed policy Client.
func New(cfg Config, cache *decisionCache) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
	}
}

// Evaluate returns an AuthorizationDecision for in, honoring the cache and
// applying sensitivity-derived TTL on a cache miss. sensitivity determines
// the TTL for newly cached entries (low->30m, medium->5m,
// high->1m, critical->0/no-cache).
func (c *Client) Evaluate(ctx context.Context, in AuthorizationInput, sensitivity model.Sensitivity) model.AuthorizationDecision {
	key, hashErr := in.HashKey()
	if hashErr == nil && c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			return cached
		}
	}

	decision := c.evaluateRemote(ctx, in)

	if hashErr == nil && c.cache != nil {
		ttl := cacheTTL(sensitivity)
		if ttl > 0 {
			c.cache.Set(key, decision, ttl)
		}
	}
	return decision
}

func cacheTTL(s model.Sensitivity) time.Duration {
	switch s {
	case model.SensitivityLow:
		return 30 * time.Minute
	case model.SensitivityMedium:
		return 5 * time.Minute
	case model.SensitivityHigh:
		return time.Minute
	case model.SensitivityCritical:
		return 0
	default:
		return 5 * time.Minute
	}
}

func (c *Client) evaluateRemote(ctx context.Context, in AuthorizationInput) model.AuthorizationDecision {
	payload, err := json.Marshal(opaRequest{Input: in})
	if err != nil {
		return deny("policy evaluation error")
	}

	url := c.cfg.URL + c.cfg.PolicyPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return deny("policy evaluation error")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Includes context.DeadlineExceeded: timeouts fail closed too.
		return deny("policy evaluation error")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return deny("policy evaluation error")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return deny("policy evaluation error")
	}

	var parsed opaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return deny("policy evaluation error")
	}
	if parsed.Result == nil {
		return deny("policy evaluation error")
	}

	reason := parsed.Result.Reason
	if reason == "" {
		if parsed.Result.Allow {
			reason = "allow"
		} else {
			reason = "policy_denied"
		}
	}

	return model.AuthorizationDecision{
		Allow:              parsed.Result.Allow,
		Reason:             reason,
		FilteredParameters: parsed.Result.FilteredParameters,
		PoliciesEvaluated:  parsed.Result.PoliciesEvaluated,
		Violations:         parsed.Result.Violations,
	}
}

// EvaluateBatch evaluates every input independently; one failing item never
// poisons the others.
func (c *Client) EvaluateBatch(ctx context.Context, inputs []AuthorizationInput, sensitivities []model.Sensitivity) []model.AuthorizationDecision {
	out := make([]model.AuthorizationDecision, len(inputs))
	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i] = c.Evaluate(ctx, inputs[i], sensitivities[i])
		}(i)
	}
	wg.Wait()
	return out
}

func deny(reason string) model.AuthorizationDecision {
	return model.AuthorizationDecision{Allow: false, Reason: reason}
}
