package bulk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brevanhowe/govern-core/pkg/adapter"
	"github.com/brevanhowe/govern-core/pkg/audit"
	"github.com/brevanhowe/govern-core/pkg/firewall"
	"github.com/brevanhowe/govern-core/pkg/model"
	"github.com/brevanhowe/govern-core/pkg/pipeline"
	"github.com/brevanhowe/govern-core/pkg/policy"
	"github.com/brevanhowe/govern-core/pkg/resource"
	"github.com/brevanhowe/govern-core/pkg/secretscan"
	"github.com/brevanhowe/govern-core/pkg/session"
)

// stubAdapter fails invocation for any request whose "q" argument is "fail".
type stubAdapter struct{}

func (a *stubAdapter) Discover(ctx context.Context, config map[string]any) ([]model.Resource, error) {
	return []model.Resource{{ID: "res-1", Protocol: model.ProtocolHTTP}}, nil
}
func (a *stubAdapter) Capabilities(ctx context.Context, r model.Resource) ([]model.Capability, error) {
	return []model.Capability{{ID: "cap-1", ResourceID: "res-1", Name: "search", Sensitivity: model.SensitivityLow}}, nil
}
func (a *stubAdapter) Validate(ctx context.Context, req model.InvocationRequest) error { return nil }
func (a *stubAdapter) Invoke(ctx context.Context, req model.InvocationRequest) model.InvocationResult {
	if req.Arguments["q"] == "fail" {
		return model.InvocationResult{Success: false, Error: "boom", ErrorType: "InvocationFailed"}
	}
	return model.InvocationResult{Success: true, Result: map[string]any{"q": req.Arguments["q"]}}
}
func (a *stubAdapter) Stream(ctx context.Context, req model.InvocationRequest) (<-chan adapter.StreamChunk, error) {
	return nil, nil
}
func (a *stubAdapter) Health(ctx context.Context, r model.Resource) bool { return true }
func (a *stubAdapter) OnResourceRegistered(ctx context.Context, r model.Resource) error {
	return nil
}
func (a *stubAdapter) OnResourceUnregistered(ctx context.Context, r model.Resource) error {
	return nil
}

func newFixture(t *testing.T, denyArg string) (*Executor, *session.Manager) {
	t.Helper()

	policySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input policy.AuthorizationInput `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		allow := true
		reason := "ok"
		if denyArg != "" {
			if q, _ := body.Input.Context["q"].(string); q == denyArg {
				allow = false
				reason = "denied"
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"allow": allow, "reason": reason},
		})
	}))
	t.Cleanup(policySrv.Close)

	pc := policy.New(policy.Config{URL: policySrv.URL}, policy.NewInMemoryDecisionCache())

	reg := resource.New()
	reg.RegisterAdapter(model.ProtocolHTTP, &stubAdapter{})
	require.NoError(t, reg.Sync(context.Background(), model.ProtocolHTTP, nil))

	sessions := session.NewManager(session.NewInMemoryStore())

	p := pipeline.New(pipeline.Config{
		Sessions: sessions,
		Principals: func(ctx context.Context, id string) (model.Principal, error) {
			return model.Principal{ID: id, Kind: model.PrincipalUser}, nil
		},
		Policy:   pc,
		Registry: reg,
		Schema:   firewall.New(),
		Scanner:  secretscan.New(secretscan.DefaultPatterns),
		Audit:    audit.NewEmitter(audit.NewInMemoryStore(), audit.DefaultSeverityRoute()),
	})

	return New(Config{Pipeline: p, Policy: pc}), sessions
}

func itemsWith(qs ...string) []model.InvocationRequest {
	out := make([]model.InvocationRequest, len(qs))
	for i, q := range qs {
		out[i] = model.InvocationRequest{
			CapabilityID: "cap-1",
			Arguments:    map[string]any{"q": q},
			Context:      map[string]any{"q": q},
		}
	}
	return out
}

func TestExecute_BestEffort_AllSuccess(t *testing.T) {
	e, sessions := newFixture(t, "")
	_, sid, err := sessions.Create(context.Background(), "principal-1", "", "", time.Hour, false)
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), pipeline.Credentials{SessionID: sid}, itemsWith("a", "b", "c"), BestEffort)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.SuccessCount())
	assert.Equal(t, 0, res.FailureCount())
}

func TestExecute_BestEffort_PartialPolicyDenial(t *testing.T) {
	e, sessions := newFixture(t, "b")
	_, sid, err := sessions.Create(context.Background(), "principal-1", "", "", time.Hour, false)
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), pipeline.Credentials{SessionID: sid}, itemsWith("a", "b", "c"), BestEffort)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.SuccessCount())
	assert.Equal(t, 1, res.FailureCount())
	assert.Contains(t, res.Failed[0].Error, "denied")
}

func TestExecute_BestEffort_PartialInvocationFailure(t *testing.T) {
	e, sessions := newFixture(t, "")
	_, sid, err := sessions.Create(context.Background(), "principal-1", "", "", time.Hour, false)
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), pipeline.Credentials{SessionID: sid}, itemsWith("a", "fail"), BestEffort)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.SuccessCount())
	assert.Equal(t, 1, res.FailureCount())
}

func TestExecute_Transactional_AllSucceed(t *testing.T) {
	e, sessions := newFixture(t, "")
	_, sid, err := sessions.Create(context.Background(), "principal-1", "", "", time.Hour, false)
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), pipeline.Credentials{SessionID: sid}, itemsWith("a", "b"), Transactional)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount())
	assert.Equal(t, 0, res.FailureCount())
}

func TestExecute_Transactional_PolicyDenialFailsWholeBatch(t *testing.T) {
	e, sessions := newFixture(t, "b")
	_, sid, err := sessions.Create(context.Background(), "principal-1", "", "", time.Hour, false)
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), pipeline.Credentials{SessionID: sid}, itemsWith("a", "b"), Transactional)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount())
	assert.Equal(t, 2, res.FailureCount())
}

func TestExecute_Transactional_InvocationFailureRollsBackWholeBatch(t *testing.T) {
	e, sessions := newFixture(t, "")
	_, sid, err := sessions.Create(context.Background(), "principal-1", "", "", time.Hour, false)
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), pipeline.Credentials{SessionID: sid}, itemsWith("a", "fail"), Transactional)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount())
	assert.Equal(t, 2, res.FailureCount())
	for _, f := range res.Failed {
		assert.Contains(t, f.Error, "rolled back")
	}
}

func TestExecute_AuthenticationFailureFailsWholeBatch(t *testing.T) {
	e, _ := newFixture(t, "")

	res, err := e.Execute(context.Background(), pipeline.Credentials{SessionID: "nonexistent"}, itemsWith("a", "b"), BestEffort)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount())
	assert.Equal(t, 2, res.FailureCount())
}

func TestExecute_EmptyBatch(t *testing.T) {
	e, _ := newFixture(t, "")
	res, err := e.Execute(context.Background(), pipeline.Credentials{}, nil, BestEffort)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
}
