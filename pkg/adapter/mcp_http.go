package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/brevanhowe/govern-core/pkg/model"
)

// mcpHTTPRequest/Response mirror the JSON-RPC 2.0 envelope used by an
// HTTP-reachable MCP server, matching the shape of
// github.com/brevanhowe/govern-core's pkg/mcp/gateway.go handleExecute.
type mcpHTTPRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type mcpHTTPResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// MCPHTTPAdapter speaks MCP's JSON-RPC envelope over a plain HTTP POST
// endpoint, for MCP servers exposed as HTTP services rather than
// subprocesses.
type MCPHTTPAdapter struct {
	*Guard
	client     *http.Client
	endpoint   string
	timeout    time.Duration
	resourceOf func(model.InvocationRequest) (model.Resource, model.Capability, error)
}

func NewMCPHTTPAdapter(guard *Guard, endpoint string, timeout time.Duration,
	resourceOf func(model.InvocationRequest) (model.Resource, model.Capability, error)) *MCPHTTPAdapter {
	return &MCPHTTPAdapter{
		Guard:      guard,
		client:     &http.Client{Transport: &http.Transport{MaxIdleConnsPerHost: 10}},
		endpoint:   endpoint,
		timeout:    timeout,
		resourceOf: resourceOf,
	}
}

func (a *MCPHTTPAdapter) Discover(ctx context.Context, config map[string]any) ([]model.Resource, error) {
	raw, ok := config["resources"].([]model.Resource)
	if !ok {
		return nil, fmt.Errorf("%w: discover requires config[resources]", ErrDiscovery)
	}
	return raw, nil
}

func (a *MCPHTTPAdapter) Capabilities(ctx context.Context, resource model.Resource) ([]model.Capability, error) {
	resp, err := a.call(ctx, "tools/list", map[string]any{"resource_id": resource.ID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	var caps []model.Capability
	if err := json.Unmarshal(resp, &caps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	return caps, nil
}

func (a *MCPHTTPAdapter) Validate(ctx context.Context, req model.InvocationRequest) error {
	if _, _, err := a.resourceOf(req); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (a *MCPHTTPAdapter) Invoke(ctx context.Context, req model.InvocationRequest) model.InvocationResult {
	_, cap, err := a.resourceOf(req)
	if err != nil {
		return failureResult(time.Now(), err, "ValidationError")
	}

	return a.Guard.Run(ctx, a.timeout, func(ctx context.Context) (any, error) {
		raw, callErr := a.call(ctx, "tools/call", map[string]any{"name": cap.Name, "arguments": req.Arguments})
		if callErr != nil {
			return nil, callErr
		}
		var decoded any
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
			return string(raw), nil
		}
		return decoded, nil
	})
}

func (a *MCPHTTPAdapter) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	reqBody := mcpHTTPRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: mcp http %d", ErrInvocation, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, &terminalHTTPError{status: resp.StatusCode}
	}

	var decoded mcpHTTPResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&decoded); decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocation, decodeErr)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("%w: json-rpc error %d: %s", ErrInvocation, decoded.Error.Code, decoded.Error.Message)
	}
	return decoded.Result, nil
}

func (a *MCPHTTPAdapter) Stream(ctx context.Context, req model.InvocationRequest) (<-chan StreamChunk, error) {
	result := a.Invoke(ctx, req)
	out := make(chan StreamChunk, 1)
	if !result.Success {
		out <- StreamChunk{Err: fmt.Errorf("%w: %s", ErrStreaming, result.Error), Final: true}
	} else {
		b, _ := json.Marshal(result.Result)
		out <- StreamChunk{Data: b, Final: true}
	}
	close(out)
	return out, nil
}

func (a *MCPHTTPAdapter) Health(ctx context.Context, resource model.Resource) bool {
	_, err := a.call(ctx, "ping", nil)
	return err == nil
}

func (a *MCPHTTPAdapter) OnResourceRegistered(ctx context.Context, resource model.Resource) error {
	return nil
}
func (a *MCPHTTPAdapter) OnResourceUnregistered(ctx context.Context, resource model.Resource) error {
	return nil
}
