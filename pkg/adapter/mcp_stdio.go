package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brevanhowe/govern-core/pkg/model"
	"github.com/brevanhowe/govern-core/pkg/stdio"
)

// MCPStdioAdapter delegates invoke/health to a supervised child-process
// StdioTransport, mapping invoke to the MCP `tools/call` JSON-RPC method.
type MCPStdioAdapter struct {
	*Guard
	transport  *stdio.Transport
	timeout    time.Duration
	resourceOf func(model.InvocationRequest) (model.Resource, model.Capability, error)
}

func NewMCPStdioAdapter(guard *Guard, transport *stdio.Transport, timeout time.Duration,
	resourceOf func(model.InvocationRequest) (model.Resource, model.Capability, error)) *MCPStdioAdapter {
	return &MCPStdioAdapter{Guard: guard, transport: transport, timeout: timeout, resourceOf: resourceOf}
}

func (a *MCPStdioAdapter) Discover(ctx context.Context, config map[string]any) ([]model.Resource, error) {
	raw, err := a.transport.Call(ctx, "resources/list", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	var resources []model.Resource
	if err := json.Unmarshal(raw, &resources); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	return resources, nil
}

func (a *MCPStdioAdapter) Capabilities(ctx context.Context, resource model.Resource) ([]model.Capability, error) {
	raw, err := a.transport.Call(ctx, "tools/list", map[string]any{"resource_id": resource.ID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	var caps []model.Capability
	if err := json.Unmarshal(raw, &caps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	return caps, nil
}

func (a *MCPStdioAdapter) Validate(ctx context.Context, req model.InvocationRequest) error {
	if _, _, err := a.resourceOf(req); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (a *MCPStdioAdapter) Invoke(ctx context.Context, req model.InvocationRequest) model.InvocationResult {
	_, cap, err := a.resourceOf(req)
	if err != nil {
		return failureResult(time.Now(), err, "ValidationError")
	}

	return a.Guard.Run(ctx, a.timeout, func(ctx context.Context) (any, error) {
		raw, err := a.transport.Call(ctx, "tools/call", map[string]any{
			"name":      cap.Name,
			"arguments": req.Arguments,
		})
		if err != nil {
			return nil, err
		}
		var decoded any
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
			return string(raw), nil
		}
		return decoded, nil
	})
}

func (a *MCPStdioAdapter) Stream(ctx context.Context, req model.InvocationRequest) (<-chan StreamChunk, error) {
	// The underlying JSON-RPC stdio transport has no native streaming
	// framing; a single completed invocation is surfaced as one chunk.
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

func (a *MCPStdioAdapter) Health(ctx context.Context, resource model.Resource) bool {
	return !a.transport.Crashed()
}

func (a *MCPStdioAdapter) OnResourceRegistered(ctx context.Context, resource model.Resource) error {
	return a.transport.Start(ctx)
}

func (a *MCPStdioAdapter) OnResourceUnregistered(ctx context.Context, resource model.Resource) error {
	a.transport.Stop(5 * time.Second)
	return nil
}
