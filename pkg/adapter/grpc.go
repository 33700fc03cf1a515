package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/brevanhowe/govern-core/pkg/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// GRPCInvoker abstracts the dynamic-dispatch call a generated or reflection
// based gRPC client would make; concrete wiring (service descriptor lookup,
// message marshalling per Capability.InputSchema) is resource-specific and
// supplied by the caller.
type GRPCInvoker interface {
	Invoke(ctx context.Context, conn *grpc.ClientConn, fullyQualifiedMethod string, args map[string]any) (any, error)
}

// GRPCAdapter implements Adapter for gRPC-backed resources. Retries only on
// UNAVAILABLE/DEADLINE_EXCEEDED.
type GRPCAdapter struct {
	*Guard
	conn       *grpc.ClientConn
	invoker    GRPCInvoker
	timeout    time.Duration
	resourceOf func(model.InvocationRequest) (model.Resource, model.Capability, error)
}

func NewGRPCAdapter(guard *Guard, target string, invoker GRPCInvoker, timeout time.Duration,
	resourceOf func(model.InvocationRequest) (model.Resource, model.Capability, error)) (*GRPCAdapter, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return &GRPCAdapter{Guard: guard, conn: conn, invoker: invoker, timeout: timeout, resourceOf: resourceOf}, nil
}

func (a *GRPCAdapter) Discover(ctx context.Context, config map[string]any) ([]model.Resource, error) {
	raw, ok := config["resources"].([]model.Resource)
	if !ok {
		return nil, fmt.Errorf("%w: gRPC discovery requires reflection or a static resource list", ErrDiscovery)
	}
	return raw, nil
}

func (a *GRPCAdapter) Capabilities(ctx context.Context, resource model.Resource) ([]model.Capability, error) {
	raw, ok := resource.Metadata["grpc_methods"]
	_ = raw
	if !ok {
		return nil, nil
	}
	return nil, nil
}

func (a *GRPCAdapter) Validate(ctx context.Context, req model.InvocationRequest) error {
	_, cap, err := a.resourceOf(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if cap.Metadata["grpc_method"] == "" {
		return fmt.Errorf("%w: capability missing grpc_method", ErrValidation)
	}
	return nil
}

func (a *GRPCAdapter) Invoke(ctx context.Context, req model.InvocationRequest) model.InvocationResult {
	_, cap, err := a.resourceOf(req)
	if err != nil {
		return failureResult(time.Now(), err, "ValidationError")
	}
	method := cap.Metadata["grpc_method"]

	guardedRetry := a.Guard.Retry
	guardedRetry.Retryable = grpcRetryable

	original := a.Guard.Retry
	a.Guard.Retry = guardedRetry
	defer func() { a.Guard.Retry = original }()

	return a.Guard.Run(ctx, a.timeout, func(ctx context.Context) (any, error) {
		return a.invoker.Invoke(ctx, a.conn, method, req.Arguments)
	})
}

func grpcRetryable(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	return st.Code() == codes.Unavailable || st.Code() == codes.DeadlineExceeded
}

func (a *GRPCAdapter) Stream(ctx context.Context, req model.InvocationRequest) (<-chan StreamChunk, error) {
	return nil, fmt.Errorf("%w: streaming gRPC adapter not wired for this resource", ErrStreaming)
}

func (a *GRPCAdapter) Health(ctx context.Context, resource model.Resource) bool {
	return a.conn.GetState().String() != "TRANSIENT_FAILURE"
}

func (a *GRPCAdapter) OnResourceRegistered(ctx context.Context, resource model.Resource) error { return nil }
func (a *GRPCAdapter) OnResourceUnregistered(ctx context.Context, resource model.Resource) error {
	return a.conn.Close()
}
