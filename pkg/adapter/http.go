package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brevanhowe/govern-core/pkg/model"
)

// AuthStrategy selects how the HTTP adapter authenticates outbound calls.
type AuthStrategy string

const (
	AuthNone                   AuthStrategy = "none"
	AuthBearer                 AuthStrategy = "bearer"
	AuthBasic                  AuthStrategy = "basic"
	AuthAPIKey                 AuthStrategy = "api-key"
	AuthOAuth2ClientCredential AuthStrategy = "oauth2-client-credentials"
)

// HTTPAuthConfig configures the chosen AuthStrategy.
type HTTPAuthConfig struct {
	Strategy   AuthStrategy
	Token      string // bearer, api-key value, or a cached oauth2 access token
	Username   string // basic
	Password   string // basic
	HeaderName string // api-key header name, default "X-API-Key"
}

func (c HTTPAuthConfig) apply(req *http.Request) {
	switch c.Strategy {
	case AuthBearer, AuthOAuth2ClientCredential:
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case AuthBasic:
		req.SetBasicAuth(c.Username, c.Password)
	case AuthAPIKey:
		name := c.HeaderName
		if name == "" {
			name = "X-API-Key"
		}
		req.Header.Set(name, c.Token)
	case AuthNone, "":
	}
}

// HTTPCapabilityMeta is read from Capability.Metadata for the HTTP adapter.
type HTTPCapabilityMeta struct {
	Method string
	Path   string // may contain {name} path params
}

// HTTPAdapter implements Adapter for plain REST-ish HTTP capabilities.
// Each instance owns its own *http.Client with bounded connection limits;
// there is no process-wide shared client.
type HTTPAdapter struct {
	*Guard
	client     *http.Client
	baseURL    string
	auth       HTTPAuthConfig
	timeout    time.Duration
	resourceOf func(model.InvocationRequest) (model.Resource, model.Capability, error)
}

// NewHTTPAdapter constructs an HTTP adapter bound to one backend.
func NewHTTPAdapter(guard *Guard, baseURL string, auth HTTPAuthConfig, timeout time.Duration,
	resourceOf func(model.InvocationRequest) (model.Resource, model.Capability, error)) *HTTPAdapter {
	return &HTTPAdapter{
		Guard: guard,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:    baseURL,
		auth:       auth,
		timeout:    timeout,
		resourceOf: resourceOf,
	}
}

func (a *HTTPAdapter) Discover(ctx context.Context, config map[string]any) ([]model.Resource, error) {
	// An OpenAPI-document-driven discovery is operator-pluggable; this
	// adapter accepts a pre-resolved resource list via config["resources"].
	raw, ok := config["resources"].([]model.Resource)
	if !ok {
		return nil, fmt.Errorf("%w: discover requires config[resources]", ErrDiscovery)
	}
	return raw, nil
}

func (a *HTTPAdapter) Capabilities(ctx context.Context, resource model.Resource) ([]model.Capability, error) {
	raw, ok := resource.Metadata["capabilities_json"]
	if !ok {
		return nil, nil
	}
	var caps []model.Capability
	if err := json.Unmarshal([]byte(raw), &caps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	return caps, nil
}

func (a *HTTPAdapter) Validate(ctx context.Context, req model.InvocationRequest) error {
	if req.CapabilityID == "" {
		return fmt.Errorf("%w: missing capability_id", ErrValidation)
	}
	_, cap, err := a.resourceOf(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	meta, err := httpMeta(cap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if meta.Method == "" || meta.Path == "" {
		return fmt.Errorf("%w: capability missing http_method/http_path", ErrValidation)
	}
	return nil
}

func httpMeta(cap model.Capability) (HTTPCapabilityMeta, error) {
	return HTTPCapabilityMeta{
		Method: strings.ToUpper(cap.Metadata["http_method"]),
		Path:   cap.Metadata["http_path"],
	}, nil
}

// splitArguments partitions arguments into path params consumed by {name}
// substitution, query_*, header_*, and the remainder as the body.
func splitArguments(path string, args map[string]any) (resolvedPath string, query map[string]string, headers map[string]string, body map[string]any) {
	query = map[string]string{}
	headers = map[string]string{}
	body = map[string]any{}
	resolvedPath = path

	for k, v := range args {
		switch {
		case strings.Contains(resolvedPath, "{"+k+"}"):
			resolvedPath = strings.ReplaceAll(resolvedPath, "{"+k+"}", fmt.Sprintf("%v", v))
		case strings.HasPrefix(k, "query_"):
			query[strings.TrimPrefix(k, "query_")] = fmt.Sprintf("%v", v)
		case strings.HasPrefix(k, "header_"):
			headers[strings.TrimPrefix(k, "header_")] = fmt.Sprintf("%v", v)
		default:
			body[k] = v
		}
	}
	return
}

func (a *HTTPAdapter) Invoke(ctx context.Context, req model.InvocationRequest) model.InvocationResult {
	_, cap, err := a.resourceOf(req)
	if err != nil {
		return failureResult(time.Now(), err, "ValidationError")
	}
	meta, _ := httpMeta(cap)

	return a.Guard.Run(ctx, a.timeout, func(ctx context.Context) (any, error) {
		return a.send(ctx, meta, req.Arguments)
	})
}

func (a *HTTPAdapter) send(ctx context.Context, meta HTTPCapabilityMeta, args map[string]any) (any, error) {
	path, query, headers, body := splitArguments(meta.Path, args)

	url := a.baseURL + path
	var bodyReader io.Reader
	if len(body) > 0 {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvocation, err)
		}
		bodyReader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, meta.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocation, err)
	}
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	q := httpReq.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	httpReq.URL.RawQuery = q.Encode()
	a.auth.apply(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if resp.StatusCode >= 500 {
		// Retryable: surfaced as a plain error so RetryPolicy retries it.
		return nil, fmt.Errorf("%w: http %d: %s", ErrInvocation, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= 400 {
		// Terminal: 4xx surfaces immediately, wrapped so the retry
		// classifier treats it as non-retryable.
		return nil, &terminalHTTPError{status: resp.StatusCode, body: string(respBody)}
	}

	var decoded any
	if len(respBody) > 0 {
		if jsonErr := json.Unmarshal(respBody, &decoded); jsonErr != nil {
			decoded = string(respBody)
		}
	}
	return decoded, nil
}

// terminalHTTPError marks a 4xx response as non-retryable.
type terminalHTTPError struct {
	status int
	body   string
}

func (e *terminalHTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

// Retryable5xxOnly is the RetryPolicy classifier HTTP adapters use: retry
// everything except a *terminalHTTPError (4xx).
func Retryable5xxOnly(err error) bool {
	var term *terminalHTTPError
	return !asTerminal(err, &term)
}

func asTerminal(err error, target **terminalHTTPError) bool {
	te, ok := err.(*terminalHTTPError)
	if ok {
		*target = te
		return true
	}
	return false
}

func (a *HTTPAdapter) Stream(ctx context.Context, req model.InvocationRequest) (<-chan StreamChunk, error) {
	_, cap, err := a.resourceOf(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreaming, err)
	}
	meta, _ := httpMeta(cap)
	path, query, headers, body := splitArguments(meta.Path, req.Arguments)

	url := a.baseURL + path
	var bodyReader io.Reader
	if len(body) > 0 {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}
	httpReq, err := http.NewRequestWithContext(ctx, meta.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreaming, err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	q := httpReq.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	httpReq.URL.RawQuery = q.Encode()
	a.auth.apply(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: http %d", ErrStreaming, resp.StatusCode)
	}

	out := make(chan StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))
			select {
			case out <- StreamChunk{Data: append([]byte(nil), data...)}:
			case <-ctx.Done():
				out <- StreamChunk{Err: ctx.Err(), Final: true}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: fmt.Errorf("%w: %v", ErrStreaming, err), Final: true}
			return
		}
		out <- StreamChunk{Final: true}
	}()
	return out, nil
}

func (a *HTTPAdapter) Health(ctx context.Context, resource model.Resource) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resource.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

func (a *HTTPAdapter) OnResourceRegistered(ctx context.Context, resource model.Resource) error {
	// Eager auth refresh / discovery cache prime hook; no-op by default.
	return nil
}

func (a *HTTPAdapter) OnResourceUnregistered(ctx context.Context, resource model.Resource) error {
	return nil
}
