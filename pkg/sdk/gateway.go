package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the backend used when none is configured.
	DefaultBaseURL = "http://localhost:8000/api"
	// DefaultTimeout bounds every request made through a Gateway.
	DefaultTimeout = 15 * time.Second

	defaultErrorMessage = "unknown error"
	maxErrorBody        = 1 << 20
)

// Redirector sends the user to the login entry point after a forced logout.
type Redirector interface {
	RedirectToLogin(cause error)
}

// RedirectFunc adapts a function to the Redirector interface.
type RedirectFunc func(cause error)

func (f RedirectFunc) RedirectToLogin(cause error) { f(cause) }

// Request describes a single call through the Gateway.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	// Credentials marks a credential submission such as login. A 401 on it is a
	// rejected password, not an ended session, so no forced logout runs.
	Credentials bool
}

// Gateway is the single outbound HTTP client for the backend. It attaches the
// bearer token to outgoing requests and normalizes every failure into *APIError.
//
// The first 401 observed during a session runs the unauthorized handler and the
// Redirector exactly once. Later 401s are returned to the caller without side
// effects until Rearm is called for a newly established session.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	redirector Redirector

	redirecting atomic.Bool

	mu             sync.RWMutex
	onUnauthorized func(context.Context)
}

// GatewayOptions configures Gateway construction.
type GatewayOptions struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
	Redirector Redirector
}

// GatewayOption mutates GatewayOptions.
type GatewayOption func(*GatewayOptions)

// WithHTTPClient overrides the HTTP client. Its transport is wrapped to attach
// credentials; the client itself is not modified.
func WithHTTPClient(client *http.Client) GatewayOption {
	return func(opts *GatewayOptions) {
		opts.HTTPClient = client
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) GatewayOption {
	return func(opts *GatewayOptions) {
		opts.Timeout = timeout
	}
}

// WithLogger sets the logger used for request failures.
func WithLogger(logger *zap.Logger) GatewayOption {
	return func(opts *GatewayOptions) {
		opts.Logger = logger
	}
}

// WithRedirector sets the login redirect target used after a forced logout.
func WithRedirector(r Redirector) GatewayOption {
	return func(opts *GatewayOptions) {
		opts.Redirector = r
	}
}

// NewGateway creates a Gateway for baseURL. tokens supplies the bearer token and
// may be nil for anonymous use.
func NewGateway(baseURL string, tokens oauth2.TokenSource, optFns ...GatewayOption) *Gateway {
	opts := GatewayOptions{Timeout: DefaultTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	base := http.DefaultTransport
	var jar http.CookieJar
	if opts.HTTPClient != nil {
		if opts.HTTPClient.Transport != nil {
			base = opts.HTTPClient.Transport
		}
		jar = opts.HTTPClient.Jar
		if opts.Timeout == DefaultTimeout && opts.HTTPClient.Timeout > 0 {
			opts.Timeout = opts.HTTPClient.Timeout
		}
	}

	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &bearerTransport{base: base, source: tokens, logger: opts.Logger},
			Timeout:   opts.Timeout,
			Jar:       jar,
		},
		logger:     opts.Logger,
		redirector: opts.Redirector,
	}
}

// BaseURL returns the backend base URL without a trailing slash.
func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// SetUnauthorizedHandler registers the callback run on the first 401.
// SessionController installs its forced logout here.
func (g *Gateway) SetUnauthorizedHandler(fn func(context.Context)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onUnauthorized = fn
}

// Rearm allows the next 401 to force a logout again. SessionController calls it
// whenever a new session is established.
func (g *Gateway) Rearm() {
	g.redirecting.Store(false)
}

// Redirecting reports whether the forced logout has already been triggered.
func (g *Gateway) Redirecting() bool {
	return g.redirecting.Load()
}

func (g *Gateway) Get(ctx context.Context, path string, query url.Values, out any) error {
	return g.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

func (g *Gateway) Post(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

func (g *Gateway) Put(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

func (g *Gateway) Patch(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body}, out)
}

// Delete issues a DELETE. body is optional and sent as JSON when present.
func (g *Gateway) Delete(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, Request{Method: http.MethodDelete, Path: path, Body: body}, out)
}

// Do performs req and decodes a successful JSON response into out (when non-nil).
// Every failure is returned as *APIError.
func (g *Gateway) Do(ctx context.Context, req Request, out any) error {
	target := g.resolve(req.Path, req.Query)

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("encode request body for %s: %w", req.Path, err)
		}
		body = bytes.NewReader(payload)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", req.Path, err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		apiErr := transportError(req.Path, err)
		g.logger.Error("request failed",
			zap.String("method", method),
			zap.String("url", req.Path),
			zap.String("kind", string(apiErr.Kind)),
			zap.Error(err),
		)
		return apiErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := newStatusError(req.Path, resp.StatusCode, raw)
		g.logStatusError(method, apiErr)
		if resp.StatusCode == http.StatusUnauthorized && !req.Credentials {
			g.handleUnauthorized(ctx, apiErr)
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(req.Path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", req.Path, err)
	}
	return nil
}

func (g *Gateway) resolve(path string, query url.Values) string {
	target := g.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

// handleUnauthorized runs the forced logout and redirect once per session.
func (g *Gateway) handleUnauthorized(ctx context.Context, cause *APIError) {
	if !g.redirecting.CompareAndSwap(false, true) {
		return
	}
	g.logger.Warn("session expired or unauthorized, forcing logout", zap.String("url", cause.URL))

	g.mu.RLock()
	handler := g.onUnauthorized
	g.mu.RUnlock()
	if handler != nil {
		handler(context.WithoutCancel(ctx))
	}
	if g.redirector != nil {
		g.redirector.RedirectToLogin(cause)
	}
}

func (g *Gateway) logStatusError(method string, apiErr *APIError) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("url", apiErr.URL),
		zap.Int("status", apiErr.Status),
		zap.String("message", apiErr.Message),
	}
	switch apiErr.Kind {
	case KindForbidden:
		g.logger.Error("access forbidden", fields...)
	case KindNotFound:
		g.logger.Warn("resource not found", fields...)
	case KindServer:
		g.logger.Error("server error", fields...)
	case KindUnauthorized:
		g.logger.Debug("unauthorized", fields...)
	default:
		g.logger.Error("request rejected", fields...)
	}
}

func transportError(path string, err error) *APIError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &APIError{Kind: KindTimeout, Message: "request timed out", URL: path, Err: err}
	}
	return &APIError{Kind: KindNetwork, Message: "network error: " + err.Error(), URL: path, Err: err}
}

// errorBody covers the two error shapes the backend produces: an explicit
// message and FastAPI's detail, which is a string or a list of field errors.
type errorBody struct {
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail"`
	Field   string          `json:"field"`
}

type fieldError struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

func newStatusError(path string, status int, raw []byte) *APIError {
	apiErr := &APIError{
		Kind:   kindForStatus(status),
		Status: status,
		URL:    path,
	}

	if len(bytes.TrimSpace(raw)) > 0 {
		var details any
		if err := json.Unmarshal(raw, &details); err == nil {
			apiErr.Details = details
		} else {
			apiErr.Details = string(raw)
		}

		var body errorBody
		if err := json.Unmarshal(raw, &body); err == nil {
			apiErr.serverMessage = body.Message
			apiErr.Field = body.Field
			if apiErr.serverMessage == "" {
				apiErr.serverMessage, apiErr.Field = parseDetail(body.Detail, body.Field)
			}
		}
	}

	apiErr.Message = apiErr.serverMessage
	if apiErr.Message == "" {
		if text := http.StatusText(status); text != "" {
			apiErr.Message = text
		} else {
			apiErr.Message = defaultErrorMessage
		}
	}
	return apiErr
}

func parseDetail(raw json.RawMessage, field string) (string, string) {
	if len(raw) == 0 {
		return "", field
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, field
	}
	var list []fieldError
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		first := list[0]
		if field == "" && len(first.Loc) > 0 {
			if name, ok := first.Loc[len(first.Loc)-1].(string); ok {
				field = name
			}
		}
		return first.Msg, field
	}
	return "", field
}
