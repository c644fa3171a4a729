package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"net/url"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/logger"
)

// DefaultTimeout is the default request timeout duration
const DefaultTimeout = 30 * time.Second

// Client executes requests over net/http, running interceptors around each call.
type Client struct {
	httpClient      *nethttp.Client
	logger          logger.Logger
	timeout         time.Duration
	defaultHeaders  []headers.Header
	interceptors    []Interceptor
	requestIDHeader string
	callCount       atomic.Int64
}

var _ Executor = (*Client)(nil)

// Builder provides a fluent interface for configuring the client
type Builder struct {
	logger          logger.Logger
	timeout         time.Duration
	roundTripper    nethttp.RoundTripper
	defaultHeaders  []headers.Header
	interceptors    []Interceptor
	requestIDHeader string
	tracing         bool
}

// NewBuilder creates a new client builder. Tracing is on and X-Request-ID is propagated by default.
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{
		logger:          log,
		timeout:         DefaultTimeout,
		requestIDHeader: HeaderXRequestID,
		tracing:         true,
	}
}

// WithTimeout sets the per-request timeout. Zero disables it.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.timeout = timeout
	return b
}

// WithRoundTripper replaces the network transport (tests use httptest servers or stubs).
func (b *Builder) WithRoundTripper(rt nethttp.RoundTripper) *Builder {
	b.roundTripper = rt
	return b
}

// WithDefaultHeader adds a header sent when the request does not already carry it.
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.defaultHeaders = append(b.defaultHeaders, headers.Header{Key: key, Value: value})
	return b
}

// WithInterceptor appends an interceptor. The last one added runs closest to the network.
func (b *Builder) WithInterceptor(i Interceptor) *Builder {
	b.interceptors = append(b.interceptors, i)
	return b
}

// WithRequestIDHeader sets the correlation header name. Empty disables it.
func (b *Builder) WithRequestIDHeader(name string) *Builder {
	b.requestIDHeader = name
	return b
}

// WithTracing toggles OpenTelemetry client spans and context propagation.
func (b *Builder) WithTracing(enabled bool) *Builder {
	b.tracing = enabled
	return b
}

// Build creates the client with the configured options
func (b *Builder) Build() *Client {
	rt := b.roundTripper
	if rt == nil {
		rt = nethttp.DefaultTransport
	}
	if b.tracing {
		rt = otelhttp.NewTransport(rt)
	}
	return &Client{
		httpClient:      &nethttp.Client{Timeout: b.timeout, Transport: rt},
		logger:          b.logger,
		timeout:         b.timeout,
		defaultHeaders:  b.defaultHeaders,
		interceptors:    append([]Interceptor(nil), b.interceptors...),
		requestIDHeader: b.requestIDHeader,
	}
}

// Execute validates req and sends it through the interceptor chain.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	next := ExecuteFunc(c.send)
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor, inner := c.interceptors[i], next
		next = func(ctx context.Context, req *Request) (*Response, error) {
			return interceptor(ctx, req, inner)
		}
	}
	return next(ctx, req)
}

// Send executes req without interceptors.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return c.send(ctx, req)
}

func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	callCount := c.callCount.Add(1)

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	c.logRequest(req, callCount)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, NewTimeoutError("request timeout", c.timeout, err)
		}
		return nil, NewNetworkError("request execution failed", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, NewTimeoutError("response body timeout", c.timeout, err)
		}
		return nil, NewNetworkError("failed to read response body", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
		Elapsed:    time.Since(start),
	}
	c.logResponse(req, resp)
	return resp, nil
}

func (c *Client) buildRequest(ctx context.Context, req *Request) (*nethttp.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, NewValidationError(err.Error(), "request")
	}

	for _, h := range req.Headers {
		httpReq.Header.Add(h.Key, h.Value)
	}
	for _, h := range c.defaultHeaders {
		if httpReq.Header.Get(h.Key) == "" {
			httpReq.Header.Set(h.Key, h.Value)
		}
	}
	if c.requestIDHeader != "" && httpReq.Header.Get(c.requestIDHeader) == "" {
		httpReq.Header.Set(c.requestIDHeader, EnsureRequestID(ctx))
	}
	return httpReq, nil
}

func validateRequest(req *Request) error {
	if req == nil {
		return NewValidationError("request cannot be nil", "request")
	}
	if req.Method == "" {
		return NewValidationError("method cannot be empty", "method")
	}
	if req.URL == "" {
		return NewValidationError("URL cannot be empty", "url")
	}
	u, err := url.Parse(req.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return NewValidationError("URL must be absolute", "url")
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) logRequest(req *Request, callCount int64) {
	ev := c.logger.Debug().
		Str("direction", "outbound").
		Str("method", req.Method).
		Str("url", req.URL).
		Int64("call_count", callCount)
	if len(req.Headers) > 0 {
		ev = ev.Headers("headers", req.Headers)
	}
	ev.Msg("HTTP request")
}

func (c *Client) logResponse(req *Request, resp *Response) {
	c.logger.Debug().
		Str("direction", "inbound").
		Str("method", req.Method).
		Str("url", req.URL).
		Int("status", resp.StatusCode).
		Dur("elapsed", resp.Elapsed).
		Msg("HTTP response")
}
