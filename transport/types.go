package transport

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gaborage/alioli/headers"
)

// Request is an outbound HTTP request.
type Request struct {
	Method  string
	URL     string
	Headers []headers.Header
	// Body is nil when the request has no body.
	Body []byte
}

// Header returns the first value of key, or "".
func (r *Request) Header(key string) string {
	if vals := headers.Values(r.Headers, key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Clone returns a copy that shares no slices with r.
func (r *Request) Clone() *Request {
	c := *r
	if r.Headers != nil {
		c.Headers = append([]headers.Header(nil), r.Headers...)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    nethttp.Header
	Elapsed    time.Duration
}

// IsSuccessful reports a 2xx status.
func (r *Response) IsSuccessful() bool {
	return r != nil && IsSuccessStatus(r.StatusCode)
}

// IsSuccessStatus checks if a status code represents success (2xx)
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// Executor performs a request and reports the outcome.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// ExecuteFunc adapts a function to Executor.
type ExecuteFunc func(ctx context.Context, req *Request) (*Response, error)

// Execute calls f.
func (f ExecuteFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Interceptor observes or rewrites a request around the call to next.
// It must return next's outcome unless it deliberately short-circuits.
type Interceptor func(ctx context.Context, req *Request, next ExecuteFunc) (*Response, error)
