package capture

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/transport"
)

// Transport is an http.RoundTripper that sends every round trip through a Gate.
// Deferrable responses are buffered in memory so the gate can inspect them.
type Transport struct {
	gate *Gate
	base nethttp.RoundTripper
}

var _ nethttp.RoundTripper = (*Transport)(nil)

// NewTransport wraps base. A nil base selects http.DefaultTransport.
func NewTransport(gate *Gate, base nethttp.RoundTripper) *Transport {
	if base == nil {
		base = nethttp.DefaultTransport
	}
	return &Transport{gate: gate, base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(r *nethttp.Request) (*nethttp.Response, error) {
	if !hasHeader(r.Header, HeaderName) {
		return t.base.RoundTrip(r)
	}

	// net/http sends an empty Method as GET; the stored copy must say so for the retry.
	method := r.Method
	if method == "" {
		method = nethttp.MethodGet
	}
	req := &transport.Request{
		Method:  method,
		URL:     r.URL.String(),
		Headers: headers.FromHTTP(r.Header),
		Body:    t.readBody(r),
	}

	var raw *nethttp.Response
	proceed := func(ctx context.Context, attempt *transport.Request) (*transport.Response, error) {
		out := r.Clone(ctx)
		out.Header = headers.ToHTTP(attempt.Headers)
		if attempt.Body != nil {
			out.Body = io.NopCloser(bytes.NewReader(attempt.Body))
			out.ContentLength = int64(len(attempt.Body))
			body := attempt.Body
			out.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(body)), nil
			}
		} else if r.Body != nil {
			out.Body = r.Body
		}

		start := time.Now()
		resp, err := t.base.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, transport.NewNetworkError("failed to read response body", err)
		}
		resp.Body = io.NopCloser(bytes.NewReader(data))
		raw = resp
		return &transport.Response{
			StatusCode: resp.StatusCode,
			Body:       data,
			Headers:    resp.Header,
			Elapsed:    time.Since(start),
		}, nil
	}

	_, err := t.gate.Intercept(r.Context(), req, proceed)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// readBody returns a copy of the request body, leaving r.Body readable.
// Read failures yield nil so the request is stored without a body.
func (t *Transport) readBody(r *nethttp.Request) []byte {
	if r.Body == nil || r.Body == nethttp.NoBody {
		return nil
	}
	if r.GetBody != nil {
		rc, err := r.GetBody()
		if err == nil {
			data, rerr := io.ReadAll(rc)
			_ = rc.Close()
			if rerr == nil {
				return data
			}
		}
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(data), r.Body), Closer: r.Body}
		return nil
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data
}

type readCloser struct {
	io.Reader
	io.Closer
}

func hasHeader(h nethttp.Header, key string) bool {
	for k := range h {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
