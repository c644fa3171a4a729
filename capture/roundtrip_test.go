package capture

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/queue/memory"
	"github.com/gaborage/alioli/testing/mocks"
)

type roundTripperFunc func(*nethttp.Request) (*nethttp.Response, error)

func (f roundTripperFunc) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	return f(req)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestTransportPassesThroughNonDeferrable(t *testing.T) {
	var seen *nethttp.Request
	base := roundTripperFunc(func(r *nethttp.Request) (*nethttp.Response, error) {
		seen = r
		return &nethttp.Response{StatusCode: nethttp.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
	})
	store := &mocks.MockStore{}
	rt := NewTransport(NewGate(store, nil), base)

	req, err := nethttp.NewRequest(nethttp.MethodGet, testURL, nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Same(t, req, seen)
	store.AssertExpectations(t)
}

func TestTransportAgainstServer(t *testing.T) {
	var gotHeader nethttp.Header
	var gotBody string
	status := nethttp.StatusServiceUnavailable
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotHeader = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Server", "yes")
		w.WriteHeader(status)
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	store := memory.New()
	sched := &mocks.RecordingEnqueuer{}
	client := &nethttp.Client{Transport: NewTransport(NewGate(store, sched), nil)}

	send := func() *nethttp.Response {
		req, err := nethttp.NewRequest(nethttp.MethodPut, server.URL+"/items/1", strings.NewReader(`{"n":1}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderName, "60000")
		resp, err := client.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := send()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, nethttp.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, "yes", resp.Header.Get("X-Server"))
	assert.Empty(t, gotHeader.Get(HeaderName), "control header must not reach the server")
	assert.Equal(t, `{"n":1}`, gotBody)
	assert.Len(t, sched.Delays(), 1)

	rec := storedOnly(t, store)
	assert.Equal(t, nethttp.MethodPut, rec.Method)
	assert.Equal(t, server.URL+"/items/1", rec.URL)
	require.NotNil(t, rec.Body)
	assert.Equal(t, `{"n":1}`, rec.Body.Content)
	assert.Equal(t, "application/json", rec.Body.ContentType)
	assert.False(t, headers.Contains(rec.Headers, HeaderName))

	status = nethttp.StatusOK
	resp = send()
	_ = resp.Body.Close()
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the successful request is removed")
}

func TestTransportNetworkErrorIsReturned(t *testing.T) {
	dial := errors.New("dial tcp: connection refused")
	base := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) { return nil, dial })
	store := memory.New()
	sched := &mocks.RecordingEnqueuer{}
	rt := NewTransport(NewGate(store, sched), base)

	req, err := nethttp.NewRequest(nethttp.MethodDelete, testURL, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderName, "")

	resp, err := rt.RoundTrip(req)
	assert.Nil(t, resp)
	assert.Same(t, dial, err)
	assert.Len(t, sched.Delays(), 1)
	assert.Nil(t, storedOnly(t, store).Body)
}

func TestTransportUnreadableBodyStillProceeds(t *testing.T) {
	attempted := false
	base := roundTripperFunc(func(r *nethttp.Request) (*nethttp.Response, error) {
		attempted = true
		return &nethttp.Response{StatusCode: nethttp.StatusBadGateway, Body: io.NopCloser(strings.NewReader(""))}, nil
	})
	store := memory.New()
	rt := NewTransport(NewGate(store, &mocks.RecordingEnqueuer{}), base)

	req, err := nethttp.NewRequest(nethttp.MethodPost, testURL, io.NopCloser(failingReader{}))
	require.NoError(t, err)
	req.Header.Set(HeaderName, "60000")

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.True(t, attempted)
	assert.Nil(t, storedOnly(t, store).Body)
}

func TestTransportStoreFailureSkipsAttempt(t *testing.T) {
	attempted := false
	base := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
		attempted = true
		return nil, errors.New("unexpected")
	})
	store := &mocks.MockStore{}
	storeErr := errors.New("store unavailable")
	store.On("Insert", mock.Anything, mock.Anything).Return(int64(0), storeErr)
	rt := NewTransport(NewGate(store, nil), base)

	req, err := nethttp.NewRequest(nethttp.MethodGet, testURL, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderName, "60000")

	_, err = rt.RoundTrip(req)
	assert.Same(t, storeErr, err)
	assert.False(t, attempted)
}

func TestTransportEmptyMethodIsStoredAsGet(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotMethod = r.Method
		w.WriteHeader(nethttp.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := memory.New()
	rt := NewTransport(NewGate(store, &mocks.RecordingEnqueuer{}), nil)

	target, err := url.Parse(server.URL + "/x")
	require.NoError(t, err)
	req := &nethttp.Request{
		URL:    target,
		Header: nethttp.Header{HeaderName: []string{"100000"}},
	}

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err, "the insert must not be rejected")
	_ = resp.Body.Close()

	assert.Equal(t, nethttp.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, nethttp.MethodGet, gotMethod)
	assert.Equal(t, nethttp.MethodGet, storedOnly(t, store).Method)
}
