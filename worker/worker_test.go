package worker

import (
	"context"
	"errors"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/internal/tracking"
	obtest "github.com/gaborage/alioli/observability/testing"
	"github.com/gaborage/alioli/queue"
	"github.com/gaborage/alioli/queue/memory"
	"github.com/gaborage/alioli/testing/mocks"
	"github.com/gaborage/alioli/transport"
)

const (
	urlA = "https://a.example.test/events"
	urlB = "https://b.example.test/events"
	urlC = "https://c.example.test/events"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func seed(t *testing.T, store queue.Store, url string, validUntil int64) int64 {
	t.Helper()
	id, err := store.Insert(context.Background(), &queue.PendingRequest{
		Method:     nethttp.MethodPost,
		URL:        url,
		Body:       &queue.Body{Content: `{"n":1}`, ContentType: "application/json"},
		Headers:    []headers.Header{{Key: "Authorization", Value: "Bearer t"}},
		ValidUntil: validUntil,
	})
	require.NoError(t, err)
	return id
}

func future() int64 { return now.Add(time.Hour).UnixMilli() }

func remainingURLs(t *testing.T, store queue.Store) []string {
	t.Helper()
	items, err := store.List(context.Background())
	require.NoError(t, err)
	urls := make([]string, 0, len(items))
	for _, it := range items {
		urls = append(urls, it.URL)
	}
	return urls
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []int64
	err  error
}

func (n *recordingNotifier) NotifyExpired(_ context.Context, req *queue.PendingRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, req.ID)
	return n.err
}

func TestRunDrainPassEmptyStore(t *testing.T) {
	exec := mocks.NewScriptedExecutor()
	w := New(memory.New(), exec, WithClock(clock))

	result, err := w.RunDrainPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Success, result)
	assert.Empty(t, exec.Calls())
}

func TestRunDrainPassDeliversAll(t *testing.T) {
	store := memory.New()
	seed(t, store, urlA, future())
	seed(t, store, urlB, future())
	exec := mocks.NewScriptedExecutor().
		Script(urlA, mocks.Outcome{Status: nethttp.StatusOK}).
		Script(urlB, mocks.Outcome{Status: nethttp.StatusNoContent})
	w := New(store, exec, WithClock(clock))

	result, err := w.RunDrainPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Success, result)
	assert.Empty(t, remainingURLs(t, store))
	assert.Equal(t, 1, exec.CallsTo(urlA))
	assert.Equal(t, 1, exec.CallsTo(urlB))
}

func TestRunDrainPassMixedOutcomes(t *testing.T) {
	store := memory.New()
	seed(t, store, urlA, future())
	seed(t, store, urlB, future())
	seed(t, store, urlC, future())
	exec := mocks.NewScriptedExecutor().
		Script(urlA, mocks.Outcome{Status: nethttp.StatusOK}).
		Script(urlB, mocks.Outcome{Status: nethttp.StatusInternalServerError}).
		Script(urlC, mocks.Outcome{Err: errors.New("connection refused")})
	w := New(store, exec, WithClock(clock))

	result, err := w.RunDrainPass(context.Background())

	require.NoError(t, err, "per-entry failures never abort the pass")
	assert.Equal(t, Retry, result)
	assert.Equal(t, []string{urlB, urlC}, remainingURLs(t, store))
	assert.Len(t, exec.Calls(), 3)
}

func TestRunDrainPassDropsExpiredWithoutAttempt(t *testing.T) {
	store := memory.New()
	expiredID := seed(t, store, urlA, now.Add(-time.Minute).UnixMilli())
	boundaryID := seed(t, store, urlB, now.UnixMilli())
	seed(t, store, urlC, future())
	exec := mocks.NewScriptedExecutor().Script(urlC, mocks.Outcome{Status: nethttp.StatusOK})
	notifier := &recordingNotifier{}
	w := New(store, exec, WithClock(clock), WithExpiryNotifier(notifier))

	result, err := w.RunDrainPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Success, result)
	assert.Empty(t, remainingURLs(t, store))
	assert.Zero(t, exec.CallsTo(urlA))
	assert.Zero(t, exec.CallsTo(urlB), "validity equal to now is expired")
	assert.Equal(t, []int64{expiredID, boundaryID}, notifier.seen)
}

func TestRunDrainPassNotifierFailureStillDeletes(t *testing.T) {
	store := memory.New()
	seed(t, store, urlA, now.Add(-time.Second).UnixMilli())
	w := New(store, mocks.NewScriptedExecutor(), WithClock(clock),
		WithExpiryNotifier(&recordingNotifier{err: errors.New("broker down")}))

	result, err := w.RunDrainPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Success, result)
	assert.Empty(t, remainingURLs(t, store))
}

func TestRunDrainPassRebuildsRequest(t *testing.T) {
	store := memory.New()
	_, err := store.Insert(context.Background(), &queue.PendingRequest{
		Method: nethttp.MethodPut,
		URL:    urlA,
		Body:   &queue.Body{Content: "a=1", ContentType: "application/x-www-form-urlencoded"},
		Headers: []headers.Header{
			{Key: "X-Tag", Value: "one"},
			{Key: "X-Tag", Value: "two"},
		},
		ValidUntil: future(),
	})
	require.NoError(t, err)
	_, err = store.Insert(context.Background(), &queue.PendingRequest{
		Method:     nethttp.MethodDelete,
		URL:        urlB,
		Headers:    []headers.Header{{Key: "content-type", Value: "text/plain"}},
		Body:       &queue.Body{Content: "x", ContentType: "application/json"},
		ValidUntil: future(),
	})
	require.NoError(t, err)
	exec := mocks.NewScriptedExecutor().
		Script(urlA, mocks.Outcome{Status: nethttp.StatusOK}).
		Script(urlB, mocks.Outcome{Status: nethttp.StatusOK})
	w := New(store, exec, WithClock(clock))

	_, err = w.RunDrainPass(context.Background())
	require.NoError(t, err)

	calls := exec.Calls()
	require.Len(t, calls, 2)

	first := calls[0]
	assert.Equal(t, nethttp.MethodPut, first.Method)
	assert.Equal(t, []byte("a=1"), first.Body)
	assert.Equal(t, []string{"one", "two"}, headers.Values(first.Headers, "X-Tag"))
	assert.Equal(t, "application/x-www-form-urlencoded", first.Header("Content-Type"))

	second := calls[1]
	assert.Equal(t, []string{"text/plain"}, headers.Values(second.Headers, "Content-Type"),
		"stored content type header wins over the body content type")
}

func TestRunDrainPassNoBody(t *testing.T) {
	store := memory.New()
	_, err := store.Insert(context.Background(), &queue.PendingRequest{
		Method: nethttp.MethodGet, URL: urlA, ValidUntil: future(),
	})
	require.NoError(t, err)
	exec := mocks.NewScriptedExecutor().Script(urlA, mocks.Outcome{Status: nethttp.StatusOK})
	w := New(store, exec, WithClock(clock))

	_, err = w.RunDrainPass(context.Background())
	require.NoError(t, err)

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].Body)
	assert.Empty(t, calls[0].Header("Content-Type"))
}

func TestRunDrainPassListFailure(t *testing.T) {
	store := &mocks.MockStore{}
	store.On("List", mock.Anything).Return(nil, errors.New("disk gone"))
	exec := &mocks.MockExecutor{}
	w := New(store, exec)

	result, err := w.RunDrainPass(context.Background())

	assert.Equal(t, Retry, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrStore)
	var se *queue.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, queue.OpList, se.Op)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestRunDrainPassCountFailure(t *testing.T) {
	rec := &queue.PendingRequest{ID: 1, Method: nethttp.MethodPost, URL: urlA, ValidUntil: future()}
	storeErr := queue.NewStoreError(queue.OpCount, "postgresql", errors.New("conn reset"))
	store := &mocks.MockStore{}
	store.On("List", mock.Anything).Return([]*queue.PendingRequest{rec}, nil)
	store.On("Delete", mock.Anything, int64(1)).Return(nil)
	store.On("Count", mock.Anything).Return(0, storeErr)
	exec := mocks.NewScriptedExecutor().Script(urlA, mocks.Outcome{Status: nethttp.StatusOK})
	w := New(store, exec, WithClock(clock))

	result, err := w.RunDrainPass(context.Background())

	assert.Equal(t, Retry, result)
	assert.Same(t, storeErr, err)
	store.AssertExpectations(t)
}

func TestRunDrainPassDeleteFailureKeepsGoing(t *testing.T) {
	recA := &queue.PendingRequest{ID: 1, Method: nethttp.MethodPost, URL: urlA, ValidUntil: future()}
	recB := &queue.PendingRequest{ID: 2, Method: nethttp.MethodPost, URL: urlB, ValidUntil: future()}
	store := &mocks.MockStore{}
	store.On("List", mock.Anything).Return([]*queue.PendingRequest{recA, recB}, nil)
	store.On("Delete", mock.Anything, int64(1)).Return(errors.New("locked"))
	store.On("Delete", mock.Anything, int64(2)).Return(nil)
	store.On("Count", mock.Anything).Return(1, nil)
	exec := mocks.NewScriptedExecutor().
		Script(urlA, mocks.Outcome{Status: nethttp.StatusOK}).
		Script(urlB, mocks.Outcome{Status: nethttp.StatusOK})
	w := New(store, exec, WithClock(clock))

	result, err := w.RunDrainPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Retry, result)
	assert.Equal(t, 1, exec.CallsTo(urlB))
	store.AssertExpectations(t)
}

func TestRunDrainPassLateInsertLeavesRetry(t *testing.T) {
	store := memory.New()
	seed(t, store, urlA, future())
	var inserted atomic.Bool
	exec := transport.ExecuteFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if inserted.CompareAndSwap(false, true) {
			seed(t, store, urlB, future())
		}
		return &transport.Response{StatusCode: nethttp.StatusOK}, nil
	})
	w := New(store, exec, WithClock(clock))

	result, err := w.RunDrainPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Retry, result, "record captured mid-pass waits for the next pass")
	assert.Equal(t, []string{urlB}, remainingURLs(t, store))
}

func TestRunDrainPassExecutorPanic(t *testing.T) {
	store := memory.New()
	seed(t, store, urlA, future())
	seed(t, store, urlB, future())
	exec := transport.ExecuteFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		if req.URL == urlA {
			panic("bad executor")
		}
		return &transport.Response{StatusCode: nethttp.StatusOK}, nil
	})
	w := New(store, exec, WithClock(clock))

	var result Result
	var err error
	require.NotPanics(t, func() { result, err = w.RunDrainPass(context.Background()) })

	require.NoError(t, err)
	assert.Equal(t, Retry, result)
	assert.Equal(t, []string{urlA}, remainingURLs(t, store))
}

func TestRunDrainPassAttemptTimeout(t *testing.T) {
	store := memory.New()
	seed(t, store, urlA, future())
	exec := transport.ExecuteFunc(func(ctx context.Context, _ *transport.Request) (*transport.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	w := New(store, exec, WithClock(clock), WithAttemptTimeout(20*time.Millisecond))

	start := time.Now()
	result, err := w.RunDrainPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Retry, result)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{urlA}, remainingURLs(t, store))
}

func TestRunDrainPassCancelled(t *testing.T) {
	store := memory.New()
	seed(t, store, urlA, future())
	seed(t, store, urlB, future())
	ctx, cancel := context.WithCancel(context.Background())
	exec := transport.ExecuteFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		cancel()
		return &transport.Response{StatusCode: nethttp.StatusOK}, nil
	})
	w := New(store, exec, WithClock(clock))

	result, err := w.RunDrainPass(ctx)

	require.NoError(t, err)
	assert.Equal(t, Retry, result)
	assert.Equal(t, []string{urlB}, remainingURLs(t, store), "entries after cancellation are not attempted")
}

func TestRunDrainPassRateLimited(t *testing.T) {
	store := memory.New()
	seed(t, store, urlA, future())
	seed(t, store, urlB, future())
	seed(t, store, urlC, future())
	exec := mocks.NewScriptedExecutor().
		Script(urlA, mocks.Outcome{Status: nethttp.StatusOK}).
		Script(urlB, mocks.Outcome{Status: nethttp.StatusOK}).
		Script(urlC, mocks.Outcome{Status: nethttp.StatusOK})
	w := New(store, exec, WithClock(clock), WithRateLimit(20, 1))

	start := time.Now()
	result, err := w.RunDrainPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Success, result)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRunDrainPassSharesConcurrentPass(t *testing.T) {
	store := memory.New()
	seed(t, store, urlA, future())
	release := make(chan struct{})
	var calls atomic.Int32
	exec := transport.ExecuteFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		calls.Add(1)
		<-release
		return &transport.Response{StatusCode: nethttp.StatusOK}, nil
	})
	w := New(store, exec, WithClock(clock))

	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = w.RunDrainPass(context.Background())
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, Success, r)
	}
}

func TestRunDrainPassTelemetry(t *testing.T) {
	mp := obtest.InstallMeterProvider(t)
	tracking.ResetForTesting()
	t.Cleanup(tracking.ResetForTesting)
	tp := obtest.NewTestTraceProvider()

	store := memory.New()
	seed(t, store, urlA, now.Add(-time.Second).UnixMilli())
	seed(t, store, urlB, future())
	seed(t, store, urlC, future())
	exec := mocks.NewScriptedExecutor().
		Script(urlB, mocks.Outcome{Status: nethttp.StatusOK}).
		Script(urlC, mocks.Outcome{Status: nethttp.StatusBadGateway})
	w := New(store, exec, WithClock(clock), WithTracerProvider(tp))

	result, err := w.RunDrainPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, Retry, result)

	rm := mp.Collect(t)
	assert.Equal(t, int64(1), obtest.SumInt64(rm, "alioli.requests.expired"))
	assert.Equal(t, int64(1), obtest.SumInt64(rm, "alioli.requests.delivered",
		attribute.String("alioli.source", tracking.SourceWorker)))
	assert.Equal(t, int64(1), obtest.SumInt64(rm, "alioli.delivery.attempts",
		attribute.String("alioli.outcome", tracking.OutcomeFailure)))
	assert.Equal(t, int64(1), obtest.SumInt64(rm, "alioli.drain.passes",
		attribute.String("alioli.drain.result", "retry")))
	assert.Equal(t, uint64(1), obtest.HistogramCount(rm, "alioli.drain.duration"))

	span := obtest.NewSpanCollector(t, tp.Exporter).WithName("alioli.drain_pass").AssertCount(1).First()
	obtest.AssertSpanAttribute(t, &span, "alioli.drain.result", "retry")
}

func TestResultString(t *testing.T) {
	tests := []struct {
		result Result
		want   string
	}{
		{Success, "success"},
		{Retry, "retry"},
		{PermanentFailure, "permanent_failure"},
		{Result(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.String())
		})
	}
}
