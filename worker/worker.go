// Package worker drains the queue store: it drops expired records, re-sends
// the rest and reports whether anything is left for the next pass.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/internal/tracking"
	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/queue"
	"github.com/gaborage/alioli/transport"
)

const (
	tracerName = "github.com/gaborage/alioli/worker"
	passKey    = "drain"
)

// ExpiryNotifier is told about every record dropped for being past its validity.
type ExpiryNotifier interface {
	NotifyExpired(ctx context.Context, req *queue.PendingRequest) error
}

// Worker re-executes queued requests.
type Worker struct {
	store          queue.Store
	executor       transport.Executor
	limiter        *rate.Limiter
	attemptTimeout time.Duration
	notifier       ExpiryNotifier
	now            func() time.Time
	logger         logger.Logger
	tracer         trace.Tracer
	passes         singleflight.Group
}

// Option configures a Worker.
type Option func(*Worker)

// WithRateLimit paces attempts to limit per second with the given burst. A limit of zero or less disables pacing.
func WithRateLimit(limit float64, burst int) Option {
	return func(w *Worker) {
		if limit <= 0 {
			w.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// WithAttemptTimeout bounds each attempt. Zero leaves timeouts to the executor.
func WithAttemptTimeout(d time.Duration) Option {
	return func(w *Worker) { w.attemptTimeout = d }
}

// WithExpiryNotifier registers a notifier for expired records.
func WithExpiryNotifier(n ExpiryNotifier) Option {
	return func(w *Worker) { w.notifier = n }
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(log logger.Logger) Option {
	return func(w *Worker) {
		if log != nil {
			w.logger = log
		}
	}
}

// WithTracerProvider sets the provider used for drain spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Worker) {
		if tp != nil {
			w.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a Worker reading from store and sending through executor.
// The executor must not carry the capture gate.
func New(store queue.Store, executor transport.Executor, opts ...Option) *Worker {
	w := &Worker{
		store:    store,
		executor: executor,
		now:      time.Now,
		logger:   logger.Nop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type passStats struct {
	attempted int
	delivered int
	expired   int
	failed    int
}

// RunDrainPass processes every stored record once. Concurrent callers share
// the in-flight pass and its result.
//
// Per-entry failures never abort the pass. A store fault on List or Count
// returns Retry with the *queue.StoreError. Cancellation of ctx between
// entries ends the pass early with Retry.
func (w *Worker) RunDrainPass(ctx context.Context) (Result, error) {
	v, err, shared := w.passes.Do(passKey, func() (any, error) {
		return w.drain(ctx)
	})
	if shared {
		w.logger.Debug().Msg("Joined in-flight drain pass")
	}
	result, _ := v.(Result)
	return result, err
}

func (w *Worker) drain(ctx context.Context) (result Result, err error) {
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "alioli.drain_pass", trace.WithSpanKind(trace.SpanKindInternal))
	defer func() {
		span.SetAttributes(attribute.String("alioli.drain.result", result.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "drain pass aborted")
		}
		span.End()
		tracking.RecordDrainPass(ctx, result.String(), time.Since(start))
	}()

	records, err := w.store.List(ctx)
	if err != nil {
		return Retry, w.storeFault(ctx, queue.OpList, err)
	}
	if len(records) == 0 {
		w.logger.Debug().Msg("No deferred requests to execute")
		return Success, nil
	}
	span.SetAttributes(attribute.Int("alioli.drain.records", len(records)))

	var stats passStats
	for _, rec := range records {
		if ctx.Err() != nil {
			w.logger.Info().Int("remaining", len(records)-stats.processed()).Msg("Drain pass cancelled")
			return Retry, nil
		}
		if rec.ExpiredAt(w.now()) {
			w.expire(ctx, rec, &stats)
			continue
		}
		if w.limiter != nil {
			if werr := w.limiter.Wait(ctx); werr != nil {
				w.logger.Info().Err(werr).Msg("Drain pass stopped while waiting for rate limiter")
				return Retry, nil
			}
		}
		w.attempt(ctx, rec, &stats)
	}

	remaining, err := w.store.Count(ctx)
	if err != nil {
		return Retry, w.storeFault(ctx, queue.OpCount, err)
	}

	w.logger.Info().
		Int("records", len(records)).
		Int("attempted", stats.attempted).
		Int("delivered", stats.delivered).
		Int("expired", stats.expired).
		Int("failed", stats.failed).
		Int("remaining", remaining).
		Msg("Drain pass finished")

	if remaining > 0 {
		return Retry, nil
	}
	return Success, nil
}

func (s *passStats) processed() int {
	return s.attempted + s.expired
}

func (w *Worker) storeFault(ctx context.Context, op string, err error) error {
	tracking.RecordStoreError(ctx, op)
	if !queue.IsStoreError(err) {
		err = queue.NewStoreError(op, "unknown", err)
	}
	w.logger.Error().Err(err).Str("op", op).Msg("Queue store failed, drain pass aborted")
	return err
}

func (w *Worker) expire(ctx context.Context, rec *queue.PendingRequest, stats *passStats) {
	stats.expired++
	w.logger.Debug().Int64("id", rec.ID).Str("url", rec.URL).Int64("valid_until", rec.ValidUntil).Msg("Deferred request expired, dropping")

	if w.notifier != nil {
		if err := w.notifier.NotifyExpired(ctx, rec); err != nil {
			w.logger.Warn().Err(err).Int64("id", rec.ID).Msg("Failed to publish expired request")
		}
	}
	if err := w.store.Delete(ctx, rec.ID); err != nil {
		tracking.RecordStoreError(ctx, queue.OpDelete)
		w.logger.Warn().Err(err).Int64("id", rec.ID).Msg("Failed to delete expired request")
		return
	}
	tracking.RecordExpired(ctx)
}

func (w *Worker) attempt(ctx context.Context, rec *queue.PendingRequest, stats *passStats) {
	stats.attempted++

	attemptCtx := ctx
	if w.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, w.attemptTimeout)
		defer cancel()
	}

	resp, err := w.execute(attemptCtx, requestFrom(rec))
	switch {
	case err != nil:
		stats.failed++
		tracking.RecordAttempt(ctx, tracking.SourceWorker, tracking.OutcomeError)
		w.logger.Debug().Err(err).Int64("id", rec.ID).Str("url", rec.URL).Msg("Re-delivery failed")
	case resp.IsSuccessful():
		stats.delivered++
		tracking.RecordAttempt(ctx, tracking.SourceWorker, tracking.OutcomeSuccess)
		if derr := w.store.Delete(ctx, rec.ID); derr != nil {
			tracking.RecordStoreError(ctx, queue.OpDelete)
			w.logger.Warn().Err(derr).Int64("id", rec.ID).Msg("Failed to delete delivered request")
			return
		}
		tracking.RecordDelivered(ctx, tracking.SourceWorker)
		w.logger.Debug().Int64("id", rec.ID).Str("url", rec.URL).Int("status", resp.StatusCode).Msg("Deferred request delivered")
	default:
		stats.failed++
		tracking.RecordAttempt(ctx, tracking.SourceWorker, tracking.OutcomeFailure)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		w.logger.Debug().Int64("id", rec.ID).Str("url", rec.URL).Int("status", status).Msg("Re-delivery not successful, keeping request")
	}
}

// execute shields the pass from a panicking executor.
func (w *Worker) execute(ctx context.Context, req *transport.Request) (resp *transport.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("worker: executor panicked: %v", r)
		}
	}()
	return w.executor.Execute(ctx, req)
}

// requestFrom rebuilds the outgoing request. The stored content type is
// added as a header when the stored headers lack one.
func requestFrom(rec *queue.PendingRequest) *transport.Request {
	req := &transport.Request{
		Method:  rec.Method,
		URL:     rec.URL,
		Headers: append([]headers.Header(nil), rec.Headers...),
	}
	if rec.Body != nil {
		req.Body = []byte(rec.Body.Content)
		if rec.Body.ContentType != "" && !headers.Contains(req.Headers, "Content-Type") {
			req.Headers = append(req.Headers, headers.Header{Key: "Content-Type", Value: rec.Body.ContentType})
		}
	}
	return req
}
