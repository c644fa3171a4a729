package capture

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/internal/tracking"
	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/queue"
	"github.com/gaborage/alioli/transport"
)

const tracerName = "github.com/gaborage/alioli/capture"

// maxValidityMillis keeps the validity representable as a time.Duration.
const maxValidityMillis = math.MaxInt64 / int64(time.Millisecond)

// RetryEnqueuer schedules the single retry drain job.
type RetryEnqueuer interface {
	EnqueueRetry(delay time.Duration) error
}

// Gate persists deferrable requests and reacts to the outcome of their first attempt.
type Gate struct {
	store           queue.Store
	scheduler       RetryEnqueuer
	backoffDelay    time.Duration
	defaultValidity time.Duration
	now             func() time.Time
	logger          logger.Logger
	tracer          trace.Tracer
}

var _ transport.Interceptor = (*Gate)(nil).Intercept

// Option configures a Gate.
type Option func(*Gate)

// WithBackoffDelay sets the delay passed to the scheduler after a failed attempt.
func WithBackoffDelay(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.backoffDelay = d
		}
	}
}

// WithDefaultValidity sets the validity used when the control header has no usable value.
func WithDefaultValidity(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.defaultValidity = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger sets the gate logger.
func WithLogger(log logger.Logger) Option {
	return func(g *Gate) {
		if log != nil {
			g.logger = log
		}
	}
}

// WithTracerProvider sets the provider used for capture spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gate) {
		if tp != nil {
			g.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewGate creates a Gate writing to store and triggering scheduler on failure.
func NewGate(store queue.Store, scheduler RetryEnqueuer, opts ...Option) *Gate {
	g := &Gate{
		store:           store,
		scheduler:       scheduler,
		backoffDelay:    DefaultBackoffDelay,
		defaultValidity: DefaultValidity,
		now:             time.Now,
		logger:          logger.Nop(),
		tracer:          otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Intercept runs proceed for req. Requests without HeaderName pass straight through.
// Deferrable requests are stored first; a store failure is returned without attempting
// the request. The response and error of proceed are returned unchanged.
func (g *Gate) Intercept(ctx context.Context, req *transport.Request, proceed transport.ExecuteFunc) (*transport.Response, error) {
	values := headers.Values(req.Headers, HeaderName)
	if values == nil {
		return proceed(ctx, req)
	}

	ctx, span := g.tracer.Start(ctx, "alioli.capture",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL),
		))
	defer span.End()

	validUntil := g.now().Add(g.validity(values[0])).UnixMilli()
	attempt := req.Clone()
	attempt.Headers = headers.Without(req.Headers, HeaderName)

	id, err := g.store.Insert(ctx, &queue.PendingRequest{
		Method:     attempt.Method,
		URL:        attempt.URL,
		Body:       bodyOf(attempt),
		Headers:    attempt.Headers,
		ValidUntil: validUntil,
	})
	if err != nil {
		tracking.RecordStoreError(ctx, queue.OpInsert)
		span.RecordError(err)
		span.SetStatus(codes.Error, "store insert failed")
		g.logger.Error().Err(err).Str("method", req.Method).Str("url", req.URL).Msg("Failed to persist deferrable request")
		return nil, err
	}
	tracking.RecordCaptured(ctx)
	span.SetAttributes(attribute.Int64("alioli.request.id", id), attribute.Int64("alioli.request.valid_until", validUntil))

	resp, err := proceed(ctx, attempt)
	switch {
	case err != nil:
		tracking.RecordAttempt(ctx, tracking.SourceGate, tracking.OutcomeError)
		span.RecordError(err)
		g.logger.Debug().Err(err).Int64("id", id).Str("url", req.URL).Msg("Deferrable request failed, enqueueing retry")
		g.enqueue(id)
		return resp, err
	case resp.IsSuccessful():
		tracking.RecordAttempt(ctx, tracking.SourceGate, tracking.OutcomeSuccess)
		g.logger.Debug().Int64("id", id).Str("url", req.URL).Int("status", resp.StatusCode).Msg("Deferrable request delivered")
		if derr := g.store.Delete(ctx, id); derr != nil {
			tracking.RecordStoreError(ctx, queue.OpDelete)
			g.logger.Warn().Err(derr).Int64("id", id).Msg("Failed to delete delivered request, a retry pass will send it again")
		} else {
			tracking.RecordDelivered(ctx, tracking.SourceGate)
		}
		return resp, nil
	default:
		tracking.RecordAttempt(ctx, tracking.SourceGate, tracking.OutcomeFailure)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		g.logger.Debug().Int64("id", id).Str("url", req.URL).Int("status", status).Msg("Deferrable request not successful, enqueueing retry")
		g.enqueue(id)
		return resp, nil
	}
}

func (g *Gate) enqueue(id int64) {
	if g.scheduler == nil {
		return
	}
	if err := g.scheduler.EnqueueRetry(g.backoffDelay); err != nil {
		g.logger.Error().Err(err).Int64("id", id).Dur("delay", g.backoffDelay).Msg("Failed to enqueue retry job")
	}
}

// validity parses the control header value as milliseconds.
func (g *Gate) validity(value string) time.Duration {
	ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return g.defaultValidity
	}
	if ms > maxValidityMillis {
		ms = maxValidityMillis
	}
	return time.Duration(ms) * time.Millisecond
}

func bodyOf(req *transport.Request) *queue.Body {
	if req.Body == nil {
		return nil
	}
	return &queue.Body{
		Content:     string(req.Body),
		ContentType: req.Header("Content-Type"),
	}
}
