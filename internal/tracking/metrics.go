// Package tracking records OpenTelemetry metrics for the deferral pipeline.
// Instruments are created lazily from the global MeterProvider so that the
// observability provider can be installed before the first request.
package tracking

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/gaborage/alioli"

	metricCaptured     = "alioli.requests.captured"  // Counter
	metricDelivered    = "alioli.requests.delivered" // Counter
	metricExpired      = "alioli.requests.expired"   // Counter
	metricAttempts     = "alioli.delivery.attempts"  // Counter
	metricDrainPasses  = "alioli.drain.passes"       // Counter
	metricDrainSeconds = "alioli.drain.duration"     // Histogram in seconds
	metricStoreErrors  = "alioli.store.errors"       // Counter
	metricQueueDepth   = "alioli.queue.depth"        // ObservableGauge

	attrSource    = "alioli.source"
	attrOutcome   = "alioli.outcome"
	attrResult    = "alioli.drain.result"
	attrOperation = "alioli.store.operation"
)

// Attempt sources.
const (
	SourceGate   = "gate"
	SourceWorker = "worker"
)

// Attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

var (
	meter         metric.Meter
	meterOnce     sync.Once
	meterInitMu   sync.Mutex
	metricsInited bool

	capturedCounter    metric.Int64Counter
	deliveredCounter   metric.Int64Counter
	expiredCounter     metric.Int64Counter
	attemptsCounter    metric.Int64Counter
	drainPassesCounter metric.Int64Counter
	drainDuration      metric.Float64Histogram
	storeErrorsCounter metric.Int64Counter
)

func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize alioli metric %s: %v\n", metricName, err)
	}
}

func counter(name, description, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	logMetricError(name, err)
	return c
}

func initMeter() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	if meter != nil {
		return
	}
	meter = otel.Meter(meterName)

	capturedCounter = counter(metricCaptured, "Deferrable requests persisted before their first attempt", "{request}")
	deliveredCounter = counter(metricDelivered, "Deferred requests delivered and removed from the queue", "{request}")
	expiredCounter = counter(metricExpired, "Deferred requests dropped after their validity window", "{request}")
	attemptsCounter = counter(metricAttempts, "Delivery attempts by source and outcome", "{attempt}")
	drainPassesCounter = counter(metricDrainPasses, "Completed drain passes by result", "{pass}")
	storeErrorsCounter = counter(metricStoreErrors, "Queue store failures by operation", "{error}")

	var err error
	drainDuration, err = meter.Float64Histogram(
		metricDrainSeconds,
		metric.WithDescription("Duration of drain passes"),
		metric.WithUnit("s"),
	)
	logMetricError(metricDrainSeconds, err)

	metricsInited = true
}

func ensureInitialized() {
	meterOnce.Do(initMeter)
}

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	ensureInitialized()
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCaptured counts a request persisted by the capture gate.
func RecordCaptured(ctx context.Context) {
	ensureInitialized()
	add(ctx, capturedCounter)
}

// RecordDelivered counts a request removed after a successful attempt.
func RecordDelivered(ctx context.Context, source string) {
	ensureInitialized()
	add(ctx, deliveredCounter, attribute.String(attrSource, source))
}

// RecordExpired counts a request dropped without an attempt.
func RecordExpired(ctx context.Context) {
	ensureInitialized()
	add(ctx, expiredCounter)
}

// RecordAttempt counts one delivery attempt.
func RecordAttempt(ctx context.Context, source, outcome string) {
	ensureInitialized()
	add(ctx, attemptsCounter, attribute.String(attrSource, source), attribute.String(attrOutcome, outcome))
}

// RecordStoreError counts a failed queue store call.
func RecordStoreError(ctx context.Context, op string) {
	ensureInitialized()
	add(ctx, storeErrorsCounter, attribute.String(attrOperation, op))
}

// RecordDrainPass records a finished drain pass and its duration.
func RecordDrainPass(ctx context.Context, result string, duration time.Duration) {
	ensureInitialized()
	attrs := metric.WithAttributes(attribute.String(attrResult, result))
	if drainPassesCounter != nil {
		drainPassesCounter.Add(ctx, 1, attrs)
	}
	if drainDuration != nil {
		drainDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

func noOpCleanup() func() {
	return func() { /** no-op **/ }
}

// RegisterQueueDepth observes the queue size through count on every collection.
// Count failures skip the observation. The returned function unregisters the callback.
func RegisterQueueDepth(count func(ctx context.Context) (int, error)) func() {
	ensureInitialized()
	if meter == nil || count == nil {
		return noOpCleanup()
	}

	gauge, err := meter.Int64ObservableGauge(
		metricQueueDepth,
		metric.WithDescription("Pending requests waiting in the queue store"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logMetricError(metricQueueDepth, err)
		return noOpCleanup()
	}

	registration, err := meter.RegisterCallback(func(ctx context.Context, observer metric.Observer) error {
		n, err := count(ctx)
		if err != nil {
			return nil
		}
		observer.ObserveInt64(gauge, int64(n))
		return nil
	}, gauge)
	if err != nil {
		logMetricError("queue_depth_callback", err)
		return noOpCleanup()
	}

	return func() {
		if err := registration.Unregister(); err != nil {
			logMetricError("queue_depth_unregister", err)
		}
	}
}

// IsInitialized returns true if the instruments have been created.
func IsInitialized() bool {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()
	return metricsInited
}

// ResetForTesting drops the instruments so the next call binds to the current global provider.
func ResetForTesting() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	meter = nil
	capturedCounter = nil
	deliveredCounter = nil
	expiredCounter = nil
	attemptsCounter = nil
	drainPassesCounter = nil
	drainDuration = nil
	storeErrorsCounter = nil
	metricsInited = false
	meterOnce = sync.Once{}
}
