package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	obtest "github.com/gaborage/alioli/observability/testing"
)

func setupMeter(t *testing.T) *obtest.TestMeterProvider {
	t.Helper()
	mp := obtest.InstallMeterProvider(t)
	ResetForTesting()
	t.Cleanup(ResetForTesting)
	return mp
}

func TestCounters(t *testing.T) {
	mp := setupMeter(t)
	ctx := context.Background()

	RecordCaptured(ctx)
	RecordCaptured(ctx)
	RecordDelivered(ctx, SourceGate)
	RecordDelivered(ctx, SourceWorker)
	RecordExpired(ctx)
	RecordAttempt(ctx, SourceWorker, OutcomeFailure)
	RecordAttempt(ctx, SourceWorker, OutcomeError)
	RecordAttempt(ctx, SourceGate, OutcomeSuccess)
	RecordStoreError(ctx, "insert")

	rm := mp.Collect(t)
	assert.Equal(t, int64(2), obtest.SumInt64(rm, metricCaptured))
	assert.Equal(t, int64(2), obtest.SumInt64(rm, metricDelivered))
	assert.Equal(t, int64(1), obtest.SumInt64(rm, metricDelivered, attribute.String(attrSource, SourceGate)))
	assert.Equal(t, int64(1), obtest.SumInt64(rm, metricExpired))
	assert.Equal(t, int64(2), obtest.SumInt64(rm, metricAttempts, attribute.String(attrSource, SourceWorker)))
	assert.Equal(t, int64(1), obtest.SumInt64(rm, metricAttempts, attribute.String(attrOutcome, OutcomeSuccess)))
	assert.Equal(t, int64(1), obtest.SumInt64(rm, metricStoreErrors, attribute.String(attrOperation, "insert")))
	assert.True(t, IsInitialized())
}

func TestRecordDrainPass(t *testing.T) {
	mp := setupMeter(t)

	RecordDrainPass(context.Background(), "retry", 250*time.Millisecond)
	RecordDrainPass(context.Background(), "success", time.Second)

	rm := mp.Collect(t)
	assert.Equal(t, int64(1), obtest.SumInt64(rm, metricDrainPasses, attribute.String(attrResult, "retry")))
	assert.Equal(t, uint64(2), obtest.HistogramCount(rm, metricDrainSeconds))
}

func TestRegisterQueueDepth(t *testing.T) {
	mp := setupMeter(t)

	depth := 7
	cleanup := RegisterQueueDepth(func(context.Context) (int, error) { return depth, nil })

	rm := mp.Collect(t)
	v, ok := obtest.GaugeInt64(rm, metricQueueDepth)
	require.True(t, ok)
	assert.Equal(t, int64(7), v)

	depth = 3
	rm = mp.Collect(t)
	v, _ = obtest.GaugeInt64(rm, metricQueueDepth)
	assert.Equal(t, int64(3), v)

	cleanup()
	rm = mp.Collect(t)
	_, ok = obtest.GaugeInt64(rm, metricQueueDepth)
	assert.False(t, ok)
}

func TestRegisterQueueDepthSkipsFailedCount(t *testing.T) {
	mp := setupMeter(t)

	cleanup := RegisterQueueDepth(func(context.Context) (int, error) { return 0, errors.New("store down") })
	defer cleanup()

	rm := mp.Collect(t)
	_, ok := obtest.GaugeInt64(rm, metricQueueDepth)
	assert.False(t, ok)
}

func TestRegisterQueueDepthNilCount(t *testing.T) {
	setupMeter(t)
	assert.NotPanics(t, RegisterQueueDepth(nil))
}
