package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestSumInt64FiltersByAttributes(t *testing.T) {
	mp := NewTestMeterProvider()
	counter, err := mp.Meter("test").Int64Counter("alioli.test.count")
	assert.NoError(t, err)

	ctx := context.Background()
	counter.Add(ctx, 2, metric.WithAttributes(attribute.String("k", "a")))
	counter.Add(ctx, 3, metric.WithAttributes(attribute.String("k", "b")))

	rm := mp.Collect(t)
	assert.Equal(t, int64(5), SumInt64(rm, "alioli.test.count"))
	assert.Equal(t, int64(3), SumInt64(rm, "alioli.test.count", attribute.String("k", "b")))
	assert.Zero(t, SumInt64(rm, "alioli.test.count", attribute.String("k", "c")))
	assert.Zero(t, SumInt64(rm, "missing"))
	assert.Nil(t, FindMetric(rm, "missing"))
}

func TestHistogramAndGauge(t *testing.T) {
	mp := NewTestMeterProvider()
	meter := mp.Meter("test")
	hist, err := meter.Float64Histogram("alioli.test.duration")
	assert.NoError(t, err)
	_, err = meter.Int64ObservableGauge("alioli.test.depth", metric.WithInt64Callback(
		func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(4)
			return nil
		}))
	assert.NoError(t, err)

	hist.Record(context.Background(), 0.5)
	hist.Record(context.Background(), 1.5)

	rm := mp.Collect(t)
	assert.Equal(t, uint64(2), HistogramCount(rm, "alioli.test.duration"))
	v, ok := GaugeInt64(rm, "alioli.test.depth")
	assert.True(t, ok)
	assert.Equal(t, int64(4), v)
	_, ok = GaugeInt64(rm, "alioli.test.duration")
	assert.False(t, ok, "wrong instrument kind")
}

func TestInstallMeterProviderRestoresGlobal(t *testing.T) {
	before := otel.GetMeterProvider()

	t.Run("installed", func(t *testing.T) {
		mp := InstallMeterProvider(t)
		assert.Same(t, mp, otel.GetMeterProvider())
	})

	assert.Equal(t, before, otel.GetMeterProvider())
}

func TestSpanCollector(t *testing.T) {
	tp := NewTestTraceProvider()
	tracer := tp.Tracer("test")

	_, a := tracer.Start(context.Background(), "alioli.capture")
	a.SetAttributes(attribute.String("alioli.source", "gate"), attribute.Int64("alioli.request.id", 9))
	a.End()
	_, b := tracer.Start(context.Background(), "alioli.drain")
	b.End()

	all := NewSpanCollector(t, tp.Exporter)
	all.AssertCount(2)

	span := all.WithName("alioli.capture").AssertCount(1).First()
	AssertSpanAttribute(t, &span, "alioli.source", "gate")
	AssertSpanAttribute(t, &span, "alioli.request.id", int64(9))
	NewSpanCollector(t, tp.Exporter).WithName("nope").AssertCount(0)
}
