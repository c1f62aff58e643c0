package monitor

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/config"
	"storefront/pkg/queue"
)

func TestMetricsCollector_Record(t *testing.T) {
	mc := NewMetricsCollector("test")

	mc.RecordCheckout("ACCEPTED", 120*time.Millisecond)
	mc.RecordCheckout("ACCEPTED", 80*time.Millisecond)
	mc.RecordCheckout("PAYMENT_DECLINED", 10*time.Millisecond)
	mc.RecordFinalize("completed", time.Second)
	mc.RecordPaymentAttempt("transient")
	mc.RecordDeadLetter("failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(mc.checkoutTotal.WithLabelValues("ACCEPTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.checkoutTotal.WithLabelValues("PAYMENT_DECLINED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.finalizeTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.paymentAttempts.WithLabelValues("transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.deadLetterTotal.WithLabelValues("failed")))
}

func TestMetricsCollector_Gauges(t *testing.T) {
	mc := NewMetricsCollector("test")

	mc.UpdateQueueStats(&queue.QueueStats{Name: "orders", Visible: 4, InFlight: 2, DeadLetters: 1})
	mc.UpdateDBStats(sql.DBStats{OpenConnections: 5, InUse: 3, Idle: 2})
	mc.UpdateSystemMetrics()

	assert.Equal(t, 4.0, testutil.ToFloat64(mc.queueDepth.WithLabelValues("orders", "visible")))
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.queueDepth.WithLabelValues("orders", "in_flight")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.queueDepth.WithLabelValues("orders", "dead")))
	assert.Equal(t, 3.0, testutil.ToFloat64(mc.dbConnections.WithLabelValues("in_use")))
	assert.Greater(t, testutil.ToFloat64(mc.goroutineCount), 0.0)
}

func TestMetricsCollector_SeparateRegistries(t *testing.T) {
	a := NewMetricsCollector("test")
	b := NewMetricsCollector("test")
	a.RecordStockDecrement("ok")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.stockDecrements.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.stockDecrements.WithLabelValues("ok")))
}

func TestMetricsCollector_NilSafe(t *testing.T) {
	var mc *MetricsCollector

	assert.NotPanics(t, func() {
		mc.RecordCheckout("ACCEPTED", time.Millisecond)
		mc.RecordFinalize("completed", time.Millisecond)
		mc.RecordQueueMessage("orders", "send", "ok")
		mc.UpdateQueueStats(&queue.QueueStats{Name: "orders"})
		mc.StartCollection(context.Background(), time.Second, StatsSource{})
	})
	assert.NotNil(t, mc.Registry())
}

func TestMetricsCollector_StartCollection(t *testing.T) {
	mc := NewMetricsCollector("test")
	q, err := queue.NewMemoryQueue(queue.DefaultConfig("orders"))
	require.NoError(t, err)
	_, err = q.Send(context.Background(), []byte(`{}`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	mc.StartCollection(ctx, 10*time.Millisecond, StatsSource{Queues: []queue.TaskQueue{q}})

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.queueDepth.WithLabelValues("orders", "visible")))
}

func TestTracer_Disabled(t *testing.T) {
	tr, err := NewTracer(config.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)

	ctx, span := tr.StartCheckoutSpan(context.Background(), 7)
	RecordError(span, assert.AnError)
	span.End()

	assert.Empty(t, TraceID(ctx))
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracer_Nil(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.StartFinalizeSpan(context.Background(), "ORD1", 1)
	span.End()
	assert.NotNil(t, ctx)
	assert.NoError(t, tr.Shutdown(context.Background()))
}
