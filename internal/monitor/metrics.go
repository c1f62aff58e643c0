package monitor

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"storefront/pkg/queue"
)

// MetricsCollector pipeline metrics. A nil collector records nothing, so
// components can be built without metrics in tests.
type MetricsCollector struct {
	registry *prometheus.Registry

	// checkout
	checkoutTotal    *prometheus.CounterVec
	checkoutDuration *prometheus.HistogramVec
	paymentAttempts  *prometheus.CounterVec
	paymentVoids     *prometheus.CounterVec

	// fulfillment
	finalizeTotal    *prometheus.CounterVec
	finalizeDuration *prometheus.HistogramVec
	stockDecrements  *prometheus.CounterVec
	deadLetterTotal  *prometheus.CounterVec
	reconcileTotal   *prometheus.CounterVec
	publishTotal     *prometheus.CounterVec

	// queue
	queueMessageTotal *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec

	// http
	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// runtime
	dbConnections  *prometheus.GaugeVec
	goroutineCount prometheus.Gauge
	memoryUsage    prometheus.Gauge
}

// NewMetricsCollector registers every metric on a fresh registry
func NewMetricsCollector(namespace string) *MetricsCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &MetricsCollector{
		registry: reg,

		checkoutTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Checkout requests by result code",
		}, []string{"result"}),
		checkoutDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Checkout latency by result code",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"result"}),
		paymentAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_authorize_attempts_total",
			Help:      "Payment authorization attempts by outcome",
		}, []string{"outcome"}),
		paymentVoids: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_voids_total",
			Help:      "Authorization voids after a failed enqueue",
		}, []string{"status"}),

		finalizeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_total",
			Help:      "Finalize runs by outcome",
		}, []string{"outcome"}),
		finalizeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_duration_seconds",
			Help:      "Finalize latency by outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		stockDecrements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_decrement_total",
			Help:      "Stock decrements by status",
		}, []string{"status"}),
		deadLetterTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letter_total",
			Help:      "Tasks handled by the dead-letter consumer",
		}, []string{"action"}),
		reconcileTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_requeued_total",
			Help:      "Stale PROCESSING orders re-enqueued",
		}, []string{"status"}),
		publishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmation_publish_total",
			Help:      "Confirmation events by status",
		}, []string{"status"}),

		queueMessageTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Queue operations by status",
		}, []string{"queue", "operation", "status"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages per queue and state",
		}, []string{"queue", "state"}),

		httpRequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		dbConnections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections",
			Help:      "Database pool connections by state",
		}, []string{"state"}),
		goroutineCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of goroutines",
		}),
		memoryUsage: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Allocated heap bytes",
		}),
	}
}

// Registry the registry to expose on /metrics
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	if mc == nil {
		return prometheus.NewRegistry()
	}
	return mc.registry
}

// RecordCheckout records one checkout outcome
func (mc *MetricsCollector) RecordCheckout(result string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.checkoutTotal.WithLabelValues(result).Inc()
	mc.checkoutDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordPaymentAttempt records one authorize call
func (mc *MetricsCollector) RecordPaymentAttempt(outcome string) {
	if mc == nil {
		return
	}
	mc.paymentAttempts.WithLabelValues(outcome).Inc()
}

// RecordPaymentVoid records a compensation void
func (mc *MetricsCollector) RecordPaymentVoid(status string) {
	if mc == nil {
		return
	}
	mc.paymentVoids.WithLabelValues(status).Inc()
}

// RecordFinalize records one Finalize run
func (mc *MetricsCollector) RecordFinalize(outcome string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.finalizeTotal.WithLabelValues(outcome).Inc()
	mc.finalizeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordStockDecrement records a decrement attempt
func (mc *MetricsCollector) RecordStockDecrement(status string) {
	if mc == nil {
		return
	}
	mc.stockDecrements.WithLabelValues(status).Inc()
}

// RecordDeadLetter records what the dead-letter consumer did
func (mc *MetricsCollector) RecordDeadLetter(action string) {
	if mc == nil {
		return
	}
	mc.deadLetterTotal.WithLabelValues(action).Inc()
}

// RecordReconcile records a re-enqueue attempt
func (mc *MetricsCollector) RecordReconcile(status string) {
	if mc == nil {
		return
	}
	mc.reconcileTotal.WithLabelValues(status).Inc()
}

// RecordPublish records a confirmation publish
func (mc *MetricsCollector) RecordPublish(status string) {
	if mc == nil {
		return
	}
	mc.publishTotal.WithLabelValues(status).Inc()
}

// RecordQueueMessage records a queue operation
func (mc *MetricsCollector) RecordQueueMessage(queueName, operation, status string) {
	if mc == nil {
		return
	}
	mc.queueMessageTotal.WithLabelValues(queueName, operation, status).Inc()
}

// UpdateQueueStats sets depth gauges from queue stats
func (mc *MetricsCollector) UpdateQueueStats(stats *queue.QueueStats) {
	if mc == nil || stats == nil {
		return
	}
	mc.queueDepth.WithLabelValues(stats.Name, "visible").Set(float64(stats.Visible))
	mc.queueDepth.WithLabelValues(stats.Name, "in_flight").Set(float64(stats.InFlight))
	mc.queueDepth.WithLabelValues(stats.Name, "dead").Set(float64(stats.DeadLetters))
}

// RecordHTTPRequest records one HTTP request
func (mc *MetricsCollector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.httpRequestTotal.WithLabelValues(method, path, status).Inc()
	mc.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateDBStats sets pool gauges
func (mc *MetricsCollector) UpdateDBStats(stats sql.DBStats) {
	if mc == nil {
		return
	}
	mc.dbConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
	mc.dbConnections.WithLabelValues("idle").Set(float64(stats.Idle))
	mc.dbConnections.WithLabelValues("open").Set(float64(stats.OpenConnections))
}

// UpdateSystemMetrics samples runtime gauges
func (mc *MetricsCollector) UpdateSystemMetrics() {
	if mc == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mc.memoryUsage.Set(float64(m.Alloc))
	mc.goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// StatsSource supplies the periodic samples
type StatsSource struct {
	DB     func() (sql.DBStats, bool)
	Queues []queue.TaskQueue
}

// StartCollection samples runtime, pool and queue gauges every interval
func (mc *MetricsCollector) StartCollection(ctx context.Context, interval time.Duration, src StatsSource) {
	if mc == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mc.UpdateSystemMetrics()
			if src.DB != nil {
				if stats, ok := src.DB(); ok {
					mc.UpdateDBStats(stats)
				}
			}
			for _, q := range src.Queues {
				if stats, err := q.Stats(ctx); err == nil {
					mc.UpdateQueueStats(stats)
				}
			}
		}
	}
}
