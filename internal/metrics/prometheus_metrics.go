package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

type PrometheusMetrics struct {
	httpHandler func(*fasthttp.RequestCtx)
	logger      *zap.Logger

	eventsEnqueuedTotal   prometheus.Counter
	eventsDroppedTotal    *prometheus.CounterVec
	batchesTotal          prometheus.Counter
	batchSize             prometheus.Histogram
	deliveriesTotal       *prometheus.CounterVec
	deliveryDuration      prometheus.Histogram
	queueDepth            prometheus.Gauge
	workerStartsTotal     *prometheus.CounterVec
	workerIterationErrors prometheus.Counter
}

// NewPrometheusMetrics registers the processor metrics on a private registry
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.NewRegistry(), logger)
}

// NewPrometheusMetricsWithRegistry registers the processor metrics on registry.
// registry is also used as the gatherer for the HTTP handler.
func NewPrometheusMetricsWithRegistry(namespace string, registry *prometheus.Registry, logger *zap.Logger) *PrometheusMetrics {
	if namespace == "" {
		namespace = "eventpipe"
	}

	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.eventsEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "enqueued_total",
		Help:      "Total number of events accepted into the queue",
	})

	pm.eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total number of events dropped, by reason",
		},
		[]string{"reason"},
	)

	pm.batchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "batches_total",
		Help:      "Total number of non-empty batches drained from the queue",
	})

	pm.batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "batch_size",
		Help:      "Number of events per drained batch",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	pm.deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "requests_total",
			Help:      "Total number of bulk delivery attempts, by outcome",
		},
		[]string{"outcome"},
	)

	pm.deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "duration_seconds",
		Help:      "Duration of bulk delivery requests in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	pm.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "queue_depth",
		Help:      "Events currently waiting in the queue",
	})

	pm.workerStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Flush worker starts, by reason (start or restart)",
		},
		[]string{"reason"},
	)

	pm.workerIterationErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "iteration_errors_total",
		Help:      "Flush iterations that panicked and were recovered",
	})

	registry.MustRegister(
		pm.eventsEnqueuedTotal,
		pm.eventsDroppedTotal,
		pm.batchesTotal,
		pm.batchSize,
		pm.deliveriesTotal,
		pm.deliveryDuration,
		pm.queueDepth,
		pm.workerStartsTotal,
		pm.workerIterationErrors,
	)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(handler)

	logger.Info("Prometheus metrics initialized for event processor",
		zap.String("namespace", namespace))

	return pm
}

func (pm *PrometheusMetrics) IncEnqueued() {
	pm.eventsEnqueuedTotal.Inc()
}

func (pm *PrometheusMetrics) IncDropped(reason string, n int) {
	pm.eventsDroppedTotal.WithLabelValues(reason).Add(float64(n))
}

func (pm *PrometheusMetrics) ObserveBatch(size int) {
	pm.batchesTotal.Inc()
	pm.batchSize.Observe(float64(size))
}

func (pm *PrometheusMetrics) ObserveDelivery(outcome string, seconds float64) {
	pm.deliveriesTotal.WithLabelValues(outcome).Inc()
	pm.deliveryDuration.Observe(seconds)
}

func (pm *PrometheusMetrics) SetQueueDepth(depth int) {
	pm.queueDepth.Set(float64(depth))
}

func (pm *PrometheusMetrics) IncWorkerStart(reason string) {
	pm.workerStartsTotal.WithLabelValues(reason).Inc()
}

func (pm *PrometheusMetrics) IncWorkerIterationError() {
	pm.workerIterationErrors.Inc()
}

// CounterValue reads the current value of a counter
func (pm *PrometheusMetrics) CounterValue(counter prometheus.Counter) float64 {
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		pm.logger.Warn("Failed to read counter value", zap.Error(err))
		return 0
	}
	return metric.GetCounter().GetValue()
}

// DroppedTotal returns the number of events dropped for reason
func (pm *PrometheusMetrics) DroppedTotal(reason string) float64 {
	return pm.CounterValue(pm.eventsDroppedTotal.WithLabelValues(reason))
}

func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
