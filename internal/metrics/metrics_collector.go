package metrics

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// MetricsCollector records event processor metrics and serves them over HTTP.
// It satisfies processor.Recorder.
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

func (mc *MetricsCollector) RecordEnqueued() {
	mc.prometheus.IncEnqueued()
}

func (mc *MetricsCollector) RecordDropped(reason string, count int) {
	mc.prometheus.IncDropped(reason, count)

	mc.logger.Debug("Recorded dropped events metric",
		zap.String("reason", reason),
		zap.Int("count", count))
}

func (mc *MetricsCollector) RecordBatch(size int) {
	mc.prometheus.ObserveBatch(size)
}

func (mc *MetricsCollector) RecordDelivery(outcome string, duration time.Duration) {
	mc.prometheus.ObserveDelivery(outcome, duration.Seconds())

	mc.logger.Debug("Recorded delivery metric",
		zap.String("outcome", outcome),
		zap.Duration("duration", duration))
}

func (mc *MetricsCollector) SetQueueDepth(depth int) {
	mc.prometheus.SetQueueDepth(depth)
}

func (mc *MetricsCollector) RecordWorkerStart(reason string) {
	mc.prometheus.IncWorkerStart(reason)

	mc.logger.Debug("Recorded worker start metric", zap.String("reason", reason))
}

func (mc *MetricsCollector) RecordWorkerIterationError() {
	mc.prometheus.IncWorkerIterationError()
}

func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
