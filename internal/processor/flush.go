package processor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/eventpipe/internal/delivery"
	"github.com/edgecomet/eventpipe/internal/events"
)

// flush drains the queue and delivers the batch. Runs only on the worker.
func (p *Processor) flush() {
	if !p.cfg.Enabled() || p.stopped.Load() {
		return
	}

	batch := p.queue.DrainAll()
	p.recorder.SetQueueDepth(p.queue.Len())
	if len(batch) == 0 {
		return
	}

	if p.stopped.Load() {
		p.logger.Debug("Processor stopped during flush, discarding batch",
			zap.Int("events", len(batch)))
		return
	}

	p.recorder.RecordBatch(len(batch))

	// Stop must not abort a delivery that has already started
	ctx := context.WithoutCancel(p.ctx)

	start := time.Now()
	outcome := p.deliverer.Deliver(ctx, batch)
	p.recorder.RecordDelivery(outcome.Kind.String(), time.Since(start))

	switch outcome.Kind {
	case delivery.Success:
		p.logger.Debug("Flushed events",
			zap.Int("events", len(batch)),
			zap.Int("status_code", outcome.StatusCode))
	case delivery.Fatal:
		p.drop(batch, DropUnauthorized, outcome)
		p.Stop()
	default:
		p.drop(batch, DropDeliveryFailed, outcome)
	}
}

func (p *Processor) drop(batch []*events.Event, reason string, outcome delivery.Outcome) {
	p.recorder.RecordDropped(reason, len(batch))
	p.logger.Warn("Dropped event batch",
		zap.String("reason", reason),
		zap.Int("events", len(batch)),
		zap.Int("status_code", outcome.StatusCode),
		zap.Error(outcome.Err))

	if p.archiver != nil {
		p.archiver.Store(batch, reason, outcome.StatusCode)
	}
}
