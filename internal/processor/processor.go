package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/eventpipe/internal/common/configtypes"
	"github.com/edgecomet/eventpipe/internal/delivery"
	"github.com/edgecomet/eventpipe/internal/events"
)

const defaultFlushInterval = 10 * time.Second

// Drop reasons reported to the Recorder and the Archiver
const (
	DropQueueFull      = "queue_full"
	DropDeliveryFailed = "delivery_failed"
	DropUnauthorized   = "unauthorized"
)

// Deliverer sends one batch to the collector
type Deliverer interface {
	Deliver(ctx context.Context, batch []*events.Event) delivery.Outcome
}

// Archiver keeps a copy of batches that were dropped after a failed delivery
type Archiver interface {
	Store(batch []*events.Event, reason string, statusCode int)
}

// Recorder receives processor metrics
type Recorder interface {
	RecordEnqueued()
	RecordDropped(reason string, count int)
	RecordBatch(size int)
	RecordDelivery(outcome string, duration time.Duration)
	SetQueueDepth(depth int)
	RecordWorkerStart(reason string)
	RecordWorkerIterationError()
}

// Options for New. Deliverer is required when sending is enabled.
type Options struct {
	Config    configtypes.EventsConfig
	Deliverer Deliverer
	Recorder  Recorder
	Archiver  Archiver
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Processor accepts events from any goroutine and delivers them in batches
// from a single background worker. Callers never block on I/O and never see
// delivery errors.
type Processor struct {
	cfg       configtypes.EventsConfig
	interval  time.Duration
	queue     *events.Queue
	deliverer Deliverer
	recorder  Recorder
	archiver  Archiver
	logger    *zap.Logger
	now       func() time.Time

	stopped atomic.Bool
	state   atomic.Int32

	// cancelled by Stop; wakes the worker out of its interval wait
	ctx    context.Context
	cancel context.CancelFunc

	flushCh chan struct{}

	doneMu     sync.Mutex
	workerDone chan struct{}
}

// New creates a processor. The worker is not started until Start or the
// first AddEvent.
func New(opts Options) (*Processor, error) {
	if opts.Config.Enabled() && opts.Deliverer == nil {
		return nil, fmt.Errorf("deliverer is required when sending events is enabled")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := opts.Config.FlushInterval.ToDuration()
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Processor{
		cfg:       opts.Config,
		interval:  interval,
		queue:     events.NewQueue(opts.Config.Capacity),
		deliverer: opts.Deliverer,
		recorder:  recorder,
		archiver:  opts.Archiver,
		logger:    logger,
		now:       clock,
		ctx:       ctx,
		cancel:    cancel,
		flushCh:   make(chan struct{}, 1),
	}, nil
}

// Start launches the flush worker. It is a no-op when sending is disabled,
// offline, stopped, or the worker is already running.
func (p *Processor) Start() {
	if !p.cfg.Enabled() {
		p.logger.Info("Event sending disabled, flush worker not started",
			zap.Bool("send_events", p.cfg.SendEvents),
			zap.Bool("offline", p.cfg.Offline))
		return
	}
	p.ensureWorker()
}

// AddEvent stamps a copy of event with its creation date and queues it.
// Reports whether the event was admitted; it is dropped, with a warning,
// when the queue is full, and ignored when sending is off or stopped.
func (p *Processor) AddEvent(event *events.Event) bool {
	if event == nil || !p.cfg.Enabled() || p.stopped.Load() {
		return false
	}

	queued := event.Clone()
	queued.Stamp(p.now())

	p.ensureWorker()

	admitted := p.queue.Offer(queued)
	p.recorder.SetQueueDepth(p.queue.Len())
	if !admitted {
		p.recorder.RecordDropped(DropQueueFull, 1)
		p.logger.Warn("Exceeded event queue capacity. Increase capacity to avoid dropping events.",
			zap.Int("capacity", p.queue.Cap()),
			zap.String("kind", queued.Kind()))
		return false
	}

	p.recorder.RecordEnqueued()
	if ce := p.logger.Check(zap.DebugLevel, "Enqueueing event"); ce != nil {
		ce.Write(zap.Reflect("event", queued))
	}
	return true
}

// Flush asks the worker to flush now instead of waiting for the interval.
// It does not wait for delivery.
func (p *Processor) Flush() {
	if !p.cfg.Enabled() || p.stopped.Load() {
		return
	}
	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

// Stop permanently disables the processor. Only the first call has any
// effect; it wakes a sleeping worker so it exits without waiting out the
// interval. A delivery already in flight is allowed to finish.
func (p *Processor) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}

	p.cancel()
	p.state.CompareAndSwap(int32(WorkerNotStarted), int32(WorkerStopped))
	p.state.CompareAndSwap(int32(WorkerDead), int32(WorkerStopped))

	p.logger.Info("Event processor stopped",
		zap.Int("pending_events", p.queue.Len()))
}

// IsAlive reports whether Stop has not yet been called
func (p *Processor) IsAlive() bool {
	return !p.stopped.Load()
}

// Wait blocks until the current worker goroutine has exited or ctx is done.
// Meant to be called after Stop.
func (p *Processor) Wait(ctx context.Context) error {
	p.doneMu.Lock()
	done := p.workerDone
	p.doneMu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the number of events waiting for the next flush
func (p *Processor) QueueDepth() int {
	return p.queue.Len()
}

// QueueCapacity returns the configured queue ceiling
func (p *Processor) QueueCapacity() int {
	return p.queue.Cap()
}

// WorkerState returns the current worker lifecycle state
func (p *Processor) WorkerState() WorkerState {
	return WorkerState(p.state.Load())
}

type nopRecorder struct{}

func (nopRecorder) RecordEnqueued() {}
func (nopRecorder) RecordDropped(string, int) {}
func (nopRecorder) RecordBatch(int) {}
func (nopRecorder) RecordDelivery(string, time.Duration) {}
func (nopRecorder) SetQueueDepth(int) {}
func (nopRecorder) RecordWorkerStart(string) {}
func (nopRecorder) RecordWorkerIterationError() {}
