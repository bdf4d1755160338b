package processor

import (
	"time"

	"go.uber.org/zap"
)

// WorkerState is the lifecycle of the flush worker
type WorkerState int32

const (
	WorkerNotStarted WorkerState = iota
	WorkerRunning
	// WorkerDead means the goroutine exited without Stop; the next AddEvent restarts it
	WorkerDead
	WorkerStopped
)

// Worker start reasons reported to the Recorder
const (
	WorkerStartReason   = "start"
	WorkerRestartReason = "restart"
)

func (s WorkerState) String() string {
	switch s {
	case WorkerNotStarted:
		return "not_started"
	case WorkerRunning:
		return "running"
	case WorkerDead:
		return "dead"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ensureWorker spawns a worker when none is running. The CAS on state
// guarantees a single worker even when many producers race here.
func (p *Processor) ensureWorker() {
	for {
		current := WorkerState(p.state.Load())
		if current == WorkerRunning || current == WorkerStopped || p.stopped.Load() {
			return
		}

		if p.state.CompareAndSwap(int32(current), int32(WorkerRunning)) {
			reason := WorkerStartReason
			if current == WorkerDead {
				reason = WorkerRestartReason
				p.logger.Warn("Event flush worker was not running, restarting")
			}
			p.spawn(reason)
			return
		}
	}
}

func (p *Processor) spawn(reason string) {
	done := make(chan struct{})

	p.doneMu.Lock()
	p.workerDone = done
	p.doneMu.Unlock()

	p.recorder.RecordWorkerStart(reason)
	p.logger.Debug("Event flush worker starting",
		zap.String("reason", reason),
		zap.Duration("flush_interval", p.interval))

	go p.run(done)
}

// run flushes, then waits for the interval, until the processor is stopped
func (p *Processor) run(done chan struct{}) {
	clean := false
	defer func() {
		if clean {
			p.state.Store(int32(WorkerStopped))
		} else if p.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerDead)) {
			p.logger.Error("Event flush worker terminated unexpectedly")
		}
		close(done)
	}()

	for !p.stopped.Load() {
		p.iterate()
		if !p.wait() {
			break
		}
	}
	clean = true

	p.logger.Debug("Event flush worker exited")
}

// iterate runs one flush; a panic is logged and the loop carries on
func (p *Processor) iterate() {
	defer func() {
		if r := recover(); r != nil {
			p.recorder.RecordWorkerIterationError()
			p.logger.Error("Unexpected error in event flush worker",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	p.flush()
}

// wait sleeps for the flush interval. Returns false when the processor was
// stopped, true when it is time to flush again.
func (p *Processor) wait() bool {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	select {
	case <-p.ctx.Done():
		return false
	case <-p.flushCh:
		return true
	case <-timer.C:
		return true
	}
}
