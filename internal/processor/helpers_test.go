package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/edgecomet/eventpipe/internal/common/configtypes"
	"github.com/edgecomet/eventpipe/internal/delivery"
	"github.com/edgecomet/eventpipe/internal/events"
	"github.com/edgecomet/eventpipe/pkg/types"
)

// fakeDeliverer records batches and replays scripted outcomes; once the
// script is exhausted every call succeeds.
type fakeDeliverer struct {
	mu       sync.Mutex
	batches  [][]*events.Event
	outcomes []delivery.Outcome
	hook     func(call int, ctx context.Context)
}

func (f *fakeDeliverer) Deliver(ctx context.Context, batch []*events.Event) delivery.Outcome {
	f.mu.Lock()
	call := len(f.batches)
	f.batches = append(f.batches, batch)
	outcome := delivery.Outcome{Kind: delivery.Success, StatusCode: 202}
	if len(f.outcomes) > 0 {
		outcome = f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(call, ctx)
	}
	return outcome
}

func (f *fakeDeliverer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeDeliverer) batch(i int) []*events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

// deliveredKeys flattens every delivered batch into its "key" fields
func (f *fakeDeliverer) deliveredKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for _, b := range f.batches {
		keys = append(keys, keysOf(b)...)
	}
	return keys
}

type fakeRecorder struct {
	mu              sync.Mutex
	enqueued        int
	dropped         map[string]int
	batches         []int
	deliveries      []string
	starts          map[string]int
	iterationErrors int
	depths          []int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{dropped: map[string]int{}, starts: map[string]int{}}
}

func (r *fakeRecorder) RecordEnqueued() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued++
}

func (r *fakeRecorder) RecordDropped(reason string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped[reason] += count
}

func (r *fakeRecorder) RecordBatch(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, size)
}

func (r *fakeRecorder) RecordDelivery(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, outcome)
}

func (r *fakeRecorder) SetQueueDepth(depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depths = append(r.depths, depth)
}

func (r *fakeRecorder) lastDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.depths) == 0 {
		return -1
	}
	return r.depths[len(r.depths)-1]
}

func (r *fakeRecorder) RecordWorkerStart(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts[reason]++
}

func (r *fakeRecorder) RecordWorkerIterationError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterationErrors++
}

func (r *fakeRecorder) startCount(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts[reason]
}

func (r *fakeRecorder) droppedCount(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped[reason]
}

func (r *fakeRecorder) errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iterationErrors
}

type fakeArchiver struct {
	mu      sync.Mutex
	reasons []string
	events  int
}

func (a *fakeArchiver) Store(batch []*events.Event, reason string, _ int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reasons = append(a.reasons, reason)
	a.events += len(batch)
}

type testEnv struct {
	proc      *Processor
	deliverer *fakeDeliverer
	recorder  *fakeRecorder
	archiver  *fakeArchiver
	logs      *observer.ObservedLogs
}

func eventsConfig(capacity int, interval time.Duration) configtypes.EventsConfig {
	return configtypes.EventsConfig{
		SendEvents:    true,
		Capacity:      capacity,
		FlushInterval: types.Duration(interval),
		EventsBaseURI: "http://collector.invalid",
	}
}

func newTestEnv(t *testing.T, cfg configtypes.EventsConfig) *testEnv {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	env := &testEnv{
		deliverer: &fakeDeliverer{},
		recorder:  newFakeRecorder(),
		archiver:  &fakeArchiver{},
		logs:      logs,
	}

	proc, err := New(Options{
		Config:    cfg,
		Deliverer: env.deliverer,
		Recorder:  env.recorder,
		Archiver:  env.archiver,
		Logger:    zap.New(core),
		Clock:     func() time.Time { return time.UnixMilli(1700000000000) },
	})
	require.NoError(t, err)
	env.proc = proc

	t.Cleanup(func() {
		proc.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = proc.Wait(ctx)
	})
	return env
}

// holdWorker marks the worker as running without starting a goroutine, so a
// test can drive flush deterministically.
func (e *testEnv) holdWorker() {
	e.proc.state.Store(int32(WorkerRunning))
}

func customEvent(key string) *events.Event {
	return events.NewEvent(events.KindCustom).Set("key", key)
}

func keysOf(batch []*events.Event) []string {
	keys := make([]string, 0, len(batch))
	for _, ev := range batch {
		v, _ := ev.Get("key")
		s, _ := v.(string)
		keys = append(keys, s)
	}
	return keys
}
