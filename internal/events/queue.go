package events

import "sync"

// Queue is a bounded, thread-safe FIFO of events. Offer never blocks; once
// the queue holds capacity events, further offers are rejected until the next
// DrainAll.
type Queue struct {
	mu       sync.Mutex
	events   []*Event
	capacity int
}

// NewQueue creates a queue holding at most capacity events (minimum 1)
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{capacity: capacity}
}

// Offer appends event if there is room and reports whether it was accepted
func (q *Queue) Offer(event *Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) >= q.capacity {
		return false
	}
	q.events = append(q.events, event)
	return true
}

// DrainAll removes and returns every queued event in enqueue order.
// Returns nil when the queue is empty.
func (q *Queue) DrainAll() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	batch := q.events
	q.events = nil
	return batch
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.events)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return q.capacity
}
