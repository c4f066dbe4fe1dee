package events

import (
	"sync"
	"time"
)

// Queue is the thread-safe multi-producer/single-consumer event queue.
// Events are drained in canonical type order; insertion order breaks ties so
// events of the same type stay FIFO.
type Queue struct {
	mu     sync.Mutex
	items  []queued
	seq    uint64
	notify chan struct{}
}

type queued struct {
	event Event
	seq   uint64
}

// NewQueue creates an empty event queue
func NewQueue() *Queue {
	return &Queue{
		items:  make([]queued, 0, 1024),
		notify: make(chan struct{}, 1),
	}
}

// Push adds an event, keeping the queue sorted by canonical priority then
// insertion order.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	q.seq++
	item := queued{event: e, seq: q.seq}
	prio := e.GetType().Priority()

	i := len(q.items)
	for i > 0 {
		prev := q.items[i-1]
		prevPrio := prev.event.GetType().Priority()
		if prio > prevPrio {
			break
		}
		if prio == prevPrio && item.seq > prev.seq {
			break
		}
		i--
	}
	q.items = append(q.items, queued{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = item
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the next event without blocking
func (q *Queue) TryPop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0].event
	q.items = q.items[1:]
	return e, true
}

// Pop blocks up to timeout for the next event. A zero or negative timeout
// makes the call non-blocking.
func (q *Queue) Pop(timeout time.Duration) (Event, bool) {
	if e, ok := q.TryPop(); ok {
		q.renotify()
		return e, true
	}
	if timeout <= 0 {
		return nil, false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-q.notify:
			if e, ok := q.TryPop(); ok {
				q.renotify()
				return e, true
			}
		case <-deadline.C:
			if e, ok := q.TryPop(); ok {
				q.renotify()
				return e, true
			}
			return nil, false
		}
	}
}

// renotify wakes the consumer again when events remain
func (q *Queue) renotify() {
	q.mu.Lock()
	remaining := len(q.items) > 0
	q.mu.Unlock()
	if remaining {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes all queued events
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = q.items[:0]
	q.mu.Unlock()
}
