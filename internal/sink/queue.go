package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/monitoring"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Queue hands batches to Next on its own goroutine so slow sinks never run
// under the tracker lock. Batches are delivered in order. When the buffer is
// full the batch is dropped and ErrQueueFull returned.
type Queue struct {
	next Sink

	mu     sync.RWMutex
	ch     chan []beacon.Event
	closed bool
	done   chan struct{}
}

// NewQueue starts a queue holding up to size batches.
func NewQueue(next Sink, size int) *Queue {
	if size < 1 {
		size = 1
	}
	q := &Queue{
		next: next,
		ch:   make(chan []beacon.Event, size),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for events := range q.ch {
		if err := q.next.Deliver(context.Background(), events); err != nil {
			monitoring.Warnf("queued sink: %v", err)
		}
	}
}

func (q *Queue) Deliver(_ context.Context, events []beacon.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	batch := append([]beacon.Event(nil), events...)
	select {
	case q.ch <- batch:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of batches waiting.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops accepting batches and waits for the queued ones to drain, or
// for ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
