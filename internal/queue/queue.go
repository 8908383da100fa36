package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"caseclosed/backend/internal/partners"
)

var ErrClosed = errors.New("queue closed")

// PickupMessage asks the worker to book logistics for an external order.
type PickupMessage struct {
	OrderReference string                `json:"order_reference"`
	Origin         string                `json:"origin"`
	Items          []partners.PickupItem `json:"items"`
	DedupKey       string                `json:"dedup_key"`
	Redelivery     int                   `json:"redelivery"`
	EnqueuedAt     time.Time             `json:"enqueued_at"`
}

// Delivery is a received message. Ack marks it handled.
type Delivery struct {
	Message PickupMessage
	Ack     func(ctx context.Context) error
}

type Queue interface {
	Enqueue(ctx context.Context, msg PickupMessage) error
	// Receive blocks until a message arrives or ctx is done.
	Receive(ctx context.Context) (Delivery, error)
	Close() error
}

// MemoryQueue is a buffered in-process queue that drops messages whose dedup
// key it has already seen. Enqueue blocks while the buffer is full, until the
// message fits, ctx is done or the queue closes.
type MemoryQueue struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	ch     chan PickupMessage
	done   chan struct{}
	closed bool
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity < 1 {
		capacity = 64
	}
	return &MemoryQueue{
		seen: make(map[string]struct{}),
		ch:   make(chan PickupMessage, capacity),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg PickupMessage) error {
	if !q.reserve(msg.DedupKey) {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return nil
	}

	// the mutex is not held here so a full buffer only blocks this caller
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		q.release(msg.DedupKey)
		return ctx.Err()
	case <-q.done:
		q.release(msg.DedupKey)
		return ErrClosed
	}
}

// reserve records the dedup key. It reports false for a closed queue or a
// key already seen.
func (q *MemoryQueue) reserve(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if key == "" {
		return true
	}
	if _, dup := q.seen[key]; dup {
		return false
	}
	q.seen[key] = struct{}{}
	return true
}

func (q *MemoryQueue) release(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.seen, key)
	q.mu.Unlock()
}

func (q *MemoryQueue) Receive(ctx context.Context) (Delivery, error) {
	select {
	case msg := <-q.ch:
		return Delivery{Message: msg, Ack: func(context.Context) error { return nil }}, nil
	case <-q.done:
		return Delivery{}, ErrClosed
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close wakes every blocked Enqueue and Receive. The channel itself stays
// open so a sender racing with Close cannot panic.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
