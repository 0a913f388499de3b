package taskqueue

import (
	"context"
	"errors"
	"time"
)

// ErrQueueFull is returned by InMemoryQueue.Enqueue when every slot is taken.
var ErrQueueFull = errors.New("task queue full")

// DefaultCapacity is used when NewInMemoryQueue is given a non-positive size.
const DefaultCapacity = 1024

// InMemoryQueue is a bounded Queue backed by a buffered channel.
//
// Enqueue never waits for room. Tasks are enqueued from bus listeners,
// which run on the goroutine that approved the action.
type InMemoryQueue struct {
	ch chan Task
}

func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryQueue{ch: make(chan Task, capacity)}
}

var _ Queue = (*InMemoryQueue)(nil)

// Enqueue adds t, stamping EnqueuedAt if unset. It fails with ErrQueueFull
// instead of blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	select {
	case q.ch <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.ch:
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *InMemoryQueue) Len() int { return len(q.ch) }

// Cap is the number of tasks the queue can hold.
func (q *InMemoryQueue) Cap() int { return cap(q.ch) }
