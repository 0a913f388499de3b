package taskqueue

import (
	"context"
	"time"
)

// Task is one released action waiting for a worker.
type Task struct {
	// ActionID is the workflow id; workers report back to the engine with it.
	ActionID         string
	SessionID        string
	Command          string
	Parameter        string
	WorkingDirectory string

	EnqueuedAt time.Time
}

// Queue is a FIFO of tasks shared by workers.
type Queue interface {
	// Enqueue adds a task. It runs inside a READY_TO_RUN listener, so it
	// should fail rather than wait for capacity.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
