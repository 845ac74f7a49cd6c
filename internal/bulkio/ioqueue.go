package bulkio

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// TaskType classifies work submitted to an IOQueue so it can be routed to
// the right concurrency lane: reads run unbounded, everything that
// mutates the container serializes behind the critical lane.
type TaskType int

const (
	TaskRead TaskType = iota
	TaskAppend
	TaskWrite
	TaskCritical
)

func (t TaskType) String() string {
	switch t {
	case TaskRead:
		return "read"
	case TaskAppend:
		return "append"
	case TaskWrite:
		return "write"
	case TaskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// IOQueue is the optional asynchronous I/O collaborator a BulkStorage can
// be configured with via WithIOQueue. Read tasks run unmoderated; append,
// write and critical tasks all serialize behind a single weight-1
// semaphore, since add/sync/delete/purge/close all touch the tail of the
// file or the header and cannot overlap each other.
//
// A BulkStorage with no queue attached runs every call synchronously on
// the caller's goroutine, which is fully conforming — the queue only
// exists to let a caller fire off several Add calls from different
// goroutines without hand-rolling the serialization itself.
type IOQueue struct {
	critical *semaphore.Weighted
}

// NewIOQueue builds a queue with a single critical-lane slot.
func NewIOQueue() *IOQueue {
	return &IOQueue{critical: semaphore.NewWeighted(1)}
}

// Submit runs fn, gating it according to t. Read tasks run immediately;
// append, write and critical tasks acquire the single critical-lane
// permit for the duration of fn, so at most one mutating operation ever
// runs against a given queue at a time. ctx bounds only the wait for that
// permit: once fn has started it runs to completion, and a deadline that
// passes while fn runs does not fail the task.
func (q *IOQueue) Submit(ctx context.Context, t TaskType, fn func() error) error {
	release, err := q.gate(ctx, t)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// gate acquires whatever permit t requires and returns a release func,
// for callers (like BulkStorage's methods) whose own return shape
// doesn't fit Submit's func() error signature.
func (q *IOQueue) gate(ctx context.Context, t TaskType) (func(), error) {
	if t == TaskRead {
		return func() {}, nil
	}
	if err := q.critical.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: acquiring %s lane: %v", ErrIOFailure, t, err)
	}
	return func() { q.critical.Release(1) }, nil
}
