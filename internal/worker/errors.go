package worker

import "errors"

// Sentinel errors for the worker package. Check with errors.Is:
//
//	if errors.Is(err, worker.ErrQueueClosed) {
//	    // stop consuming
//	}
var (
	// ErrQueueClosed is returned when enqueueing to a queue that has
	// been shut down.
	ErrQueueClosed = errors.New("worker: queue closed")

	// ErrQueueFull is returned by the in-memory queue when its buffer
	// is full; callers retry on a later tick.
	ErrQueueFull = errors.New("worker: queue full")
)
