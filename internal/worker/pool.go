package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tapforge/tapforge-core/internal/device"
)

// Defaults for the worker pool.
const (
	defaultWorkers      = 10
	defaultRetryBackoff = 15 * time.Second
)

// Pool drains the work queue with a fixed set of goroutines, handing
// each execution ID to the processor. Executions that could not get a
// device are re-enqueued after a backoff instead of being dropped.
type Pool struct {
	queue   Queue
	process func(ctx context.Context, executionID string) error
	workers int
	backoff time.Duration
	logger  Logger
}

// NewPool creates a pool of the given size over queue and processor.
// A size of 0 or less uses the default of 10 workers.
func NewPool(queue Queue, processor *Processor, workers int) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pool{
		queue:   queue,
		process: processor.ProcessAutomation,
		workers: workers,
		backoff: defaultRetryBackoff,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the pool.
func (p *Pool) SetLogger(logger Logger) {
	p.logger = logger
}

// Run consumes the queue until ctx is cancelled, then waits for
// in-flight executions to finish.
func (p *Pool) Run(ctx context.Context) error {
	// jobs is never closed: a broker callback can still fire briefly
	// after Consume returns, so deliveries are parked on the channel
	// and workers are stopped through the stop signal instead.
	jobs := make(chan string)
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				case id := <-jobs:
					p.handle(ctx, id)
				}
			}
		}()
	}

	p.logger.Info("worker pool started", "workers", p.workers)

	err := p.queue.Consume(ctx, func(ctx context.Context, executionID string) {
		select {
		case jobs <- executionID:
		case <-ctx.Done():
		case <-stop:
		}
	})

	close(stop)
	wg.Wait()
	p.logger.Info("worker pool stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handle runs one execution and re-enqueues it after a backoff when no
// device was available.
func (p *Pool) handle(ctx context.Context, executionID string) {
	err := p.process(ctx, executionID)
	if err == nil {
		return
	}

	if errors.Is(err, device.ErrNoDevices) {
		go p.requeueLater(ctx, executionID)
		return
	}
	p.logger.Error("processing execution failed",
		"execution_id", executionID, "error", err)
}

func (p *Pool) requeueLater(ctx context.Context, executionID string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(p.backoff):
	}
	if err := p.queue.Enqueue(ctx, executionID); err != nil {
		p.logger.Warn("re-enqueue failed",
			"execution_id", executionID, "error", err)
	}
}
