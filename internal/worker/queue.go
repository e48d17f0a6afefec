package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tapforge/tapforge-core/internal/infrastructure/mqtt"
)

// Queue carries execution IDs from the scheduler (or a manual trigger)
// to the worker pool. Delivery is at-least-once: consumers must tolerate
// duplicates, which ProcessAutomation does by checking execution status
// before doing any work.
type Queue interface {
	// Enqueue submits an execution for processing.
	Enqueue(ctx context.Context, executionID string) error

	// Consume delivers queued execution IDs to the handler until ctx is
	// cancelled. The handler must not block indefinitely.
	Consume(ctx context.Context, handler func(ctx context.Context, executionID string)) error
}

// ─── In-memory queue ─────────────────────────────────────────────────

// MemoryQueue is a process-local Queue backed by a buffered channel.
// Suitable for single-daemon deployments and tests; work is lost on
// restart, which is acceptable because pending executions are re-derived
// from the database at startup.
type MemoryQueue struct {
	ch chan string

	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue creates an in-memory queue holding up to size pending
// IDs. A size of 0 or less defaults to 100.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 100
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Enqueue submits an execution ID. Returns ErrQueueFull when the buffer
// is full rather than blocking the scheduler tick.
func (q *MemoryQueue) Enqueue(ctx context.Context, executionID string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	select {
	case q.ch <- executionID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Consume delivers IDs to the handler until ctx is cancelled.
func (q *MemoryQueue) Consume(ctx context.Context, handler func(ctx context.Context, executionID string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-q.ch:
			handler(ctx, id)
		}
	}
}

// Close marks the queue closed; subsequent Enqueue calls fail.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// ─── MQTT queue ──────────────────────────────────────────────────────

// Publisher is the slice of the MQTT client the queue publishes through.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Subscriber is the slice of the MQTT client the queue consumes through.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// queueMessage is the wire format on the work-queue topic.
type queueMessage struct {
	ExecutionID string `json:"execution_id"`
}

// MQTTQueue is a Queue over a broker topic, letting the scheduler and
// the worker pool live in separate processes. Messages are published at
// QoS 1 (at-least-once).
type MQTTQueue struct {
	pub    Publisher
	sub    Subscriber
	topic  string
	logger Logger
}

// NewMQTTQueue creates a queue on the given topic, typically
// mqtt.Topics{}.ExecutionQueue().
func NewMQTTQueue(pub Publisher, sub Subscriber, topic string) *MQTTQueue {
	return &MQTTQueue{
		pub:    pub,
		sub:    sub,
		topic:  topic,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the queue.
func (q *MQTTQueue) SetLogger(logger Logger) {
	q.logger = logger
}

// Enqueue publishes the execution ID to the work-queue topic.
func (q *MQTTQueue) Enqueue(_ context.Context, executionID string) error {
	payload, err := json.Marshal(queueMessage{ExecutionID: executionID})
	if err != nil {
		return fmt.Errorf("worker: marshal queue message: %w", err)
	}
	if err := q.pub.Publish(q.topic, payload, 1, false); err != nil {
		return fmt.Errorf("worker: publish to %s: %w", q.topic, err)
	}
	return nil
}

// Consume subscribes to the work-queue topic and delivers decoded IDs
// to the handler until ctx is cancelled, then unsubscribes.
func (q *MQTTQueue) Consume(ctx context.Context, handler func(ctx context.Context, executionID string)) error {
	err := q.sub.Subscribe(q.topic, 1, func(topic string, payload []byte) error {
		var msg queueMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			q.logger.Warn("discarding malformed queue message",
				"topic", topic, "error", err)
			return nil
		}
		if msg.ExecutionID == "" {
			q.logger.Warn("discarding queue message without execution_id",
				"topic", topic)
			return nil
		}
		handler(ctx, msg.ExecutionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("worker: subscribe to %s: %w", q.topic, err)
	}

	<-ctx.Done()
	if err := q.sub.Unsubscribe(q.topic); err != nil {
		q.logger.Warn("unsubscribe failed", "topic", q.topic, "error", err)
	}
	return ctx.Err()
}
