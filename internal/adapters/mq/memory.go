package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/driftwatch/pkg/metrics"
)

// Default in-process broker constants.
const (
	defaultQueueCapacity   = 4096
	defaultRedeliveryDelay = 100 * time.Millisecond
)

// memMsg is one queued message with its delivery attempt count.
type memMsg struct {
	data    []byte
	attempt int
}

type memQueue struct {
	ch chan *memMsg
}

// Memory is an in-process Broker with at-least-once semantics: a Nak'd
// delivery is re-enqueued with an incremented attempt count after a short
// delay. Used by tests and single-binary runs.
type Memory struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	closed bool

	capacity        int
	redeliveryDelay time.Duration
}

// MemoryOption applies a configuration option to the Memory broker.
type MemoryOption func(*Memory)

// WithQueueCapacity bounds each queue's backlog.
func WithQueueCapacity(capacity int) MemoryOption {
	return func(m *Memory) {
		if capacity > 0 {
			m.capacity = capacity
		}
	}
}

// WithRedeliveryDelay sets how long a Nak'd message waits before redelivery.
func WithRedeliveryDelay(delay time.Duration) MemoryOption {
	return func(m *Memory) {
		if delay >= 0 {
			m.redeliveryDelay = delay
		}
	}
}

// NewMemory creates an in-process broker.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		queues:          make(map[string]*memQueue),
		capacity:        defaultQueueCapacity,
		redeliveryDelay: defaultRedeliveryDelay,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Memory) queue(name string) (*memQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	q, ok := m.queues[name]
	if !ok {
		q = &memQueue{ch: make(chan *memMsg, m.capacity)}
		m.queues[name] = q
	}
	return q, nil
}

// Publish enqueues data on the named queue.
func (m *Memory) Publish(_ context.Context, queue string, data []byte) error {
	return m.enqueue(queue, &memMsg{data: data, attempt: 0})
}

func (m *Memory) enqueue(queue string, msg *memMsg) error {
	q, err := m.queue(queue)
	if err != nil {
		return fmt.Errorf("publish %s: %w", queue, err)
	}

	select {
	case q.ch <- msg:
		metrics.UpdateQueueDepth(queue, len(q.ch))
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, queue)
	}
}

// Consume starts a dispatcher for the named queue. Deliveries continue
// until ctx is cancelled; in-flight handlers finish before the dispatcher
// exits.
func (m *Memory) Consume(ctx context.Context, queue string, h Handler) error {
	q, err := m.queue(queue)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-q.ch:
				metrics.UpdateQueueDepth(queue, len(q.ch))
				d := &Delivery{
					Queue:   queue,
					Data:    msg.data,
					Attempt: msg.attempt + 1,
					acker:   &memAcker{broker: m, queue: queue, msg: msg},
				}
				h(ctx, d)
			}
		}
	}()

	return nil
}

// Depth returns the current backlog of a queue.
func (m *Memory) Depth(_ context.Context, queue string) (int, error) {
	q, err := m.queue(queue)
	if err != nil {
		return 0, err
	}
	return len(q.ch), nil
}

// Close stops accepting publishes. Consumers stop via their contexts.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// memAcker implements the acknowledgment handle for the in-process broker.
// Ack is a no-op since delivery already removed the message from the queue;
// Nak schedules redelivery with an incremented attempt count.
type memAcker struct {
	broker *Memory
	queue  string
	msg    *memMsg
	once   sync.Once
}

func (a *memAcker) Ack() error {
	return nil
}

func (a *memAcker) Nak() error {
	a.once.Do(func() {
		redelivered := &memMsg{data: a.msg.data, attempt: a.msg.attempt + 1}
		delay := a.broker.redeliveryDelay
		if delay == 0 {
			_ = a.broker.enqueue(a.queue, redelivered)
			return
		}
		time.AfterFunc(delay, func() {
			_ = a.broker.enqueue(a.queue, redelivered)
		})
	})
	return nil
}
