package mq

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/okian/driftwatch/pkg/logger"
	"github.com/okian/driftwatch/pkg/retry"
)

// Default NATS client constants.
const (
	defaultPrefetch     = 16
	defaultAckWait      = 30 * time.Second
	defaultDrainTimeout = 10 * time.Second

	streamPrefix = "DW_"
)

// Client is a Broker backed by NATS JetStream. Each queue maps to one
// work-queue stream with a single durable consumer; JetStream supplies the
// at-least-once machinery (explicit acks, redelivery, per-consumer
// prefetch via MaxAckPending).
type Client struct {
	url  string
	conn *nats.Conn
	js   jetstream.JetStream

	prefetch     int
	ackWait      time.Duration
	drainTimeout time.Duration
	clientName   string

	mu        sync.Mutex
	consumers []jetstream.ConsumeContext
	closed    bool

	logger logger.Logger
}

// ClientOption applies a configuration option to the Client.
type ClientOption func(*Client)

// WithPrefetch sets how many unacknowledged messages a consumer may hold.
func WithPrefetch(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.prefetch = n
		}
	}
}

// WithAckWait sets how long the broker waits for an ack before redelivering.
func WithAckWait(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.ackWait = d
		}
	}
}

// WithDrainTimeout bounds connection draining on Close.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.drainTimeout = d
		}
	}
}

// WithClientName sets the connection name reported to the server.
func WithClientName(name string) ClientOption {
	return func(c *Client) {
		if name != "" {
			c.clientName = name
		}
	}
}

// Connect establishes a NATS connection with persistent backoff. The broker
// may start after the pipeline processes do, so connection failures here
// are expected and retried rather than fatal.
func Connect(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:          url,
		prefetch:     defaultPrefetch,
		ackWait:      defaultAckWait,
		drainTimeout: defaultDrainTimeout,
		clientName:   "driftwatch",
		logger:       logger.Get().Named("nats"),
	}

	for _, opt := range opts {
		opt(c)
	}

	conn, err := retry.DoWithResult(ctx, retry.Persistent(), func() (*nats.Conn, error) {
		return nats.Connect(url,
			nats.Name(c.clientName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DrainTimeout(c.drainTimeout),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}
	c.conn = conn

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	c.js = js

	c.logger.Info(ctx, "connected", logger.String("url", url))

	return c, nil
}

// EnsureQueue provisions the stream backing a queue. Work-queue retention
// removes a message once its consumer acknowledges it.
func (c *Client) EnsureQueue(ctx context.Context, queue string) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName(queue),
		Subjects:  []string{queue},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream for %s: %w", queue, err)
	}
	return nil
}

// Publish sends data to a queue. The message is durable once the server
// acknowledges the publish.
func (c *Client) Publish(ctx context.Context, queue string, data []byte) error {
	if _, err := c.js.Publish(ctx, queue, data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPublish, queue, err)
	}
	return nil
}

// Consume binds a durable consumer to the queue's stream and dispatches
// deliveries to h until ctx is cancelled.
func (c *Client) Consume(ctx context.Context, queue string, h Handler) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, streamName(queue), jetstream.ConsumerConfig{
		Durable:       durableName(queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.ackWait,
		MaxAckPending: c.prefetch,
	})
	if err != nil {
		return fmt.Errorf("create consumer for %s: %w", queue, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		attempt := 1
		if meta, err := msg.Metadata(); err == nil {
			attempt = int(meta.NumDelivered)
		}
		h(ctx, &Delivery{
			Queue:   queue,
			Data:    msg.Data(),
			Attempt: attempt,
			acker:   &jsAcker{msg: msg},
		})
	}, jetstream.PullMaxMessages(c.prefetch))
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	c.mu.Lock()
	c.consumers = append(c.consumers, cc)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		cc.Stop()
	}()

	return nil
}

// Depth returns the number of messages currently held in a queue's stream.
func (c *Client) Depth(ctx context.Context, queue string) (int, error) {
	stream, err := c.js.Stream(ctx, streamName(queue))
	if err != nil {
		return 0, fmt.Errorf("stream for %s: %w", queue, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("stream info for %s: %w", queue, err)
	}
	return int(info.State.Msgs), nil
}

// Close stops consumers and drains the connection so in-flight acks reach
// the server regardless of exit path.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	consumers := c.consumers
	c.mu.Unlock()

	for _, cc := range consumers {
		cc.Stop()
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("drain connection: %w", err)
	}
	return nil
}

// jsAcker adapts jetstream.Msg acknowledgment to the Delivery contract.
type jsAcker struct {
	msg jetstream.Msg
}

func (a *jsAcker) Ack() error {
	return a.msg.Ack()
}

func (a *jsAcker) Nak() error {
	return a.msg.Nak()
}

func streamName(queue string) string {
	return streamPrefix + strings.ToUpper(sanitize(queue))
}

func durableName(queue string) string {
	return "dw_" + sanitize(queue)
}

// sanitize maps a queue name onto the character set JetStream allows in
// stream and consumer names.
func sanitize(queue string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, queue)
}
