package mq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/okian/driftwatch/pkg/logger"
	"github.com/okian/driftwatch/pkg/metrics"
)

// Default delivery policy constants.
const (
	defaultMaxDeliveries = 5
)

// DeadLetter is the envelope published for a message that exhausted its
// redelivery budget. The original payload and failure reason are preserved
// for manual inspection.
type DeadLetter struct {
	Queue      string    `json:"queue"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	Payload    []byte    `json:"payload"`
	FailedTime time.Time `json:"failed_time"`
}

// ProcessFunc handles one delivery and reports the outcome. A nil return
// means the message's effect was durably handed downstream. An error
// wrapped with Drop means poison: acknowledge and move on. Any other error
// requests redelivery.
type ProcessFunc func(ctx context.Context, d *Delivery) error

// Controller applies the pipeline's acknowledgment policy around a stage's
// processing function: ack only after durable handoff, nak transient
// failures for redelivery, and divert messages that exhausted their
// redelivery budget to the dead-letter queue.
type Controller struct {
	pub             Publisher
	deadLetterQueue string
	maxDeliveries   int
	logger          logger.Logger
}

// ControllerOption applies a configuration option to the Controller.
type ControllerOption func(*Controller)

// WithMaxDeliveries sets how many delivery attempts a message gets before
// it is dead-lettered.
func WithMaxDeliveries(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.maxDeliveries = n
		}
	}
}

// WithDeadLetterQueue sets the dead-letter queue name. Empty disables
// dead-lettering; exhausted messages keep being redelivered.
func WithDeadLetterQueue(queue string) ControllerOption {
	return func(c *Controller) {
		c.deadLetterQueue = queue
	}
}

// WithControllerLogger sets a custom logger for the controller.
func WithControllerLogger(l logger.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a delivery controller publishing dead letters via pub.
func NewController(pub Publisher, opts ...ControllerOption) *Controller {
	c := &Controller{
		pub:           pub,
		maxDeliveries: defaultMaxDeliveries,
		logger:        logger.Get().Named("delivery"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Wrap turns a stage's processing function into a queue handler that owns
// acknowledgment. stage names the wrapped stage for metrics and logs.
func (c *Controller) Wrap(stage string, process ProcessFunc) Handler {
	return func(ctx context.Context, d *Delivery) {
		err := process(ctx, d)
		switch {
		case err == nil:
			if ackErr := d.Ack(); ackErr != nil {
				c.logger.Warn(ctx, "ack failed", logger.String("queue", d.Queue), logger.Error(ackErr))
				return
			}
			metrics.RecordMessageProcessed(stage)

		case IsDrop(err):
			// Poison message: retrying cannot help, so acknowledge it away
			// rather than blocking the queue.
			c.logger.Warn(ctx, "dropping poison message",
				logger.String("queue", d.Queue),
				logger.Int("attempt", d.Attempt),
				logger.Error(err),
			)
			if ackErr := d.Ack(); ackErr != nil {
				c.logger.Warn(ctx, "ack failed", logger.String("queue", d.Queue), logger.Error(ackErr))
			}

		case c.deadLetterQueue != "" && d.Attempt >= c.maxDeliveries:
			c.deadLetter(ctx, d, err)

		default:
			c.logger.Warn(ctx, "processing failed; requesting redelivery",
				logger.String("queue", d.Queue),
				logger.Int("attempt", d.Attempt),
				logger.Error(err),
			)
			metrics.RecordRedelivery(d.Queue)
			if nakErr := d.Nak(); nakErr != nil {
				c.logger.Warn(ctx, "nak failed", logger.String("queue", d.Queue), logger.Error(nakErr))
			}
		}
	}
}

// deadLetter publishes the envelope and acknowledges the original message.
// If the dead-letter publish itself fails the message is nak'd so the next
// redelivery can try again.
func (c *Controller) deadLetter(ctx context.Context, d *Delivery, cause error) {
	envelope, err := json.Marshal(DeadLetter{
		Queue:      d.Queue,
		Reason:     cause.Error(),
		Attempts:   d.Attempt,
		Payload:    d.Data,
		FailedTime: time.Now(),
	})
	if err != nil {
		// Marshalling a DeadLetter cannot realistically fail; nak to retry.
		_ = d.Nak()
		return
	}

	if err := c.pub.Publish(ctx, c.deadLetterQueue, envelope); err != nil {
		c.logger.Error(ctx, "dead-letter publish failed",
			logger.String("queue", d.Queue),
			logger.Error(err),
		)
		_ = d.Nak()
		return
	}

	c.logger.Warn(ctx, "message dead-lettered",
		logger.String("queue", d.Queue),
		logger.Int("attempts", d.Attempt),
		logger.Error(cause),
	)
	metrics.RecordDeadLettered(d.Queue)
	if ackErr := d.Ack(); ackErr != nil {
		c.logger.Warn(ctx, "ack failed after dead-letter", logger.String("queue", d.Queue), logger.Error(ackErr))
	}
}
