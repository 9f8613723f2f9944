// Package mq defines the contract between stages and their queues, and
// provides the broker bindings that implement it.
//
// Two bindings exist: a NATS JetStream client for deployments and an
// in-process broker for tests and single-binary runs. Both deliver
// at-least-once: a message stays on its queue until acknowledged, and a
// negative acknowledgment redelivers it with an incremented attempt count.
package mq

import (
	"context"
	"errors"
	"fmt"
)

// Delivery is one received message plus its acknowledgment handle.
type Delivery struct {
	Queue   string
	Data    []byte
	Attempt int // 1-based delivery attempt

	acker acker
}

// acker abstracts the broker-specific acknowledgment handle.
type acker interface {
	Ack() error
	Nak() error
}

// Ack acknowledges the delivery. Call only after the message's effect has
// been durably handed to the next stage.
func (d *Delivery) Ack() error {
	if d.acker == nil {
		return ErrNoAcker
	}
	return d.acker.Ack()
}

// Nak negatively acknowledges the delivery, requesting redelivery.
func (d *Delivery) Nak() error {
	if d.acker == nil {
		return ErrNoAcker
	}
	return d.acker.Nak()
}

// Handler consumes one delivery. The handler owns acknowledgment.
type Handler func(ctx context.Context, d *Delivery)

// Publisher sends messages to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, data []byte) error
}

// Consumer subscribes a handler to a named queue. Consume returns once the
// subscription is established; deliveries continue until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, queue string, h Handler) error
}

// Broker bundles both sides plus queue introspection.
type Broker interface {
	Publisher
	Consumer

	// Depth returns the current backlog of a queue.
	Depth(ctx context.Context, queue string) (int, error)

	Close() error
}

// dropError marks a poison message: processing failed in a way retrying
// cannot fix, so the delivery is acknowledged and dropped.
type dropError struct {
	err error
}

func (e *dropError) Error() string {
	return fmt.Sprintf("dropped: %v", e.err)
}

func (e *dropError) Unwrap() error {
	return e.err
}

// Drop wraps an error to indicate the delivery must be acknowledged and
// dropped rather than redelivered (decode failures, unscorable input).
func Drop(err error) error {
	if err == nil {
		return nil
	}
	return &dropError{err: err}
}

// IsDrop checks if an error is marked as a poison-message drop.
func IsDrop(err error) bool {
	var de *dropError
	return errors.As(err, &de)
}
