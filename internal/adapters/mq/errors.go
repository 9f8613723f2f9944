package mq

import "errors"

// Sentinel kinds for broker errors.
var (
	// ErrPublish marks a failed publish. The inbound message must not be
	// acknowledged until publishing succeeds or the retry budget runs out.
	ErrPublish = errors.New("publish failed")

	ErrQueueFull = errors.New("queue full")
	ErrClosed    = errors.New("broker closed")
	ErrNoAcker   = errors.New("delivery has no acknowledgment handle")
)
