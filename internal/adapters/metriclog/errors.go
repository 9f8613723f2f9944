package metriclog

import "errors"

// Sentinel kinds for metric log errors.
var (
	ErrEmptyPath = errors.New("empty metric log path")

	// ErrAppend marks a failed durable write. The aggregator must not
	// acknowledge the triggering message while appends fail.
	ErrAppend = errors.New("metric log append failed")
)
