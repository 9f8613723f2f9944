package correlate

import "errors"

// Sentinel kinds for correlation errors.
var (
	// ErrAlreadyCompleted marks an observation for an id whose correlation
	// already completed. The caller should acknowledge and move on.
	ErrAlreadyCompleted = errors.New("correlation already completed")

	ErrEmptyID     = errors.New("empty correlation id")
	ErrUnknownSlot = errors.New("unknown correlation slot")
)
