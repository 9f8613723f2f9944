package scoring

import "errors"

// Sentinel kinds for scoring errors.
var (
	// ErrBadInput marks a feature vector the model cannot score. Messages
	// failing with it are dropped and counted, never retried.
	ErrBadInput = errors.New("unscorable feature vector")
)
