package codec

import "errors"

// Sentinel kinds for codec errors.
var (
	// ErrMalformed marks a payload that cannot be decoded. Messages
	// failing with it are dropped and counted, never retried.
	ErrMalformed = errors.New("malformed payload")
)
