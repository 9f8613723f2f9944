package metric

import "errors"

// Sentinel kinds for metric errors.
var (
	ErrUnknownFunc = errors.New("unknown error function")
)
