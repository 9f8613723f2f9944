package service

import "errors"

// Sentinel kinds for service lifecycle errors.
var (
	ErrStart = errors.New("service start failed")
)
