package service

import "errors"

// Sentinel errors returned by Service.
var (
	ErrNotStarted   = errors.New("service not started")
	ErrStopped      = errors.New("service stopped")
	ErrInvalidEvent = errors.New("invalid event")
)
