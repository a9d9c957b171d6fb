package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrEventNotFound  = errors.New("event not found")
	ErrEventExists    = errors.New("event already exists")
	ErrEventProcessed = errors.New("event already processed")
	ErrUserNotFound   = errors.New("user not found")
	ErrTeamNotFound   = errors.New("team not found")
	ErrTxConflict     = errors.New("transaction conflict: attempts exhausted")
	ErrInvalidID      = errors.New("invalid id")
	ErrClosed         = errors.New("store closed")
)
