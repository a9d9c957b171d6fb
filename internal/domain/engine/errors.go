package engine

import "errors"

var (
	// ErrUserNotFound is returned when an event references a user that
	// does not exist. The event stays pending.
	ErrUserNotFound = errors.New("engine: user not found")
	// ErrInvalidGrant is returned for zero grants and grants that would
	// take a user's xp below zero.
	ErrInvalidGrant = errors.New("engine: invalid grant")
)
