package leaderboard

import "errors"

var (
	// ErrNotFound is returned when a user is not on the board.
	ErrNotFound = errors.New("leaderboard: user not found")
	// ErrInvalidLimit is returned for non-positive limits.
	ErrInvalidLimit = errors.New("leaderboard: invalid limit")
)
