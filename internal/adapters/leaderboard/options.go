package leaderboard

import "time"

// Option configures a Board.
type Option func(*Board)

// WithSnapshotInterval sets how often the top cache snapshot is rebuilt.
func WithSnapshotInterval(d time.Duration) Option {
	return func(b *Board) {
		if d > 0 {
			b.snapshotInterval = d
		}
	}
}

// WithTopCacheSize sets how many leading entries a snapshot keeps.
func WithTopCacheSize(n int) Option {
	return func(b *Board) {
		if n > 0 {
			b.topCacheSize = n
		}
	}
}
