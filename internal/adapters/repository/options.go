package repository

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithMaxAttempts bounds how many times RunInTx runs its callback before
// giving up with ErrTxConflict.
func WithMaxAttempts(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}
