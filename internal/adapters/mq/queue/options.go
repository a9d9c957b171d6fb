package queue

type options struct {
	name     string
	capacity int
}

// Option applies a configuration option to the InMemoryQueue.
type Option func(*options)

// WithName labels the queue in metrics and logs.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithCapacity sets the maximum number of buffered items.
func WithCapacity(capacity int) Option {
	return func(o *options) {
		if capacity > 0 {
			o.capacity = capacity
		}
	}
}
