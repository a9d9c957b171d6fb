// Package worker runs a fixed set of goroutines that drain a queue through
// a handler.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/kudos/pkg/logger"
	"github.com/okian/kudos/pkg/metrics"
)

// Handler processes one item. Errors are logged and counted; the item is
// not retried.
type Handler[T any] func(ctx context.Context, item T) error

// Source is what workers read from.
type Source[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Pool manages workers sharing one source.
type Pool[T any] struct {
	name    string
	size    int
	source  Source[T]
	handler Handler[T]
	log     logger.Logger

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

// NewPool creates a pool; the default size is runtime.NumCPU().
func NewPool[T any](source Source[T], handler Handler[T], opts ...Option) *Pool[T] {
	o := options{name: "worker", size: runtime.NumCPU()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Named(o.name)
	}
	return &Pool[T]{
		name:    o.name,
		size:    o.size,
		source:  source,
		handler: handler,
		log:     o.logger,
		stop:    make(chan struct{}),
	}
}

// Size returns the number of workers.
func (p *Pool[T]) Size() int { return p.size }

// Start launches the workers. Calling Start twice is a no-op.
func (p *Pool[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	// Workers stop on ctx, on Shutdown timeout, or once the source drains.
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-p.stop:
		case <-runCtx.Done():
		}
		cancel()
	}()

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(runCtx, p.log.With(logger.String("worker", strconv.Itoa(i))))
	}
	metrics.UpdateWorkerCount(p.name, p.size)
}

func (p *Pool[T]) run(ctx context.Context, log logger.Logger) {
	defer p.wg.Done()
	for item := range p.source.Dequeue(ctx) {
		p.handle(ctx, log, item)
	}
}

func (p *Pool[T]) handle(ctx context.Context, log logger.Logger, item T) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(p.name, float64(time.Since(start).Microseconds())/1000)
	}()
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordWorkerError(p.name)
			metrics.RecordErrorByComponent(p.name, "panic")
			log.Error(ctx, "handler panicked", logger.Any("panic", r))
		}
	}()

	if err := p.handler(ctx, item); err != nil {
		metrics.RecordWorkerError(p.name)
		log.Debug(ctx, "handler failed", logger.Error(err))
	}
}

// Shutdown waits for the workers to drain the source. The source should be
// closed first. When ctx ends before the workers finish they are stopped
// and an error is returned.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	defer metrics.UpdateWorkerCount(p.name, 0)
	select {
	case <-done:
		p.stopOnce.Do(func() { close(p.stop) })
		return nil
	case <-ctx.Done():
		p.stopOnce.Do(func() { close(p.stop) })
		<-done
		p.log.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("worker pool %s: shutdown timed out: %w", p.name, ctx.Err())
	}
}
