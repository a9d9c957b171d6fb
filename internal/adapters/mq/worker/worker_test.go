package worker_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/kudos/internal/adapters/mq/queue"
	"github.com/okian/kudos/internal/adapters/mq/worker"
	logging "github.com/okian/kudos/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a queue and a worker pool", t, func() {
		_ = logging.InitWithWriter(io.Discard)

		q := queue.NewInMemoryQueue[int](queue.WithCapacity(100), queue.WithName("test"))
		var (
			mu   sync.Mutex
			seen []int
		)
		pool := worker.NewPool[int](q, func(_ context.Context, v int) error {
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
			if v%10 == 0 {
				return errors.New("multiple of ten")
			}
			return nil
		}, worker.WithName("test-pool"), worker.WithSize(3))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		convey.Convey("When items are enqueued and the queue is closed", func() {
			pool.Start(ctx)
			pool.Start(ctx)
			for i := 1; i <= 50; i++ {
				convey.So(q.Enqueue(ctx, i), convey.ShouldBeNil)
			}
			_ = q.Close()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then every item is handled once, failures included", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(pool.Size(), convey.ShouldEqual, 3)
				mu.Lock()
				defer mu.Unlock()
				convey.So(seen, convey.ShouldHaveLength, 50)
			})
		})
	})
}

func TestWorkerPoolShutdownTimeout(t *testing.T) {
	convey.Convey("Given a pool whose handler blocks until cancelled", t, func() {
		_ = logging.InitWithWriter(io.Discard)

		q := queue.NewInMemoryQueue[int](queue.WithCapacity(10))
		var started atomic.Int32
		pool := worker.NewPool[int](q, func(ctx context.Context, _ int) error {
			started.Add(1)
			<-ctx.Done()
			return ctx.Err()
		}, worker.WithSize(1))
		pool.Start(context.Background())
		_ = q.Enqueue(context.Background(), 1)

		deadline := time.Now().Add(time.Second)
		for started.Load() == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}

		convey.Convey("When shutdown runs out of time", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			err := pool.Shutdown(ctx)

			convey.Convey("Then the workers are stopped and an error is returned", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
			})
		})
	})
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	convey.Convey("Given a handler that panics on one item", t, func() {
		_ = logging.InitWithWriter(io.Discard)

		q := queue.NewInMemoryQueue[int](queue.WithCapacity(10))
		var handled atomic.Int32
		pool := worker.NewPool[int](q, func(_ context.Context, v int) error {
			if v == 2 {
				panic("boom")
			}
			handled.Add(1)
			return nil
		}, worker.WithSize(1))
		pool.Start(context.Background())

		for i := 1; i <= 3; i++ {
			_ = q.Enqueue(context.Background(), i)
		}
		_ = q.Close()
		err := pool.Shutdown(context.Background())

		convey.Convey("Then the other items are still handled", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(handled.Load(), convey.ShouldEqual, 2)
		})
	})
}
