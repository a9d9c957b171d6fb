// Package replay drives the ledger's HTTP API from the outside: it
// re-dispatches events left pending after failures and can generate
// synthetic load against a running service.
package replay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/kudos/internal/domain/model"
	"github.com/okian/kudos/pkg/logger"
)

// Run executes one replay according to cfg.
func Run(ctx context.Context, cfg Config) (Stats, error) {
	if err := cfg.validate(); err != nil {
		return Stats{}, err
	}
	start := time.Now()
	log := logger.Named("replay").With(
		logger.String("mode", cfg.Mode),
		logger.String("base_url", cfg.BaseURL))

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return Stats{}, fmt.Errorf("service health check failed: %w", err)
	}

	var (
		stats Stats
		err   error
	)
	switch cfg.Mode {
	case ModeReprocess:
		stats, err = reprocess(ctx, log, client, cfg)
	case ModeLoad:
		stats, err = load(ctx, log, client, cfg)
	}
	stats.Duration = time.Since(start)
	if err != nil {
		return stats, err
	}
	log.Info(ctx, "replay finished",
		logger.Int("pending", stats.Pending),
		logger.Int("reprocessed", stats.Reprocessed),
		logger.Int("skipped", stats.Skipped),
		logger.Int("submitted", stats.Submitted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}

func reprocess(ctx context.Context, log logger.Logger, client *Client, cfg Config) (Stats, error) {
	events, err := client.Pending(ctx, cfg.Limit)
	if err != nil {
		return Stats{}, fmt.Errorf("listing pending events: %w", err)
	}
	stats := Stats{Pending: len(events)}
	log.Info(ctx, "pending events listed", logger.Int("count", len(events)))
	if cfg.DryRun {
		for _, ev := range events {
			log.Info(ctx, "pending event",
				logger.String("event_id", ev.ID),
				logger.String("user_id", ev.UserID),
				logger.String("name", ev.Name),
				logger.String("error", ev.ProcessingError))
		}
		return stats, nil
	}

	var done, skipped, failed atomic.Int64
	fanOut(ctx, cfg.Workers, events, func(ev model.Event) {
		err := client.Reprocess(ctx, ev.ID)
		switch {
		case err == nil:
			done.Add(1)
		case errors.Is(err, ErrProcessed):
			skipped.Add(1)
		default:
			failed.Add(1)
			log.Warn(ctx, "reprocess failed", logger.String("event_id", ev.ID), logger.Error(err))
		}
	})
	stats.Reprocessed = int(done.Load())
	stats.Skipped = int(skipped.Load())
	stats.Failed = int(failed.Load())
	return stats, ctx.Err()
}

func load(ctx context.Context, log logger.Logger, client *Client, cfg Config) (Stats, error) {
	if cfg.TeamID != "" {
		if err := client.PutTeam(ctx, cfg.TeamID, cfg.TeamID); err != nil {
			return Stats{}, fmt.Errorf("creating team: %w", err)
		}
	}
	users := UserIDs(cfg.Users)
	for _, id := range users {
		if err := client.PutUser(ctx, id, cfg.TeamID); err != nil {
			return Stats{}, fmt.Errorf("creating user %s: %w", id, err)
		}
	}

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	subs := Generate(rng, users, cfg.Events)
	log.Info(ctx, "submitting events", logger.Int("events", len(subs)), logger.Int("users", len(users)))

	var ok, dup, failed atomic.Int64
	fanOut(ctx, cfg.Workers, subs, func(sub model.Submission) {
		duplicate, err := client.Submit(ctx, sub)
		switch {
		case err != nil:
			failed.Add(1)
			log.Debug(ctx, "submit failed", logger.String("event_id", sub.ID), logger.Error(err))
		case duplicate:
			dup.Add(1)
		default:
			ok.Add(1)
		}
	})
	return Stats{
		Submitted: int(ok.Load()),
		Duplicate: int(dup.Load()),
		Failed:    int(failed.Load()),
	}, ctx.Err()
}

// fanOut runs fn over items on n goroutines and stops feeding on ctx.
func fanOut[T any](ctx context.Context, n int, items []T, fn func(T)) {
	ch := make(chan T, n*2)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range ch {
				fn(item)
			}
		}()
	}
	defer wg.Wait()
	defer close(ch)
	for _, item := range items {
		select {
		case <-ctx.Done():
			return
		case ch <- item:
		}
	}
}
