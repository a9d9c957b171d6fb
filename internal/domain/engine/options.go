package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/okian/kudos/internal/domain/model"
	"github.com/okian/kudos/pkg/logger"
)

// Option configures the Engine.
type Option func(*Engine)

// WithClock sets the time source used for cooldowns and audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDs sets the ledger entry id generator.
func WithIDs(next func() string) Option {
	return func(e *Engine) {
		if next != nil {
			e.newID = next
		}
	}
}

// CommitFunc observes a freshly committed evaluation. ev is the event as
// read in the transaction and user the user as written.
type CommitFunc func(ctx context.Context, ev model.Event, user model.User, res model.EventResult)

// WithCommitHook registers fn to run after each evaluation that commits.
// Replays of processed events do not trigger it.
func WithCommitHook(fn CommitFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.onCommit = append(e.onCommit, fn)
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func defaultNow() time.Time { return time.Now().UTC() }

func defaultID() string { return uuid.NewString() }
