// Package engine evaluates events against the rule catalog and commits the
// resulting grants atomically with the user, the audit trail and the
// event's processed flag.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/domain/catalog"
	"github.com/okian/kudos/internal/domain/leveling"
	"github.com/okian/kudos/internal/domain/model"
	"github.com/okian/kudos/pkg/logger"
	"github.com/okian/kudos/pkg/metrics"
	"github.com/okian/kudos/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// Engine is safe for concurrent use; all per-user serialization happens in
// the store transaction.
type Engine struct {
	store   repository.Store
	catalog *catalog.Catalog
	log     logger.Logger
	now     func() time.Time
	newID   func() string

	onCommit []CommitFunc
}

// New returns an engine over store and cat.
func New(store repository.Store, cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		catalog: cat,
		log:     logger.Named("engine"),
		now:     defaultNow,
		newID:   defaultID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the rules the engine evaluates.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Process evaluates the event and commits its grants. An event that is
// already processed is left alone and its stored result returned. On
// failure the error is recorded on the event, which stays pending.
func (e *Engine) Process(ctx context.Context, eventID string) (res model.EventResult, err error) {
	ctx, span := tracing.Start(ctx, "engine.process", attribute.String("event.id", eventID))
	start := time.Now()
	defer func() {
		tracing.End(span, err)
		metrics.RecordEvaluationLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	var (
		out      outcome
		event    model.Event
		replayed bool
	)
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		out, replayed = outcome{}, false

		ev, err := tx.Event(ctx, eventID)
		if err != nil {
			return err
		}
		event = ev
		if ev.Processed {
			replayed = true
			if ev.Result != nil {
				res = *ev.Result
			}
			return nil
		}

		user, err := tx.User(ctx, ev.UserID)
		if errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, ev.UserID)
		}
		if err != nil {
			return err
		}

		now := e.now()
		out = evaluate(e.catalog.ForTrigger(ev.Name), ev, user, now)
		if err := e.stage(ctx, tx, ev, out, now); err != nil {
			return err
		}
		res = model.EventResult{XPGained: out.xpGained, Unlocked: out.ruleIDs()}
		return tx.CompleteEvent(ctx, ev.ID, res)
	})

	log := e.log.With(logger.String("event_id", eventID), logger.String("user_id", event.UserID))
	if err != nil {
		e.fail(ctx, log, eventID, err)
		return model.EventResult{}, err
	}
	if replayed {
		log.Debug(ctx, "event already processed")
		return res, nil
	}

	metrics.RecordEventProcessed()
	for _, g := range out.grants {
		metrics.RecordGrant(g.rule.ID)
	}
	if out.xpGained > 0 {
		metrics.RecordXPAwarded(model.ChangeReward, out.xpGained)
	}
	if out.levelUp {
		metrics.RecordLevelUp()
	}
	span.SetAttributes(
		attribute.Int64("reward.xp", out.xpGained),
		attribute.StringSlice("reward.rules", res.Unlocked),
	)
	log.Info(ctx, "event processed",
		logger.Int64("xp_gained", out.xpGained),
		logger.Strings("unlocked", res.Unlocked))
	for _, fn := range e.onCommit {
		fn(ctx, event, out.user, res)
	}
	return res, nil
}

// stage writes the outcome's user, achievement records and ledger entry.
func (e *Engine) stage(ctx context.Context, tx repository.Tx, ev model.Event, out outcome, now time.Time) error {
	if !out.changed {
		return nil
	}
	if err := tx.SaveUser(ctx, out.user); err != nil {
		return err
	}
	for _, g := range out.grants {
		if err := tx.AppendAchievement(ctx, model.AchievementRecord{
			UserID:        ev.UserID,
			AchievementID: g.rule.ID,
			EventID:       ev.ID,
			XP:            g.xp,
			Badge:         g.rule.Rewards.Badge,
			EarnedAt:      now,
		}); err != nil {
			return err
		}
	}
	if out.xpGained <= 0 {
		return nil
	}
	return tx.AppendLedger(ctx, model.LedgerEntry{
		ID:        e.newID(),
		Type:      model.LedgerAchievementReward,
		Amount:    out.xpGained,
		From:      model.LedgerSystem,
		To:        model.UserAccount(ev.UserID),
		Reason:    ev.Name + ": " + strings.Join(out.ruleIDs(), ","),
		EventID:   ev.ID,
		Timestamp: now,
	})
}

// fail records err on the event, best effort.
func (e *Engine) fail(ctx context.Context, log logger.Logger, eventID string, err error) {
	reason := "internal"
	switch {
	case errors.Is(err, repository.ErrEventNotFound):
		metrics.RecordEventFailed("event_not_found")
		log.Warn(ctx, "event not found", logger.Error(err))
		return
	case errors.Is(err, ErrUserNotFound):
		reason = "user_not_found"
	case errors.Is(err, repository.ErrTxConflict):
		reason = "conflict"
	}
	metrics.RecordEventFailed(reason)
	log.Error(ctx, "event processing failed", logger.String("reason", reason), logger.Error(err))

	if ferr := e.store.FailEvent(context.WithoutCancel(ctx), eventID, err.Error()); ferr != nil {
		log.Warn(ctx, "could not record processing error", logger.Error(ferr))
	}
}

// Grant adjusts a user's xp outside the rule catalog. It writes an
// ADMIN_GRANT ledger entry and recomputes the level.
func (e *Engine) Grant(ctx context.Context, userID string, amount int64, reason, actor string) (_ model.User, err error) {
	ctx, span := tracing.Start(ctx, "engine.grant",
		attribute.String("user.id", userID), attribute.Int64("grant.amount", amount))
	defer func() { tracing.End(span, err) }()

	if amount == 0 {
		return model.User{}, fmt.Errorf("%w: amount must not be zero", ErrInvalidGrant)
	}
	if strings.TrimSpace(actor) == "" {
		return model.User{}, fmt.Errorf("%w: actor is required", ErrInvalidGrant)
	}

	var levelUp bool
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.User(ctx, userID)
		if errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		if err != nil {
			return err
		}
		if u.XP+amount < 0 {
			return fmt.Errorf("%w: xp would drop below zero", ErrInvalidGrant)
		}
		before := u.Level
		u.XP += amount
		u.Points = u.XP
		u.Level = leveling.LevelFor(u.XP)
		levelUp = u.Level > before
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, model.LedgerEntry{
			ID:        e.newID(),
			Type:      model.LedgerAdminGrant,
			Amount:    amount,
			From:      model.AdminAccount(actor),
			To:        model.UserAccount(userID),
			Reason:    reason,
			Timestamp: e.now(),
		})
	})
	if err != nil {
		return model.User{}, err
	}

	if amount > 0 {
		metrics.RecordXPAwarded(model.ChangeAdminGrant, amount)
	}
	if levelUp {
		metrics.RecordLevelUp()
	}
	e.log.Info(ctx, "xp granted",
		logger.String("user_id", userID),
		logger.Int64("amount", amount),
		logger.String("actor", actor),
		logger.String("reason", reason))
	return e.store.User(ctx, userID)
}
