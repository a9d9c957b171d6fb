package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/kudos/internal/adapters/mq/queue"
	"github.com/okian/kudos/internal/adapters/notify"
	"github.com/okian/kudos/internal/domain/model"
	"github.com/okian/kudos/pkg/logger"
	"github.com/okian/kudos/pkg/metrics"
)

// onEventCreated runs on the committing goroutine of CreateEvent.
func (s *Service) onEventCreated(ctx context.Context, e model.Event) {
	if err := s.dispatch(ctx, e.ID); err != nil {
		s.logger.Warn(ctx, "event left pending",
			logger.String("event_id", e.ID),
			logger.Error(err))
	}
}

// dispatch queues id for evaluation. A full queue leaves the event pending
// for the replay tool.
func (s *Service) dispatch(ctx context.Context, id string) error {
	err := s.events.Enqueue(context.WithoutCancel(ctx), id)
	if errors.Is(err, queue.ErrFull) {
		metrics.RecordDispatchBackpressure()
	}
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", id, err)
	}
	return nil
}

// evaluate is the evaluator pool's handler. Failures are already recorded
// on the event by the engine.
func (s *Service) evaluate(ctx context.Context, id string) error {
	_, err := s.engine.Process(ctx, id)
	return err
}

// notify runs after each committed evaluation and publishes non-empty
// rewards. Processing already committed; a lost notification is only
// logged.
func (s *Service) notify(ctx context.Context, ev model.Event, u model.User, res model.EventResult) {
	r := notify.Reward{
		EventID:     ev.ID,
		UserID:      ev.UserID,
		XPGained:    res.XPGained,
		Unlocked:    res.Unlocked,
		Level:       u.Level,
		ProcessedAt: time.Now().UTC(),
	}
	if r.Empty() {
		return
	}
	if err := s.publisher.Publish(ctx, r); err != nil {
		s.logger.Warn(ctx, "reward notification dropped",
			logger.String("event_id", ev.ID),
			logger.Error(err))
	}
}

// onUserChanged runs on the committing goroutine of every xp-changing
// write. When the change queue cannot take the change it is applied
// inline so no team delta is lost.
func (s *Service) onUserChanged(ctx context.Context, c model.UserChange) {
	if err := s.changes.Enqueue(context.WithoutCancel(ctx), c); err != nil {
		s.logger.Debug(ctx, "applying user change inline",
			logger.String("user_id", c.UserID),
			logger.Error(err))
		_ = s.applyChange(context.WithoutCancel(ctx), c)
	}
}

// applyChange is the team sync pool's handler.
func (s *Service) applyChange(ctx context.Context, c model.UserChange) error {
	if b := s.board.Load(); b != nil {
		b.Apply(ctx, c)
	}
	return s.syncer.Handle(ctx, c)
}
