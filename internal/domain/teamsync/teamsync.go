// Package teamsync keeps team aggregates in step with member xp. It is the
// only writer of team xp, points and totalPoints.
package teamsync

import (
	"context"
	"errors"

	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/domain/model"
	"github.com/okian/kudos/pkg/logger"
	"github.com/okian/kudos/pkg/metrics"
)

// TeamStore is the part of the store the syncer writes to.
type TeamStore interface {
	IncrementTeam(ctx context.Context, teamID string, delta int64) error
}

// Syncer applies user changes to team aggregates.
type Syncer struct {
	store TeamStore
	log   logger.Logger
}

// New returns a syncer writing to store.
func New(store TeamStore) *Syncer {
	return &Syncer{store: store, log: logger.Named("teamsync")}
}

// Handle adds the change's xp delta to the user's team. Changes without a
// team or without a delta are ignored.
func (s *Syncer) Handle(ctx context.Context, c model.UserChange) error {
	delta := c.Delta()
	if delta == 0 || c.TeamID == "" {
		return nil
	}
	if err := s.store.IncrementTeam(ctx, c.TeamID, delta); err != nil {
		metrics.RecordTeamSyncError()
		if errors.Is(err, repository.ErrTeamNotFound) {
			s.log.Warn(ctx, "team not found",
				logger.String("team_id", c.TeamID),
				logger.String("user_id", c.UserID),
				logger.Int64("delta", delta))
		} else {
			s.log.Error(ctx, "team update failed",
				logger.String("team_id", c.TeamID),
				logger.Error(err))
		}
		return err
	}
	metrics.RecordTeamSyncUpdate()
	s.log.Debug(ctx, "team updated",
		logger.String("team_id", c.TeamID),
		logger.String("source", c.Source),
		logger.Int64("delta", delta))
	return nil
}
