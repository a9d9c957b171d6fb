// Package storetest is a conformance suite every repository.Store backend
// runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store; the suite closes it.
type Factory func(t *testing.T) repository.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("transaction", func(t *testing.T) { testTx(t, newStore(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("profiles and teams", func(t *testing.T) { testProfiles(t, newStore(t)) })
	t.Run("team membership", func(t *testing.T) { testMembership(t, newStore(t)) })
	t.Run("concurrent increments", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

func testEvents(t *testing.T, s repository.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	var seen []string
	var mu sync.Mutex
	s.OnEventCreated(func(_ context.Context, e model.Event) {
		mu.Lock()
		seen = append(seen, e.ID)
		mu.Unlock()
	})

	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	_, err := s.CreateEvent(ctx, model.Event{ID: "e2", UserID: "u1", Name: "LOGIN", Timestamp: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.CreateEvent(ctx, model.Event{
		ID: "e1", UserID: "u1", Name: "GAME_COMPLETED", Timestamp: base,
		Metadata: map[string]any{"result": "win", "xp": 12, "tags": []any{"a"}},
	})
	require.NoError(t, err)

	_, err = s.CreateEvent(ctx, model.Event{ID: "e1", UserID: "u1", Name: "LOGIN", Timestamp: base})
	assert.ErrorIs(t, err, repository.ErrEventExists)

	mu.Lock()
	assert.Equal(t, []string{"e2", "e1"}, seen)
	mu.Unlock()

	got, err := s.Event(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "win", got.Metadata["result"])
	assert.EqualValues(t, 12, got.Metadata["xp"])
	assert.True(t, got.Timestamp.Equal(base))
	assert.False(t, got.Processed)

	_, err = s.Event(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrEventNotFound)

	pending, err := s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e1", pending[0].ID)

	require.NoError(t, s.FailEvent(ctx, "e2", "user not found"))
	got, err = s.Event(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, "user not found", got.ProcessingError)
	assert.ErrorIs(t, s.FailEvent(ctx, "missing", "x"), repository.ErrEventNotFound)
}

func seedUser(t *testing.T, s repository.Store, id, team string) {
	t.Helper()
	ctx := context.Background()
	if team != "" {
		_, err := s.UpsertTeam(ctx, team, "")
		require.NoError(t, err)
	}
	_, err := s.UpsertUser(ctx, repository.Profile{ID: id, TeamID: team})
	require.NoError(t, err)
}

func testTx(t *testing.T, s repository.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	seedUser(t, s, "u1", "t1")
	_, err := s.CreateEvent(ctx, model.Event{ID: "e1", UserID: "u1", Name: "LOGIN_STREAK", Timestamp: time.Now()})
	require.NoError(t, err)

	var changes []model.UserChange
	var mu sync.Mutex
	s.OnUserChanged(func(_ context.Context, c model.UserChange) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	now := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	err = s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		e, err := tx.Event(ctx, "e1")
		if err != nil {
			return err
		}
		u, err := tx.User(ctx, e.UserID)
		if err != nil {
			return err
		}
		u.XP += 15
		u.Points = u.XP
		u.Unlock("streak_7")
		u.AchievementProgress["hymn_reader"] = 2
		u.AchievementLastAction["daily_prayer"] = now
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := tx.AppendAchievement(ctx, model.AchievementRecord{UserID: "u1", AchievementID: "streak_7", EventID: "e1", XP: 15, EarnedAt: now}); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, model.LedgerEntry{
			ID: "l1", Type: model.LedgerAchievementReward, Amount: 15,
			From: model.LedgerSystem, To: model.UserAccount("u1"), Reason: "streak_7", EventID: "e1", Timestamp: now,
		}); err != nil {
			return err
		}
		if err := tx.CompleteEvent(ctx, "e1", model.EventResult{XPGained: 15, Unlocked: []string{"streak_7"}}); err != nil {
			return err
		}
		again, err := tx.Event(ctx, "e1")
		if err != nil {
			return err
		}
		if !again.Processed {
			return fmt.Errorf("tx does not see its own completion")
		}
		return nil
	})
	require.NoError(t, err)

	u, err := s.User(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 15, u.XP)
	assert.True(t, u.HasUnlocked("streak_7"))
	assert.Equal(t, 2, u.AchievementProgress["hymn_reader"])
	assert.True(t, u.AchievementLastAction["daily_prayer"].Equal(now))

	e, err := s.Event(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, e.Processed)
	require.NotNil(t, e.Result)
	assert.EqualValues(t, 15, e.Result.XPGained)
	assert.Equal(t, []string{"streak_7"}, e.Result.Unlocked)

	ledger, err := s.Ledger(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, model.LedgerSystem, ledger[0].From)

	records, err := s.Achievements(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "streak_7", records[0].AchievementID)

	mu.Lock()
	require.Len(t, changes, 1)
	assert.Equal(t, "t1", changes[0].TeamID)
	assert.EqualValues(t, 15, changes[0].Delta())
	assert.Equal(t, model.ChangeReward, changes[0].Source)
	mu.Unlock()

	err = s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CompleteEvent(ctx, "e1", model.EventResult{})
	})
	assert.ErrorIs(t, err, repository.ErrEventProcessed)

	pending, err := s.PendingEvents(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func testRollback(t *testing.T, s repository.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	seedUser(t, s, "u1", "")

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.User(ctx, "u1")
		if err != nil {
			return err
		}
		u.XP = 500
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, model.LedgerEntry{ID: "l", Type: model.LedgerAchievementReward, Amount: 500, To: model.UserAccount("u1")}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, err := s.User(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, u.XP)
	ledger, err := s.Ledger(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, ledger)

	err = s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.User(ctx, "ghost")
		return err
	})
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func testProfiles(t *testing.T, s repository.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	seedUser(t, s, "u1", "t1")
	_, err := s.UpsertTeam(ctx, "t2", "Psalmists")
	require.NoError(t, err)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.User(ctx, "u1")
		if err != nil {
			return err
		}
		u.XP = 30
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, model.LedgerEntry{ID: "g", Type: model.LedgerAdminGrant, Amount: 30, From: model.AdminAccount("ops"), To: model.UserAccount("u1")})
	}))

	var changes []model.UserChange
	var mu sync.Mutex
	s.OnUserChanged(func(_ context.Context, c model.UserChange) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	u, err := s.UpsertUser(ctx, repository.Profile{ID: "u1", DisplayName: "Ada", TeamID: "t2"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.DisplayName)
	assert.EqualValues(t, 30, u.XP)

	mu.Lock()
	require.Len(t, changes, 2)
	assert.EqualValues(t, -30, changes[0].Delta())
	assert.Equal(t, "t1", changes[0].TeamID)
	assert.EqualValues(t, 30, changes[1].Delta())
	assert.Equal(t, "t2", changes[1].TeamID)
	mu.Unlock()

	require.NoError(t, s.IncrementTeam(ctx, "t2", 30))
	team, err := s.Team(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, model.Team{ID: "t2", Name: "Psalmists", XP: 30, Points: 30, TotalPoints: 30}, team)

	renamed, err := s.UpsertTeam(ctx, "t2", "Hymnals")
	require.NoError(t, err)
	assert.EqualValues(t, 30, renamed.TotalPoints)

	assert.ErrorIs(t, s.IncrementTeam(ctx, "nope", 1), repository.ErrTeamNotFound)
	_, err = s.Team(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrTeamNotFound)
	_, err = s.User(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	users, err := s.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "t2", users[0].TeamID)
}

func testMembership(t *testing.T, s repository.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	seedUser(t, s, "u1", "t1")

	_, err := s.UpsertUser(ctx, repository.Profile{ID: "u1", TeamID: "ghost"})
	assert.ErrorIs(t, err, repository.ErrTeamNotFound)
	u, err := s.User(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "t1", u.TeamID)

	_, err = s.UpsertUser(ctx, repository.Profile{ID: "u2", TeamID: "ghost"})
	assert.ErrorIs(t, err, repository.ErrTeamNotFound)
	_, err = s.User(ctx, "u2")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	u, err = s.UpsertUser(ctx, repository.Profile{ID: "u1", DisplayName: "Ada", KeepTeam: true})
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.DisplayName)
	assert.Equal(t, "t1", u.TeamID)

	u, err = s.UpsertUser(ctx, repository.Profile{ID: "u1", DisplayName: "Ada"})
	require.NoError(t, err)
	assert.Empty(t, u.TeamID)
}

func testConcurrent(t *testing.T, s repository.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	seedUser(t, s, "u1", "")

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				u, err := tx.User(ctx, "u1")
				if err != nil {
					return err
				}
				u.XP++
				return tx.SaveUser(ctx, u)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	u, err := s.User(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, writers, u.XP)
}
