// Package repository defines the persistence contract of the reward ledger
// and its in-memory implementation.
package repository

import (
	"context"

	"github.com/okian/kudos/internal/domain/model"
)

// Profile is the part of a user owned by profile flows.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	TeamID      string `json:"teamId,omitempty"`
	// KeepTeam leaves the stored team untouched; TeamID is ignored.
	KeepTeam bool `json:"-"`
}

// TeamFor returns the team the user belongs to after applying p.
func (p Profile) TeamFor(before model.User) string {
	if p.KeepTeam {
		return before.TeamID
	}
	return p.TeamID
}

// Store provides access to events, users, teams and the audit trail.
//
// Every backend notifies OnEventCreated observers after an event insert and
// OnUserChanged observers after a commit that changed a user's xp or moved
// a user with xp between teams. Observers run on the committing goroutine
// and must not block.
type Store interface {
	// CreateEvent inserts an unprocessed event. Returns ErrEventExists when
	// the id is already stored.
	CreateEvent(ctx context.Context, e model.Event) (model.Event, error)
	// Event returns ErrEventNotFound for unknown ids.
	Event(ctx context.Context, id string) (model.Event, error)
	// FailEvent records a processing error on an unprocessed event.
	FailEvent(ctx context.Context, id, msg string) error
	// PendingEvents lists unprocessed events, oldest first.
	PendingEvents(ctx context.Context, limit int) ([]model.Event, error)

	// RunInTx runs fn in a serializable transaction scoped to the documents
	// it reads. fn may run more than once when a concurrent commit
	// conflicts; it must not have side effects outside tx. Returns
	// ErrTxConflict once the attempts are exhausted.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// User returns ErrUserNotFound for unknown ids.
	User(ctx context.Context, id string) (model.User, error)
	// Users returns every user.
	Users(ctx context.Context) ([]model.User, error)
	// UpsertUser creates the user or updates its profile fields. Reward
	// fields are never touched. Joining a team that does not exist returns
	// ErrTeamNotFound and stores nothing.
	UpsertUser(ctx context.Context, p Profile) (model.User, error)

	// Team returns ErrTeamNotFound for unknown ids.
	Team(ctx context.Context, id string) (model.Team, error)
	// UpsertTeam creates the team or renames it; aggregates are kept.
	UpsertTeam(ctx context.Context, id, name string) (model.Team, error)
	// IncrementTeam adds delta to xp, points and totalPoints atomically.
	IncrementTeam(ctx context.Context, teamID string, delta int64) error

	// Ledger returns the entries credited to the user, oldest first.
	Ledger(ctx context.Context, userID string) ([]model.LedgerEntry, error)
	// Achievements returns the user's achievement records, oldest first.
	Achievements(ctx context.Context, userID string) ([]model.AchievementRecord, error)

	OnEventCreated(fn EventObserver)
	OnUserChanged(fn UserChangeObserver)

	Close() error
}

// Tx is the transactional view handed to RunInTx callbacks. Reads return
// the transaction's own staged writes.
type Tx interface {
	Event(ctx context.Context, id string) (model.Event, error)
	User(ctx context.Context, id string) (model.User, error)
	SaveUser(ctx context.Context, u model.User) error
	AppendAchievement(ctx context.Context, r model.AchievementRecord) error
	AppendLedger(ctx context.Context, e model.LedgerEntry) error
	// CompleteEvent marks the event processed with res and clears any
	// processing error.
	CompleteEvent(ctx context.Context, id string, res model.EventResult) error
}

// ProfileChanges returns the changes implied by moving user from its
// current team to teamID.
func ProfileChanges(before model.User, teamID string, version int64) []model.UserChange {
	if before.TeamID == teamID || before.XP == 0 {
		return nil
	}
	var out []model.UserChange
	if before.TeamID != "" {
		out = append(out, model.UserChange{
			UserID: before.ID, TeamID: before.TeamID, OldXP: before.XP, NewXP: 0,
			Version: version, Source: model.ChangeTeamTransfer,
		})
	}
	if teamID != "" {
		out = append(out, model.UserChange{
			UserID: before.ID, TeamID: teamID, OldXP: 0, NewXP: before.XP,
			Version: version, Source: model.ChangeTeamTransfer,
		})
	}
	return out
}

// XPChange returns the change for a committed user write, if xp moved.
func XPChange(oldXP int64, after model.User, source string) (model.UserChange, bool) {
	if oldXP == after.XP {
		return model.UserChange{}, false
	}
	return model.UserChange{
		UserID:  after.ID,
		TeamID:  after.TeamID,
		OldXP:   oldXP,
		NewXP:   after.XP,
		Version: after.Version,
		Source:  source,
	}, true
}

// ChangeSource classifies a user's xp change by the ledger entries written
// in the same transaction.
func ChangeSource(userID string, ledger []model.LedgerEntry) string {
	account := model.UserAccount(userID)
	for _, e := range ledger {
		if e.To == account && e.Type == model.LedgerAdminGrant {
			return model.ChangeAdminGrant
		}
	}
	return model.ChangeReward
}
