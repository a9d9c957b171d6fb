package model

import (
	"sort"
	"time"
)

// User holds the reward state of one user. XP, Points, Level and the
// achievement maps are mutated only by the engine; DisplayName and TeamID
// belong to profile flows.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	TeamID      string `json:"teamId,omitempty"`

	XP     int64 `json:"xp"`
	Points int64 `json:"points"`
	Level  int   `json:"level"`

	// UnlockedAchievements is a set kept sorted; it only grows.
	UnlockedAchievements  []string             `json:"unlockedAchievements"`
	AchievementProgress   map[string]int       `json:"achievementProgress"`
	AchievementLastAction map[string]time.Time `json:"achievementLastAction"`

	// Version is bumped by the store on every committed write.
	Version int64 `json:"version"`
}

// NewUser returns a level 1 user with no rewards.
func NewUser(id string) User {
	return User{
		ID:                    id,
		Level:                 1,
		UnlockedAchievements:  []string{},
		AchievementProgress:   map[string]int{},
		AchievementLastAction: map[string]time.Time{},
	}
}

// HasUnlocked reports whether ruleID is in the unlocked set.
func (u *User) HasUnlocked(ruleID string) bool {
	i := sort.SearchStrings(u.UnlockedAchievements, ruleID)
	return i < len(u.UnlockedAchievements) && u.UnlockedAchievements[i] == ruleID
}

// Unlock adds ruleID to the unlocked set and reports whether it was new.
func (u *User) Unlock(ruleID string) bool {
	i := sort.SearchStrings(u.UnlockedAchievements, ruleID)
	if i < len(u.UnlockedAchievements) && u.UnlockedAchievements[i] == ruleID {
		return false
	}
	u.UnlockedAchievements = append(u.UnlockedAchievements, "")
	copy(u.UnlockedAchievements[i+1:], u.UnlockedAchievements[i:])
	u.UnlockedAchievements[i] = ruleID
	return true
}

// Normalize fills nil collections and sorts the unlocked set.
func (u *User) Normalize() {
	if u.UnlockedAchievements == nil {
		u.UnlockedAchievements = []string{}
	}
	sort.Strings(u.UnlockedAchievements)
	if u.AchievementProgress == nil {
		u.AchievementProgress = map[string]int{}
	}
	if u.AchievementLastAction == nil {
		u.AchievementLastAction = map[string]time.Time{}
	}
	if u.Level < 1 {
		u.Level = 1
	}
}

// Clone returns a deep copy of u.
func (u User) Clone() User {
	out := u
	out.UnlockedAchievements = append([]string{}, u.UnlockedAchievements...)
	out.AchievementProgress = make(map[string]int, len(u.AchievementProgress))
	for k, v := range u.AchievementProgress {
		out.AchievementProgress[k] = v
	}
	out.AchievementLastAction = make(map[string]time.Time, len(u.AchievementLastAction))
	for k, v := range u.AchievementLastAction {
		out.AchievementLastAction[k] = v
	}
	return out
}

// Change sources.
const (
	ChangeReward       = "reward"
	ChangeAdminGrant   = "admin_grant"
	ChangeTeamTransfer = "team_transfer"
)

// UserChange is emitted after a commit that changed a user's xp, or moved
// a user with xp between teams. A transfer is emitted as two changes: the
// old team loses the xp, the new team gains it.
type UserChange struct {
	UserID  string `json:"userId"`
	TeamID  string `json:"teamId,omitempty"`
	OldXP   int64  `json:"oldXp"`
	NewXP   int64  `json:"newXp"`
	Version int64  `json:"version"`
	Source  string `json:"source"`
}

// Delta is NewXP - OldXP.
func (c UserChange) Delta() int64 { return c.NewXP - c.OldXP }
