package model

import "time"

// Ledger entry types.
const (
	LedgerAchievementReward = "ACHIEVEMENT_REWARD"
	LedgerAdminGrant        = "ADMIN_GRANT"
)

// LedgerSystem is the source account of engine rewards.
const LedgerSystem = "SYSTEM"

// UserAccount returns the ledger account name for a user, e.g. "USER:u1".
func UserAccount(userID string) string { return "USER:" + userID }

// AdminAccount returns the ledger account name for an operator.
func AdminAccount(actor string) string { return "ADMIN:" + actor }

// LedgerEntry is an immutable audit record of one XP grant.
type LedgerEntry struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	EventID   string    `json:"eventId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AchievementRecord is written once per rule grant.
type AchievementRecord struct {
	UserID        string    `json:"userId"`
	AchievementID string    `json:"achievementId"`
	EventID       string    `json:"eventId"`
	XP            int64     `json:"xp"`
	Badge         string    `json:"badge,omitempty"`
	EarnedAt      time.Time `json:"earnedAt"`
}

// Team is the eventually consistent aggregate of its members' XP.
type Team struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	XP          int64  `json:"xp"`
	Points      int64  `json:"points"`
	TotalPoints int64  `json:"totalPoints"`
}
