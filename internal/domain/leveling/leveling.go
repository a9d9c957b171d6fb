// Package leveling maps cumulative XP to a level.
//
// LevelFor is the only place a level is derived; every writer of
// User.Level goes through it.
package leveling

import "sort"

// Threshold is the minimum XP of a level.
type Threshold struct {
	Level int   `json:"level"`
	MinXP int64 `json:"minXp"`
}

var thresholds = []Threshold{ //nolint:gochecknoglobals // fixed level table
	{Level: 1, MinXP: 0},
	{Level: 2, MinXP: 100},
	{Level: 3, MinXP: 300},
	{Level: 4, MinXP: 600},
	{Level: 5, MinXP: 1000},
	{Level: 6, MinXP: 1500},
	{Level: 7, MinXP: 2200},
	{Level: 8, MinXP: 3000},
	{Level: 9, MinXP: 5000},
	{Level: 10, MinXP: 10000},
}

// LevelFor returns the highest level whose MinXP <= xp. Negative xp is level 1.
func LevelFor(xp int64) int {
	// first threshold strictly above xp
	i := sort.Search(len(thresholds), func(i int) bool { return thresholds[i].MinXP > xp })
	if i == 0 {
		return thresholds[0].Level
	}
	return thresholds[i-1].Level
}

// Thresholds returns a copy of the level table, ascending.
func Thresholds() []Threshold {
	return append([]Threshold(nil), thresholds...)
}

// MaxLevel is the highest reachable level.
func MaxLevel() int { return thresholds[len(thresholds)-1].Level }
