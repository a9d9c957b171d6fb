// Package matcher evaluates rule conditions against an event and a user
// snapshot. It is pure: no I/O, no shared state, and malformed input
// evaluates to false instead of failing.
package matcher

import (
	"strconv"

	"github.com/okian/kudos/internal/domain/catalog"
	"github.com/okian/kudos/internal/domain/model"
)

// Subject is the document conditions are evaluated against.
type Subject struct {
	Metadata map[string]any
	User     model.User
}

// Lookup resolves f against the subject. The second result is false when
// the path does not exist.
func (s Subject) Lookup(f catalog.Field) (any, bool) {
	switch f.Root {
	case catalog.RootMetadata:
		return walk(s.Metadata, f.Path)
	case catalog.RootUser:
		return s.lookupUser(f.Path)
	default:
		return nil, false
	}
}

func (s Subject) lookupUser(path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	u := s.User
	switch path[0] {
	case catalog.UserID:
		return u.ID, true
	case catalog.UserXP:
		return u.XP, true
	case catalog.UserPoints:
		return u.Points, true
	case catalog.UserLevel:
		return u.Level, true
	case catalog.UserTeamID:
		return u.TeamID, true
	case catalog.UserDisplayName:
		return u.DisplayName, true
	case catalog.UserUnlockedAchievements:
		return u.UnlockedAchievements, true
	case catalog.UserAchievementProgress:
		if len(path) == 1 {
			return u.AchievementProgress, true
		}
		v, ok := u.AchievementProgress[path[1]]
		return v, ok
	case catalog.UserAchievementLastAction:
		if len(path) == 1 {
			return u.AchievementLastAction, true
		}
		v, ok := u.AchievementLastAction[path[1]]
		if !ok {
			return nil, false
		}
		// compared as unix milliseconds
		return v.UnixMilli(), true
	}
	return nil, false
}

func walk(v any, path []string) (any, bool) {
	cur := v
	for _, seg := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Match reports whether every condition holds. No conditions always match.
func Match(conds []catalog.Condition, s Subject) bool {
	for _, c := range conds {
		if !Eval(c, s) {
			return false
		}
	}
	return true
}

// Eval evaluates a single condition. A missing field is false.
func Eval(c catalog.Condition, s Subject) bool {
	actual, ok := s.Lookup(c.Field)
	if !ok {
		return false
	}
	return Compare(actual, c.Operator, c.Value)
}
