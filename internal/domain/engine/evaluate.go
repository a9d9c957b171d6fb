package engine

import (
	"time"

	"github.com/okian/kudos/internal/domain/catalog"
	"github.com/okian/kudos/internal/domain/leveling"
	"github.com/okian/kudos/internal/domain/matcher"
	"github.com/okian/kudos/internal/domain/model"
)

// grant is one rule that fired for an event.
type grant struct {
	rule catalog.Rule
	xp   int64
}

// outcome is the staged result of evaluating one event.
type outcome struct {
	user     model.User
	grants   []grant
	xpGained int64
	levelUp  bool
	// changed is set when the user needs to be written back.
	changed bool
}

// evaluate applies rules to user for ev. Conditions see the user as it
// was before the event; the returned user carries every staged change.
func evaluate(rules []catalog.Rule, ev model.Event, user model.User, now time.Time) outcome {
	subject := matcher.Subject{Metadata: ev.Metadata, User: user}
	out := outcome{user: user.Clone()}
	u := &out.user

	for _, r := range rules {
		if !matcher.Match(r.Conditions, subject) {
			continue
		}
		if r.Terminal() && u.HasUnlocked(r.ID) {
			continue
		}
		if r.CooldownMinutes != nil {
			if last, ok := u.AchievementLastAction[r.ID]; ok &&
				now.Sub(last) < time.Duration(*r.CooldownMinutes)*time.Minute {
				continue
			}
		}
		if r.Target != nil {
			u.AchievementProgress[r.ID]++
			out.changed = true
			if u.AchievementProgress[r.ID] < *r.Target {
				continue
			}
		}

		xp := r.Rewards.XP
		if r.Rewards.UseMetadataXP {
			xp += matcher.MetadataXP(ev.Metadata["xp"])
		}
		if r.CooldownMinutes != nil {
			u.AchievementLastAction[r.ID] = now
			out.changed = true
		}
		unlocked := r.Terminal() && u.Unlock(r.ID)
		if xp <= 0 && !unlocked {
			continue
		}
		out.changed = true
		out.xpGained += xp
		out.grants = append(out.grants, grant{rule: r, xp: xp})
	}

	if out.xpGained > 0 {
		before := u.Level
		u.XP += out.xpGained
		u.Points = u.XP
		u.Level = leveling.LevelFor(u.XP)
		out.levelUp = u.Level > before
	}
	return out
}

// ruleIDs lists the ids of the fired rules in catalog order.
func (o outcome) ruleIDs() []string {
	ids := make([]string, len(o.grants))
	for i, g := range o.grants {
		ids[i] = g.rule.ID
	}
	return ids
}
