package engine

import (
	"testing"
	"time"

	"github.com/okian/kudos/internal/domain/catalog"
	"github.com/okian/kudos/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func intp(v int) *int { return &v }

func TestEvaluate(t *testing.T) {
	Convey("Given a progressive rule without a limit", t, func() {
		rules := []catalog.Rule{{
			ID: "every_third", Trigger: "SHARE", Target: intp(3),
			Rewards: catalog.Rewards{XP: 4},
		}}
		now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		u := model.NewUser("u1")
		ev := model.Event{ID: "e", UserID: "u1", Name: "SHARE"}

		Convey("It fires every time the counter is at or past the target", func() {
			var gained []int64
			for i := 0; i < 5; i++ {
				out := evaluate(rules, ev, u, now)
				So(out.changed, ShouldBeTrue)
				u = out.user
				gained = append(gained, out.xpGained)
			}
			So(gained, ShouldResemble, []int64{0, 0, 4, 4, 4})
			So(u.AchievementProgress["every_third"], ShouldEqual, 5)
			So(u.UnlockedAchievements, ShouldBeEmpty)
		})
	})

	Convey("Given a rule that grants nothing", t, func() {
		rules := []catalog.Rule{{ID: "zero", Trigger: "X", Rewards: catalog.Rewards{UseMetadataXP: true}}}
		out := evaluate(rules, model.Event{Name: "X"}, model.NewUser("u1"), time.Now())

		Convey("No grant is recorded and the user is untouched", func() {
			So(out.grants, ShouldBeEmpty)
			So(out.changed, ShouldBeFalse)
			So(out.user.XP, ShouldEqual, 0)
		})
	})

	Convey("Given a user crossing a level threshold", t, func() {
		rules := []catalog.Rule{{ID: "big", Trigger: "X", Rewards: catalog.Rewards{XP: 150}}}
		u := model.NewUser("u1")
		u.XP, u.Points = 90, 90
		out := evaluate(rules, model.Event{Name: "X"}, u, time.Now())

		Convey("The level is recomputed", func() {
			So(out.user.XP, ShouldEqual, 240)
			So(out.user.Level, ShouldEqual, 2)
			So(out.levelUp, ShouldBeTrue)
			So(out.ruleIDs(), ShouldResemble, []string{"big"})
		})

		Convey("The input user is not mutated", func() {
			So(u.XP, ShouldEqual, 90)
		})
	})
}
