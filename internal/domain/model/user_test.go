package model_test

import (
	"testing"
	"time"

	model "github.com/okian/kudos/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestUserUnlock(t *testing.T) {
	convey.Convey("Given a new user", t, func() {
		u := model.NewUser("u1")

		convey.Convey("Then it starts at level 1 with empty collections", func() {
			convey.So(u.Level, convey.ShouldEqual, 1)
			convey.So(u.UnlockedAchievements, convey.ShouldBeEmpty)
			convey.So(u.AchievementProgress, convey.ShouldNotBeNil)
		})

		convey.Convey("When achievements are unlocked out of order", func() {
			convey.So(u.Unlock("streak_7"), convey.ShouldBeTrue)
			convey.So(u.Unlock("first_login"), convey.ShouldBeTrue)
			convey.So(u.Unlock("streak_7"), convey.ShouldBeFalse)

			convey.Convey("Then the set stays sorted and unique", func() {
				convey.So(u.UnlockedAchievements, convey.ShouldResemble, []string{"first_login", "streak_7"})
				convey.So(u.HasUnlocked("streak_7"), convey.ShouldBeTrue)
				convey.So(u.HasUnlocked("streak_30"), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the user is cloned and the clone is mutated", func() {
			u.AchievementProgress["hymn_reader"] = 3
			c := u.Clone()
			c.Unlock("first_win")
			c.AchievementProgress["hymn_reader"] = 4
			c.AchievementLastAction["daily_prayer"] = time.Unix(0, 0)

			convey.Convey("Then the original is untouched", func() {
				convey.So(u.HasUnlocked("first_win"), convey.ShouldBeFalse)
				convey.So(u.AchievementProgress["hymn_reader"], convey.ShouldEqual, 3)
				convey.So(u.AchievementLastAction, convey.ShouldBeEmpty)
			})
		})
	})

	convey.Convey("Given a decoded user with nil collections", t, func() {
		u := model.User{ID: "u2", UnlockedAchievements: []string{"b", "a"}}
		u.Normalize()

		convey.Convey("Then Normalize fills and sorts them", func() {
			convey.So(u.UnlockedAchievements, convey.ShouldResemble, []string{"a", "b"})
			convey.So(u.AchievementProgress, convey.ShouldNotBeNil)
			convey.So(u.AchievementLastAction, convey.ShouldNotBeNil)
			convey.So(u.Level, convey.ShouldEqual, 1)
		})
	})
}

func TestEventClone(t *testing.T) {
	convey.Convey("Given an event with nested metadata and a result", t, func() {
		e := model.Event{
			ID:       "ev-1",
			Metadata: map[string]any{"tags": []any{"a"}, "game": map[string]any{"result": "win"}},
			Result:   &model.EventResult{XPGained: 20, Unlocked: []string{"first_win"}},
		}

		convey.Convey("When the clone is mutated", func() {
			c := e.Clone()
			c.Metadata["tags"].([]any)[0] = "z"
			c.Metadata["game"].(map[string]any)["result"] = "loss"
			c.Result.Unlocked[0] = "x"

			convey.Convey("Then the original is untouched", func() {
				convey.So(e.Metadata["tags"].([]any)[0], convey.ShouldEqual, "a")
				convey.So(e.Metadata["game"].(map[string]any)["result"], convey.ShouldEqual, "win")
				convey.So(e.Result.Unlocked[0], convey.ShouldEqual, "first_win")
			})
		})
	})

	convey.Convey("Given a user change", t, func() {
		c := model.UserChange{UserID: "u1", OldXP: 100, NewXP: 115}

		convey.Convey("Then Delta is the xp difference", func() {
			convey.So(c.Delta(), convey.ShouldEqual, 15)
			convey.So(model.UserAccount("u1"), convey.ShouldEqual, "USER:u1")
			convey.So(model.AdminAccount("ops"), convey.ShouldEqual, "ADMIN:ops")
		})
	})
}
