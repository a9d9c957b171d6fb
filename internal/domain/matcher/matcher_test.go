package matcher

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/okian/kudos/internal/domain/catalog"
	"github.com/okian/kudos/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func field(raw string) catalog.Field {
	f, err := catalog.ParseField(raw)
	if err != nil {
		panic(err)
	}
	return f
}

func cond(raw string, op catalog.Operator, v any) catalog.Condition {
	return catalog.Condition{Field: field(raw), Operator: op, Value: v}
}

func TestMatch(t *testing.T) {
	Convey("Given a subject", t, func() {
		u := model.NewUser("u1")
		u.XP = 120
		u.Level = 2
		u.TeamID = "t1"
		u.Unlock("first_login")
		u.AchievementProgress["hymn_reader"] = 4
		u.AchievementLastAction["daily_prayer"] = time.UnixMilli(1000)
		s := Subject{
			Metadata: map[string]any{
				"count":  7,
				"result": "win",
				"score":  12.5,
				"tags":   []any{"psalms", "hymns"},
				"game":   map[string]any{"mode": "ranked", "rounds": []any{map[string]any{"won": true}}},
				"ok":     true,
			},
			User: u,
		}

		Convey("Then no conditions always match", func() {
			So(Match(nil, s), ShouldBeTrue)
		})

		Convey("Then numeric comparisons hold across types", func() {
			So(Eval(cond("metadata.count", catalog.OpGte, 7), s), ShouldBeTrue)
			So(Eval(cond("metadata.count", catalog.OpGte, 7.0), s), ShouldBeTrue)
			So(Eval(cond("metadata.count", catalog.OpGt, 7), s), ShouldBeFalse)
			So(Eval(cond("metadata.count", catalog.OpLt, int64(8)), s), ShouldBeTrue)
			So(Eval(cond("metadata.count", catalog.OpLte, 6), s), ShouldBeFalse)
			So(Eval(cond("metadata.count", catalog.OpEq, json.Number("7")), s), ShouldBeTrue)
			So(Eval(cond("metadata.score", catalog.OpGt, 12), s), ShouldBeTrue)
			So(Eval(cond("user.xp", catalog.OpGte, 100), s), ShouldBeTrue)
			So(Eval(cond("user.level", catalog.OpEq, 2), s), ShouldBeTrue)
			So(Eval(cond("user.achievementProgress.hymn_reader", catalog.OpEq, 4), s), ShouldBeTrue)
			So(Eval(cond("user.achievementLastAction.daily_prayer", catalog.OpEq, 1000), s), ShouldBeTrue)
		})

		Convey("Then strings and booleans compare strictly", func() {
			So(Eval(cond("metadata.result", catalog.OpEq, "win"), s), ShouldBeTrue)
			So(Eval(cond("metadata.result", catalog.OpEq, "loss"), s), ShouldBeFalse)
			So(Eval(cond("metadata.count", catalog.OpEq, "7"), s), ShouldBeFalse)
			So(Eval(cond("metadata.ok", catalog.OpEq, true), s), ShouldBeTrue)
			So(Eval(cond("user.teamId", catalog.OpGt, ""), s), ShouldBeTrue)
			So(Eval(cond("metadata.result", catalog.OpLt, 3), s), ShouldBeFalse)
		})

		Convey("Then contains covers substrings, sequences and sets", func() {
			So(Eval(cond("metadata.result", catalog.OpContains, "in"), s), ShouldBeTrue)
			So(Eval(cond("metadata.tags", catalog.OpContains, "psalms"), s), ShouldBeTrue)
			So(Eval(cond("metadata.tags", catalog.OpContains, "proverbs"), s), ShouldBeFalse)
			So(Eval(cond("user.unlockedAchievements", catalog.OpContains, "first_login"), s), ShouldBeTrue)
			So(Eval(cond("user.achievementProgress", catalog.OpContains, "hymn_reader"), s), ShouldBeTrue)
			So(Eval(cond("metadata.game", catalog.OpContains, "mode"), s), ShouldBeTrue)
			So(Eval(cond("metadata.count", catalog.OpContains, 7), s), ShouldBeFalse)
		})

		Convey("Then nested paths and indexes resolve", func() {
			So(Eval(cond("metadata.game.mode", catalog.OpEq, "ranked"), s), ShouldBeTrue)
			So(Eval(cond("metadata.game.rounds.0.won", catalog.OpEq, true), s), ShouldBeTrue)
			So(Eval(cond("metadata.game.rounds.3.won", catalog.OpEq, true), s), ShouldBeFalse)
		})

		Convey("Then missing or malformed paths are false, not errors", func() {
			So(Eval(cond("metadata.missing", catalog.OpEq, nil), s), ShouldBeFalse)
			So(Eval(cond("metadata.count.deeper", catalog.OpGte, 1), s), ShouldBeFalse)
			So(Eval(cond("user.achievementProgress.streak_7", catalog.OpGte, 0), s), ShouldBeFalse)
			So(Eval(catalog.Condition{Field: catalog.Field{}, Operator: catalog.OpEq, Value: 1}, s), ShouldBeFalse)
			So(Eval(cond("metadata.count", catalog.Operator("!="), 1), s), ShouldBeFalse)
			So(Match([]catalog.Condition{cond("metadata.count", catalog.OpGte, 7), cond("metadata.result", catalog.OpEq, "loss")}, s), ShouldBeFalse)
		})

		Convey("Then nil metadata never panics", func() {
			empty := Subject{User: u}
			So(func() { Eval(cond("metadata.count", catalog.OpGte, 1), empty) }, ShouldNotPanic)
			So(Eval(cond("metadata.count", catalog.OpGte, 1), empty), ShouldBeFalse)
		})
	})
}

func TestMetadataXP(t *testing.T) {
	Convey("Given metadata xp values", t, func() {
		So(MetadataXP(12), ShouldEqual, 12)
		So(MetadataXP(12.9), ShouldEqual, 12)
		So(MetadataXP("40"), ShouldEqual, 40)
		So(MetadataXP(" 7.5 "), ShouldEqual, 7)
		So(MetadataXP(json.Number("3")), ShouldEqual, 3)
		So(MetadataXP(nil), ShouldEqual, 0)
		So(MetadataXP("lots"), ShouldEqual, 0)
		So(MetadataXP(-5), ShouldEqual, 0)
		So(MetadataXP(math.Inf(1)), ShouldEqual, 0)
		So(MetadataXP(math.NaN()), ShouldEqual, 0)
		So(MetadataXP(true), ShouldEqual, 0)
	})
}
