package leveling

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLevelFor(t *testing.T) {
	Convey("Given the level table", t, func() {
		cases := []struct {
			xp    int64
			level int
		}{
			{-5, 1}, {0, 1}, {99, 1}, {100, 2}, {299, 2}, {300, 3},
			{599, 3}, {600, 4}, {1000, 5}, {1499, 5}, {1500, 6},
			{2200, 7}, {2999, 7}, {3000, 8}, {4999, 8}, {5000, 9},
			{9999, 9}, {10000, 10}, {1 << 40, 10},
		}

		Convey("Then every boundary maps to the expected level", func() {
			for _, c := range cases {
				So(LevelFor(c.xp), ShouldEqual, c.level)
			}
		})

		Convey("Then LevelFor agrees with a linear scan", func() {
			for xp := int64(0); xp <= 11000; xp += 7 {
				want := 1
				for _, th := range Thresholds() {
					if th.MinXP <= xp {
						want = th.Level
					}
				}
				So(LevelFor(xp), ShouldEqual, want)
			}
		})

		Convey("When the returned table is modified", func() {
			table := Thresholds()
			table[1].MinXP = 1

			Convey("Then the package table is unchanged", func() {
				So(LevelFor(1), ShouldEqual, 1)
				So(MaxLevel(), ShouldEqual, 10)
				So(len(Thresholds()), ShouldEqual, 10)
			})
		})
	})
}
