package service_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/kudos/internal/adapters/notify"
	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/adapters/repository/sqlite"
	service "github.com/okian/kudos/internal/app"
	"github.com/okian/kudos/internal/domain/catalog"
	"github.com/okian/kudos/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func eventFixture(id string) model.Event {
	return model.Event{ID: id, UserID: "u1", Name: "LOGIN", Timestamp: time.Now().UTC()}
}

// recorder collects published rewards.
type recorder struct {
	mu      sync.Mutex
	rewards []notify.Reward
}

func (r *recorder) Publish(_ context.Context, rw notify.Reward) error {
	r.mu.Lock()
	r.rewards = append(r.rewards, rw)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) all() []notify.Reward {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Reward(nil), r.rewards...)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func processed(svc *service.Service, id string) func() bool {
	return func() bool {
		ev, err := svc.Event(context.Background(), id)
		return err == nil && ev.Processed
	}
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service with a team and a member", t, func() {
		pub := &recorder{}
		svc, store := newService(t, service.WithPublisher(pub))
		ctx := context.Background()

		_, err := svc.UpsertTeam(ctx, "t1", "Choir")
		So(err, ShouldBeNil)
		_, err = svc.UpsertUser(ctx, repository.Profile{ID: "u1", DisplayName: "Ada", TeamID: "t1"})
		So(err, ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		defer stop(svc)

		Convey("A login streak event is evaluated end to end", func() {
			ev, dup, err := svc.Submit(ctx, model.Submission{
				UserID: "u1", Name: "LOGIN_STREAK", Metadata: map[string]any{"count": 7},
			})
			So(err, ShouldBeNil)
			So(dup, ShouldBeFalse)
			So(eventually(processed(svc, ev.ID)), ShouldBeTrue)

			stored, _ := svc.Event(ctx, ev.ID)
			So(stored.Result.XPGained, ShouldEqual, 15)
			So(stored.Result.Unlocked, ShouldResemble, []string{"streak_7"})

			u, _ := svc.User(ctx, "u1")
			So(u.XP, ShouldEqual, 15)
			So(u.HasUnlocked("streak_7"), ShouldBeTrue)

			Convey("The team total follows the member", func() {
				So(eventually(func() bool {
					team, _ := store.Team(ctx, "t1")
					return team.TotalPoints == 15
				}), ShouldBeTrue)
			})

			Convey("The leaderboard ranks the member", func() {
				So(eventually(func() bool {
					e, err := svc.Rank(ctx, "u1")
					return err == nil && e.XP == 15
				}), ShouldBeTrue)
				top, err := svc.TopN(ctx, 10)
				So(err, ShouldBeNil)
				So(top[0].UserID, ShouldEqual, "u1")
				So(top[0].Rank, ShouldEqual, 1)
			})

			Convey("A reward notification is published", func() {
				So(eventually(func() bool { return len(pub.all()) == 1 }), ShouldBeTrue)
				r := pub.all()[0]
				So(r.EventID, ShouldEqual, ev.ID)
				So(r.UserID, ShouldEqual, "u1")
				So(r.XPGained, ShouldEqual, 15)
				So(r.Level, ShouldEqual, 1)
			})

			Convey("The ledger and achievements are readable", func() {
				ledger, err := svc.Ledger(ctx, "u1")
				So(err, ShouldBeNil)
				So(len(ledger), ShouldEqual, 1)
				So(ledger[0].Amount, ShouldEqual, 15)
				recs, err := svc.Achievements(ctx, "u1")
				So(err, ShouldBeNil)
				So(len(recs), ShouldEqual, 1)
				So(recs[0].AchievementID, ShouldEqual, "streak_7")
			})
		})

		Convey("An event with no reward publishes nothing", func() {
			ev, _, err := svc.Submit(ctx, model.Submission{UserID: "u1", Name: "UNKNOWN_TRIGGER"})
			So(err, ShouldBeNil)
			So(eventually(processed(svc, ev.ID)), ShouldBeTrue)
			stored, _ := svc.Event(ctx, ev.ID)
			So(stored.Result.XPGained, ShouldEqual, 0)
			So(len(pub.all()), ShouldEqual, 0)
		})

		Convey("An event for a missing user stays pending until reprocessed", func() {
			ev, _, err := svc.Submit(ctx, model.Submission{ID: "late", UserID: "u2", Name: "LOGIN"})
			So(err, ShouldBeNil)
			So(eventually(func() bool {
				e, _ := svc.Event(ctx, ev.ID)
				return e.ProcessingError != ""
			}), ShouldBeTrue)

			pending, err := svc.PendingEvents(ctx, 0)
			So(err, ShouldBeNil)
			So(len(pending), ShouldEqual, 1)
			So(pending[0].ID, ShouldEqual, "late")

			_, err = svc.UpsertUser(ctx, repository.Profile{ID: "u2"})
			So(err, ShouldBeNil)
			So(svc.Reprocess(ctx, "late"), ShouldBeNil)
			So(eventually(processed(svc, "late")), ShouldBeTrue)

			u, _ := svc.User(ctx, "u2")
			So(u.XP, ShouldEqual, 10)
			So(svc.Reprocess(ctx, "late"), ShouldNotBeNil)
		})

		Convey("Admin grants move the leaderboard and the team", func() {
			u, err := svc.Grant(ctx, "u1", 120, "community award", "moderator")
			So(err, ShouldBeNil)
			So(u.Level, ShouldEqual, 2)
			So(eventually(func() bool {
				team, _ := store.Team(ctx, "t1")
				e, _ := svc.Rank(ctx, "u1")
				return team.XP == 120 && e.XP == 120
			}), ShouldBeTrue)
		})

		Convey("Concurrent events for one user add up exactly", func() {
			var wg sync.WaitGroup
			ids := make([]string, 20)
			for i := range ids {
				ids[i] = fmt.Sprintf("game-%d", i)
			}
			for _, id := range ids {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					_, _, _ = svc.Submit(ctx, model.Submission{
						ID: id, UserID: "u1", Name: "GAME_COMPLETED",
						Metadata: map[string]any{"result": "loss", "xp": 3},
					})
				}(id)
			}
			wg.Wait()
			for _, id := range ids {
				So(eventually(processed(svc, id)), ShouldBeTrue)
			}
			u, _ := svc.User(ctx, "u1")
			So(u.XP, ShouldEqual, 60)
			So(eventually(func() bool {
				team, _ := store.Team(ctx, "t1")
				return team.XP == 60
			}), ShouldBeTrue)
		})
	})
}

func TestServiceSeedsLeaderboardFromStore(t *testing.T) {
	Convey("Given users with xp stored before the service starts", t, func() {
		cat, err := catalog.Default()
		So(err, ShouldBeNil)
		ctx := context.Background()
		store := repository.NewMemoryStore()
		for i, xp := range []int64{50, 200, 50} {
			id := fmt.Sprintf("u%d", i)
			_, _ = store.UpsertUser(ctx, repository.Profile{ID: id})
			err := store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				u, err := tx.User(ctx, id)
				if err != nil {
					return err
				}
				u.XP = xp
				return tx.SaveUser(ctx, u)
			})
			So(err, ShouldBeNil)
		}

		svc := service.New(store, cat, service.WithWorkerCount(1), service.WithTeamWorkerCount(1))
		So(svc.Start(ctx), ShouldBeNil)
		defer stop(svc)

		Convey("The board ranks them with shared ranks", func() {
			top, err := svc.TopN(ctx, 10)
			So(err, ShouldBeNil)
			So(len(top), ShouldEqual, 3)
			So(top[0].UserID, ShouldEqual, "u1")
			So(top[1].Rank, ShouldEqual, 2)
			So(top[2].Rank, ShouldEqual, 2)
		})
	})
}

func TestServiceOnSQLite(t *testing.T) {
	Convey("Given a service over a sqlite store", t, func() {
		cat, err := catalog.Default()
		So(err, ShouldBeNil)
		ctx := context.Background()
		store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "kudos.db"), sqlite.WithMaxAttempts(100))
		So(err, ShouldBeNil)
		defer store.Close()

		svc := service.New(store, cat, service.WithWorkerCount(2), service.WithTeamWorkerCount(1))
		_, err = svc.UpsertUser(ctx, repository.Profile{ID: "u1"})
		So(err, ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		defer stop(svc)

		Convey("Winning a game twice grants first_win once", func() {
			for _, id := range []string{"g1", "g2"} {
				_, _, err := svc.Submit(ctx, model.Submission{
					ID: id, UserID: "u1", Name: "GAME_COMPLETED", Metadata: map[string]any{"result": "win"},
				})
				So(err, ShouldBeNil)
				So(eventually(processed(svc, id)), ShouldBeTrue)
			}
			u, err := svc.User(ctx, "u1")
			So(err, ShouldBeNil)
			So(u.XP, ShouldEqual, 20)
			recs, _ := svc.Achievements(ctx, "u1")
			So(len(recs), ShouldEqual, 1)
		})
	})
}
