// Package storagetest holds the behaviour every storage backend must share.
// Backends call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/domain/model"
)

// Factory returns a fresh, empty store. The test closes it.
type Factory func(t *testing.T) storage.Store

var (
	levelBM = model.Level{MD5: "01234567012345670123456701234567", PlayMode: model.PlayModeBM}
	levelKB = model.Level{MD5: "01234567012345670123456701234567", PlayMode: model.PlayModeKB}
	levelX  = model.Level{MD5: "89abcdef89abcdef89abcdef89abcdef", PlayMode: model.PlayModeBM}
	epoch   = time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
)

func newPlayer(name string) model.Player {
	return model.Player{ID: uuid.NewString(), Name: name, CreatedAt: epoch}
}

func submission(playerID string, level model.Level, score int, at time.Time) model.Submission {
	return model.Submission{
		EntryID:  uuid.NewString(),
		PlayerID: playerID,
		Level:    level,
		At:       at,
		Input: model.ScoreInput{
			Score: score, Total: 100, Combo: 50,
			Count: model.NoteCounts{60, 20, 10, 5, 5},
			Log:   "opaque",
		},
	}
}

// Run exercises a backend against the storage contract.
func Run(t *testing.T, factory Factory) {
	t.Helper()
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		s := factory(t)
		Reset(func() { _ = s.Close() })

		Convey("When a player is created", func() {
			p, err := s.CreatePlayer(ctx, newPlayer("flicknote"))
			So(err, ShouldBeNil)

			Convey("Then it is found by id and by name", func() {
				byID, err := s.FindPlayerByID(ctx, p.ID)
				So(err, ShouldBeNil)
				So(byID.Name, ShouldEqual, "flicknote")
				So(byID.Linked(), ShouldBeFalse)

				byName, err := s.FindPlayerByName(ctx, "flicknote")
				So(err, ShouldBeNil)
				So(byName.ID, ShouldEqual, p.ID)
			})

			Convey("And the same name is rejected", func() {
				_, err := s.CreatePlayer(ctx, newPlayer("flicknote"))
				So(errors.Is(err, storage.ErrAlreadyExists), ShouldBeTrue)
			})

			Convey("And names differing only in case are distinct", func() {
				_, err := s.CreatePlayer(ctx, newPlayer("Flicknote"))
				So(err, ShouldBeNil)
			})

			Convey("And batch lookup skips unknown ids", func() {
				got, err := s.GetPlayers(ctx, []string{p.ID, "unknown"})
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 1)
				So(got[p.ID].Name, ShouldEqual, "flicknote")
			})
		})

		Convey("When looking up unknown players", func() {
			_, e1 := s.FindPlayerByID(ctx, "nope")
			_, e2 := s.FindPlayerByName(ctx, "nope")
			_, e3 := s.FindPlayerByLegacyUserID(ctx, "nope")
			So(errors.Is(e1, storage.ErrNotFound), ShouldBeTrue)
			So(errors.Is(e2, storage.ErrNotFound), ShouldBeTrue)
			So(errors.Is(e3, storage.ErrNotFound), ShouldBeTrue)
		})

		Convey("When many callers register one name at once", func() {
			var ok, dup atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.CreatePlayer(ctx, newPlayer("race"))
					switch {
					case err == nil:
						ok.Add(1)
					case errors.Is(err, storage.ErrAlreadyExists):
						dup.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one wins", func() {
				So(ok.Load(), ShouldEqual, 1)
				So(dup.Load(), ShouldEqual, 15)
			})
		})

		Convey("When linking a legacy account", func() {
			a, _ := s.CreatePlayer(ctx, newPlayer("alice"))
			b, _ := s.CreatePlayer(ctx, newPlayer("bob"))
			linked, err := s.LinkLegacyAccount(ctx, a.ID, "legacy-1")
			So(err, ShouldBeNil)

			Convey("Then the player is linked and reachable by legacy id", func() {
				So(linked.LinkedLegacyUserID, ShouldEqual, "legacy-1")
				got, err := s.FindPlayerByLegacyUserID(ctx, "legacy-1")
				So(err, ShouldBeNil)
				So(got.ID, ShouldEqual, a.ID)
			})

			Convey("And relinking the same pair is a no-op success", func() {
				again, err := s.LinkLegacyAccount(ctx, a.ID, "legacy-1")
				So(err, ShouldBeNil)
				So(again.ID, ShouldEqual, a.ID)
				So(again.LinkedLegacyUserID, ShouldEqual, "legacy-1")
			})

			Convey("And a different legacy id is refused", func() {
				_, err := s.LinkLegacyAccount(ctx, a.ID, "legacy-2")
				So(errors.Is(err, storage.ErrAlreadyLinked), ShouldBeTrue)
				got, _ := s.FindPlayerByID(ctx, a.ID)
				So(got.LinkedLegacyUserID, ShouldEqual, "legacy-1")
			})

			Convey("And another player cannot take the legacy id", func() {
				_, err := s.LinkLegacyAccount(ctx, b.ID, "legacy-1")
				So(errors.Is(err, storage.ErrLinkConflict), ShouldBeTrue)
				got, _ := s.FindPlayerByID(ctx, b.ID)
				So(got.Linked(), ShouldBeFalse)
			})

			Convey("And unknown players are reported", func() {
				_, err := s.LinkLegacyAccount(ctx, "ghost", "legacy-9")
				So(errors.Is(err, storage.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When players race to link one legacy account", func() {
			ids := make([]string, 8)
			for i := range ids {
				p, _ := s.CreatePlayer(ctx, newPlayer(fmt.Sprintf("racer-%d", i)))
				ids[i] = p.ID
			}
			var ok, conflict atomic.Int32
			var wg sync.WaitGroup
			for _, id := range ids {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					_, err := s.LinkLegacyAccount(ctx, id, "contested")
					switch {
					case err == nil:
						ok.Add(1)
					case errors.Is(err, storage.ErrLinkConflict):
						conflict.Add(1)
					}
				}(id)
			}
			wg.Wait()

			Convey("Then exactly one link lands", func() {
				So(ok.Load(), ShouldEqual, 1)
				So(conflict.Load(), ShouldEqual, 7)
			})
		})

		Convey("When scores are upserted under the latest policy", func() {
			p, _ := s.CreatePlayer(ctx, newPlayer("scorer"))
			first, err := s.UpsertScore(ctx, submission(p.ID, levelBM, 400000, epoch), model.PolicyLatest)
			So(err, ShouldBeNil)
			second, err := s.UpsertScore(ctx, submission(p.ID, levelBM, 350000, epoch.Add(time.Minute)), model.PolicyLatest)
			So(err, ShouldBeNil)

			Convey("Then the entry is replaced in place", func() {
				So(first.PlayCount, ShouldEqual, 1)
				So(second.ID, ShouldEqual, first.ID)
				So(second.Score, ShouldEqual, 350000)
				So(second.PlayCount, ShouldEqual, 2)
				So(second.PlayNumber, ShouldEqual, 2)

				got, err := s.GetScore(ctx, levelBM, p.ID)
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, 350000)
				So(got.Total, ShouldEqual, 100)
				So(got.Combo, ShouldEqual, 50)
				So(got.Log, ShouldEqual, "opaque")
				So(got.Count, ShouldResemble, model.NoteCounts{60, 20, 10, 5, 5})
				So(got.UpdatedAt.Equal(epoch.Add(time.Minute)), ShouldBeTrue)
			})
		})

		Convey("When scores are upserted under the best policy", func() {
			p, _ := s.CreatePlayer(ctx, newPlayer("keeper"))
			_, _ = s.UpsertScore(ctx, submission(p.ID, levelBM, 400000, epoch), model.PolicyBest)
			worse, err := s.UpsertScore(ctx, submission(p.ID, levelBM, 100, epoch.Add(time.Minute)), model.PolicyBest)
			So(err, ShouldBeNil)

			Convey("Then a worse play only bumps the play count", func() {
				So(worse.Score, ShouldEqual, 400000)
				So(worse.PlayCount, ShouldEqual, 2)
				So(worse.PlayNumber, ShouldEqual, 1)
				So(worse.UpdatedAt.Equal(epoch), ShouldBeTrue)
			})
		})

		Convey("When entries span levels and charts", func() {
			p, _ := s.CreatePlayer(ctx, newPlayer("p"))
			q, _ := s.CreatePlayer(ctx, newPlayer("q"))
			_, _ = s.UpsertScore(ctx, submission(p.ID, levelBM, 1, epoch), model.PolicyLatest)
			_, _ = s.UpsertScore(ctx, submission(q.ID, levelBM, 2, epoch), model.PolicyLatest)
			_, _ = s.UpsertScore(ctx, submission(p.ID, levelKB, 3, epoch), model.PolicyLatest)
			_, _ = s.UpsertScore(ctx, submission(p.ID, levelX, 4, epoch), model.PolicyLatest)

			Convey("Then listings are partitioned by level", func() {
				bm, err := s.ListLevelScores(ctx, levelBM)
				So(err, ShouldBeNil)
				So(len(bm), ShouldEqual, 2)

				levels, err := s.ListLevels(ctx)
				So(err, ShouldBeNil)
				So(len(levels), ShouldEqual, 3)

				chart, err := s.ChartLevels(ctx, levelBM.MD5)
				So(err, ShouldBeNil)
				So(chart, ShouldResemble, []storage.LevelSummary{{Level: levelBM, Entries: 2}, {Level: levelKB, Entries: 1}})

				some, err := s.GetScores(ctx, levelBM, []string{p.ID, q.ID, "nobody"})
				So(err, ShouldBeNil)
				So(len(some), ShouldEqual, 2)
				So(some[q.ID].Score, ShouldEqual, 2)
			})

			Convey("And an unplayed chart has no levels", func() {
				chart, err := s.ChartLevels(ctx, "ffffffffffffffffffffffffffffffff")
				So(err, ShouldBeNil)
				So(len(chart), ShouldEqual, 0)
			})
		})

		Convey("When one player submits concurrently on one level", func() {
			p, _ := s.CreatePlayer(ctx, newPlayer("spammer"))
			const n = 20
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _ = s.UpsertScore(ctx, submission(p.ID, levelBM, i, epoch.Add(time.Duration(i)*time.Second)), model.PolicyLatest)
				}(i)
			}
			wg.Wait()

			Convey("Then no submission is lost", func() {
				got, err := s.GetScore(ctx, levelBM, p.ID)
				So(err, ShouldBeNil)
				So(got.PlayCount, ShouldEqual, n)
				So(got.PlayNumber, ShouldEqual, n)
			})
		})

		Convey("When legacy users are imported", func() {
			So(s.PutLegacyUser(ctx, model.LegacyUser{ID: "zzz", Username: "ABC", Email: "abc@test.test", HashedPassword: "h"}), ShouldBeNil)

			Convey("Then they match by username or email exactly", func() {
				byName, err := s.FindLegacyUser(ctx, "ABC")
				So(err, ShouldBeNil)
				So(byName.ID, ShouldEqual, "zzz")
				byEmail, err := s.FindLegacyUser(ctx, "abc@test.test")
				So(err, ShouldBeNil)
				So(byEmail.Username, ShouldEqual, "ABC")
				_, err = s.FindLegacyUser(ctx, "ABCX")
				So(errors.Is(err, storage.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}
