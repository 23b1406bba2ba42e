package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/scoreboard/internal/adapters/rankindex"
	"github.com/okian/scoreboard/internal/adapters/storage/memory"
	"github.com/okian/scoreboard/internal/domain/model"
)

var errIndexDown = errors.New("index down")

// flakyIndex fails the next N upserts and rebuilds.
type flakyIndex struct {
	*rankindex.TreapIndex
	failUpserts  atomic.Int32
	failRebuilds atomic.Int32
}

func (f *flakyIndex) Upsert(ctx context.Context, level model.Level, k rankindex.Key) (bool, error) {
	if f.failUpserts.Add(-1) >= 0 {
		return false, errIndexDown
	}
	return f.TreapIndex.Upsert(ctx, level, k)
}

func (f *flakyIndex) Rebuild(ctx context.Context, level model.Level, keys []rankindex.Key) error {
	if f.failRebuilds.Add(-1) >= 0 {
		return errIndexDown
	}
	return f.TreapIndex.Rebuild(ctx, level, keys)
}

func TestService_Recovery(t *testing.T) {
	ctx := context.Background()

	Convey("Given scores persisted by a previous process", t, func() {
		store := memory.New()
		before := newHarnessWith(store, rankindex.NewTreapIndex())
		for i, name := range []string{"alice", "bob", "carol"} {
			_, tok := before.player(ctx, name)
			_, err := before.svc.RegisterScore(ctx, tok, chartMD5, "BM", play(1000*(i+1)), 0)
			So(err, ShouldBeNil)
		}

		Convey("When a new process starts with an empty index", func() {
			after := newHarnessWith(store, rankindex.NewTreapIndex())
			So(after.svc.Start(ctx), ShouldBeNil)
			defer func() { _ = after.svc.Stop(ctx) }()

			Convey("Then the leaderboard is re-derived from the store", func() {
				rows, err := after.svc.Leaderboard(ctx, chartMD5, "BM", 10)
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 3)
				So(rows[0].Entry.PlayerName, ShouldEqual, "carol")
				So(rows[2].Entry.PlayerName, ShouldEqual, "alice")
			})
		})
	})
}

func TestService_RankFailures(t *testing.T) {
	ctx := context.Background()

	Convey("Given an index whose incremental update fails once", t, func() {
		idx := &flakyIndex{TreapIndex: rankindex.NewTreapIndex()}
		h := newHarnessWith(memory.New(), idx)
		_, tok := h.player(ctx, "flicknote")
		idx.failUpserts.Store(1)

		Convey("When a score is registered", func() {
			res, err := h.svc.RegisterScore(ctx, tok, chartMD5, "BM", play(4242), 0)

			Convey("Then the level is rebuilt in place and the row is ranked", func() {
				So(err, ShouldBeNil)
				So(res.Row.Rank, ShouldEqual, 1)
				So(h.svc.GetStats()["dirtyLevels"], ShouldEqual, 0)
			})
		})
	})

	Convey("Given an index whose update and rebuild both fail", t, func() {
		idx := &flakyIndex{TreapIndex: rankindex.NewTreapIndex()}
		h := newHarnessWith(memory.New(), idx)
		_, tok := h.player(ctx, "flicknote")
		idx.failUpserts.Store(1)
		idx.failRebuilds.Store(1)

		Convey("When a score is registered", func() {
			_, err := h.svc.RegisterScore(ctx, tok, chartMD5, "BM", play(4242), 0)

			Convey("Then the caller learns the rank is unavailable", func() {
				So(errors.Is(err, model.ErrRankUnavailable), ShouldBeTrue)
				So(h.svc.GetStats()["dirtyLevels"], ShouldEqual, 1)
			})

			Convey("Then the next read repairs the level from the store", func() {
				rows, err := h.svc.Leaderboard(ctx, chartMD5, "BM", 10)
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 1)
				So(rows[0].Entry.Score, ShouldEqual, 4242)
				So(h.svc.GetStats()["dirtyLevels"], ShouldEqual, 0)
			})
		})

		Convey("When the reindex workers are running", func() {
			So(h.svc.Start(ctx), ShouldBeNil)
			defer func() { _ = h.svc.Stop(ctx) }()
			_, err := h.svc.RegisterScore(ctx, tok, chartMD5, "BM", play(4242), 0)
			So(errors.Is(err, model.ErrRankUnavailable), ShouldBeTrue)

			Convey("Then a worker repairs the level in the background", func() {
				deadline := time.Now().Add(2 * time.Second)
				for h.svc.GetStats()["dirtyLevels"] != 0 && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
				So(h.svc.GetStats()["dirtyLevels"], ShouldEqual, 0)
				count, err := idx.Count(ctx, levelBM)
				So(err, ShouldBeNil)
				So(count, ShouldEqual, 1)
			})
		})
	})
}
