package model_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	model "github.com/okian/scoreboard/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

const chart = "01234567012345670123456701234567"

func TestLevel(t *testing.T) {
	convey.Convey("Given a chart hash and play mode", t, func() {
		convey.Convey("When both are valid", func() {
			lvl, err := model.NewLevel(strings.ToUpper(chart), "bm")

			convey.Convey("Then they are normalized", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(lvl.MD5, convey.ShouldEqual, chart)
				convey.So(lvl.PlayMode, convey.ShouldEqual, model.PlayModeBM)
				convey.So(lvl.Key(), convey.ShouldEqual, chart+":BM")
			})

			convey.Convey("And the key round-trips", func() {
				back, err := model.ParseLevelKey(lvl.Key())
				convey.So(err, convey.ShouldBeNil)
				convey.So(back, convey.ShouldResemble, lvl)
			})
		})

		convey.Convey("When the hash is malformed", func() {
			_, short := model.NewLevel("abc", "BM")
			_, nothex := model.NewLevel(strings.Repeat("z", 32), "BM")

			convey.Convey("Then it is an invalid level", func() {
				convey.So(errors.Is(short, model.ErrInvalidLevel), convey.ShouldBeTrue)
				convey.So(errors.Is(nothex, model.ErrInvalidLevel), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the play mode is unknown", func() {
			_, err := model.NewLevel(chart, "DJ")
			convey.So(errors.Is(err, model.ErrInvalidLevel), convey.ShouldBeTrue)
		})

		convey.Convey("When the key has no separator", func() {
			_, err := model.ParseLevelKey(chart)
			convey.So(errors.Is(err, model.ErrInvalidLevel), convey.ShouldBeTrue)
		})
	})
}

func TestValidateName(t *testing.T) {
	convey.Convey("Given player names", t, func() {
		convey.So(model.ValidateName("flicknote"), convey.ShouldBeNil)
		convey.So(model.ValidateName("Flicknote"), convey.ShouldBeNil)
		convey.So(errors.Is(model.ValidateName(""), model.ErrInvalidName), convey.ShouldBeTrue)
		convey.So(errors.Is(model.ValidateName(" padded"), model.ErrInvalidName), convey.ShouldBeTrue)
		convey.So(errors.Is(model.ValidateName(strings.Repeat("x", 33)), model.ErrInvalidName), convey.ShouldBeTrue)
	})
}

func TestScoreInput(t *testing.T) {
	convey.Convey("Given a score payload", t, func() {
		valid := model.ScoreInput{Score: 400000, Total: 60, Combo: 50, Count: model.NoteCounts{30, 20, 5, 3, 2}}

		convey.Convey("When it is in range", func() {
			convey.So(valid.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("When a field is out of range", func() {
			cases := []func(*model.ScoreInput){
				func(in *model.ScoreInput) { in.Score = -1 },
				func(in *model.ScoreInput) { in.Score = model.MaxScore + 1 },
				func(in *model.ScoreInput) { in.Combo = -1 },
				func(in *model.ScoreInput) { in.Total = -1 },
				func(in *model.ScoreInput) { in.Count = model.NoteCounts{1, 2, 3, 4} },
				func(in *model.ScoreInput) { in.Count = model.NoteCounts{1, 2, 3, 4, -5} },
			}
			for _, mutate := range cases {
				in := valid
				mutate(&in)
				convey.So(errors.Is(in.Validate(), model.ErrInvalidScore), convey.ShouldBeTrue)
			}
		})

		convey.Convey("When the boundaries are used", func() {
			in := valid
			in.Score = model.MaxScore
			convey.So(in.Validate(), convey.ShouldBeNil)
			in.Score = 0
			convey.So(in.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("When count arrives as a scalar", func() {
			var in model.ScoreInput
			err := json.Unmarshal([]byte(`{"score":400000,"combo":50,"count":30}`), &in)

			convey.Convey("Then decoding fails as an invalid score", func() {
				convey.So(errors.Is(err, model.ErrInvalidScore), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When count arrives as an array", func() {
			var in model.ScoreInput
			err := json.Unmarshal([]byte(`{"score":1,"count":[1,2,3,4,5],"submissionId":"s-1"}`), &in)
			convey.So(err, convey.ShouldBeNil)
			convey.So(in.Count, convey.ShouldResemble, model.NoteCounts{1, 2, 3, 4, 5})
			convey.So(in.SubmissionID, convey.ShouldEqual, "s-1")
		})
	})
}

func TestPolicy(t *testing.T) {
	convey.Convey("Given an existing entry", t, func() {
		lvl, _ := model.NewLevel(chart, "BM")
		t0 := time.Unix(1000, 0)
		prev := &model.ScoreEntry{
			ID: "e1", PlayerID: "p1", Level: lvl, Score: 300000,
			Count: model.NoteCounts{1, 1, 1, 1, 1}, PlayCount: 2, PlayNumber: 2, UpdatedAt: t0,
		}
		sub := func(score int) model.Submission {
			return model.Submission{
				EntryID: "ignored", PlayerID: "p1", Level: lvl, At: t0.Add(time.Minute),
				Input: model.ScoreInput{Score: score, Count: model.NoteCounts{2, 2, 2, 2, 2}},
			}
		}

		convey.Convey("When the policy is latest", func() {
			next := model.PolicyLatest.Apply(prev, sub(100))

			convey.Convey("Then a lower score still replaces", func() {
				convey.So(next.ID, convey.ShouldEqual, "e1")
				convey.So(next.Score, convey.ShouldEqual, 100)
				convey.So(next.PlayCount, convey.ShouldEqual, 3)
				convey.So(next.PlayNumber, convey.ShouldEqual, 3)
				convey.So(next.UpdatedAt, convey.ShouldEqual, t0.Add(time.Minute))
			})
		})

		convey.Convey("When the policy is best and the play is worse", func() {
			next := model.PolicyBest.Apply(prev, sub(300000))

			convey.Convey("Then only the play count moves", func() {
				convey.So(next.Score, convey.ShouldEqual, 300000)
				convey.So(next.PlayCount, convey.ShouldEqual, 3)
				convey.So(next.PlayNumber, convey.ShouldEqual, 2)
				convey.So(next.UpdatedAt, convey.ShouldEqual, t0)
				convey.So(next.Count, convey.ShouldResemble, model.NoteCounts{1, 1, 1, 1, 1})
			})
		})

		convey.Convey("When the policy is best and the play improves", func() {
			next := model.PolicyBest.Apply(prev, sub(300001))
			convey.So(next.Score, convey.ShouldEqual, 300001)
			convey.So(next.PlayNumber, convey.ShouldEqual, 3)
		})

		convey.Convey("When there is no previous entry", func() {
			next := model.PolicyBest.Apply(nil, sub(5))
			convey.So(next.ID, convey.ShouldEqual, "ignored")
			convey.So(next.PlayCount, convey.ShouldEqual, 1)
			convey.So(next.PlayNumber, convey.ShouldEqual, 1)
		})
	})

	convey.Convey("Policies parse from config", t, func() {
		p, err := model.ParsePolicy("")
		convey.So(err, convey.ShouldBeNil)
		convey.So(p, convey.ShouldEqual, model.PolicyLatest)
		p, err = model.ParsePolicy("BEST")
		convey.So(err, convey.ShouldBeNil)
		convey.So(p, convey.ShouldEqual, model.PolicyBest)
		_, err = model.ParsePolicy("highest")
		convey.So(err, convey.ShouldNotBeNil)
	})
}

func TestErrBadAPIKey(t *testing.T) {
	convey.Convey("A bad api key is an unauthorized failure", t, func() {
		convey.So(errors.Is(model.ErrBadAPIKey, model.ErrUnauthorized), convey.ShouldBeTrue)
		convey.So(errors.Is(model.ErrBadAPIKey, model.ErrInvalidCredential), convey.ShouldBeFalse)
	})
}
