package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/scoreboard/internal/adapters/auth"
	"github.com/okian/scoreboard/internal/adapters/feed"
	"github.com/okian/scoreboard/internal/adapters/http/api"
	"github.com/okian/scoreboard/internal/adapters/rankindex"
	"github.com/okian/scoreboard/internal/adapters/storage/memory"
	service "github.com/okian/scoreboard/internal/app"
	"github.com/okian/scoreboard/internal/domain/model"
)

const (
	testSecret = "test-secret"
	testAPIKey = "__dummy_api_key__"
	chartMD5   = "0123456789abcdef0123456789abcdef"
	meowHash   = "$2a$08$slf.HjrpyEjFgg/HvVW0FuWzCoRNI8eW0Ei4PM.5o6ImHt7lA/Xze"
)

type fixture struct {
	svc     *service.Service
	store   *memory.Store
	hub     *feed.Hub
	issuer  *auth.Issuer
	handler http.Handler
}

func newFixture(opts ...api.Option) *fixture {
	store := memory.New()
	hub := feed.NewHub()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var tick atomic.Int64
	svc, err := service.New(service.Dependencies{
		Store:  store,
		Index:  rankindex.NewTreapIndex(rankindex.WithSeed(1)),
		Tokens: auth.NewJWTResolver([]byte(testSecret)),
		Legacy: auth.NewLegacyVerifier(store, testAPIKey),
	},
		service.WithPublisher(hub),
		service.WithReindexWorkers(1),
		service.WithClock(func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Millisecond) }),
	)
	if err != nil {
		panic(err)
	}
	opts = append([]api.Option{api.WithFeed(hub), api.WithStats(svc)}, opts...)
	srv := api.NewServer(svc, opts...)
	return &fixture{
		svc:     svc,
		store:   store,
		hub:     hub,
		issuer:  auth.NewIssuer([]byte(testSecret)),
		handler: srv.Router(context.Background()),
	}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) form(path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) register(name string) (playerBody, string) {
	w := f.do(http.MethodPost, "/players", `{"name":"`+name+`"}`)
	var p playerBody
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		panic(err)
	}
	tok, err := f.issuer.Issue(model.IdentityClaim{PlayerID: p.ID})
	if err != nil {
		panic(err)
	}
	return p, tok
}

func scoreBody(token string, score int, extra string) string {
	return `{"jwt":"` + token + `","md5":"` + chartMD5 + `","playMode":"BM",` +
		`"input":{"score":` + strconv.Itoa(score) + `,"total":100,"combo":50,"count":[30,0,0,0,0]` + extra + `}}`
}

type playerBody struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Linked             bool   `json:"linked"`
	LinkedLegacyUserID string `json:"linkedLegacyUserId"`
}

type rowBody struct {
	Rank  int `json:"rank"`
	Entry struct {
		ID         string `json:"id"`
		MD5        string `json:"md5"`
		PlayMode   string `json:"playMode"`
		PlayerName string `json:"playerName"`
		Score      int    `json:"score"`
		Combo      int    `json:"combo"`
		Count      []int  `json:"count"`
		PlayCount  int    `json:"playCount"`
		PlayNumber int    `json:"playNumber"`
	} `json:"entry"`
}

type scoreResult struct {
	ResultingRow rowBody `json:"resultingRow"`
	Level        struct {
		MD5         string    `json:"md5"`
		PlayMode    string    `json:"playMode"`
		Leaderboard []rowBody `json:"leaderboard"`
	} `json:"level"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorCode(w *httptest.ResponseRecorder) string {
	var e errorBody
	_ = json.Unmarshal(w.Body.Bytes(), &e)
	return e.Code
}

func TestAPI_Operational(t *testing.T) {
	Convey("Given an API server", t, func() {
		f := newFixture()

		Convey("Then /healthz reports ok", func() {
			w := f.do(http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
		})

		Convey("Then /metrics serves the scoreboard registry", func() {
			f.do(http.MethodGet, "/healthz", "")
			w := f.do(http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "scoreboard_")
		})

		Convey("Then /stats exposes service statistics", func() {
			w := f.do(http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var stats map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &stats), ShouldBeNil)
			So(stats, ShouldContainKey, "policy")
			So(stats, ShouldContainKey, "dirtyLevels")
		})

		Convey("Then the API reference is mounted", func() {
			So(f.do(http.MethodGet, "/openapi.yaml", "").Code, ShouldEqual, http.StatusOK)
			So(f.do(http.MethodGet, "/api-docs", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then unknown routes are 404", func() {
			So(f.do(http.MethodGet, "/nope", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestAPI_Players(t *testing.T) {
	Convey("Given an API server", t, func() {
		f := newFixture()

		Convey("When a player registers", func() {
			w := f.do(http.MethodPost, "/players", `{"name":"flicknote"}`)

			Convey("Then the player is created unlinked", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				var p playerBody
				So(json.Unmarshal(w.Body.Bytes(), &p), ShouldBeNil)
				So(p.ID, ShouldNotBeEmpty)
				So(p.Name, ShouldEqual, "flicknote")
				So(p.Linked, ShouldBeFalse)
			})

			Convey("Then the name can be looked up exactly", func() {
				got := f.do(http.MethodGet, "/players/flicknote", "")
				So(got.Code, ShouldEqual, http.StatusOK)
				So(got.Body.String(), ShouldContainSubstring, `"name":"flicknote"`)
			})

			Convey("Then a second registration of the name conflicts", func() {
				again := f.do(http.MethodPost, "/players", `{"name":"flicknote"}`)
				So(again.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(again), ShouldEqual, "duplicate_name")
			})
		})

		Convey("When looking up an unknown name", func() {
			w := f.do(http.MethodGet, "/players/nobody", "")

			Convey("Then the answer is null", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, "null")
			})
		})

		Convey("When the name is invalid", func() {
			w := f.do(http.MethodPost, "/players", `{"name":""}`)

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(errorCode(w), ShouldEqual, "invalid_name")
			})
		})

		Convey("When the body is malformed", func() {
			w := f.do(http.MethodPost, "/players", `{"name":`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "bad_request")
			})
		})
	})
}

func TestAPI_Scores(t *testing.T) {
	Convey("Given a registered player", t, func() {
		f := newFixture()
		_, tok := f.register("flicknote")

		Convey("When a score is submitted", func() {
			w := f.do(http.MethodPost, "/scores", scoreBody(tok, 400000, ""))

			Convey("Then the resulting row and the level are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var res scoreResult
				So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)
				So(res.ResultingRow.Rank, ShouldEqual, 1)
				So(res.ResultingRow.Entry.PlayerName, ShouldEqual, "flicknote")
				So(res.ResultingRow.Entry.Score, ShouldEqual, 400000)
				So(res.ResultingRow.Entry.Combo, ShouldEqual, 50)
				So(res.ResultingRow.Entry.Count, ShouldResemble, []int{30, 0, 0, 0, 0})
				So(res.ResultingRow.Entry.PlayCount, ShouldEqual, 1)
				So(res.Level.MD5, ShouldEqual, chartMD5)
				So(res.Level.PlayMode, ShouldEqual, "BM")
				So(res.Level.Leaderboard, ShouldHaveLength, 1)
			})

			Convey("Then the level leaderboard shows it", func() {
				lb := f.do(http.MethodGet, "/charts/"+chartMD5+"/levels/BM/leaderboard?max=10", "")
				So(lb.Code, ShouldEqual, http.StatusOK)
				var rows []rowBody
				So(json.Unmarshal(lb.Body.Bytes(), &rows), ShouldBeNil)
				So(rows, ShouldHaveLength, 1)
				So(rows[0].Entry.PlayerName, ShouldEqual, "flicknote")
			})

			Convey("Then the chart lists the played level", func() {
				ch := f.do(http.MethodGet, "/charts/"+chartMD5, "")
				So(ch.Code, ShouldEqual, http.StatusOK)
				So(ch.Body.String(), ShouldContainSubstring, `"levels":[{"playMode":"BM","entries":1}]`)
			})

			Convey("Then the player's records include the level", func() {
				rec := f.do(http.MethodGet, "/me/records?jwt="+tok+"&levels="+chartMD5+":BM,"+chartMD5+":KB", "")
				So(rec.Code, ShouldEqual, http.StatusOK)
				var rows []rowBody
				So(json.Unmarshal(rec.Body.Bytes(), &rows), ShouldBeNil)
				So(rows, ShouldHaveLength, 1)
				So(rows[0].Rank, ShouldEqual, 1)
			})

			Convey("Then a bearer header works in place of the jwt parameter", func() {
				req := httptest.NewRequest(http.MethodGet, "/me/records?levels="+chartMD5+":BM", http.NoBody)
				req.Header.Set("Authorization", "Bearer "+tok)
				rec := httptest.NewRecorder()
				f.handler.ServeHTTP(rec, req)
				So(rec.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When a replayed submission id is sent", func() {
			first := f.do(http.MethodPost, "/scores", scoreBody(tok, 1000, `,"submissionId":"s-1"`))
			second := f.do(http.MethodPost, "/scores", scoreBody(tok, 1000, `,"submissionId":"s-1"`))

			Convey("Then the play is counted once", func() {
				So(first.Code, ShouldEqual, http.StatusOK)
				So(second.Code, ShouldEqual, http.StatusOK)
				var res scoreResult
				So(json.Unmarshal(second.Body.Bytes(), &res), ShouldBeNil)
				So(res.ResultingRow.Entry.PlayCount, ShouldEqual, 1)
			})
		})

		Convey("When count is not an array", func() {
			body := `{"jwt":"` + tok + `","md5":"` + chartMD5 + `","playMode":"BM","input":{"score":1,"total":1,"combo":1,"count":5}}`
			w := f.do(http.MethodPost, "/scores", body)

			Convey("Then the score is invalid", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(errorCode(w), ShouldEqual, "invalid_score")
			})
		})

		Convey("When the score is out of range", func() {
			w := f.do(http.MethodPost, "/scores", scoreBody(tok, 600000, ""))

			Convey("Then the score is invalid", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			})
		})

		Convey("When the token is not valid", func() {
			w := f.do(http.MethodPost, "/scores", scoreBody("garbage", 1000, ""))

			Convey("Then the caller is unauthorized", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(errorCode(w), ShouldEqual, "unauthorized")
			})
		})

		Convey("When the level is malformed", func() {
			w := f.do(http.MethodGet, "/charts/xyz/levels/BM/leaderboard", "")

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "invalid_level")
			})
		})

		Convey("When max is not a number", func() {
			w := f.do(http.MethodGet, "/charts/"+chartMD5+"/levels/BM/leaderboard?max=ten", "")

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "bad_request")
			})
		})

		Convey("When nobody played the level", func() {
			w := f.do(http.MethodGet, "/charts/"+chartMD5+"/levels/KB/leaderboard", "")

			Convey("Then the leaderboard is an empty array", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
			})
		})
	})
}

func TestAPI_Legacy(t *testing.T) {
	Convey("Given a legacy account", t, func() {
		f := newFixture()
		So(f.store.PutLegacyUser(context.Background(), model.LegacyUser{
			ID: "zzz", Username: "ABC", Email: "abc@test.test", HashedPassword: meowHash,
		}), ShouldBeNil)

		Convey("When checking valid credentials", func() {
			w := f.form("/legacyusers/check", url.Values{
				"usernameOrEmail": {"abc@test.test"}, "password": {"meow"}, "apiKey": {testAPIKey},
			})

			Convey("Then the account is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"_id":"zzz"`)
				So(w.Body.String(), ShouldContainSubstring, `"username":"ABC"`)
			})
		})

		Convey("When the password is wrong", func() {
			w := f.form("/legacyusers/check", url.Values{
				"usernameOrEmail": {"ABC"}, "password": {"woof"}, "apiKey": {testAPIKey},
			})

			Convey("Then it is unauthorized", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
			})
		})

		Convey("When the api key is wrong", func() {
			w := f.form("/legacyusers/check", url.Values{
				"usernameOrEmail": {"ABC"}, "password": {"meow"}, "apiKey": {"nope"},
			})

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "bad_api_key")
			})
		})

		Convey("When a player links with the password", func() {
			p, _ := f.register("flicknote")
			body := `{"playerId":"` + p.ID + `","usernameOrEmail":"ABC","password":"meow","apiKey":"` + testAPIKey + `"}`
			w := f.do(http.MethodPost, "/players/link", body)

			Convey("Then the player is linked", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var got playerBody
				So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
				So(got.Linked, ShouldBeTrue)
				So(got.LinkedLegacyUserID, ShouldEqual, "zzz")
			})

			Convey("Then another player cannot take the account", func() {
				other, _ := f.register("other")
				again := f.do(http.MethodPost, "/players/link",
					`{"playerId":"`+other.ID+`","usernameOrEmail":"ABC","password":"meow","apiKey":"`+testAPIKey+`"}`)
				So(again.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(again), ShouldEqual, "conflict")
			})

			Convey("Then a legacy-only token can submit scores", func() {
				legacyTok, err := f.issuer.Issue(model.IdentityClaim{LegacyUserID: "zzz"})
				So(err, ShouldBeNil)
				sw := f.do(http.MethodPost, "/scores", scoreBody(legacyTok, 5000, ""))
				So(sw.Code, ShouldEqual, http.StatusOK)
				So(sw.Body.String(), ShouldContainSubstring, `"playerName":"flicknote"`)
			})
		})

		Convey("When a player links with a token", func() {
			legacyTok, err := f.issuer.Issue(model.IdentityClaim{LegacyUserID: "zzz"})
			So(err, ShouldBeNil)
			p, _ := f.register("tokenized")
			w := f.do(http.MethodPost, "/players/link", `{"jwt":"`+legacyTok+`","playerId":"`+p.ID+`"}`)

			Convey("Then the player is linked", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"linked":true`)
			})
		})

		Convey("When the link request carries no proof", func() {
			w := f.do(http.MethodPost, "/players/link", `{}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestAPI_RateLimit(t *testing.T) {
	Convey("Given a server limiting mutations to a burst of two", t, func() {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		f := newFixture(api.WithRateLimit(1, 2), api.WithClock(func() time.Time { return now }))

		Convey("When a client sends three registrations at once", func() {
			codes := make([]int, 0, 3)
			for _, name := range []string{"a", "b", "c"} {
				codes = append(codes, f.do(http.MethodPost, "/players", `{"name":"`+name+`"}`).Code)
			}

			Convey("Then the third is rejected", func() {
				So(codes, ShouldResemble, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests})
			})

			Convey("Then reads are not limited", func() {
				So(f.do(http.MethodGet, "/players/a", "").Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestAPI_Feed(t *testing.T) {
	Convey("Given a running server with a live feed", t, func() {
		f := newFixture()
		ts := httptest.NewServer(f.handler)
		Reset(func() {
			f.hub.Close()
			ts.Close()
		})
		_, tok := f.register("flicknote")
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/levels/" + chartMD5 + "/BM/feed"

		Convey("When a client subscribes and a score lands", func() {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			defer conn.Close()
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

			var ack feed.Message
			So(conn.ReadJSON(&ack), ShouldBeNil)
			So(ack.Type, ShouldEqual, feed.MessageTypeSubscribed)

			So(f.do(http.MethodPost, "/scores", scoreBody(tok, 1234, "")).Code, ShouldEqual, http.StatusOK)

			var update feed.Message
			So(conn.ReadJSON(&update), ShouldBeNil)

			Convey("Then the update carries the leaderboard", func() {
				So(update.Type, ShouldEqual, feed.MessageTypeLeaderboardUpdate)
				So(update.Level, ShouldEqual, chartMD5+":BM")
				So(update.Leaderboard, ShouldHaveLength, 1)
				So(update.Leaderboard[0].PlayerName, ShouldEqual, "flicknote")
			})
		})

		Convey("When subscribing to a malformed level", func() {
			resp, err := http.Get(ts.URL + "/levels/xyz/BM/feed")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then it is a bad request", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})
	})

	Convey("Given a server without a feed", t, func() {
		store := memory.New()
		svc, err := service.New(service.Dependencies{
			Store:  store,
			Index:  rankindex.NewTreapIndex(),
			Tokens: auth.NewJWTResolver([]byte(testSecret)),
			Legacy: auth.NewLegacyVerifier(store, testAPIKey),
		})
		So(err, ShouldBeNil)
		h := api.NewServer(svc).Router(context.Background())

		Convey("Then the feed route is not found", func() {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/levels/"+chartMD5+"/BM/feed", http.NoBody))
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}
