package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/scoreboard/internal/domain/model"
)

var feedLevel = model.Level{MD5: "0123456789abcdef0123456789abcdef", PlayMode: model.PlayModeBM}

func dial(srv *httptest.Server) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

func readMessage(conn *websocket.Conn) (Message, error) {
	var msg Message
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	err = json.Unmarshal(data, &msg)
	return msg, err
}

func waitSubscribers(h *Hub, n int) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Subscribers(feedLevel) == n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestHub(t *testing.T) {
	Convey("Given a hub behind a websocket endpoint", t, func() {
		hub := NewHub()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hub.ServeWS(w, r, feedLevel)
		}))
		defer srv.Close()

		conn, err := dial(srv)
		So(err, ShouldBeNil)
		defer conn.Close()

		Convey("Then the subscriber receives an acknowledgement", func() {
			msg, err := readMessage(conn)
			So(err, ShouldBeNil)
			So(msg.Type, ShouldEqual, MessageTypeSubscribed)
			So(msg.Level, ShouldEqual, feedLevel.Key())
			So(waitSubscribers(hub, 1), ShouldBeTrue)
		})

		Convey("When a snapshot is published for the level", func() {
			_, err := readMessage(conn)
			So(err, ShouldBeNil)
			So(waitSubscribers(hub, 1), ShouldBeTrue)

			hub.Publish(context.Background(), feedLevel, []model.LeaderboardRow{
				{Rank: 1, Entry: model.ScoreEntry{ID: "e1", PlayerID: "p1", PlayerName: "flicknote", Score: 400000, Combo: 50}},
			})

			Convey("Then the subscriber receives the rows", func() {
				msg, err := readMessage(conn)
				So(err, ShouldBeNil)
				So(msg.Type, ShouldEqual, MessageTypeLeaderboardUpdate)
				So(len(msg.Leaderboard), ShouldEqual, 1)
				So(msg.Leaderboard[0].PlayerName, ShouldEqual, "flicknote")
				So(msg.Leaderboard[0].Rank, ShouldEqual, 1)
			})
		})

		Convey("When the client disconnects", func() {
			So(waitSubscribers(hub, 1), ShouldBeTrue)
			_ = conn.Close()

			Convey("Then it is unregistered", func() {
				So(waitSubscribers(hub, 0), ShouldBeTrue)
			})
		})

		Convey("When the hub closes", func() {
			So(waitSubscribers(hub, 1), ShouldBeTrue)
			hub.Close()

			Convey("Then the connection is closed and new subscribers are refused", func() {
				So(hub.Subscribers(feedLevel), ShouldEqual, 0)
				var readErr error
				for readErr == nil {
					_, readErr = readMessage(conn)
				}
				So(readErr, ShouldNotBeNil)

				late, err := dial(srv)
				if err == nil {
					defer late.Close()
					_, err = readMessage(late)
				}
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestPublishWithoutSubscribers(t *testing.T) {
	Convey("Publishing to a level nobody watches is a no-op", t, func() {
		hub := NewHub()
		So(func() { hub.Publish(context.Background(), feedLevel, nil) }, ShouldNotPanic)
	})
}

func TestSlowClientDropsUpdates(t *testing.T) {
	Convey("Given a subscriber whose buffer is full", t, func() {
		hub := NewHub()
		c := &Client{id: "slow", hub: hub, level: feedLevel, send: make(chan []byte, 1)}
		So(hub.register(c), ShouldBeTrue)

		hub.Publish(context.Background(), feedLevel, nil)
		hub.Publish(context.Background(), feedLevel, nil)

		Convey("Then the extra update is dropped instead of blocking", func() {
			So(len(c.send), ShouldEqual, 1)
			hub.unregister(c)
			hub.unregister(c)
			So(hub.Subscribers(feedLevel), ShouldEqual, 0)
		})
	})
}
