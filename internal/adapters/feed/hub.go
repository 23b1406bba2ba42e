// Package feed pushes leaderboard snapshots to websocket subscribers of a
// level after every registered score.
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
	"github.com/okian/scoreboard/pkg/metrics"
)

// Message types.
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeSubscribed        = "subscribed"
)

// Message is the envelope written to subscribers.
type Message struct {
	Type        string    `json:"type"`
	Level       string    `json:"level"`
	Leaderboard []Row     `json:"leaderboard,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Row is the wire shape of one leaderboard row.
type Row struct {
	Rank       int       `json:"rank"`
	EntryID    string    `json:"id"`
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Score      int       `json:"score"`
	Combo      int       `json:"combo"`
	PlayCount  int       `json:"playCount"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Publisher receives leaderboard snapshots. Implementations must not block.
type Publisher interface {
	Publish(ctx context.Context, level model.Level, rows []model.LeaderboardRow)
}

// Hub tracks subscribers per level.
type Hub struct {
	mu      sync.RWMutex
	clients map[model.Level]map[*Client]struct{}
	total   int
	closed  bool

	clock  func() time.Time
	logger logger.Logger
}

var _ Publisher = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[model.Level]map[*Client]struct{}),
		clock:   time.Now,
		logger:  logger.Get().Named("feed"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.level]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.level] = set
	}
	set[c] = struct{}{}
	h.total++
	metrics.UpdateFeedSubscribers(h.total)
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.level]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.level)
	}
	close(c.send)
	h.total--
	metrics.UpdateFeedSubscribers(h.total)
}

// Publish fans a snapshot out to the level's subscribers. Slow clients whose
// buffer is full miss the update.
func (h *Hub) Publish(ctx context.Context, level model.Level, rows []model.LeaderboardRow) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.clients[level]
	if len(set) == 0 {
		return
	}

	data, err := json.Marshal(Message{
		Type:        MessageTypeLeaderboardUpdate,
		Level:       level.Key(),
		Leaderboard: ToRows(rows),
		Timestamp:   h.clock(),
	})
	if err != nil {
		h.logger.Error(ctx, "failed to marshal feed message", logger.Error(err))
		return
	}

	for c := range set {
		select {
		case c.send <- data:
		default:
			metrics.RecordFeedDropped()
			h.logger.Warn(ctx, "client buffer full, skipping", logger.String("client_id", c.id))
		}
	}
	metrics.RecordFeedBroadcast()
}

// Subscribers returns the number of subscribers on a level.
func (h *Hub) Subscribers(level model.Level) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[level])
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for level, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, level)
	}
	h.total = 0
	metrics.UpdateFeedSubscribers(0)
}

// ToRows converts ranked rows to their wire shape.
func ToRows(rows []model.LeaderboardRow) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, Row{
			Rank:       r.Rank,
			EntryID:    r.Entry.ID,
			PlayerID:   r.Entry.PlayerID,
			PlayerName: r.Entry.PlayerName,
			Score:      r.Entry.Score,
			Combo:      r.Entry.Combo,
			PlayCount:  r.Entry.PlayCount,
			UpdatedAt:  r.Entry.UpdatedAt,
		})
	}
	return out
}
