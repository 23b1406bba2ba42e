// Package rankindex maintains per-level ordered views of score entries so
// rank and top-K queries never re-sort a whole leaderboard.
//
// Order: score DESC, then updatedAt ASC (first to achieve wins), then
// playerID ASC. Ranks are dense positions 1..N with no ties.
package rankindex

import (
	"context"
	"strings"
	"time"

	"github.com/okian/scoreboard/internal/domain/model"
)

// Key is the ordering tuple of one entry. Version is the entry's play
// count; an upsert carrying an older version than the indexed one is
// ignored, which makes replays and out-of-order re-derivation harmless.
type Key struct {
	PlayerID  string
	Score     int
	UpdatedAt time.Time
	Version   int
}

// KeyOf projects a stored entry onto its index key.
func KeyOf(e model.ScoreEntry) Key {
	return Key{PlayerID: e.PlayerID, Score: e.Score, UpdatedAt: e.UpdatedAt, Version: e.PlayCount}
}

// Ranked is one position of a leaderboard.
type Ranked struct {
	Rank     int
	PlayerID string
	Score    int
}

// Index is the rank index contract shared by the in-process treap and the
// Redis backend.
type Index interface {
	// Upsert inserts or repositions one entry. It reports whether the
	// index changed.
	Upsert(ctx context.Context, level model.Level, k Key) (bool, error)
	// RankOf returns the 1-based rank of playerID, or ErrNotFound.
	RankOf(ctx context.Context, level model.Level, playerID string) (int, error)
	// TopK returns at most k leading positions.
	TopK(ctx context.Context, level model.Level, k int) ([]Ranked, error)
	// Rebuild replaces the level's contents with keys.
	Rebuild(ctx context.Context, level model.Level, keys []Key) error
	// Count returns the number of entries on a level.
	Count(ctx context.Context, level model.Level) (int, error)
}

// Compare orders two keys: negative when a ranks ahead of b.
func Compare(a, b Key) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.PlayerID, b.PlayerID)
}
