package rankindex

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
	"github.com/okian/scoreboard/pkg/metrics"
)

// board is the treap of one level. Each board has its own lock so
// unrelated levels never contend.
type board struct {
	mu   sync.RWMutex
	root *node
	byID map[string]Key
	rng  *rand.Rand // nil means the global source
}

func (b *board) prio() uint64 {
	if b.rng != nil {
		return b.rng.Uint64()
	}
	return rand.Uint64()
}

// TreapIndex is the in-process Index. O(log n) expected upsert and rank.
type TreapIndex struct {
	mu     sync.RWMutex
	boards map[string]*board
	seed   uint64
	seeded bool
	log    logger.Logger
}

var _ Index = (*TreapIndex)(nil)

// NewTreapIndex constructs an empty index.
func NewTreapIndex(opts ...Option) *TreapIndex {
	x := &TreapIndex{boards: make(map[string]*board)}
	for _, opt := range opts {
		opt(x)
	}
	if x.log == nil {
		x.log = logger.Get().Named("rankindex")
	}
	return x
}

func (x *TreapIndex) lookup(level model.Level) *board {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.boards[level.Key()]
}

func (x *TreapIndex) boardFor(level model.Level) *board {
	if b := x.lookup(level); b != nil {
		return b
	}
	key := level.Key()
	x.mu.Lock()
	defer x.mu.Unlock()
	if b, ok := x.boards[key]; ok {
		return b
	}
	b := &board{byID: make(map[string]Key)}
	if x.seeded {
		h := fnv.New64a()
		_, _ = h.Write([]byte(key))
		b.rng = rand.New(rand.NewPCG(x.seed, h.Sum64()))
	}
	x.boards[key] = b
	metrics.UpdateLevelsTracked(len(x.boards))
	return b
}

// Upsert implements Index.
func (x *TreapIndex) Upsert(ctx context.Context, level model.Level, k Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b := x.boardFor(level)
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.byID[k.PlayerID]; ok {
		if k.Version <= cur.Version {
			return false, nil
		}
		b.root = remove(b.root, cur)
	}
	b.byID[k.PlayerID] = k
	b.root = insert(b.root, k, b.prio())
	return true, nil
}

// RankOf implements Index.
func (x *TreapIndex) RankOf(_ context.Context, level model.Level, playerID string) (int, error) {
	start := time.Now()
	defer func() { metrics.RecordRankQueryLatency(metrics.Since(start)) }()

	b := x.lookup(level)
	if b == nil {
		return 0, ErrNotFound
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	k, ok := b.byID[playerID]
	if !ok {
		return 0, ErrNotFound
	}
	return rank(b.root, k), nil
}

// TopK implements Index.
func (x *TreapIndex) TopK(_ context.Context, level model.Level, k int) ([]Ranked, error) {
	if k < 1 {
		return nil, ErrInvalidLimit
	}
	start := time.Now()
	defer func() { metrics.RecordRankQueryLatency(metrics.Since(start)) }()

	b := x.lookup(level)
	if b == nil {
		return []Ranked{}, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Ranked, 0, min(k, len(b.byID)))
	for key := range ascend(b.root) {
		out = append(out, Ranked{Rank: len(out) + 1, PlayerID: key.PlayerID, Score: key.Score})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Rebuild implements Index. Duplicate player ids keep the highest version.
func (x *TreapIndex) Rebuild(ctx context.Context, level model.Level, keys []Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := x.boardFor(level)
	byID := make(map[string]Key, len(keys))
	for _, k := range keys {
		if cur, ok := byID[k.PlayerID]; ok && cur.Version >= k.Version {
			continue
		}
		byID[k.PlayerID] = k
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var root *node
	for _, k := range byID {
		root = insert(root, k, b.prio())
	}
	b.root = root
	b.byID = byID
	x.log.Debug(ctx, "level rebuilt", logger.String("level", level.Key()), logger.Int("entries", len(byID)))
	return nil
}

// Count implements Index.
func (x *TreapIndex) Count(_ context.Context, level model.Level) (int, error) {
	b := x.lookup(level)
	if b == nil {
		return 0, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID), nil
}

// Levels returns the number of levels held.
func (x *TreapIndex) Levels() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.boards)
}
