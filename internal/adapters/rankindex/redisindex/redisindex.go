// Package redisindex is a rank index shared across processes, kept in one
// Redis sorted set per level.
//
// Members encode "<updatedAt nanos, zero padded>|<playerID>" with the
// negated score as the set score, so ZRANGE order is score DESC, then
// updatedAt ASC, then playerID ASC. A companion hash maps each player to
// "<version>|<member>" so an upsert can find and replace the old member.
package redisindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/scoreboard/internal/adapters/rankindex"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/metrics"
)

const defaultPrefix = "scoreboard"

// upsertScript replaces a player's member only when the incoming version is
// newer, atomically with respect to every other client.
var upsertScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if cur then
  local sep = string.find(cur, '|', 1, true)
  if tonumber(string.sub(cur, 1, sep - 1)) >= tonumber(ARGV[2]) then
    return 0
  end
  redis.call('ZREM', KEYS[1], string.sub(cur, sep + 1))
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2] .. '|' .. ARGV[4])
return 1
`)

// Index implements rankindex.Index on Redis.
type Index struct {
	client redis.UniversalClient
	prefix string
}

var _ rankindex.Index = (*Index)(nil)

// Option configures an Index.
type Option func(*Index)

// WithKeyPrefix namespaces every key. Default "scoreboard".
func WithKeyPrefix(prefix string) Option {
	return func(x *Index) {
		if prefix != "" {
			x.prefix = prefix
		}
	}
}

// New wraps an existing client. The caller owns the client's lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Index {
	x := &Index{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Index, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return New(client, opts...), nil
}

// Close closes the underlying client.
func (x *Index) Close() error {
	return x.client.Close()
}

// Keys share a hash tag so both live in one cluster slot.
func (x *Index) zsetKey(level model.Level) string {
	return fmt.Sprintf("%s:rank:{%s}:z", x.prefix, level.Key())
}

func (x *Index) hashKey(level model.Level) string {
	return fmt.Sprintf("%s:rank:{%s}:h", x.prefix, level.Key())
}

// EncodeMember renders the sorted-set member of k.
func EncodeMember(k rankindex.Key) string {
	return fmt.Sprintf("%020d|%s", k.UpdatedAt.UnixNano(), k.PlayerID)
}

// DecodeMember returns the player id carried by a member.
func DecodeMember(member string) (string, error) {
	_, id, ok := strings.Cut(member, "|")
	if !ok || id == "" {
		return "", fmt.Errorf("malformed rank member %q", member)
	}
	return id, nil
}

// Upsert implements rankindex.Index.
func (x *Index) Upsert(ctx context.Context, level model.Level, k rankindex.Key) (bool, error) {
	applied, err := upsertScript.Run(ctx, x.client,
		[]string{x.zsetKey(level), x.hashKey(level)},
		k.PlayerID, k.Version, -k.Score, EncodeMember(k),
	).Int()
	if err != nil {
		metrics.RecordErrorByComponent("redisindex", "upsert")
		return false, fmt.Errorf("upserting rank: %w", err)
	}
	return applied == 1, nil
}

func (x *Index) member(ctx context.Context, level model.Level, playerID string) (string, error) {
	v, err := x.client.HGet(ctx, x.hashKey(level), playerID).Result()
	if errors.Is(err, redis.Nil) {
		return "", rankindex.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading rank member: %w", err)
	}
	_, member, ok := strings.Cut(v, "|")
	if !ok {
		return "", fmt.Errorf("malformed rank entry %q", v)
	}
	return member, nil
}

// RankOf implements rankindex.Index.
func (x *Index) RankOf(ctx context.Context, level model.Level, playerID string) (int, error) {
	start := time.Now()
	defer func() { metrics.RecordRankQueryLatency(metrics.Since(start)) }()

	member, err := x.member(ctx, level, playerID)
	if err != nil {
		return 0, err
	}
	r, err := x.client.ZRank(ctx, x.zsetKey(level), member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, rankindex.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading rank: %w", err)
	}
	return int(r) + 1, nil
}

// TopK implements rankindex.Index.
func (x *Index) TopK(ctx context.Context, level model.Level, k int) ([]rankindex.Ranked, error) {
	if k < 1 {
		return nil, rankindex.ErrInvalidLimit
	}
	start := time.Now()
	defer func() { metrics.RecordRankQueryLatency(metrics.Since(start)) }()

	zs, err := x.client.ZRangeWithScores(ctx, x.zsetKey(level), 0, int64(k-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading top %d: %w", k, err)
	}
	out := make([]rankindex.Ranked, 0, len(zs))
	for i, z := range zs {
		m, _ := z.Member.(string)
		id, err := DecodeMember(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rankindex.Ranked{Rank: i + 1, PlayerID: id, Score: -int(z.Score)})
	}
	return out, nil
}

// Rebuild implements rankindex.Index inside MULTI/EXEC.
func (x *Index) Rebuild(ctx context.Context, level model.Level, keys []rankindex.Key) error {
	latest := make(map[string]rankindex.Key, len(keys))
	for _, k := range keys {
		if cur, ok := latest[k.PlayerID]; ok && cur.Version >= k.Version {
			continue
		}
		latest[k.PlayerID] = k
	}

	zkey, hkey := x.zsetKey(level), x.hashKey(level)
	_, err := x.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, zkey, hkey)
		for _, k := range latest {
			m := EncodeMember(k)
			pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(-k.Score), Member: m})
			pipe.HSet(ctx, hkey, k.PlayerID, strconv.Itoa(k.Version)+"|"+m)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuilding level %s: %w", level.Key(), err)
	}
	return nil
}

// Count implements rankindex.Index.
func (x *Index) Count(ctx context.Context, level model.Level) (int, error) {
	n, err := x.client.ZCard(ctx, x.zsetKey(level)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting level: %w", err)
	}
	return int(n), nil
}
