package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/scoreboard/internal/adapters/mq/queue"
	"github.com/okian/scoreboard/internal/adapters/rankindex"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
	"github.com/okian/scoreboard/pkg/metrics"
)

// ReindexLevel re-derives one level's rank index from the store. The
// reindex workers call it for levels whose incremental update failed.
func (s *Service) ReindexLevel(ctx context.Context, level model.Level) error {
	if !s.isDirty(level) {
		return nil
	}
	return s.rebuildLevel(ctx, level, "reindex_job")
}

func (s *Service) rebuildLevel(ctx context.Context, level model.Level, reason string) error {
	mu := s.stripe(level)
	mu.Lock()
	defer mu.Unlock()
	return s.rebuildLocked(ctx, level, reason)
}

// rebuildLocked replaces the level's index with the store's entries. The
// caller holds the level's stripe.
func (s *Service) rebuildLocked(ctx context.Context, level model.Level, reason string) error {
	start := time.Now()
	entries, err := s.store.ListLevelScores(ctx, level)
	if err != nil {
		return fmt.Errorf("listing %s: %w", level, err)
	}
	keys := make([]rankindex.Key, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, rankindex.KeyOf(e))
	}
	if err := s.index.Rebuild(ctx, level, keys); err != nil {
		metrics.RecordRankError()
		return fmt.Errorf("rebuilding %s: %w", level, err)
	}
	s.clearDirty(level)
	metrics.RecordRankRebuild(reason, metrics.Since(start))
	s.logger.Debug(ctx, "level rebuilt",
		logger.String("level", level.Key()),
		logger.String("reason", reason),
		logger.Int("entries", len(keys)),
	)
	return nil
}

// ensureFresh rebuilds a dirty level before it is read.
func (s *Service) ensureFresh(ctx context.Context, level model.Level) error {
	if !s.isDirty(level) {
		return nil
	}
	if err := s.rebuildLevel(ctx, level, "read_repair"); err != nil {
		return fmt.Errorf("%w: %w", model.ErrRankUnavailable, err)
	}
	return nil
}

// applyRank moves the stored entry into the index. When the incremental
// update fails the level is rebuilt in place; when that fails too the
// level is left dirty for the workers and the next reader.
func (s *Service) applyRank(ctx context.Context, entry model.ScoreEntry) error {
	ctx = context.WithoutCancel(ctx)
	_, err := s.index.Upsert(ctx, entry.Level, rankindex.KeyOf(entry))
	if err == nil {
		metrics.RecordRankUpdate()
		return nil
	}
	metrics.RecordRankError()
	s.logger.Warn(ctx, "rank update failed, rebuilding level",
		logger.String("level", entry.Level.Key()),
		logger.Error(err),
	)
	s.markDirty(entry.Level)
	if err := s.rebuildLocked(ctx, entry.Level, "rank_update_failed"); err != nil {
		s.scheduleReindex(ctx, entry.Level, "rank_update_failed")
		return fmt.Errorf("%w: %w", model.ErrRankUnavailable, err)
	}
	return nil
}

func (s *Service) scheduleReindex(ctx context.Context, level model.Level, reason string) {
	job := queue.Job{Level: level, Reason: reason, EnqueuedAt: s.clock()}
	if !s.reindexQ.Enqueue(ctx, job) {
		s.logger.Warn(ctx, "reindex queue rejected job; level repairs on next read",
			logger.String("level", level.Key()),
		)
	}
}

func (s *Service) markDirty(level model.Level) {
	s.dirtyMu.Lock()
	s.dirty[level] = struct{}{}
	n := len(s.dirty)
	s.dirtyMu.Unlock()
	metrics.UpdateDirtyLevels(n)
}

func (s *Service) clearDirty(level model.Level) {
	s.dirtyMu.Lock()
	delete(s.dirty, level)
	n := len(s.dirty)
	s.dirtyMu.Unlock()
	metrics.UpdateDirtyLevels(n)
}

func (s *Service) isDirty(level model.Level) bool {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	_, ok := s.dirty[level]
	return ok
}

// rowsLocked materializes the top k rows of a level. The caller holds the
// level's stripe.
func (s *Service) rowsLocked(ctx context.Context, level model.Level, k int) ([]model.LeaderboardRow, error) {
	start := time.Now()
	ranked, err := s.index.TopK(ctx, level, k)
	metrics.RecordRankQueryLatency(metrics.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrRankUnavailable, err)
	}
	if len(ranked) == 0 {
		return []model.LeaderboardRow{}, nil
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.PlayerID
	}
	entries, err := s.store.GetScores(ctx, level, ids)
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}
	players, err := s.store.GetPlayers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading players: %w", err)
	}

	rows := make([]model.LeaderboardRow, 0, len(ranked))
	for _, r := range ranked {
		e, ok := entries[r.PlayerID]
		if !ok {
			return nil, fmt.Errorf("%w: indexed player %s has no entry", model.ErrRankUnavailable, r.PlayerID)
		}
		e.PlayerName = players[r.PlayerID].Name
		rows = append(rows, model.LeaderboardRow{Rank: r.Rank, Entry: e})
	}
	return rows, nil
}

// rowOfLocked returns the player's ranked entry on a level.
func (s *Service) rowOfLocked(ctx context.Context, level model.Level, player model.Player) (model.LeaderboardRow, error) {
	entry, err := s.store.GetScore(ctx, level, player.ID)
	if err != nil {
		return model.LeaderboardRow{}, err
	}
	rank, err := s.index.RankOf(ctx, level, player.ID)
	if err != nil {
		if errors.Is(err, rankindex.ErrNotFound) {
			s.markDirty(level)
		}
		return model.LeaderboardRow{}, fmt.Errorf("%w: %w", model.ErrRankUnavailable, err)
	}
	entry.PlayerName = player.Name
	return model.LeaderboardRow{Rank: rank, Entry: entry}, nil
}
