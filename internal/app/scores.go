package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
	"github.com/okian/scoreboard/pkg/metrics"
)

// RegisterScore records a play for the token's bearer and returns its
// rank. Validation and authorization happen before anything is written.
func (s *Service) RegisterScore(ctx context.Context, token, md5, playMode string, in model.ScoreInput, limit int) (model.ScoreResult, error) {
	start := time.Now()
	res, outcome, err := s.registerScore(ctx, token, md5, playMode, in, limit)
	metrics.RecordSubmission(outcome)
	metrics.RecordSubmissionLatency(metrics.Since(start))
	if err != nil {
		return model.ScoreResult{}, err
	}
	return res, nil
}

func (s *Service) registerScore(ctx context.Context, token, md5, playMode string, in model.ScoreInput, limit int) (model.ScoreResult, string, error) {
	player, err := s.authenticate(ctx, token)
	if err != nil {
		return model.ScoreResult{}, "unauthorized", err
	}
	level, err := model.NewLevel(md5, playMode)
	if err != nil {
		return model.ScoreResult{}, "rejected", err
	}
	if err := in.Validate(); err != nil {
		return model.ScoreResult{}, "rejected", err
	}
	k := s.clampMax(limit)

	var dedupeKey string
	if in.SubmissionID != "" {
		dedupeKey = player.ID + "|" + level.Key() + "|" + in.SubmissionID
		if s.deduper.SeenAndRecord(ctx, dedupeKey) {
			metrics.RecordSubmissionReplay()
			res, err := s.replay(ctx, level, player, k)
			return res, "replayed", err
		}
	}
	res, err := s.apply(ctx, level, player, in, k)
	if err != nil {
		if dedupeKey != "" && !errors.Is(err, model.ErrRankUnavailable) {
			s.deduper.Unrecord(ctx, dedupeKey)
		}
		return model.ScoreResult{}, "error", err
	}
	s.logger.Debug(ctx, "score registered",
		logger.String("player", player.Name),
		logger.String("level", level.Key()),
		logger.Int("score", res.Row.Entry.Score),
		logger.Int("rank", res.Row.Rank),
	)
	return res, "accepted", nil
}

// apply writes the entry and moves it in the index as one unit per level.
func (s *Service) apply(ctx context.Context, level model.Level, player model.Player, in model.ScoreInput, k int) (model.ScoreResult, error) {
	if err := ctx.Err(); err != nil {
		return model.ScoreResult{}, err
	}

	mu := s.stripe(level)
	mu.Lock()
	defer mu.Unlock()

	if err := ctx.Err(); err != nil {
		return model.ScoreResult{}, err
	}
	if s.isDirty(level) {
		if err := s.rebuildLocked(ctx, level, "read_repair"); err != nil {
			return model.ScoreResult{}, fmt.Errorf("%w: %w", model.ErrRankUnavailable, err)
		}
	}

	entry, err := s.store.UpsertScore(ctx, model.Submission{
		EntryID:  uuid.NewString(),
		PlayerID: player.ID,
		Level:    level,
		Input:    in,
		At:       s.clock(),
	}, s.policy)
	if err != nil {
		return model.ScoreResult{}, fmt.Errorf("storing score: %w", err)
	}

	// The entry is durable from here on; the rest must not be abandoned
	// half way because the caller went away.
	ctx = context.WithoutCancel(ctx)
	if err := s.applyRank(ctx, entry); err != nil {
		return model.ScoreResult{}, err
	}

	row, err := s.rowOfLocked(ctx, level, player)
	if err != nil {
		return model.ScoreResult{}, err
	}
	rows, err := s.rowsLocked(ctx, level, k)
	if err != nil {
		return model.ScoreResult{}, err
	}
	// Published under the level lock so subscribers see writes in order.
	if s.publisher != nil {
		s.publisher.Publish(ctx, level, rows)
	}
	return model.ScoreResult{Row: row, Level: level, Leaderboard: rows}, nil
}

// replay answers a repeated submission id with the current standing.
func (s *Service) replay(ctx context.Context, level model.Level, player model.Player, k int) (model.ScoreResult, error) {
	if err := s.ensureFresh(ctx, level); err != nil {
		return model.ScoreResult{}, err
	}
	mu := s.stripe(level)
	mu.RLock()
	defer mu.RUnlock()

	row, err := s.rowOfLocked(ctx, level, player)
	if errors.Is(err, storage.ErrNotFound) {
		return model.ScoreResult{}, fmt.Errorf("%w: submission is still being processed", model.ErrConflict)
	}
	if err != nil {
		return model.ScoreResult{}, err
	}
	rows, err := s.rowsLocked(ctx, level, k)
	if err != nil {
		return model.ScoreResult{}, err
	}
	return model.ScoreResult{Row: row, Level: level, Leaderboard: rows, Replayed: true}, nil
}

// Leaderboard returns at most limit leading rows of a level. A level nobody
// has played yields an empty slice.
func (s *Service) Leaderboard(ctx context.Context, md5, playMode string, limit int) ([]model.LeaderboardRow, error) {
	level, err := model.NewLevel(md5, playMode)
	if err != nil {
		return nil, err
	}
	if err := s.ensureFresh(ctx, level); err != nil {
		return nil, err
	}
	mu := s.stripe(level)
	mu.RLock()
	defer mu.RUnlock()
	return s.rowsLocked(ctx, level, s.clampMax(limit))
}

// Chart lists the played levels of a chart with their entry counts.
func (s *Service) Chart(ctx context.Context, md5 string) ([]storage.LevelSummary, error) {
	sum, err := model.ParseMD5(md5)
	if err != nil {
		return nil, err
	}
	levels, err := s.store.ChartLevels(ctx, sum)
	if err != nil {
		return nil, fmt.Errorf("listing chart levels: %w", err)
	}
	return levels, nil
}

// Records returns the caller's ranked entries on the given levels
// ("md5:MODE"). Levels without an entry are omitted.
func (s *Service) Records(ctx context.Context, token string, levelKeys []string) ([]model.LeaderboardRow, error) {
	player, err := s.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(levelKeys) > maxRecordLevels {
		return nil, fmt.Errorf("%w: at most %d levels per query", model.ErrInvalidLevel, maxRecordLevels)
	}
	levels := make([]model.Level, 0, len(levelKeys))
	for _, key := range levelKeys {
		level, err := model.ParseLevelKey(key)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}

	rows := make([]model.LeaderboardRow, 0, len(levels))
	for _, level := range levels {
		row, err := s.recordOf(ctx, level, player)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Service) recordOf(ctx context.Context, level model.Level, player model.Player) (model.LeaderboardRow, error) {
	if err := s.ensureFresh(ctx, level); err != nil {
		return model.LeaderboardRow{}, err
	}
	mu := s.stripe(level)
	mu.RLock()
	defer mu.RUnlock()
	return s.rowOfLocked(ctx, level, player)
}

// authenticate resolves a token to a registered player. Tokens that only
// carry a legacy id find the player through the link.
func (s *Service) authenticate(ctx context.Context, token string) (model.Player, error) {
	if token == "" {
		return model.Player{}, fmt.Errorf("%w: missing token", model.ErrUnauthorized)
	}
	claim, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Player{}, ctxErr
		}
		return model.Player{}, fmt.Errorf("%w: %w", model.ErrUnauthorized, err)
	}

	var p model.Player
	switch {
	case claim.PlayerID != "":
		p, err = s.store.FindPlayerByID(ctx, claim.PlayerID)
	case claim.LegacyUserID != "":
		p, err = s.store.FindPlayerByLegacyUserID(ctx, claim.LegacyUserID)
	default:
		return model.Player{}, fmt.Errorf("%w: token carries no identity", model.ErrUnauthorized)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return model.Player{}, fmt.Errorf("%w: no player for token", model.ErrUnauthorized)
	}
	if err != nil {
		return model.Player{}, fmt.Errorf("resolving player: %w", err)
	}
	return p, nil
}
