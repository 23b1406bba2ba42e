package loadgen

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/scoreboard/internal/adapters/auth"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
)

// Run executes a complete load run and verifies the final leaderboard.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, _ := model.ParsePolicy(string(cfg.Policy))
	log := logger.Get().Named("loadgen")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("players", cfg.Players),
		logger.Int("rounds", cfg.Rounds),
		logger.Int("workers", cfg.Workers),
		logger.String("policy", string(policy)),
	)

	c := newClient(cfg.BaseURL, cfg.Timeout)
	if err := c.health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	p := generatePlan(cfg)
	players, err := registerPlayers(ctx, c, cfg.Workers, p.names)
	if err != nil {
		return stats, fmt.Errorf("player registration failed: %w", err)
	}
	stats.PlayersRegistered = len(players)

	var issuerOpts []auth.Option
	if cfg.TokenIssuer != "" {
		issuerOpts = append(issuerOpts, auth.WithIssuer(cfg.TokenIssuer))
	}
	issuer := auth.NewIssuer([]byte(cfg.TokenSecret), issuerOpts...)
	tokens := make([]string, len(players))
	for i, pl := range players {
		tok, err := issuer.Issue(model.IdentityClaim{PlayerID: pl.ID})
		if err != nil {
			return stats, fmt.Errorf("issuing token: %w", err)
		}
		tokens[i] = tok
	}

	submitted, failed, err := submitScores(ctx, c, cfg, p, tokens)
	stats.ScoresSubmitted, stats.ScoresFailed = submitted, failed
	if err != nil {
		return stats, fmt.Errorf("score submission failed: %w", err)
	}

	rows, err := c.leaderboard(ctx, cfg.MD5, cfg.PlayMode, cfg.Players)
	if err != nil {
		return stats, fmt.Errorf("leaderboard retrieval failed: %w", err)
	}
	stats.LeaderboardRows = len(rows)

	// The level may hold players from earlier runs; only this run's are checked.
	if err := verify(rows, p.expected(policy)); err != nil {
		return stats, err
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	return stats, nil
}

func registerPlayers(ctx context.Context, c *client, workers int, names []string) ([]Player, error) {
	players := make([]Player, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		g.Go(func() error {
			p, err := c.registerPlayer(gctx, name)
			if err != nil {
				return err
			}
			players[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return players, nil
}

// submitScores sends every player's rounds in order, players in parallel.
func submitScores(ctx context.Context, c *client, cfg *Config, p plan, tokens []string) (int, int, error) {
	var submitted, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range p.names {
		g.Go(func() error {
			for _, in := range p.plays[i] {
				row, err := c.submit(gctx, tokens[i], cfg.MD5, cfg.PlayMode, in)
				if err != nil {
					failed.Add(1)
					return err
				}
				submitted.Add(1)
				if cfg.Verbose {
					logger.Get().Named("loadgen").Debug(gctx, "score accepted",
						logger.String("player", p.names[i]),
						logger.Int("score", in.Score),
						logger.Int("rank", row.Rank),
					)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	return int(submitted.Load()), int(failed.Load()), err
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.ScoresSubmitted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("playersRegistered", stats.PlayersRegistered),
		logger.Int("scoresSubmitted", stats.ScoresSubmitted),
		logger.Int("scoresFailed", stats.ScoresFailed),
		logger.Int("leaderboardRows", stats.LeaderboardRows),
		logger.Duration("duration", stats.Duration),
		logger.Float64("scoresPerSecond", perSecond),
	)
}
