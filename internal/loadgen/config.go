// Package loadgen drives a running scoreboard over HTTP: it registers
// players, submits scores concurrently on one level and checks the
// resulting leaderboard.
package loadgen

import (
	"errors"
	"fmt"
	"time"

	"github.com/okian/scoreboard/internal/domain/model"
)

// Errors.
var (
	ErrInvalidConfig = errors.New("invalid load generator config")
	ErrVerification  = errors.New("leaderboard verification failed")
	ErrRequest       = errors.New("request failed")
)

// maxPlayers matches the server's default leaderboard cap so one read can
// see every player.
const maxPlayers = 1000

// Config holds configuration for a load run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Players     int           // Players to register
	Rounds      int           // Scores each player submits
	Workers     int           // Concurrent requests
	Timeout     time.Duration // HTTP request timeout
	MD5         string        // Chart to play
	PlayMode    string        // BM or KB
	Policy      model.Policy  // Policy the server runs with
	TokenSecret string        // Shared HS256 secret
	TokenIssuer string
	Seed        uint64
	Verbose     bool
}

// Validate checks the run parameters.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is empty", ErrInvalidConfig)
	case c.Players < 1 || c.Players > maxPlayers:
		return fmt.Errorf("%w: players must be in [1, %d]", ErrInvalidConfig, maxPlayers)
	case c.Rounds < 1:
		return fmt.Errorf("%w: rounds must be positive", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.TokenSecret == "":
		return fmt.Errorf("%w: token secret is empty", ErrInvalidConfig)
	}
	if _, err := model.NewLevel(c.MD5, c.PlayMode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := model.ParsePolicy(string(c.Policy)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	PlayersRegistered int
	ScoresSubmitted   int
	ScoresFailed      int
	LeaderboardRows   int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
