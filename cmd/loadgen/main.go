package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/internal/loadgen"
	"github.com/okian/scoreboard/pkg/logger"
)

// Default configuration constants.
const (
	defaultPlayers     = 200
	defaultRounds      = 5
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
	defaultMD5         = "0123456789abcdef0123456789abcdef"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8008", "Base URL of the service")
		players  = flag.Int("players", defaultPlayers, "Number of players to register")
		rounds   = flag.Int("rounds", defaultRounds, "Scores submitted per player")
		workers  = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent requests")
		timeout  = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		md5      = flag.String("md5", defaultMD5, "Chart md5 to play")
		mode     = flag.String("mode", string(model.PlayModeBM), "Play mode (BM or KB)")
		policy   = flag.String("policy", string(model.PolicyLatest), "Score policy the server runs with (latest or best)")
		secret   = flag.String("secret", os.Getenv("SCOREBOARD_TOKEN_SECRET"), "Token secret shared with the server")
		issuer   = flag.String("issuer", os.Getenv("SCOREBOARD_TOKEN_ISSUER"), "Token issuer expected by the server")
		seed     = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Seed for generated plays")
		logLevel = flag.String("log-level", "info", "Log level")
		verbose  = flag.Bool("verbose", false, "Log every accepted score")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	level := *logLevel
	if *verbose {
		level = "debug"
	}
	if err := logger.SetLevelString(level); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	cfg := &loadgen.Config{
		BaseURL:     *baseURL,
		Players:     *players,
		Rounds:      *rounds,
		Workers:     *workers,
		Timeout:     *timeout,
		MD5:         *md5,
		PlayMode:    *mode,
		Policy:      model.Policy(*policy),
		TokenSecret: *secret,
		TokenIssuer: *issuer,
		Seed:        *seed,
		Verbose:     *verbose,
	}
	if _, err := loadgen.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "load run failed", logger.Error(err))
		os.Exit(1)
	}
}
