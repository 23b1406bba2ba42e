// Package api exposes the scoreboard over HTTP+JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okian/scoreboard/internal/adapters/http/swagger"
	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
)

const (
	defaultRequestTimeout = 5 * time.Second
	maxBodyBytes          = 1 << 20
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	RegisterPlayer(ctx context.Context, name string) (model.Player, error)
	GetPlayer(ctx context.Context, name string) (*model.Player, error)
	LinkPlayer(ctx context.Context, playerID string, proof model.CredentialProof) (model.Player, error)
	CheckLegacyUser(ctx context.Context, usernameOrEmail, password, apiKey string) (model.LegacyUser, error)

	RegisterScore(ctx context.Context, token, md5, playMode string, in model.ScoreInput, limit int) (model.ScoreResult, error)
	Leaderboard(ctx context.Context, md5, playMode string, limit int) ([]model.LeaderboardRow, error)
	Chart(ctx context.Context, md5 string) ([]storage.LevelSummary, error)
	Records(ctx context.Context, token string, levels []string) ([]model.LeaderboardRow, error)
}

// FeedServer upgrades a request into a live subscription on one level.
type FeedServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, level model.Level)
}

// Server wires HTTP routes for the business API.
type Server struct {
	players     *PlayersHandler
	scores      *ScoresHandler
	leaderboard *LeaderboardHandler
	legacy      *LegacyHandler
	feed        *FeedHandler
	health      *HealthHandler
	stats       *StatsHandler

	limiter *rateLimiter
	timeout time.Duration
	logger  logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	o := options{
		timeout: defaultRequestTimeout,
		logger:  logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		players:     NewPlayersHandler(deps, o.logger),
		scores:      NewScoresHandler(deps, o.logger),
		leaderboard: NewLeaderboardHandler(deps, o.logger),
		legacy:      NewLegacyHandler(deps, o.logger),
		feed:        NewFeedHandler(o.feed, o.logger),
		health:      NewHealthHandler(),
		stats:       NewStatsHandler(o.stats),
		limiter:     newRateLimiter(o.rps, o.burst, o.clock),
		timeout:     o.timeout,
		logger:      o.logger,
	}
}

// Router builds the chi route tree.
func (s *Server) Router(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.health.HandleHealth)
	r.Get("/metrics", s.health.HandleMetrics)
	r.Get("/stats", s.stats.HandleStats)
	swagger.Register(ctx, r)

	// The feed holds its connection open; it stays outside the deadline.
	r.Get("/levels/{md5}/{playMode}/feed", s.feed.HandleFeed)

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(s.timeout))

		r.Get("/charts/{md5}", s.leaderboard.HandleGetChart)
		r.Get("/charts/{md5}/levels/{playMode}/leaderboard", s.leaderboard.HandleGetLeaderboard)
		r.Get("/players/{name}", s.players.HandleGetPlayer)
		r.Get("/me/records", s.scores.HandleGetRecords)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)

			r.Post("/players", s.players.HandleRegisterPlayer)
			r.Post("/players/link", s.players.HandleLinkPlayer)
			r.Post("/scores", s.scores.HandleRegisterScore)
			r.Post("/legacyusers/check", s.legacy.HandleCheck)
		})
	})
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status and writes the error body. Server-side
// failures are logged and reported without their cause.
func writeError(ctx context.Context, log logger.Logger, w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error(ctx, "request failed", logger.String("code", code), logger.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return NewKind(op, ErrBadRequest)
	case errors.Is(err, model.ErrInvalidScore):
		return Wrap(op, err)
	default:
		return WrapKind(op, ErrBadRequest, err)
	}
}
