package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
)

// LeaderboardDependencies defines the read operations for charts and levels.
type LeaderboardDependencies interface {
	Leaderboard(ctx context.Context, md5, playMode string, limit int) ([]model.LeaderboardRow, error)
	Chart(ctx context.Context, md5 string) ([]storage.LevelSummary, error)
}

// LeaderboardHandler serves chart and level reads.
type LeaderboardHandler struct {
	deps   LeaderboardDependencies
	logger logger.Logger
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, l logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps, logger: l}
}

// HandleGetChart handles GET /charts/{md5}.
func (h *LeaderboardHandler) HandleGetChart(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_chart"
	levels, err := h.deps.Chart(r.Context(), chi.URLParam(r, "md5"))
	if err != nil {
		writeError(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	md5, _ := model.ParseMD5(chi.URLParam(r, "md5"))
	writeJSON(w, http.StatusOK, toChart(md5, levels))
}

// HandleGetLeaderboard handles GET /charts/{md5}/levels/{playMode}/leaderboard?max=N.
// Without max the service default applies; larger values are capped.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	limit := 0
	if s := r.URL.Query().Get("max"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(r.Context(), h.logger, w, WrapKind(op, ErrBadRequest, err))
			return
		}
		limit = n
	}
	rows, err := h.deps.Leaderboard(r.Context(), chi.URLParam(r, "md5"), chi.URLParam(r, "playMode"), limit)
	if err != nil {
		writeError(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, toRows(rows))
}
