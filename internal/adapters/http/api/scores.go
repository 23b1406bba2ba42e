package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
)

// ScoresDependencies defines the score operations used by the handler.
type ScoresDependencies interface {
	RegisterScore(ctx context.Context, token, md5, playMode string, in model.ScoreInput, limit int) (model.ScoreResult, error)
	Records(ctx context.Context, token string, levels []string) ([]model.LeaderboardRow, error)
}

// ScoresHandler serves score registration and the caller's own records.
type ScoresHandler struct {
	deps   ScoresDependencies
	logger logger.Logger
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(deps ScoresDependencies, l logger.Logger) *ScoresHandler {
	return &ScoresHandler{deps: deps, logger: l}
}

type registerScoreRequest struct {
	JWT      string           `json:"jwt"`
	MD5      string           `json:"md5"`
	PlayMode string           `json:"playMode"`
	Input    model.ScoreInput `json:"input"`
	Max      int              `json:"max"`
}

// HandleRegisterScore handles POST /scores.
func (h *ScoresHandler) HandleRegisterScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.register_score"
	var req registerScoreRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		writeError(r.Context(), h.logger, w, err)
		return
	}
	if req.Max < 0 {
		writeError(r.Context(), h.logger, w, NewKind(op, ErrBadRequest))
		return
	}
	res, err := h.deps.RegisterScore(r.Context(), tokenFrom(r, req.JWT), req.MD5, req.PlayMode, req.Input, req.Max)
	if err != nil {
		writeError(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, toScoreResponse(res))
}

// HandleGetRecords handles GET /me/records?jwt=&levels=md5:MODE,...
func (h *ScoresHandler) HandleGetRecords(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_records"
	q := r.URL.Query()
	var levels []string
	for _, v := range q["levels"] {
		for _, key := range strings.Split(v, ",") {
			if key = strings.TrimSpace(key); key != "" {
				levels = append(levels, key)
			}
		}
	}
	rows, err := h.deps.Records(r.Context(), tokenFrom(r, q.Get("jwt")), levels)
	if err != nil {
		writeError(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, toRows(rows))
}

// tokenFrom prefers an explicit token and falls back to a bearer header.
func tokenFrom(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
