package api

import (
	"context"
	"net/http"

	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
)

// LegacyDependencies checks credentials of pre-migration accounts.
type LegacyDependencies interface {
	CheckLegacyUser(ctx context.Context, usernameOrEmail, password, apiKey string) (model.LegacyUser, error)
}

// LegacyHandler serves the legacy credential check used by older clients.
type LegacyHandler struct {
	deps   LegacyDependencies
	logger logger.Logger
}

// NewLegacyHandler creates a new legacy handler.
func NewLegacyHandler(deps LegacyDependencies, l logger.Logger) *LegacyHandler {
	return &LegacyHandler{deps: deps, logger: l}
}

// HandleCheck handles POST /legacyusers/check with a form body of
// usernameOrEmail, password and apiKey.
func (h *LegacyHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	const op = "api.legacy_check"
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(r.Context(), h.logger, w, WrapKind(op, ErrBadRequest, err))
		return
	}
	u, err := h.deps.CheckLegacyUser(r.Context(),
		r.PostForm.Get("usernameOrEmail"),
		r.PostForm.Get("password"),
		r.PostForm.Get("apiKey"),
	)
	if err != nil {
		writeError(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, legacyUserResponse{ID: u.ID, Username: u.Username, Email: u.Email})
}
