package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
)

// PlayersDependencies defines the identity operations used by the handler.
type PlayersDependencies interface {
	RegisterPlayer(ctx context.Context, name string) (model.Player, error)
	GetPlayer(ctx context.Context, name string) (*model.Player, error)
	LinkPlayer(ctx context.Context, playerID string, proof model.CredentialProof) (model.Player, error)
}

// PlayersHandler serves registration, lookup and linking.
type PlayersHandler struct {
	deps   PlayersDependencies
	logger logger.Logger
}

// NewPlayersHandler creates a new players handler.
func NewPlayersHandler(deps PlayersDependencies, l logger.Logger) *PlayersHandler {
	return &PlayersHandler{deps: deps, logger: l}
}

type registerPlayerRequest struct {
	Name string `json:"name"`
}

type linkPlayerRequest struct {
	JWT             string `json:"jwt"`
	PlayerID        string `json:"playerId"`
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
	APIKey          string `json:"apiKey"`
}

// HandleRegisterPlayer handles POST /players.
func (h *PlayersHandler) HandleRegisterPlayer(w http.ResponseWriter, r *http.Request) {
	const op = "api.register_player"
	var req registerPlayerRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		writeError(r.Context(), h.logger, w, err)
		return
	}
	p, err := h.deps.RegisterPlayer(r.Context(), req.Name)
	if err != nil {
		writeError(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, toPlayer(p))
}

// HandleGetPlayer handles GET /players/{name}. An unknown name answers
// 200 with a JSON null.
func (h *PlayersHandler) HandleGetPlayer(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_player"
	p, err := h.deps.GetPlayer(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	if p == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toPlayer(*p))
}

// HandleLinkPlayer handles POST /players/link.
func (h *PlayersHandler) HandleLinkPlayer(w http.ResponseWriter, r *http.Request) {
	const op = "api.link_player"
	var req linkPlayerRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		writeError(r.Context(), h.logger, w, err)
		return
	}
	proof := model.CredentialProof{
		Token:           req.JWT,
		UsernameOrEmail: req.UsernameOrEmail,
		Password:        req.Password,
		APIKey:          req.APIKey,
	}
	if proof.Token == "" && !proof.UsesPassword() {
		writeError(r.Context(), h.logger, w, NewKind(op, ErrBadRequest))
		return
	}
	p, err := h.deps.LinkPlayer(r.Context(), req.PlayerID, proof)
	if err != nil {
		writeError(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, toPlayer(p))
}
