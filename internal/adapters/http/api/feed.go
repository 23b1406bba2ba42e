package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
)

// FeedHandler upgrades level subscriptions to websockets.
type FeedHandler struct {
	feed   FeedServer
	logger logger.Logger
}

// NewFeedHandler creates a feed handler. A nil feed answers 404.
func NewFeedHandler(feed FeedServer, l logger.Logger) *FeedHandler {
	return &FeedHandler{feed: feed, logger: l}
}

// HandleFeed handles GET /levels/{md5}/{playMode}/feed.
func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	const op = "api.feed"
	if h.feed == nil {
		writeError(r.Context(), h.logger, w, NewKind(op, ErrUnavailable))
		return
	}
	level, err := model.NewLevel(chi.URLParam(r, "md5"), chi.URLParam(r, "playMode"))
	if err != nil {
		writeError(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	h.feed.ServeWS(w, r, level)
}
