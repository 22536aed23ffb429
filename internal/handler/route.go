package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/livinlog/internal/router"
)

type RouteHandler struct {
	router *router.Router
	logger *slog.Logger
}

func NewRouteHandler(r *router.Router, logger *slog.Logger) *RouteHandler {
	return &RouteHandler{router: r, logger: logger}
}

func (h *RouteHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.router.Snapshot())
}

// Retry re-runs routing, typically from the sync-unavailable screen.
func (h *RouteHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if _, err := h.router.Evaluate(r.Context(), router.TriggerRetry); err != nil {
		h.logger.Error("retry route", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.router.Snapshot())
}
