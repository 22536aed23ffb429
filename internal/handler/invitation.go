package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/livinlog/internal/invite"
)

type InvitationHandler struct {
	flow   *invite.Flow
	logger *slog.Logger
}

func NewInvitationHandler(flow *invite.Flow, logger *slog.Logger) *InvitationHandler {
	return &InvitationHandler{flow: flow, logger: logger}
}

// Accept takes an invitation token handed over by the host and accepts it.
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	hid, err := h.flow.Accept(r.Context(), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"household_id": hid,
		"status":       h.flow.Status(),
	})
}

func (h *InvitationHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.flow.Status())
}
