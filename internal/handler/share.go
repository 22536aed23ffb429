package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/livinlog/internal/household"
	"github.com/dukerupert/livinlog/internal/model"
	"github.com/dukerupert/livinlog/internal/share"
)

type ShareHandler struct {
	sharing    *share.Coordinator
	households *household.Service
	logger     *slog.Logger
}

func NewShareHandler(sharing *share.Coordinator, households *household.Service, logger *slog.Logger) *ShareHandler {
	return &ShareHandler{sharing: sharing, households: households, logger: logger}
}

// shareView is a share with the outcome of the last share operation on its
// household.
type shareView struct {
	*model.ShareRecord
	LastStatus *share.Status `json:"last_status,omitempty"`
}

func (h *ShareHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.sharing.Lookup(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	var last *share.Status
	if st, ok := h.sharing.LastStatus(id); ok {
		last = &st
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":       "household is not shared",
			"last_status": last,
		})
		return
	}
	writeJSON(w, http.StatusOK, shareView{ShareRecord: rec, LastStatus: last})
}

// Share returns the household's share, creating it on first use.
func (h *ShareHandler) Share(w http.ResponseWriter, r *http.Request) {
	hh, err := h.households.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.sharing.FetchOrCreate(r.Context(), hh)
	if err != nil {
		h.logger.Warn("share household", "household_id", hh.ID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Stop ends sharing for whatever share the backend holds for the household.
func (h *ShareHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.sharing.StopSharing(r.Context(), id)
	if err != nil {
		h.logger.Warn("stop sharing", "household_id", id, "error", err)
		writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "household is not shared"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ShareHandler) SetPolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permission string `json:"permission"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	p, err := model.ParsePermission(req.Permission)
	if err != nil || req.Permission == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "permission must be inviteOnly, publicReadOnly or publicReadWrite"})
		return
	}
	rec, err := h.sharing.ResetPolicy(r.Context(), r.PathValue("id"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
