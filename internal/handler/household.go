package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/livinlog/internal/household"
	"github.com/dukerupert/livinlog/internal/model"
	"github.com/dukerupert/livinlog/internal/router"
	"github.com/dukerupert/livinlog/internal/selection"
)

type HouseholdHandler struct {
	households *household.Service
	router     *router.Router
	selection  *selection.Reconciler
	logger     *slog.Logger
}

func NewHouseholdHandler(households *household.Service, r *router.Router, sel *selection.Reconciler, logger *slog.Logger) *HouseholdHandler {
	return &HouseholdHandler{households: households, router: r, selection: sel, logger: logger}
}

// Onboard creates the first household and routes into it.
func (h *HouseholdHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HouseholdName string `json:"household_name"`
		DisplayName   string `json:"display_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	hh, member, err := h.households.Create(r.Context(), req.HouseholdName, req.DisplayName)
	if err != nil {
		h.logger.Warn("onboarding failed", "error", err)
		writeError(w, err)
		return
	}
	if _, err := h.router.Evaluate(r.Context(), router.TriggerOnboardingComplete); err != nil {
		h.logger.Error("route after onboarding", "household_id", hh.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"household": hh,
		"member":    member,
		"route":     h.router.Snapshot(),
	})
}

func (h *HouseholdHandler) Get(w http.ResponseWriter, r *http.Request) {
	hh, err := h.households.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hh)
}

func (h *HouseholdHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	hh, err := h.households.Rename(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hh)
}

// Delete removes an owned household or leaves a shared one.
func (h *HouseholdHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.households.Delete(r.Context(), id); err != nil {
		h.logger.Warn("delete household", "household_id", id, "error", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HouseholdHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.households.Members(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *HouseholdHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	m, err := h.households.AddMember(r.Context(), r.PathValue("id"), req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *HouseholdHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	err := h.households.RemoveMember(r.Context(), r.PathValue("id"), r.PathValue("member_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HouseholdHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	st, err := h.selection.Current()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Select switches the active member within the selected household.
func (h *HouseholdHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID string `json:"member_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.MemberID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "member_id is required"})
		return
	}
	st, err := h.selection.Select(r.Context(), req.MemberID)
	if err != nil {
		if errors.Is(err, selection.ErrNotInHousehold) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "member is not in the selected household"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
