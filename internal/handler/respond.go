package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dukerupert/livinlog/internal/cloud"
	"github.com/dukerupert/livinlog/internal/household"
	"github.com/dukerupert/livinlog/internal/invite"
	"github.com/dukerupert/livinlog/internal/share"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := userMessage(err)
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// userMessage turns a component error into an HTTP status and a message
// fit to show a user.
func userMessage(err error) (int, string) {
	switch {
	case errors.Is(err, share.ErrHouseholdNotFound), errors.Is(err, household.ErrNotFound):
		return http.StatusNotFound, "household not found"
	case errors.Is(err, household.ErrMemberNotFound):
		return http.StatusNotFound, "member not found"
	case errors.Is(err, household.ErrLastMember):
		return http.StatusConflict, "a household needs at least one member"
	case errors.Is(err, household.ErrInvalidName):
		return http.StatusBadRequest, "name is required"
	case errors.Is(err, share.ErrNotOwner):
		return http.StatusForbidden, "only the household owner can change sharing"
	case errors.Is(err, share.ErrShareCreationFailed):
		return http.StatusBadGateway, "couldn't create the share, please try again"
	case errors.Is(err, share.ErrShareNil):
		return http.StatusBadGateway, "the sync service didn't return a share"
	case errors.Is(err, share.ErrPersistTimeout):
		return http.StatusGatewayTimeout, "saving the share is taking longer than expected, check again in a moment"
	case errors.Is(err, invite.ErrAcceptFailed):
		return http.StatusBadGateway, "couldn't accept the invitation, open the link again to retry"
	case errors.Is(err, cloud.ErrAccountUnavailable):
		return http.StatusServiceUnavailable, "sign in to your sync account to continue"
	default:
		return http.StatusInternalServerError, "something went wrong"
	}
}
