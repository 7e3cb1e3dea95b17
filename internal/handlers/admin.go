package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/cache"
)

type AdminHandler struct {
	roles *cache.RoleCache
}

type meResponse struct {
	UserID  uuid.UUID `json:"user_id"`
	Email   string    `json:"email,omitempty"`
	IsAdmin bool      `json:"is_admin"`
}

func (h *AdminHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	isAdmin, err := h.roles.IsAdmin(r.Context(), claims.UserID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{UserID: claims.UserID, Email: claims.Email, IsAdmin: isAdmin})
}

// InvalidateRole drops one cached role lookup, after a grant or revoke.
func (h *AdminHandler) InvalidateRole(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid user id")
		return
	}
	h.roles.Invalidate(userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) ClearRoles(w http.ResponseWriter, r *http.Request) {
	h.roles.Clear()
	w.WriteHeader(http.StatusNoContent)
}
