package handlers

import (
	"errors"
	"net/http"

	"github.com/prudhvinik1/inboxsync/internal/entitlements"
	"github.com/prudhvinik1/inboxsync/internal/models"
	"github.com/prudhvinik1/inboxsync/internal/services"
)

// EntitlementHandler answers "may I" questions. A denial is a normal 200
// response with allowed=false.
type EntitlementHandler struct {
	entitlements *services.EntitlementService
}

func (h *EntitlementHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.entitlements.Summary(r.Context(), userIDFrom(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type connectChannelRequest struct {
	Channel models.Channel `json:"channel"`
}

func (h *EntitlementHandler) CanConnectChannel(w http.ResponseWriter, r *http.Request) {
	var req connectChannelRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	h.decide(w, r, func() (entitlements.Decision, error) {
		return h.entitlements.CanConnectChannel(r.Context(), userIDFrom(r), req.Channel)
	})
}

func (h *EntitlementHandler) CanSendMessage(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func() (entitlements.Decision, error) {
		return h.entitlements.CanSendMessage(r.Context(), userIDFrom(r))
	})
}

func (h *EntitlementHandler) CanCreateClient(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func() (entitlements.Decision, error) {
		return h.entitlements.CanCreateClient(r.Context(), userIDFrom(r))
	})
}

func (h *EntitlementHandler) decide(w http.ResponseWriter, r *http.Request, check func() (entitlements.Decision, error)) {
	decision, err := check()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *EntitlementHandler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrProfileNotFound):
		writeError(w, r, http.StatusNotFound, "profile_not_found", "profile not found")
	case errors.Is(err, services.ErrUnknownChannel):
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
	default:
		writeInternal(w, r, err)
	}
}
