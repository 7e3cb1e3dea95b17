package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/events"
	"github.com/prudhvinik1/inboxsync/internal/models"
	"github.com/prudhvinik1/inboxsync/internal/realtime"
	"github.com/prudhvinik1/inboxsync/internal/services"
)

const streamKeepAlive = 25 * time.Second

type ConversationHandler struct {
	hub           *services.SyncHub
	conversations *services.ConversationService
	bus           *events.Bus
	refreshWait   time.Duration
}

type ConnectionResponse struct {
	Phase             string     `json:"phase"`
	IsConnected       bool       `json:"is_connected"`
	IsConnecting      bool       `json:"is_connecting"`
	LastConnectedAt   *time.Time `json:"last_connected_at"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	Lost              bool       `json:"lost"`
	Error             string     `json:"error,omitempty"`
}

type SnapshotResponse struct {
	Conversations []models.Conversation `json:"conversations"`
	Loading       bool                  `json:"loading"`
	Error         string                `json:"error,omitempty"`
	Connection    ConnectionResponse    `json:"connection"`
}

func newSnapshotResponse(s realtime.Snapshot) SnapshotResponse {
	resp := SnapshotResponse{
		Conversations: s.Conversations,
		Loading:       s.Loading,
		Connection: ConnectionResponse{
			Phase:             s.Connection.Phase.String(),
			IsConnected:       s.Connection.IsConnected,
			IsConnecting:      s.Connection.IsConnecting,
			ReconnectAttempts: s.Connection.ReconnectAttempts,
			Lost:              errors.Is(s.Connection.Err, realtime.ErrConnectionLost),
		},
	}
	if resp.Conversations == nil {
		resp.Conversations = []models.Conversation{}
	}
	if s.Err != nil {
		resp.Error = s.Err.Error()
	}
	if s.Connection.Err != nil {
		resp.Connection.Error = s.Connection.Err.Error()
	}
	if !s.Connection.LastConnectedAt.IsZero() {
		at := s.Connection.LastConnectedAt
		resp.Connection.LastConnectedAt = &at
	}
	return resp
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	snap, err := h.hub.Snapshot(userIDFrom(r))
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotResponse(snap))
}

func (h *ConversationHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	ctx, cancel := context.WithTimeout(r.Context(), h.refreshWait)
	defer cancel()

	if err := h.hub.Refresh(ctx, userID); err != nil {
		snap, _ := h.hub.Snapshot(userID)
		writeJSON(w, http.StatusBadGateway, struct {
			errorResponse
			Snapshot SnapshotResponse `json:"snapshot"`
		}{
			errorResponse: errorResponse{Code: "fetch_failed", Message: err.Error()},
			Snapshot:      newSnapshotResponse(snap),
		})
		return
	}
	h.List(w, r)
}

func (h *ConversationHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.Reconnect(userIDFrom(r)); err != nil {
		writeInternal(w, r, err)
		return
	}
	h.List(w, r)
}

// Stream sends the current snapshot and every later one as server-sent
// events until the client goes away.
func (h *ConversationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
		return
	}
	userID := userIDFrom(r)

	// Latest snapshot wins when the client reads slower than updates arrive.
	updates := make(chan realtime.Snapshot, 1)
	unsubscribe := realtime.Observe(h.bus, userID, func(s realtime.Snapshot) {
		select {
		case updates <- s:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- s:
			default:
			}
		}
	})
	defer unsubscribe()

	snap, err := h.hub.Snapshot(userID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, snap); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case s := <-updates:
			if err := writeEvent(w, s); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, s realtime.Snapshot) error {
	data, err := json.Marshal(newSnapshotResponse(s))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}

// EndSession stops syncing for the caller, as on sign out.
func (h *ConversationHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.hub.Release(userIDFrom(r))
	w.WriteHeader(http.StatusNoContent)
}

type recordActivityRequest struct {
	ID       *uuid.UUID     `json:"id"`
	Channel  models.Channel `json:"channel"`
	ClientID *uuid.UUID     `json:"client_id"`
	At       *time.Time     `json:"last_message_at"`
}

func (h *ConversationHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	var req recordActivityRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	in := services.RecordActivityRequest{ID: req.ID, Channel: req.Channel, ClientID: req.ClientID}
	if req.At != nil {
		in.At = *req.At
	}

	conv, err := h.conversations.RecordActivity(r.Context(), userIDFrom(r), in)
	if err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type updateStatusRequest struct {
	Status models.ConversationStatus `json:"status"`
}

func (h *ConversationHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	var req updateStatusRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	conv, err := h.conversations.UpdateStatus(r.Context(), userIDFrom(r), id, req.Status)
	if err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	if err := h.conversations.Delete(r.Context(), userIDFrom(r), id); err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) writeWriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "conversation not found")
	case errors.Is(err, services.ErrInvalidConversation):
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
	default:
		writeInternal(w, r, err)
	}
}

func conversationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid conversation id")
		return uuid.Nil, false
	}
	return id, true
}
