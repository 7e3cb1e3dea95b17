// Package handlers is the HTTP surface of the sync service.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prudhvinik1/inboxsync/internal/cache"
	"github.com/prudhvinik1/inboxsync/internal/events"
	"github.com/prudhvinik1/inboxsync/internal/services"
)

type Dependencies struct {
	Auth         TokenVerifier
	Hub          *services.SyncHub
	Entitlements *services.EntitlementService
	// Conversations is nil when the backend offers no write path.
	Conversations *services.ConversationService
	Roles         *cache.RoleCache
	Bus           *events.Bus
	// RefreshTimeout bounds POST /v1/conversations/refresh.
	RefreshTimeout time.Duration
}

func NewRouter(deps Dependencies) http.Handler {
	refreshWait := deps.RefreshTimeout
	if refreshWait <= 0 {
		refreshWait = 15 * time.Second
	}
	conversations := &ConversationHandler{
		hub:           deps.Hub,
		conversations: deps.Conversations,
		bus:           deps.Bus,
		refreshWait:   refreshWait,
	}
	entitlementHandler := &EntitlementHandler{entitlements: deps.Entitlements}
	admin := &AdminHandler{roles: deps.Roles}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// Health check endpoints
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.Route("/v1", func(r chi.Router) {
		r.Use(Authenticate(deps.Auth))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversations.List)
			r.Get("/stream", conversations.Stream)
			r.Post("/refresh", conversations.Refresh)
			r.Post("/reconnect", conversations.Reconnect)
			if deps.Conversations != nil {
				r.Post("/", conversations.RecordActivity)
				r.Patch("/{id}", conversations.UpdateStatus)
				r.Delete("/{id}", conversations.Delete)
			}
		})
		r.Delete("/session", conversations.EndSession)

		r.Route("/entitlements", func(r chi.Router) {
			r.Get("/", entitlementHandler.Summary)
			r.Post("/channel", entitlementHandler.CanConnectChannel)
			r.Post("/message", entitlementHandler.CanSendMessage)
			r.Post("/client", entitlementHandler.CanCreateClient)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/me", admin.Me)
			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin(deps.Roles))
				r.Delete("/roles/cache", admin.ClearRoles)
				r.Delete("/roles/cache/{userID}", admin.InvalidateRole)
			})
		})
	})

	return router
}
