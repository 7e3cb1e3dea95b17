package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/changefeed"
	"github.com/prudhvinik1/inboxsync/internal/events"
	"github.com/prudhvinik1/inboxsync/internal/realtime"
	"github.com/prudhvinik1/inboxsync/internal/repositories"
	"github.com/rs/zerolog/log"
)

var ErrHubClosed = errors.New("sync hub closed")

// SyncHub owns one realtime engine per signed-in account. Engines are created
// on first use and live until Release or Close. Refresh requests published on
// the bus are debounced per account.
type SyncHub struct {
	source   repositories.ConversationSource
	feed     changefeed.Feed
	bus      *events.Bus
	opts     realtime.Options
	debounce time.Duration

	mu          sync.Mutex
	sessions    map[uuid.UUID]*syncSession
	closed      bool
	unsubscribe func()
}

type syncSession struct {
	engine  *realtime.Engine
	refresh *events.Debouncer[uuid.UUID]
}

func NewSyncHub(
	source repositories.ConversationSource,
	feed changefeed.Feed,
	bus *events.Bus,
	opts realtime.Options,
	debounce time.Duration,
) *SyncHub {
	opts.Bus = bus
	h := &SyncHub{
		source:   source,
		feed:     feed,
		bus:      bus,
		opts:     opts,
		debounce: debounce,
		sessions: make(map[uuid.UUID]*syncSession),
	}
	h.unsubscribe = bus.OnRefreshRequested(h.requestRefresh)
	return h
}

// Engine returns the engine tracking userID, starting one if needed. Engines
// start without the hub lock held since bus handlers call back into the hub.
// When two callers race, the first to register wins and the other engine is
// closed.
func (h *SyncHub) Engine(userID uuid.UUID) (*realtime.Engine, error) {
	if engine, err := h.lookup(userID); engine != nil || err != nil {
		return engine, err
	}

	engine := realtime.NewEngine(h.source, h.feed, h.opts)
	if err := engine.Start(userID); err != nil {
		engine.Close()
		return nil, err
	}
	session := &syncSession{
		engine: engine,
		refresh: events.NewDebouncer(h.debounce, func(id uuid.UUID) {
			ctx, cancel := context.WithTimeout(context.Background(), h.fetchTimeout())
			defer cancel()
			if err := engine.Refresh(ctx); err != nil {
				log.Warn().Err(err).Str("user_id", id.String()).Msg("Requested refresh failed")
			}
		}),
	}

	h.mu.Lock()
	existing, ok := h.sessions[userID]
	closed := h.closed
	if !ok && !closed {
		h.sessions[userID] = session
	}
	active := len(h.sessions)
	h.mu.Unlock()

	if closed || ok {
		session.refresh.Stop()
		engine.Close()
		if closed {
			return nil, ErrHubClosed
		}
		return existing.engine, nil
	}
	log.Info().Str("user_id", userID.String()).Int("active", active).Msg("Sync session started")
	return engine, nil
}

func (h *SyncHub) lookup(userID uuid.UUID) (*realtime.Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if s, ok := h.sessions[userID]; ok {
		return s.engine, nil
	}
	return nil, nil
}

func (h *SyncHub) Snapshot(userID uuid.UUID) (realtime.Snapshot, error) {
	engine, err := h.Engine(userID)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	return engine.Snapshot(), nil
}

func (h *SyncHub) Refresh(ctx context.Context, userID uuid.UUID) error {
	engine, err := h.Engine(userID)
	if err != nil {
		return err
	}
	return engine.Refresh(ctx)
}

func (h *SyncHub) Reconnect(userID uuid.UUID) error {
	engine, err := h.Engine(userID)
	if err != nil {
		return err
	}
	return engine.Reconnect()
}

// Release stops tracking userID, for example on sign out. It is a no-op for
// accounts without a session.
func (h *SyncHub) Release(userID uuid.UUID) {
	h.mu.Lock()
	s, ok := h.sessions[userID]
	delete(h.sessions, userID)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.refresh.Stop()
	s.engine.Close()
	log.Info().Str("user_id", userID.String()).Msg("Sync session released")
}

func (h *SyncHub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close releases every session. Later calls to Engine fail with ErrHubClosed.
func (h *SyncHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[uuid.UUID]*syncSession)
	h.mu.Unlock()

	h.unsubscribe()
	for _, s := range sessions {
		s.refresh.Stop()
		s.engine.Close()
	}
	log.Info().Int("sessions", len(sessions)).Msg("Sync hub closed")
}

// requestRefresh ignores accounts that are not being tracked; their next
// session starts with a fresh fetch anyway.
func (h *SyncHub) requestRefresh(userID uuid.UUID) {
	h.mu.Lock()
	s, ok := h.sessions[userID]
	h.mu.Unlock()
	if ok {
		s.refresh.Trigger(userID)
	}
}

func (h *SyncHub) fetchTimeout() time.Duration {
	if h.opts.FetchTimeout > 0 {
		return h.opts.FetchTimeout
	}
	return realtime.DefaultFetchTimeout
}
