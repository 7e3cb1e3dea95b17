package realtime

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/models"
)

var (
	// ErrConnectionLost is the terminal state reached once every automatic
	// reconnect attempt has failed. Only Reconnect or a new Start leaves it.
	ErrConnectionLost = errors.New("realtime connection lost")
	ErrNotStarted     = errors.New("realtime engine not started")
	ErrEngineClosed   = errors.New("realtime engine closed")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseDisconnected
	PhaseLost
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseLost:
		return "lost"
	}
	return "unknown"
}

type ConnectionState struct {
	Phase             Phase
	IsConnected       bool
	IsConnecting      bool
	LastConnectedAt   time.Time
	ReconnectAttempts int
	// Err is ErrConnectionLost in PhaseLost and nil otherwise.
	Err error
}

// Snapshot is a point-in-time copy of what an engine knows about one account.
// Err holds the last fetch failure and is cleared by the next successful fetch.
type Snapshot struct {
	UserID        uuid.UUID
	Conversations []models.Conversation
	Loading       bool
	Err           error
	Connection    ConnectionState
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Conversations = make([]models.Conversation, len(s.Conversations))
	for i, c := range s.Conversations {
		out.Conversations[i] = c
		if c.ClientID != nil {
			id := *c.ClientID
			out.Conversations[i].ClientID = &id
		}
	}
	return out
}
