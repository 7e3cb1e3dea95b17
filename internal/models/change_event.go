package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInserted EventType = "INSERT"
	EventUpdated  EventType = "UPDATE"
	EventDeleted  EventType = "DELETE"
)

// ChangeEvent is one remote mutation of the conversations table. Row is set
// for inserts and updates; deletes only carry ID.
type ChangeEvent struct {
	Type       EventType         `json:"type"`
	ID         uuid.UUID         `json:"id"`
	Row        ConversationPatch `json:"row"`
	ReceivedAt time.Time         `json:"received_at"`
}

func Inserted(c Conversation) ChangeEvent {
	return ChangeEvent{Type: EventInserted, ID: c.ID, Row: PatchOf(c), ReceivedAt: time.Now()}
}

func Updated(p ConversationPatch) ChangeEvent {
	ev := ChangeEvent{Type: EventUpdated, Row: p, ReceivedAt: time.Now()}
	if p.ID != nil {
		ev.ID = *p.ID
	}
	return ev
}

func Deleted(id uuid.UUID) ChangeEvent {
	return ChangeEvent{Type: EventDeleted, ID: id, ReceivedAt: time.Now()}
}

// Valid reports whether the event has a known type and an id.
func (e ChangeEvent) Valid() bool {
	if e.ID == uuid.Nil {
		return false
	}
	switch e.Type {
	case EventInserted, EventUpdated, EventDeleted:
		return true
	}
	return false
}
