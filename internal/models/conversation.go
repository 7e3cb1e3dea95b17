package models

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelFacebook  Channel = "facebook"
	ChannelInstagram Channel = "instagram"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelFacebook, ChannelInstagram:
		return true
	}
	return false
}

type ConversationStatus string

const (
	StatusUnread   ConversationStatus = "unread"
	StatusActive   ConversationStatus = "active"
	StatusResolved ConversationStatus = "resolved"
)

type Conversation struct {
	ID            uuid.UUID          `json:"id"`
	UserID        uuid.UUID          `json:"user_id"`
	Channel       Channel            `json:"channel"`
	ClientID      *uuid.UUID         `json:"client_id,omitempty"`
	LastMessageAt time.Time          `json:"last_message_at"`
	Status        ConversationStatus `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
}

// ConversationPatch is a possibly partial conversation row as delivered by a
// change feed. Nil fields were absent from the payload and must not overwrite
// existing values.
type ConversationPatch struct {
	ID            *uuid.UUID          `json:"id,omitempty"`
	UserID        *uuid.UUID          `json:"user_id,omitempty"`
	Channel       *Channel            `json:"channel,omitempty"`
	ClientID      *uuid.UUID          `json:"client_id,omitempty"`
	LastMessageAt *time.Time          `json:"last_message_at,omitempty"`
	Status        *ConversationStatus `json:"status,omitempty"`
	CreatedAt     *time.Time          `json:"created_at,omitempty"`
}

// ApplyTo returns a copy of base with every present field of p merged over it.
// LastMessageAt never moves backwards.
func (p ConversationPatch) ApplyTo(base Conversation) Conversation {
	out := base
	if p.ID != nil {
		out.ID = *p.ID
	}
	if p.UserID != nil {
		out.UserID = *p.UserID
	}
	if p.Channel != nil {
		out.Channel = *p.Channel
	}
	if p.ClientID != nil {
		id := *p.ClientID
		out.ClientID = &id
	}
	if p.LastMessageAt != nil && !p.LastMessageAt.Before(base.LastMessageAt) {
		out.LastMessageAt = *p.LastMessageAt
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.CreatedAt != nil {
		out.CreatedAt = *p.CreatedAt
	}
	return out
}

// Conversation builds a full conversation from the patch, treating absent
// fields as zero values.
func (p ConversationPatch) Conversation() Conversation {
	return p.ApplyTo(Conversation{})
}

// PatchOf returns a patch carrying every field of c.
func PatchOf(c Conversation) ConversationPatch {
	id, userID, channel, status := c.ID, c.UserID, c.Channel, c.Status
	lastMessageAt, createdAt := c.LastMessageAt, c.CreatedAt
	p := ConversationPatch{
		ID:            &id,
		UserID:        &userID,
		Channel:       &channel,
		LastMessageAt: &lastMessageAt,
		Status:        &status,
		CreatedAt:     &createdAt,
	}
	if c.ClientID != nil {
		clientID := *c.ClientID
		p.ClientID = &clientID
	}
	return p
}
