package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/models"
)

var ErrNotFound = errors.New("not found")

// ConversationSource is the read side the realtime engine needs: every
// conversation of one account, newest activity first.
type ConversationSource interface {
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error)
}

type ConversationRepository interface {
	ConversationSource
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	Upsert(ctx context.Context, conversation *models.Conversation) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type ProfileRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

// ChannelCounts are the connected channels of an account, in total and per type.
type ChannelCounts struct {
	Total     int                    `json:"total"`
	ByChannel map[models.Channel]int `json:"by_channel"`
}

func (c ChannelCounts) Of(channel models.Channel) int {
	return c.ByChannel[channel]
}

type ChannelRepository interface {
	CountByUserID(ctx context.Context, userID uuid.UUID) (ChannelCounts, error)
}

type ClientRepository interface {
	CountByUserID(ctx context.Context, userID uuid.UUID) (int, error)
}

type RoleRepository interface {
	HasRole(ctx context.Context, userID uuid.UUID, role models.Role) (bool, error)
}
