package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/changefeed"
	"github.com/prudhvinik1/inboxsync/internal/events"
	"github.com/prudhvinik1/inboxsync/internal/models"
	"github.com/prudhvinik1/inboxsync/internal/repositories"
	"github.com/rs/zerolog/log"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidConversation  = errors.New("invalid conversation")
)

// ConversationService is the write path for conversations. When the change
// feed is not fed by a database trigger a publisher forwards each change.
type ConversationService struct {
	repo      repositories.ConversationRepository
	publisher changefeed.Publisher
	bus       *events.Bus
}

// NewConversationService accepts a nil publisher when the feed observes the
// table directly.
func NewConversationService(repo repositories.ConversationRepository, publisher changefeed.Publisher, bus *events.Bus) *ConversationService {
	return &ConversationService{
		repo:      repo,
		publisher: publisher,
		bus:       bus,
	}
}

type RecordActivityRequest struct {
	ID       *uuid.UUID
	Channel  models.Channel
	ClientID *uuid.UUID
	At       time.Time
}

// RecordActivity creates the conversation or bumps its last activity.
func (s *ConversationService) RecordActivity(ctx context.Context, userID uuid.UUID, req RecordActivityRequest) (*models.Conversation, error) {
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidConversation, req.Channel)
	}
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}

	conv := &models.Conversation{
		UserID:        userID,
		Channel:       req.Channel,
		ClientID:      req.ClientID,
		LastMessageAt: at.UTC(),
		Status:        models.StatusUnread,
	}
	created := req.ID == nil
	if req.ID != nil {
		existing, err := s.owned(ctx, userID, *req.ID)
		if err != nil && !errors.Is(err, ErrConversationNotFound) {
			return nil, err
		}
		created = existing == nil
		conv.ID = *req.ID
		if existing != nil {
			conv.Channel = existing.Channel
			conv.CreatedAt = existing.CreatedAt
			if conv.ClientID == nil {
				conv.ClientID = existing.ClientID
			}
		}
	}

	if err := s.repo.Upsert(ctx, conv); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to record activity: %w", err)
	}

	ev := models.Updated(models.PatchOf(*conv))
	if created {
		ev = models.Inserted(*conv)
	}
	s.publish(ctx, userID, ev)
	return conv, nil
}

func (s *ConversationService) UpdateStatus(ctx context.Context, userID, id uuid.UUID, status models.ConversationStatus) (*models.Conversation, error) {
	switch status {
	case models.StatusUnread, models.StatusActive, models.StatusResolved:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidConversation, status)
	}

	conv, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	conv.Status = status

	s.publish(ctx, userID, models.Updated(models.ConversationPatch{ID: &conv.ID, UserID: &userID, Status: &status}))
	return conv, nil
}

func (s *ConversationService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	s.publish(ctx, userID, models.Deleted(id))
	return nil
}

// owned loads a conversation and hides those of other accounts.
func (s *ConversationService) owned(ctx context.Context, userID, id uuid.UUID) (*models.Conversation, error) {
	conv, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv.UserID != userID {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// publish forwards a change to the feed when one is configured and asks the
// account's sync session to refetch. Neither failure undoes the write.
func (s *ConversationService) publish(ctx context.Context, userID uuid.UUID, ev models.ChangeEvent) {
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, userID, ev); err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Str("type", string(ev.Type)).Msg("Failed to publish change")
		}
	}
	if s.bus != nil {
		s.bus.RequestRefresh(userID)
	}
}
