package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/entitlements"
	"github.com/prudhvinik1/inboxsync/internal/models"
	"github.com/prudhvinik1/inboxsync/internal/repositories"
	"github.com/rs/zerolog/log"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrUnknownChannel  = errors.New("unknown channel type")
)

// EntitlementService loads an account's profile and resource counts and asks
// the evaluator what the account may do.
type EntitlementService struct {
	profiles  repositories.ProfileRepository
	channels  repositories.ChannelRepository
	clients   repositories.ClientRepository
	evaluator *entitlements.Evaluator
}

type EntitlementSummary struct {
	PlanType              models.PlanType                 `json:"plan_type"`
	IsTrial               bool                            `json:"is_trial"`
	PaymentStatus         models.PaymentStatus            `json:"payment_status"`
	Channels              entitlements.ChannelPermissions `json:"channels"`
	ConnectedChannels     repositories.ChannelCounts      `json:"connected_channels"`
	CRMLevel              models.CRMLevel                 `json:"crm_level"`
	HasStatistics         bool                            `json:"has_statistics"`
	MessagesSentThisMonth int                             `json:"messages_sent_this_month"`
	MessageUsagePercent   int                             `json:"message_usage_percent"`
	ClientCount           int                             `json:"client_count"`
	ClientUsagePercent    int                             `json:"client_usage_percent"`
	CanSendMessage        entitlements.Decision           `json:"can_send_message"`
	CanCreateClient       entitlements.Decision           `json:"can_create_client"`
}

func NewEntitlementService(
	profiles repositories.ProfileRepository,
	channels repositories.ChannelRepository,
	clients repositories.ClientRepository,
	evaluator *entitlements.Evaluator,
) *EntitlementService {
	return &EntitlementService{
		profiles:  profiles,
		channels:  channels,
		clients:   clients,
		evaluator: evaluator,
	}
}

func (s *EntitlementService) Summary(ctx context.Context, userID uuid.UUID) (*EntitlementSummary, error) {
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	channels, err := s.channels.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count channels: %w", err)
	}
	clients, err := s.clients.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count clients: %w", err)
	}

	return &EntitlementSummary{
		PlanType:              profile.PlanType,
		IsTrial:               profile.IsTrial,
		PaymentStatus:         profile.PaymentStatus,
		Channels:              s.evaluator.ChannelPermissions(*profile),
		ConnectedChannels:     channels,
		CRMLevel:              s.evaluator.CRMLevel(*profile),
		HasStatistics:         s.evaluator.HasStatisticsAccess(*profile),
		MessagesSentThisMonth: profile.MessagesSentThisMonth,
		MessageUsagePercent:   s.evaluator.MessageUsagePercentage(*profile),
		ClientCount:           clients,
		ClientUsagePercent:    s.evaluator.ClientUsagePercentage(*profile, clients),
		CanSendMessage:        s.evaluator.CanSendMessage(*profile),
		CanCreateClient:       s.evaluator.CanCreateClient(*profile, clients),
	}, nil
}

// CanConnectChannel validates channel before it reaches the evaluator, which
// treats an unknown type as a programming error.
func (s *EntitlementService) CanConnectChannel(ctx context.Context, userID uuid.UUID, channel models.Channel) (entitlements.Decision, error) {
	if !channel.Valid() {
		return entitlements.Decision{}, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return entitlements.Decision{}, err
	}
	counts, err := s.channels.CountByUserID(ctx, userID)
	if err != nil {
		return entitlements.Decision{}, fmt.Errorf("failed to count channels: %w", err)
	}

	decision := s.evaluator.CanConnectChannel(*profile, channel, counts.Of(channel), counts.Total)
	s.logDenial(userID, "connect_channel", decision)
	return decision, nil
}

func (s *EntitlementService) CanSendMessage(ctx context.Context, userID uuid.UUID) (entitlements.Decision, error) {
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return entitlements.Decision{}, err
	}
	decision := s.evaluator.CanSendMessage(*profile)
	s.logDenial(userID, "send_message", decision)
	return decision, nil
}

func (s *EntitlementService) CanCreateClient(ctx context.Context, userID uuid.UUID) (entitlements.Decision, error) {
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return entitlements.Decision{}, err
	}
	clients, err := s.clients.CountByUserID(ctx, userID)
	if err != nil {
		return entitlements.Decision{}, fmt.Errorf("failed to count clients: %w", err)
	}
	decision := s.evaluator.CanCreateClient(*profile, clients)
	s.logDenial(userID, "create_client", decision)
	return decision, nil
}

func (s *EntitlementService) profile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

func (s *EntitlementService) logDenial(userID uuid.UUID, action string, d entitlements.Decision) {
	if d.Allowed {
		return
	}
	log.Info().Str("user_id", userID.String()).Str("action", action).Str("reason", d.Reason).Msg("Entitlement denied")
}
