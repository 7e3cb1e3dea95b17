package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/entitlements"
	"github.com/prudhvinik1/inboxsync/internal/models"
	"github.com/prudhvinik1/inboxsync/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntitlementService(t *testing.T, profile models.Profile, channels repositories.ChannelCounts, clients int) *EntitlementService {
	t.Helper()
	evaluator, err := entitlements.NewEvaluator(entitlements.DefaultPlanLimits)
	require.NoError(t, err)
	return NewEntitlementService(
		&fakeProfiles{profiles: map[uuid.UUID]models.Profile{profile.UserID: profile}},
		&fakeChannels{counts: map[uuid.UUID]repositories.ChannelCounts{profile.UserID: channels}},
		&fakeClients{counts: map[uuid.UUID]int{profile.UserID: clients}},
		evaluator,
	)
}

func TestEntitlementService_Summary(t *testing.T) {
	// ARRANGE
	userID := uuid.New()
	profile := models.Profile{
		UserID:                userID,
		PlanType:              models.PlanBasico,
		PaymentStatus:         models.PaymentActive,
		MessagesSentThisMonth: 5000,
	}
	channels := repositories.ChannelCounts{Total: 1, ByChannel: map[models.Channel]int{models.ChannelWhatsApp: 1}}
	svc := newEntitlementService(t, profile, channels, 125)

	// ACT
	summary, err := svc.Summary(context.Background(), userID)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, models.PlanBasico, summary.PlanType)
	assert.Equal(t, 50, summary.MessageUsagePercent)
	assert.Equal(t, 25, summary.ClientUsagePercent)
	assert.Equal(t, models.CRMBasic, summary.CRMLevel)
	assert.False(t, summary.HasStatistics)
	assert.Equal(t, 1, summary.Channels.MaxChannels)
	assert.Equal(t, 1, summary.ConnectedChannels.Total)
	assert.True(t, summary.CanSendMessage.Allowed)
	assert.True(t, summary.CanCreateClient.Allowed)
}

func TestEntitlementService_CanConnectChannelUsesCounts(t *testing.T) {
	// ARRANGE
	userID := uuid.New()
	profile := models.Profile{UserID: userID, PlanType: models.PlanBasico, PaymentStatus: models.PaymentActive}
	channels := repositories.ChannelCounts{Total: 1, ByChannel: map[models.Channel]int{models.ChannelFacebook: 1}}
	svc := newEntitlementService(t, profile, channels, 0)

	// ACT
	decision, err := svc.CanConnectChannel(context.Background(), userID, models.ChannelInstagram)

	// ASSERT
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "1 canal")
}

func TestEntitlementService_UnknownChannelIsAnError(t *testing.T) {
	userID := uuid.New()
	svc := newEntitlementService(t, models.Profile{UserID: userID, PlanType: models.PlanPro}, repositories.ChannelCounts{}, 0)

	assert.NotPanics(t, func() {
		_, err := svc.CanConnectChannel(context.Background(), userID, models.Channel("telegram"))
		assert.ErrorIs(t, err, ErrUnknownChannel)
	})
}

func TestEntitlementService_SendAndCreate(t *testing.T) {
	userID := uuid.New()
	profile := models.Profile{
		UserID:                userID,
		PlanType:              models.PlanBasico,
		PaymentStatus:         models.PaymentActive,
		MessagesSentThisMonth: 10000,
	}
	svc := newEntitlementService(t, profile, repositories.ChannelCounts{}, 500)

	send, err := svc.CanSendMessage(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, send.Allowed)

	create, err := svc.CanCreateClient(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, create.Allowed)
	assert.NotEmpty(t, create.Reason)
}

func TestEntitlementService_MissingProfile(t *testing.T) {
	svc := newEntitlementService(t, models.Profile{UserID: uuid.New()}, repositories.ChannelCounts{}, 0)

	_, err := svc.Summary(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrProfileNotFound)

	_, err = svc.CanSendMessage(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestEntitlementService_RepositoryErrorsAreWrapped(t *testing.T) {
	userID := uuid.New()
	evaluator, err := entitlements.NewEvaluator(entitlements.DefaultPlanLimits)
	require.NoError(t, err)
	svc := NewEntitlementService(
		&fakeProfiles{profiles: map[uuid.UUID]models.Profile{userID: {UserID: userID, PlanType: models.PlanPro}}},
		&fakeChannels{err: errors.New("db down")},
		&fakeClients{},
		evaluator,
	)

	_, err = svc.CanConnectChannel(context.Background(), userID, models.ChannelWhatsApp)

	assert.ErrorContains(t, err, "failed to count channels")
	assert.ErrorContains(t, err, "db down")
}
