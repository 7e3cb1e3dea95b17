package entitlements

import "github.com/prudhvinik1/inboxsync/internal/models"

var defaultEvaluator = mustEvaluator(DefaultPlanLimits)

func mustEvaluator(limits PlanLimits) *Evaluator {
	e, err := NewEvaluator(limits)
	if err != nil {
		panic(err)
	}
	return e
}

func GetChannelPermissions(p models.Profile) ChannelPermissions {
	return defaultEvaluator.ChannelPermissions(p)
}

func CanConnectChannel(p models.Profile, channel models.Channel, currentChannelCount, totalChannelCount int) Decision {
	return defaultEvaluator.CanConnectChannel(p, channel, currentChannelCount, totalChannelCount)
}

func CanSendMessage(p models.Profile) Decision {
	return defaultEvaluator.CanSendMessage(p)
}

func CanCreateClient(p models.Profile, currentClientCount int) Decision {
	return defaultEvaluator.CanCreateClient(p, currentClientCount)
}

func GetCRMLevel(p models.Profile) models.CRMLevel {
	return defaultEvaluator.CRMLevel(p)
}

func HasStatisticsAccess(p models.Profile) bool {
	return defaultEvaluator.HasStatisticsAccess(p)
}

func GetMessageUsagePercentage(p models.Profile) int {
	return defaultEvaluator.MessageUsagePercentage(p)
}

func GetClientUsagePercentage(p models.Profile, currentClientCount int) int {
	return defaultEvaluator.ClientUsagePercentage(p, currentClientCount)
}
