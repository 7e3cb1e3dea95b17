package entitlements

import (
	"fmt"
	"math"

	"github.com/prudhvinik1/inboxsync/internal/models"
)

// ChannelPermissions describes which channel types an account may connect and
// how many of them.
type ChannelPermissions struct {
	WhatsApp            bool `json:"whatsapp"`
	Facebook            bool `json:"facebook"`
	Instagram           bool `json:"instagram"`
	MaxWhatsAppChannels int  `json:"max_whatsapp_channels"`
	MaxChannels         int  `json:"max_channels"`
}

func (p ChannelPermissions) allows(channel models.Channel) bool {
	switch channel {
	case models.ChannelWhatsApp:
		return p.WhatsApp
	case models.ChannelFacebook:
		return p.Facebook
	case models.ChannelInstagram:
		return p.Instagram
	}
	panic(fmt.Sprintf("entitlements: unknown channel type %q", channel))
}

// Decision is the outcome of an entitlement check. A denial is not an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Evaluator computes entitlements from a profile snapshot. It holds no state
// besides the plan limits table and never mutates its inputs.
type Evaluator struct {
	limits PlanLimits
}

// NewEvaluator validates the limits table and returns an evaluator backed by a
// copy of it.
func NewEvaluator(limits PlanLimits) (*Evaluator, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{limits: limits.Copy()}, nil
}

func (e *Evaluator) Limits(plan models.PlanType) Limits {
	return e.limits.lookup(plan)
}

func (e *Evaluator) ChannelPermissions(p models.Profile) ChannelPermissions {
	if p.IsTrial {
		return ChannelPermissions{
			WhatsApp:            false,
			Facebook:            true,
			Instagram:           true,
			MaxWhatsAppChannels: 0,
			MaxChannels:         2,
		}
	}
	if p.PaymentStatus == models.PaymentExpired || p.PaymentStatus == models.PaymentCancelled {
		return ChannelPermissions{}
	}
	switch p.PlanType {
	case models.PlanBasico:
		// One channel in total, of any type.
		return ChannelPermissions{
			WhatsApp:            true,
			Facebook:            true,
			Instagram:           true,
			MaxWhatsAppChannels: 1,
			MaxChannels:         1,
		}
	case models.PlanAvanzado, models.PlanPro, models.PlanEmpresarial:
		return ChannelPermissions{
			WhatsApp:            true,
			Facebook:            true,
			Instagram:           true,
			MaxWhatsAppChannels: 1,
			MaxChannels:         3,
		}
	}
	return ChannelPermissions{}
}

// CanConnectChannel checks, in order, that the channel type is enabled, that
// the WhatsApp maximum is not reached and that the total maximum is not
// reached. A zero totalChannelCount falls back to currentChannelCount.
func (e *Evaluator) CanConnectChannel(p models.Profile, channel models.Channel, currentChannelCount, totalChannelCount int) Decision {
	perms := e.ChannelPermissions(p)

	if !perms.allows(channel) {
		if p.IsTrial && channel == models.ChannelWhatsApp {
			return deny("WhatsApp no está disponible durante el período de prueba. Contrata un plan para conectar WhatsApp.")
		}
		return deny("Tu plan actual no permite conectar canales de %s.", channel)
	}

	if channel == models.ChannelWhatsApp && perms.MaxWhatsAppChannels != Unlimited {
		if currentChannelCount >= perms.MaxWhatsAppChannels {
			return deny("Tu plan permite un máximo de %d canal(es) de WhatsApp.", perms.MaxWhatsAppChannels)
		}
	}

	if perms.MaxChannels != Unlimited {
		effective := currentChannelCount
		if totalChannelCount > 0 {
			effective = totalChannelCount
		}
		if effective >= perms.MaxChannels {
			return deny("Tu plan permite un máximo de %d canal(es) conectado(s) en total.", perms.MaxChannels)
		}
	}

	return allow()
}

func (e *Evaluator) CanSendMessage(p models.Profile) Decision {
	if p.IsTrial {
		return allow()
	}
	if p.PaymentStatus != models.PaymentActive {
		return deny("Tu suscripción no está activa. Renueva tu plan para seguir enviando mensajes.")
	}
	limit := e.messagesLimit(p)
	if p.MessagesSentThisMonth >= limit {
		return deny("Has alcanzado el límite de %d mensajes de este mes.", limit)
	}
	return allow()
}

func (e *Evaluator) CanCreateClient(p models.Profile, currentClientCount int) Decision {
	if p.IsTrial {
		return allow()
	}
	if e.CRMLevel(p) == models.CRMNone {
		return deny("Tu plan no incluye el CRM.")
	}
	if p.PaymentStatus != models.PaymentActive {
		return deny("Tu suscripción no está activa. Renueva tu plan para agregar clientes.")
	}
	limit := e.clientsLimit(p)
	if currentClientCount >= limit {
		return deny("Has alcanzado el límite de %d clientes de tu plan.", limit)
	}
	return allow()
}

// CRMLevel returns the explicit profile level unless it is unset or none, in
// which case the level is derived from the plan.
func (e *Evaluator) CRMLevel(p models.Profile) models.CRMLevel {
	if p.CRMLevel != nil && *p.CRMLevel != "" && *p.CRMLevel != models.CRMNone {
		return *p.CRMLevel
	}
	switch p.PlanType {
	case models.PlanBasico:
		return models.CRMBasic
	case models.PlanAvanzado, models.PlanPro, models.PlanEmpresarial:
		return models.CRMComplete
	}
	return models.CRMNone
}

func (e *Evaluator) HasStatisticsAccess(p models.Profile) bool {
	switch p.PlanType {
	case models.PlanAvanzado, models.PlanPro, models.PlanEmpresarial:
		return true
	}
	return p.HasStatistics
}

func (e *Evaluator) MessageUsagePercentage(p models.Profile) int {
	return usagePercentage(p.MessagesSentThisMonth, e.messagesLimit(p))
}

func (e *Evaluator) ClientUsagePercentage(p models.Profile, currentClientCount int) int {
	return usagePercentage(currentClientCount, e.clientsLimit(p))
}

func (e *Evaluator) messagesLimit(p models.Profile) int {
	if p.MessagesLimit != nil {
		return *p.MessagesLimit
	}
	return e.limits.lookup(p.PlanType).Messages
}

func (e *Evaluator) clientsLimit(p models.Profile) int {
	if p.ClientsLimit != nil {
		return *p.ClientsLimit
	}
	return e.limits.lookup(p.PlanType).Clients
}

func usagePercentage(used, limit int) int {
	if limit < 1 {
		limit = 1
	}
	pct := int(math.Round(100 * float64(used) / float64(limit)))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
