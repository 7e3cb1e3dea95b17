package models

import (
	"time"

	"github.com/google/uuid"
)

type PlanType string

const (
	PlanFree        PlanType = "free"
	PlanBasico      PlanType = "basico"
	PlanAvanzado    PlanType = "avanzado"
	PlanPro         PlanType = "pro"
	PlanEmpresarial PlanType = "empresarial"
)

// PlanTypes lists every plan a profile may reference.
var PlanTypes = []PlanType{PlanFree, PlanBasico, PlanAvanzado, PlanPro, PlanEmpresarial}

type PaymentStatus string

const (
	PaymentActive    PaymentStatus = "active"
	PaymentExpired   PaymentStatus = "expired"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentPending   PaymentStatus = "pending"
)

type CRMLevel string

const (
	CRMNone     CRMLevel = "none"
	CRMBasic    CRMLevel = "basic"
	CRMComplete CRMLevel = "complete"
)

// Profile is the per-account entitlement snapshot. Nil limits mean "use the
// plan default"; a nil CRMLevel means "derive from the plan".
type Profile struct {
	UserID                uuid.UUID     `json:"user_id"`
	PlanType              PlanType      `json:"plan_type"`
	IsTrial               bool          `json:"is_trial"`
	PaymentStatus         PaymentStatus `json:"payment_status"`
	MessagesSentThisMonth int           `json:"messages_sent_this_month"`
	MessagesLimit         *int          `json:"messages_limit"`
	ClientsLimit          *int          `json:"clients_limit"`
	CRMLevel              *CRMLevel     `json:"crm_level"`
	HasStatistics         bool          `json:"has_statistics"`
	UpdatedAt             *time.Time    `json:"updated_at,omitempty"`
}
