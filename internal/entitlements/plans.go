package entitlements

import (
	"errors"
	"fmt"

	"github.com/prudhvinik1/inboxsync/internal/models"
)

// Unlimited marks a channel maximum with no upper bound.
const Unlimited = -1

var ErrInvalidPlanLimits = errors.New("invalid plan limits")

// Limits are the default monthly message and CRM client allowances of a plan.
type Limits struct {
	Messages int `json:"messages"`
	Clients  int `json:"clients"`
}

type PlanLimits map[models.PlanType]Limits

// DefaultPlanLimits is used when a profile carries no per-account override.
var DefaultPlanLimits = PlanLimits{
	models.PlanFree:        {Messages: 0, Clients: 0},
	models.PlanBasico:      {Messages: 10000, Clients: 500},
	models.PlanAvanzado:    {Messages: 30000, Clients: 2000},
	models.PlanPro:         {Messages: 60000, Clients: 5000},
	models.PlanEmpresarial: {Messages: 150000, Clients: 20000},
}

// Validate checks that every known plan has an entry and no limit is negative.
func (p PlanLimits) Validate() error {
	for _, plan := range models.PlanTypes {
		l, ok := p[plan]
		if !ok {
			return fmt.Errorf("%w: missing entry for plan %q", ErrInvalidPlanLimits, plan)
		}
		if l.Messages < 0 || l.Clients < 0 {
			return fmt.Errorf("%w: negative limit for plan %q", ErrInvalidPlanLimits, plan)
		}
	}
	return nil
}

// Copy returns an independent copy of the table.
func (p PlanLimits) Copy() PlanLimits {
	out := make(PlanLimits, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// lookup returns the plan entry; unknown plans resolve to zero limits.
func (p PlanLimits) lookup(plan models.PlanType) Limits {
	l, ok := p[plan]
	if !ok {
		return Limits{}
	}
	return l
}
