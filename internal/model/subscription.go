package model

import "time"

type Plan string

const (
	PlanTrial   Plan = "trial"
	PlanMonthly Plan = "monthly"
	PlanAnnual  Plan = "annual"
	PlanSetup   Plan = "setup"
)

// ParsePlan returns false for anything outside the fixed enumeration.
func ParsePlan(s string) (Plan, bool) {
	switch p := Plan(s); p {
	case PlanTrial, PlanMonthly, PlanAnnual, PlanSetup:
		return p, true
	default:
		return "", false
	}
}

// Recurring reports whether the plan bills on a schedule.
func (p Plan) Recurring() bool {
	return p == PlanMonthly || p == PlanAnnual
}

type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Terminal statuses are never left.
func (s Status) Terminal() bool {
	return s == StatusCanceled
}

// Subscription belongs to one merchant. The current subscription is the most
// recently created row.
type Subscription struct {
	ID                 string     `json:"id"`
	MerchantID         string     `json:"merchant_id"`
	Plan               Plan       `json:"plan"`
	Status             Status     `json:"status"`
	ProcessorRef       *string    `json:"processor_ref"`
	CurrentPeriodStart *time.Time `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	LastEventAt        *time.Time `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
