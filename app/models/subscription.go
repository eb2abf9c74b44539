package models

import "time"

// Subscription lifecycle statuses.
const (
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusActive            = "active"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusUnpaid            = "unpaid"
)

// Subscription is the authoritative billing state for one purchased plan.
// It is owned by the billing engine and only mutated inside a
// lock-protected transaction.
type Subscription struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             uint       `gorm:"not null;index" json:"user_id"`
	PlanID             uint       `gorm:"not null;index" json:"plan_id"`
	Status             string     `gorm:"type:varchar(32);not null;default:'incomplete';index:idx_subscriptions_status_grace,priority:1" json:"status"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	NextBillingDate    *time.Time `gorm:"type:timestamp;default:null" json:"next_billing_date,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	RetryCount         int        `gorm:"not null;default:0" json:"retry_count"`
	GracePeriodEnd     *time.Time `gorm:"type:timestamp;default:null;index:idx_subscriptions_status_grace,priority:2" json:"grace_period_end,omitempty"`
	LastPaymentAttempt *time.Time `gorm:"type:timestamp;default:null" json:"last_payment_attempt,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Plan *Plan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

// IsTerminal reports whether the subscription can never leave its status.
func (s *Subscription) IsTerminal() bool {
	switch s.Status {
	case SubscriptionStatusCanceled, SubscriptionStatusUnpaid, SubscriptionStatusIncompleteExpired:
		return true
	default:
		return false
	}
}
