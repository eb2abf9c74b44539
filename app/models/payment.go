package models

import "time"

// Payment statuses.
const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusSucceeded  = "succeeded"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
)

// Payment records a single provider payment event. ProviderRef is unique
// per provider event, so webhook redeliveries collapse onto one row.
// SubscriptionID stays null until the payment is matched.
type Payment struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID *uint     `gorm:"index" json:"subscription_id,omitempty"`
	ProviderRef    string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_payments_provider_ref" json:"provider_ref"`
	Amount         int64     `gorm:"not null" json:"amount"`
	Currency       string    `gorm:"type:varchar(3);not null" json:"currency"`
	Status         string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
