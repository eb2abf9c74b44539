package models

import "time"

// History actions written by the billing engine.
const (
	HistoryActionActivated    = "activated"
	HistoryActionPastDue      = "past_due"
	HistoryActionCanceled     = "canceled"
	HistoryActionUnpaid       = "unpaid"
	HistoryActionExpired      = "incomplete_expired"
	HistoryActionGraceWarning = "grace_warning"
)

// SubscriptionHistory is the append-only audit ledger. One row per
// committed transition; rows are never updated or deleted.
type SubscriptionHistory struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;index:idx_subscription_history_sub_action,priority:1" json:"subscription_id"`
	Action         string    `gorm:"type:varchar(50);not null;index:idx_subscription_history_sub_action,priority:2" json:"action"`
	OldStateJSON   string    `gorm:"type:text" json:"old_state_json"`
	NewStateJSON   string    `gorm:"type:text" json:"new_state_json"`
	Reason         string    `gorm:"type:varchar(255);not null" json:"reason"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
