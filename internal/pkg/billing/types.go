package billing

import (
	"encoding/json"
	"time"

	"github.com/subkeeper/subkeeper/app/models"
)

// Trigger sources for activation calls. The source ends up in the history
// reason so the audit trail shows which path won a race.
const (
	SourceWebhook      = "webhook"
	SourceVerification = "verification"
	SourceManual       = "manual"
	SourceGraceSweep   = "grace_sweep"
)

// Activation result reasons.
const (
	ReasonAlreadyActive   = "already_active"
	ReasonNotFound        = "subscription_not_found"
	ReasonInvalidStatus   = "invalid_status"
	ReasonAlreadyCanceled = "already_canceled"
)

// PaymentData is the payment half of an activation request, extracted by
// the caller from a provider event or a verification lookup.
type PaymentData struct {
	Reference     string `json:"reference"`
	PaymentID     string `json:"payment_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Authorization string `json:"authorization,omitempty"`
}

// ActivationResult is the explicit outcome of a transition attempt.
// Permanent outcomes are values here, not errors, so callers can map them
// to protocol decisions (e.g. ack a redelivered webhook).
type ActivationResult struct {
	Success      bool                 `json:"success"`
	Reason       string               `json:"reason,omitempty"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

// PaymentEvent is a normalized provider payment event fed to the matcher.
type PaymentEvent struct {
	Reference     string            `json:"reference"`
	ProviderRef   string            `json:"provider_ref"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// MatchResult is the matcher's resolution of an ambiguous payment event.
// A nil result means manual reconciliation; it never triggers activation.
type MatchResult struct {
	SubscriptionID uint     `json:"subscription_id"`
	Confidence     int      `json:"confidence"`
	MatchReasons   []string `json:"match_reasons"`
	Warnings       []string `json:"warnings"`
}

// snapshotJSON captures the audit-relevant fields of a subscription for a
// history ledger entry.
func snapshotJSON(sub *models.Subscription) string {
	if sub == nil {
		return "{}"
	}
	snap := map[string]interface{}{
		"status":               sub.Status,
		"current_period_start": sub.CurrentPeriodStart,
		"current_period_end":   sub.CurrentPeriodEnd,
		"next_billing_date":    sub.NextBillingDate,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
		"retry_count":          sub.RetryCount,
		"grace_period_end":     sub.GracePeriodEnd,
	}
	out, err := json.Marshal(snap)
	if err != nil {
		return "{}"
	}
	return string(out)
}
