package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/subkeeper/subkeeper/app/models"
	"github.com/subkeeper/subkeeper/internal/pkg/lock"
)

// Config tunes the billing service.
type Config struct {
	// LockTimeout bounds how long a caller waits for a subscription lock
	// before receiving a retryable lock_timeout failure.
	LockTimeout time.Duration
	// GracePeriodDays is the window a past_due subscription stays usable
	// awaiting payment recovery.
	GracePeriodDays int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		LockTimeout:     10 * time.Second,
		GracePeriodDays: 7,
	}
}

// Service executes subscription lifecycle transitions. Every mutation goes
// through a per-subscription lock and a single DB transaction, so
// concurrent triggers (webhook, verification poll, admin, sweep) cannot
// race on the same row.
type Service struct {
	repo  Repository
	locks lock.Provider
	cfg   Config
}

// NewService creates a billing service.
func NewService(repo Repository, locks lock.Provider, cfg Config) *Service {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	if cfg.GracePeriodDays <= 0 {
		cfg.GracePeriodDays = DefaultConfig().GracePeriodDays
	}
	return &Service{repo: repo, locks: locks, cfg: cfg}
}

// NewServiceFromDB creates a billing service from a GORM DB handle and a
// lock provider.
func NewServiceFromDB(db *gorm.DB, locks lock.Provider, cfg Config) *Service {
	return NewService(NewRepository(db), locks, cfg)
}

func subscriptionLockKey(id uint) string {
	return fmt.Sprintf("subscription:%d", id)
}

// withSubscriptionLock runs fn while exclusively holding the lock for one
// subscription. A lock wait that exceeds the configured timeout surfaces
// as a retryable lock_timeout failure.
func (s *Service) withSubscriptionLock(id uint, fn func() error) error {
	lease, err := s.locks.Acquire(subscriptionLockKey(id), s.cfg.LockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return NewFailure(FailureLockTimeout, fmt.Sprintf("subscription %d", id), err)
		}
		return NewFailure(FailureConnection, "lock provider", err)
	}
	defer func() {
		if relErr := s.locks.Release(lease); relErr != nil {
			log.Errorf("[Billing] Lock release failed for subscription %d: %v", id, relErr)
		}
	}()
	return fn()
}

// Activate transitions a subscription to active on a successful payment.
// It is the single entry point for all four triggers; source only changes
// the audit trail and how the caller maps the result to a protocol
// response. The lock serializes racers; the re-read under the lock is what
// actually prevents a double activation.
func (s *Service) Activate(ctx context.Context, subscriptionID uint, payment PaymentData, source string) (*ActivationResult, error) {
	_ = ctx
	var result *ActivationResult

	err := s.withSubscriptionLock(subscriptionID, func() error {
		sub, err := s.repo.GetSubscription(subscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result = &ActivationResult{Success: false, Reason: ReasonNotFound}
				return nil
			}
			return fmt.Errorf("reload subscription %d: %w", subscriptionID, err)
		}

		// A prior holder may have already committed the transition.
		if sub.Status == models.SubscriptionStatusActive {
			log.Infof("[Billing] Subscription %d already active, source=%s", subscriptionID, source)
			result = &ActivationResult{Success: true, Reason: ReasonAlreadyActive, Subscription: sub}
			return nil
		}
		if !CanTransition(sub.Status, models.SubscriptionStatusActive) {
			result = &ActivationResult{Success: false, Reason: ReasonInvalidStatus}
			return nil
		}

		oldState := snapshotJSON(sub)
		now := time.Now()

		err = s.repo.Transaction(func(tx Repository) error {
			periodEnd := now.AddDate(0, 1, 0)
			if sub.Plan != nil {
				periodEnd = sub.Plan.PeriodEnd(now)
			}

			sub.Status = models.SubscriptionStatusActive
			sub.CurrentPeriodStart = &now
			sub.CurrentPeriodEnd = &periodEnd
			sub.NextBillingDate = &periodEnd
			sub.CancelAtPeriodEnd = false
			sub.RetryCount = 0
			sub.GracePeriodEnd = nil
			sub.LastPaymentAttempt = &now
			if err := tx.SaveSubscription(sub); err != nil {
				return err
			}

			if err := tx.UpsertSucceededPayment(&models.Payment{
				SubscriptionID: &sub.ID,
				ProviderRef:    payment.Reference,
				Amount:         payment.Amount,
				Currency:       payment.Currency,
				Status:         models.PaymentStatusSucceeded,
			}); err != nil {
				return err
			}

			return tx.AppendHistory(&models.SubscriptionHistory{
				SubscriptionID: sub.ID,
				Action:         models.HistoryActionActivated,
				OldStateJSON:   oldState,
				NewStateJSON:   snapshotJSON(sub),
				Reason:         fmt.Sprintf("payment %s via %s", payment.Reference, source),
			})
		})
		if err != nil {
			return fmt.Errorf("activate subscription %d: %w", subscriptionID, err)
		}

		log.Infof("[Billing] Subscription %d activated, payment=%s source=%s", subscriptionID, payment.Reference, source)
		result = &ActivationResult{Success: true, Subscription: sub}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel transitions a subscription to canceled. Already-canceled
// subscriptions are an idempotent no-op so repeated sweep runs add no
// history rows.
func (s *Service) Cancel(ctx context.Context, subscriptionID uint, reason, source string) (*ActivationResult, error) {
	_ = ctx
	return s.transitionTo(subscriptionID, models.SubscriptionStatusCanceled, models.HistoryActionCanceled, reason, source,
		func(sub *models.Subscription) {
			sub.CancelAtPeriodEnd = false
			sub.GracePeriodEnd = nil
		})
}

// MarkPastDue records a failed renewal: the subscription enters the grace
// window and the failed attempt is counted.
func (s *Service) MarkPastDue(ctx context.Context, subscriptionID uint, reason, source string) (*ActivationResult, error) {
	_ = ctx
	return s.transitionTo(subscriptionID, models.SubscriptionStatusPastDue, models.HistoryActionPastDue, reason, source,
		func(sub *models.Subscription) {
			now := time.Now()
			graceEnd := now.AddDate(0, 0, s.cfg.GracePeriodDays)
			sub.GracePeriodEnd = &graceEnd
			sub.RetryCount++
			sub.LastPaymentAttempt = &now
		})
}

// MarkUnpaid records an irrecoverable billing failure. Rare, manual.
func (s *Service) MarkUnpaid(ctx context.Context, subscriptionID uint, reason, source string) (*ActivationResult, error) {
	_ = ctx
	return s.transitionTo(subscriptionID, models.SubscriptionStatusUnpaid, models.HistoryActionUnpaid, reason, source, nil)
}

// ExpireIncomplete retires an incomplete subscription that never saw a
// payment within its window.
func (s *Service) ExpireIncomplete(ctx context.Context, subscriptionID uint, reason, source string) (*ActivationResult, error) {
	_ = ctx
	return s.transitionTo(subscriptionID, models.SubscriptionStatusIncompleteExpired, models.HistoryActionExpired, reason, source, nil)
}

// transitionTo is the shared lock + re-read + transaction path for all
// non-activation transitions.
func (s *Service) transitionTo(subscriptionID uint, target, action, reason, source string, mutate func(*models.Subscription)) (*ActivationResult, error) {
	var result *ActivationResult

	err := s.withSubscriptionLock(subscriptionID, func() error {
		sub, err := s.repo.GetSubscription(subscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result = &ActivationResult{Success: false, Reason: ReasonNotFound}
				return nil
			}
			return fmt.Errorf("reload subscription %d: %w", subscriptionID, err)
		}

		if sub.Status == target {
			result = &ActivationResult{Success: true, Reason: "already_" + target, Subscription: sub}
			return nil
		}
		if !CanTransition(sub.Status, target) {
			result = &ActivationResult{Success: false, Reason: ReasonInvalidStatus}
			return nil
		}

		oldState := snapshotJSON(sub)

		err = s.repo.Transaction(func(tx Repository) error {
			sub.Status = target
			if mutate != nil {
				mutate(sub)
			}
			if err := tx.SaveSubscription(sub); err != nil {
				return err
			}
			return tx.AppendHistory(&models.SubscriptionHistory{
				SubscriptionID: sub.ID,
				Action:         action,
				OldStateJSON:   oldState,
				NewStateJSON:   snapshotJSON(sub),
				Reason:         fmt.Sprintf("%s via %s", reason, source),
			})
		})
		if err != nil {
			return fmt.Errorf("transition subscription %d to %s: %w", subscriptionID, target, err)
		}

		log.Infof("[Billing] Subscription %d -> %s, source=%s", subscriptionID, target, source)
		result = &ActivationResult{Success: true, Subscription: sub}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordWebhookEvent persists a raw provider event idempotently. The bool
// return is false when the event was a redelivery of one already stored.
func (s *Service) RecordWebhookEvent(ctx context.Context, provider, providerEventID, eventType, payloadJSON string, signatureValid bool) (bool, *models.WebhookEvent, error) {
	_ = ctx
	return s.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: providerEventID,
		EventType:       eventType,
		PayloadJSON:     payloadJSON,
		SignatureValid:  signatureValid,
	})
}

// MarkWebhookProcessed marks a stored event processed, with the processing
// error if any.
func (s *Service) MarkWebhookProcessed(ctx context.Context, eventID uint, processingErr error) error {
	_ = ctx
	msg := ""
	if processingErr != nil {
		msg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(eventID, msg)
}

// GetSubscriptionWithHistory returns a subscription and its audit trail
// for status surfaces.
func (s *Service) GetSubscriptionWithHistory(ctx context.Context, subscriptionID uint) (*models.Subscription, []models.SubscriptionHistory, error) {
	_ = ctx
	sub, err := s.repo.GetSubscription(subscriptionID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.repo.ListHistory(subscriptionID)
	if err != nil {
		return nil, nil, err
	}
	return sub, history, nil
}
