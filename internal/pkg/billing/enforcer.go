package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/subkeeper/subkeeper/app/models"
)

// WarningNotifier delivers grace-period warnings. Delivery is
// fire-and-forget: a notifier failure is logged and never rolls back a
// committed transition or history entry.
type WarningNotifier interface {
	NotifyGraceWarning(email string, subscriptionID uint, daysLeft int) error
}

// EnforcerConfig controls one sweep run.
type EnforcerConfig struct {
	// WarningDays are the remaining-days thresholds that trigger one
	// warning each, e.g. {3, 1}.
	WarningDays []int
	// EnableAutoCancel lets the sweep cancel subscriptions whose grace
	// period has passed. With it off the sweep only warns.
	EnableAutoCancel bool
	// Concurrency bounds how many subscriptions are processed at once.
	Concurrency int
}

// DefaultEnforcerConfig returns production defaults.
func DefaultEnforcerConfig() EnforcerConfig {
	return EnforcerConfig{
		WarningDays:      []int{3, 1},
		EnableAutoCancel: true,
		Concurrency:      4,
	}
}

// Report summarizes one sweep run.
type Report struct {
	Processed int      `json:"processed"`
	Cancelled int      `json:"cancelled"`
	Warned    int      `json:"warned"`
	Errors    []string `json:"errors"`
}

// Enforcer escalates past_due subscriptions toward warning or
// cancellation. Each individual transition funnels through the same
// per-subscription lock as the real-time paths.
type Enforcer struct {
	service  *Service
	repo     Repository
	notifier WarningNotifier
	cfg      EnforcerConfig
}

// NewEnforcer creates a grace period enforcer.
func NewEnforcer(service *Service, repo Repository, notifier WarningNotifier, cfg EnforcerConfig) *Enforcer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultEnforcerConfig().Concurrency
	}
	return &Enforcer{service: service, repo: repo, notifier: notifier, cfg: cfg}
}

// Run scans past_due subscriptions with a set grace deadline and processes
// them with a bounded worker pool. Idempotent per run: already-canceled
// subscriptions are skipped and each warning threshold fires once.
func (e *Enforcer) Run(ctx context.Context) (*Report, error) {
	subs, err := e.repo.ListPastDueWithGrace()
	if err != nil {
		return nil, fmt.Errorf("list past_due subscriptions: %w", err)
	}

	report := &Report{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.Concurrency)

	for _, sub := range subs {
		wg.Add(1)
		sem <- struct{}{}
		go func(id uint) {
			defer wg.Done()
			defer func() { <-sem }()

			cancelled, warned, err := e.processOne(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			report.Processed++
			if cancelled {
				report.Cancelled++
			}
			report.Warned += warned
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("subscription %d: %v", id, err))
			}
		}(sub.ID)
	}
	wg.Wait()

	log.Infof("[GraceSweep] processed=%d cancelled=%d warned=%d errors=%d",
		report.Processed, report.Cancelled, report.Warned, len(report.Errors))
	return report, nil
}

func (e *Enforcer) processOne(ctx context.Context, id uint) (cancelled bool, warned int, err error) {
	// Re-read outside the lock only to decide the branch; the cancel path
	// re-validates under the lock.
	sub, err := e.repo.GetSubscription(id)
	if err != nil {
		return false, 0, err
	}
	if sub.GracePeriodEnd == nil {
		return false, 0, nil
	}

	now := time.Now()
	if now.After(*sub.GracePeriodEnd) {
		if !e.cfg.EnableAutoCancel {
			return false, 0, nil
		}
		result, err := e.service.Cancel(ctx, id, "grace period exhausted", SourceGraceSweep)
		if err != nil {
			return false, 0, err
		}
		// Already-canceled results count as processed, not cancelled.
		return result.Success && result.Reason == "", 0, nil
	}

	return false, e.warn(sub.ID, sub.UserID, *sub.GracePeriodEnd, now), nil
}

// warn fires each crossed warning threshold at most once, deduplicated
// against the history ledger so repeated runs stay quiet.
func (e *Enforcer) warn(subID, userID uint, graceEnd, now time.Time) int {
	daysLeft := int(graceEnd.Sub(now).Hours() / 24)

	thresholds := append([]int(nil), e.cfg.WarningDays...)
	sort.Sort(sort.Reverse(sort.IntSlice(thresholds)))

	warned := 0
	for _, days := range thresholds {
		if daysLeft >= days {
			continue
		}
		reason := fmt.Sprintf("grace_warning:%dd", days)

		exists, err := e.repo.HasHistory(subID, models.HistoryActionGraceWarning, reason)
		if err != nil {
			log.Errorf("[GraceSweep] History check failed for subscription %d: %v", subID, err)
			continue
		}
		if exists {
			continue
		}

		if e.notifier != nil {
			email := ""
			if user, err := e.repo.GetUser(userID); err == nil {
				email = user.Email
			}
			if email != "" {
				if err := e.notifier.NotifyGraceWarning(email, subID, days); err != nil {
					log.Errorf("[GraceSweep] Warning mail failed for subscription %d: %v", subID, err)
				}
			}
		}

		if err := e.repo.AppendHistory(&models.SubscriptionHistory{
			SubscriptionID: subID,
			Action:         models.HistoryActionGraceWarning,
			Reason:         reason,
		}); err != nil {
			log.Errorf("[GraceSweep] Could not record warning for subscription %d: %v", subID, err)
			continue
		}
		warned++
	}
	return warned
}
