package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/subkeeper/subkeeper/app/models"
)

// MatcherConfig tunes the fallback candidate search.
type MatcherConfig struct {
	// Lookback bounds how old an incomplete/past_due subscription may be
	// to count as a candidate for an unlinked payment.
	Lookback time.Duration
	// MinConfidence is the score a fallback candidate must clear before
	// the matcher returns it instead of nil.
	MinConfidence int
}

// DefaultMatcherConfig returns production defaults.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		Lookback:      24 * time.Hour,
		MinConfidence: 70,
	}
}

// Matcher resolves an ambiguous payment event to a candidate subscription.
// It never guesses: a sub-threshold or ambiguous result is surfaced as nil
// for manual reconciliation, and nil must never trigger activation.
type Matcher struct {
	repo Repository
	cfg  MatcherConfig
}

// NewMatcher creates a payment matcher.
func NewMatcher(repo Repository, cfg MatcherConfig) *Matcher {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultMatcherConfig().Lookback
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMatcherConfig().MinConfidence
	}
	return &Matcher{repo: repo, cfg: cfg}
}

// Match resolves event to a subscription, highest-confidence rule first:
// explicit metadata link, then known provider reference, then the bounded
// candidate search over the customer's open subscriptions.
func (m *Matcher) Match(ctx context.Context, event PaymentEvent) (*MatchResult, error) {
	_ = ctx

	// 1. Explicit metadata link wins outright. Amount or currency
	// disagreement with the plan on record is a warning, not a block.
	if raw, ok := event.Metadata["subscription_id"]; ok && strings.TrimSpace(raw) != "" {
		return m.matchByMetadata(strings.TrimSpace(raw), event)
	}

	// 2. A payment we have already stored under this provider reference
	// points at its linked subscription.
	if event.Reference != "" {
		payment, err := m.repo.FindPaymentByProviderRef(event.Reference)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lookup payment by reference: %w", err)
		}
		if payment != nil && payment.SubscriptionID != nil {
			return &MatchResult{
				SubscriptionID: *payment.SubscriptionID,
				Confidence:     90,
				MatchReasons:   []string{"provider_reference"},
			}, nil
		}
	}

	// 3. Bounded candidate search.
	return m.matchByCandidates(event)
}

func (m *Matcher) matchByMetadata(raw string, event PaymentEvent) (*MatchResult, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		log.Warnf("[Matcher] Unparseable metadata subscription_id %q", raw)
		return nil, nil
	}

	result := &MatchResult{
		SubscriptionID: uint(id),
		Confidence:     100,
		MatchReasons:   []string{"metadata_subscription_id"},
	}

	sub, err := m.repo.GetSubscription(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result.Warnings = append(result.Warnings, "metadata subscription not found")
			return result, nil
		}
		return nil, fmt.Errorf("load metadata subscription: %w", err)
	}
	if sub.Plan != nil {
		if sub.Plan.Price != event.Amount {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("amount %d does not match plan price %d", event.Amount, sub.Plan.Price))
		}
		if !strings.EqualFold(sub.Plan.Currency, event.Currency) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("currency %s does not match plan currency %s", event.Currency, sub.Plan.Currency))
		}
	}
	return result, nil
}

func (m *Matcher) matchByCandidates(event PaymentEvent) (*MatchResult, error) {
	if event.CustomerEmail == "" {
		return nil, nil
	}

	user, err := m.repo.FindUserByEmail(event.CustomerEmail)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup customer: %w", err)
	}

	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	since := occurred.Add(-m.cfg.Lookback)

	subs, err := m.repo.ListCandidateSubscriptions(user.ID,
		[]string{models.SubscriptionStatusIncomplete, models.SubscriptionStatusPastDue}, since)
	if err != nil {
		return nil, fmt.Errorf("list candidate subscriptions: %w", err)
	}

	type scored struct {
		sub     models.Subscription
		score   int
		reasons []string
	}
	var candidates []scored

	for _, sub := range subs {
		if sub.Plan == nil {
			continue
		}
		if sub.Plan.Price != event.Amount || !strings.EqualFold(sub.Plan.Currency, event.Currency) {
			continue
		}

		score := 60
		reasons := []string{"amount_and_currency_match"}

		// Newer candidates score higher; a subscription created moments
		// before the payment is almost certainly the one being paid for.
		age := occurred.Sub(sub.CreatedAt)
		if age < 0 {
			age = 0
		}
		recency := 30 - int(30*age/m.cfg.Lookback)
		if recency > 0 {
			score += recency
			reasons = append(reasons, fmt.Sprintf("created_within_%s", age.Round(time.Minute)))
		}

		candidates = append(candidates, scored{sub: sub, score: score, reasons: reasons})
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) == 1 {
		candidates[0].score += 10
		candidates[0].reasons = append(candidates[0].reasons, "single_candidate")
	}

	best := candidates[0]
	secondAbove := false
	for _, c := range candidates[1:] {
		if c.score > best.score {
			best = c
		}
	}
	for _, c := range candidates {
		if c.sub.ID != best.sub.ID && c.score >= m.cfg.MinConfidence {
			secondAbove = true
		}
	}

	// Two plausible targets means we do not pick one.
	if secondAbove {
		log.Warnf("[Matcher] Ambiguous candidates for payment %s, deferring to manual reconciliation", event.Reference)
		return nil, nil
	}
	if best.score < m.cfg.MinConfidence {
		return nil, nil
	}

	return &MatchResult{
		SubscriptionID: best.sub.ID,
		Confidence:     best.score,
		MatchReasons:   best.reasons,
	}, nil
}
