package billing

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subkeeper/subkeeper/app/models"
)

func newTestMatcher(repo Repository) *Matcher {
	return NewMatcher(repo, MatcherConfig{Lookback: 24 * time.Hour, MinConfidence: 70})
}

func TestMatchMetadataWinsDespiteAmountMismatch(t *testing.T) {
	repo := newFakeRepository()
	user := repo.addUser("alice@example.com")
	plan := repo.addPlan(999, "EUR", models.PlanIntervalMonth)
	sub := repo.addSubscription(user.ID, plan.ID, models.SubscriptionStatusIncomplete, time.Now())
	m := newTestMatcher(repo)

	result, err := m.Match(context.Background(), PaymentEvent{
		Reference: "pay_1",
		Amount:    500, // disagrees with plan price
		Currency:  "USD",
		Metadata:  map[string]string{"subscription_id": strconv.FormatUint(uint64(sub.ID), 10)},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, sub.ID, result.SubscriptionID)
	assert.Equal(t, 100, result.Confidence)
	assert.Contains(t, result.MatchReasons, "metadata_subscription_id")
	assert.NotEmpty(t, result.Warnings)
}

func TestMatchByStoredProviderReference(t *testing.T) {
	repo := newFakeRepository()
	user := repo.addUser("alice@example.com")
	plan := repo.addPlan(999, "EUR", models.PlanIntervalMonth)
	sub := repo.addSubscription(user.ID, plan.ID, models.SubscriptionStatusPastDue, time.Now())
	require.NoError(t, repo.UpsertSucceededPayment(&models.Payment{
		SubscriptionID: &sub.ID,
		ProviderRef:    "pay_known",
		Amount:         999,
		Currency:       "EUR",
		Status:         models.PaymentStatusSucceeded,
	}))
	m := newTestMatcher(repo)

	result, err := m.Match(context.Background(), PaymentEvent{Reference: "pay_known", Amount: 999, Currency: "EUR"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, sub.ID, result.SubscriptionID)
	assert.Equal(t, 90, result.Confidence)
	assert.Contains(t, result.MatchReasons, "provider_reference")
}

func TestMatchFallbackSingleCandidate(t *testing.T) {
	repo := newFakeRepository()
	user := repo.addUser("alice@example.com")
	plan := repo.addPlan(999, "EUR", models.PlanIntervalMonth)
	sub := repo.addSubscription(user.ID, plan.ID, models.SubscriptionStatusIncomplete, time.Now().Add(-10*time.Minute))
	m := newTestMatcher(repo)

	result, err := m.Match(context.Background(), PaymentEvent{
		Reference:     "pay_new",
		Amount:        999,
		Currency:      "EUR",
		CustomerEmail: "alice@example.com",
		OccurredAt:    time.Now(),
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, sub.ID, result.SubscriptionID)
	assert.GreaterOrEqual(t, result.Confidence, 70)
	assert.NotEmpty(t, result.MatchReasons)
}

func TestMatchFallbackNoCandidateReturnsNil(t *testing.T) {
	repo := newFakeRepository()
	user := repo.addUser("alice@example.com")
	plan := repo.addPlan(999, "EUR", models.PlanIntervalMonth)
	// Wrong amount: plan costs 999, event pays 500.
	repo.addSubscription(user.ID, plan.ID, models.SubscriptionStatusIncomplete, time.Now().Add(-10*time.Minute))
	m := newTestMatcher(repo)

	result, err := m.Match(context.Background(), PaymentEvent{
		Reference:     "pay_new",
		Amount:        500,
		Currency:      "EUR",
		CustomerEmail: "alice@example.com",
		OccurredAt:    time.Now(),
	})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestMatchFallbackAmbiguousReturnsNil(t *testing.T) {
	repo := newFakeRepository()
	user := repo.addUser("alice@example.com")
	plan := repo.addPlan(999, "EUR", models.PlanIntervalMonth)
	// Two equally-plausible open subscriptions on the same plan.
	repo.addSubscription(user.ID, plan.ID, models.SubscriptionStatusIncomplete, time.Now().Add(-10*time.Minute))
	repo.addSubscription(user.ID, plan.ID, models.SubscriptionStatusIncomplete, time.Now().Add(-12*time.Minute))
	m := newTestMatcher(repo)

	result, err := m.Match(context.Background(), PaymentEvent{
		Reference:     "pay_new",
		Amount:        999,
		Currency:      "EUR",
		CustomerEmail: "alice@example.com",
		OccurredAt:    time.Now(),
	})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestMatchOutsideLookbackReturnsNil(t *testing.T) {
	repo := newFakeRepository()
	user := repo.addUser("alice@example.com")
	plan := repo.addPlan(999, "EUR", models.PlanIntervalMonth)
	repo.addSubscription(user.ID, plan.ID, models.SubscriptionStatusIncomplete, time.Now().Add(-48*time.Hour))
	m := newTestMatcher(repo)

	result, err := m.Match(context.Background(), PaymentEvent{
		Reference:     "pay_new",
		Amount:        999,
		Currency:      "EUR",
		CustomerEmail: "alice@example.com",
		OccurredAt:    time.Now(),
	})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestMatchUnknownCustomerReturnsNil(t *testing.T) {
	repo := newFakeRepository()
	m := newTestMatcher(repo)

	result, err := m.Match(context.Background(), PaymentEvent{
		Reference:     "pay_new",
		Amount:        999,
		Currency:      "EUR",
		CustomerEmail: "nobody@example.com",
		OccurredAt:    time.Now(),
	})
	require.NoError(t, err)
	assert.Nil(t, result)
}
