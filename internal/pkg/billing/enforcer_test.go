package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subkeeper/subkeeper/app/models"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) NotifyGraceWarning(email string, subscriptionID uint, daysLeft int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, email)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func newTestEnforcer(repo Repository, notifier WarningNotifier, autoCancel bool) *Enforcer {
	svc := newTestService(repo)
	return NewEnforcer(svc, repo, notifier, EnforcerConfig{
		WarningDays:      []int{3, 1},
		EnableAutoCancel: autoCancel,
		Concurrency:      2,
	})
}

func addPastDue(repo *fakeRepository, graceEnd time.Time) *models.Subscription {
	user := repo.addUser("alice@example.com")
	plan := repo.addPlan(999, "EUR", models.PlanIntervalMonth)
	sub := repo.addSubscription(user.ID, plan.ID, models.SubscriptionStatusPastDue, time.Now())
	sub.GracePeriodEnd = &graceEnd
	if err := repo.SaveSubscription(sub); err != nil {
		panic(err)
	}
	return sub
}

func TestEnforcerCancelsExpiredGrace(t *testing.T) {
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	sub := addPastDue(repo, time.Now().Add(-time.Second))
	e := newTestEnforcer(repo, notifier, true)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Cancelled)
	assert.Empty(t, report.Errors)

	stored, err := repo.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, stored.Status)
	assert.Equal(t, 1, repo.countHistory(sub.ID, models.HistoryActionCanceled))

	// Second run: the subscription is no longer past_due, nothing happens.
	report, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Processed)
	assert.Zero(t, report.Cancelled)
	assert.Equal(t, 1, repo.countHistory(sub.ID, models.HistoryActionCanceled))
}

func TestEnforcerHonorsAutoCancelFlag(t *testing.T) {
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	sub := addPastDue(repo, time.Now().Add(-time.Second))
	e := newTestEnforcer(repo, notifier, false)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, report.Cancelled)

	stored, err := repo.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, stored.Status)
}

func TestEnforcerWarnsOncePerThreshold(t *testing.T) {
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	// 12 hours left: both the 3-day and 1-day thresholds are crossed.
	sub := addPastDue(repo, time.Now().Add(12*time.Hour))
	e := newTestEnforcer(repo, notifier, true)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 2, report.Warned)
	assert.Equal(t, 2, notifier.count())
	assert.Equal(t, 2, repo.countHistory(sub.ID, models.HistoryActionGraceWarning))

	// Repeat runs stay quiet: thresholds are deduplicated via history.
	report, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Warned)
	assert.Equal(t, 2, notifier.count())
	assert.Equal(t, 2, repo.countHistory(sub.ID, models.HistoryActionGraceWarning))
}

func TestEnforcerWarnsOnlyCrossedThresholds(t *testing.T) {
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	// 2 days left: inside the 3-day threshold, outside the 1-day one.
	sub := addPastDue(repo, time.Now().Add(50*time.Hour))
	e := newTestEnforcer(repo, notifier, true)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Warned)
	assert.Equal(t, 1, repo.countHistory(sub.ID, models.HistoryActionGraceWarning))

	has, err := repo.HasHistory(sub.ID, models.HistoryActionGraceWarning, "grace_warning:3d")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestEnforcerProcessesManySubscriptions(t *testing.T) {
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	for i := 0; i < 10; i++ {
		addPastDue(repo, time.Now().Add(-time.Second))
	}
	e := newTestEnforcer(repo, notifier, true)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, report.Processed)
	assert.Equal(t, 10, report.Cancelled)
	assert.Empty(t, report.Errors)
}
