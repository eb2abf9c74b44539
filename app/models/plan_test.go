package models

import (
	"testing"
	"time"
)

func TestPlanPeriodEnd(t *testing.T) {
	from := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	monthly := &Plan{Interval: PlanIntervalMonth}
	if got := monthly.PeriodEnd(from); !got.Equal(from.AddDate(0, 1, 0)) {
		t.Fatalf("monthly PeriodEnd = %v, want one month later", got)
	}

	yearly := &Plan{Interval: PlanIntervalYear}
	if got := yearly.PeriodEnd(from); !got.Equal(from.AddDate(1, 0, 0)) {
		t.Fatalf("yearly PeriodEnd = %v, want one year later", got)
	}
}

func TestSubscriptionIsTerminal(t *testing.T) {
	for _, status := range []string{SubscriptionStatusCanceled, SubscriptionStatusUnpaid, SubscriptionStatusIncompleteExpired} {
		if !(&Subscription{Status: status}).IsTerminal() {
			t.Fatalf("expected %q to be terminal", status)
		}
	}
	for _, status := range []string{SubscriptionStatusIncomplete, SubscriptionStatusActive, SubscriptionStatusPastDue} {
		if (&Subscription{Status: status}).IsTerminal() {
			t.Fatalf("expected %q to be non-terminal", status)
		}
	}
}
