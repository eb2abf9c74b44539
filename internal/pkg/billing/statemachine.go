package billing

import (
	"sort"

	"github.com/subkeeper/subkeeper/app/models"
)

// Transition is one directed edge in the subscription lifecycle.
type Transition struct {
	From string
	To   string
}

// validTransitions is the full lifecycle graph. Terminal states have no
// outgoing edges; nothing below may reverse canceled, unpaid or
// incomplete_expired.
var validTransitions = map[Transition]bool{
	{models.SubscriptionStatusIncomplete, models.SubscriptionStatusActive}:            true, // first payment matched
	{models.SubscriptionStatusIncomplete, models.SubscriptionStatusIncompleteExpired}: true, // no payment within window
	{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue}:               true, // renewal payment failed
	{models.SubscriptionStatusPastDue, models.SubscriptionStatusActive}:               true, // payment recovered in grace window
	{models.SubscriptionStatusPastDue, models.SubscriptionStatusCanceled}:             true, // grace period exhausted
	{models.SubscriptionStatusActive, models.SubscriptionStatusCanceled}:              true, // explicit cancel / cancel_at_period_end
	{models.SubscriptionStatusIncomplete, models.SubscriptionStatusUnpaid}:            true, // irrecoverable billing failure
	{models.SubscriptionStatusActive, models.SubscriptionStatusUnpaid}:                true,
	{models.SubscriptionStatusPastDue, models.SubscriptionStatusUnpaid}:               true,
}

// CanTransition reports whether from -> to is a permitted edge.
func CanTransition(from, to string) bool {
	return validTransitions[Transition{From: from, To: to}]
}

// TransitionsFrom returns all permitted target statuses, sorted for
// deterministic callers.
func TransitionsFrom(from string) []string {
	targets := make([]string, 0, 3)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	sort.Strings(targets)
	return targets
}
