package enums

import "slices"

// SubscriptionStatus mirrors the billing provider's subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive            SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue           SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled          SubscriptionStatus = "CANCELED"
	SubscriptionStatusIncomplete        SubscriptionStatus = "INCOMPLETE"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "INCOMPLETE_EXPIRED"
	SubscriptionStatusUnpaid            SubscriptionStatus = "UNPAID"
	SubscriptionStatusPaused            SubscriptionStatus = "PAUSED"
)

var subscriptionStatuses = newSet("subscription status",
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCanceled,
	SubscriptionStatusIncomplete,
	SubscriptionStatusIncompleteExpired,
	SubscriptionStatusUnpaid,
	SubscriptionStatusPaused,
).folding(normalizeUpper)

// LiveSubscriptionStatuses are the states that entitle an organization to its plan.
var LiveSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusTrialing,
}

func (s SubscriptionStatus) String() string { return string(s) }

func (s SubscriptionStatus) IsValid() bool { return subscriptionStatuses.has(s) }

// IsLive reports whether the subscription currently grants its plan.
func (s SubscriptionStatus) IsLive() bool {
	return slices.Contains(LiveSubscriptionStatuses, s)
}

// ParseSubscriptionStatus accepts Stripe's lowercase spelling ("past_due").
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	return subscriptionStatuses.parse(value)
}
