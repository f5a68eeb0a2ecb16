package enums

// BillingInterval is how often a plan price is charged.
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "MONTHLY"
	BillingIntervalYearly  BillingInterval = "YEARLY"
	BillingIntervalOneTime BillingInterval = "ONE_TIME"
)

var billingIntervals = newSet("billing interval",
	BillingIntervalMonthly, BillingIntervalYearly, BillingIntervalOneTime)

func (b BillingInterval) String() string { return string(b) }

func (b BillingInterval) IsValid() bool { return billingIntervals.has(b) }

func ParseBillingInterval(value string) (BillingInterval, error) {
	return billingIntervals.parse(value)
}
