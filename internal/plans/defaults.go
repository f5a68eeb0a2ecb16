package plans

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nebutra/billing-service/pkg/enums"
)

const (
	DefaultFreePlanID = "default-free"

	mb = int64(1024 * 1024)
	gb = 1024 * mb
)

// DefaultUsageLimits is the built-in limit table per tier and usage type.
var DefaultUsageLimits = map[enums.PlanTier]map[enums.UsageType]int64{
	enums.PlanTierFree: {
		enums.UsageTypeAIToken:   1000,
		enums.UsageTypeAPICall:   100,
		enums.UsageTypeStorage:   100 * mb,
		enums.UsageTypeBandwidth: 1 * gb,
		enums.UsageTypeCompute:   60,
	},
	enums.PlanTierPro: {
		enums.UsageTypeAIToken:   100000,
		enums.UsageTypeAPICall:   10000,
		enums.UsageTypeStorage:   10 * gb,
		enums.UsageTypeBandwidth: 100 * gb,
		enums.UsageTypeCompute:   600,
	},
	enums.PlanTierEnterprise: {
		enums.UsageTypeAIToken:   UnlimitedLimit,
		enums.UsageTypeAPICall:   UnlimitedLimit,
		enums.UsageTypeStorage:   UnlimitedLimit,
		enums.UsageTypeBandwidth: UnlimitedLimit,
		enums.UsageTypeCompute:   UnlimitedLimit,
	},
}

var defaultOverageRates = map[enums.UsageType]decimal.Decimal{
	enums.UsageTypeAIToken:   decimal.RequireFromString("0.00001"),
	enums.UsageTypeAPICall:   decimal.RequireFromString("0.0001"),
	enums.UsageTypeStorage:   decimal.RequireFromString("0.00000001"),
	enums.UsageTypeBandwidth: decimal.RequireFromString("0.00000001"),
	enums.UsageTypeCompute:   decimal.RequireFromString("0.001"),
}

var usageUnits = map[enums.UsageType]string{
	enums.UsageTypeAIToken:   "tokens",
	enums.UsageTypeAPICall:   "calls",
	enums.UsageTypeStorage:   "bytes",
	enums.UsageTypeBandwidth: "bytes",
	enums.UsageTypeCompute:   "minutes",
}

// DefaultOverageRate returns the built-in per-unit overage price for a usage type.
func DefaultOverageRate(usageType enums.UsageType) decimal.Decimal {
	if rate, ok := defaultOverageRates[usageType]; ok {
		return rate
	}
	return decimal.Zero
}

// DefaultLimits builds the limit map for a tier from DefaultUsageLimits.
func DefaultLimits(tier enums.PlanTier) map[string]LimitConfig {
	table := DefaultUsageLimits[tier]
	limits := make(map[string]LimitConfig, len(table))
	for usageType, value := range table {
		rate := DefaultOverageRate(usageType)
		limits[usageType.String()] = LimitConfig{
			Limit:       value,
			Unit:        usageUnits[usageType],
			ResetPeriod: enums.ResetPeriodMonthly,
			OverageRate: &rate,
		}
	}
	return limits
}

// DefaultFreePlan is used when no FREE plan has been seeded.
func DefaultFreePlan(now time.Time) PlanConfig {
	return PlanConfig{
		ID:            DefaultFreePlanID,
		Slug:          "free",
		Name:          "Free",
		Plan:          enums.PlanTierFree,
		Version:       "v1",
		Interval:      enums.BillingIntervalMonthly,
		Amount:        decimal.Zero,
		Currency:      "USD",
		TrialDays:     0,
		Features:      map[string]FeatureValue{},
		Limits:        DefaultLimits(enums.PlanTierFree),
		IsActive:      true,
		IsPublic:      true,
		EffectiveFrom: now,
	}
}
