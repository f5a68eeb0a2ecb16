package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubscriptionStatusAcceptsStripeSpelling(t *testing.T) {
	status, err := ParseSubscriptionStatus(" past_due ")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusPastDue, status)

	_, err = ParseSubscriptionStatus("bogus")
	assert.EqualError(t, err, `invalid subscription status "bogus"`)
}

func TestSubscriptionStatusIsLive(t *testing.T) {
	assert.True(t, SubscriptionStatusActive.IsLive())
	assert.True(t, SubscriptionStatusTrialing.IsLive())
	assert.False(t, SubscriptionStatusCanceled.IsLive())
	assert.False(t, SubscriptionStatusPastDue.IsLive())
}

func TestPlanTierRank(t *testing.T) {
	assert.Less(t, PlanTierFree.Rank(), PlanTierPro.Rank())
	assert.Less(t, PlanTierPro.Rank(), PlanTierEnterprise.Rank())
	assert.Equal(t, 3, PlanTier("GOLD").Rank())

	tier, err := ParsePlanTier("pro")
	require.NoError(t, err)
	assert.Equal(t, PlanTierPro, tier)
}

func TestParseResetPeriod(t *testing.T) {
	cases := map[string]ResetPeriod{"": ResetPeriodMonthly, "  ": ResetPeriodMonthly, "DAILY": ResetPeriodDaily, "never": ResetPeriodNever}
	for raw, want := range cases {
		got, err := ParseResetPeriod(raw)
		require.NoErrorf(t, err, "input %q", raw)
		assert.Equalf(t, want, got, "input %q", raw)
	}
	_, err := ParseResetPeriod("hourly")
	assert.Error(t, err)
}

func TestParseBillingInterval(t *testing.T) {
	interval, err := ParseBillingInterval("YEARLY")
	require.NoError(t, err)
	assert.Equal(t, BillingIntervalYearly, interval)
	assert.True(t, BillingIntervalOneTime.IsValid())

	_, err = ParseBillingInterval("weekly")
	assert.EqualError(t, err, `invalid billing interval "weekly"`)
}

func TestUsageTypesReturnsCopy(t *testing.T) {
	types := UsageTypes()
	require.Len(t, types, 5)
	types[0] = "MUTATED"
	assert.Equal(t, UsageTypeAIToken, UsageTypes()[0])

	_, err := ParseUsageType("API_CALL")
	assert.NoError(t, err)
	_, err = ParseUsageType("api_call")
	assert.Error(t, err, "usage types are case sensitive")
}

func TestParseCreditTransactionTypeIgnoresCase(t *testing.T) {
	txType, err := ParseCreditTransactionType("bonus")
	require.NoError(t, err)
	assert.Equal(t, CreditTransactionBonus, txType)
	assert.True(t, txType.IsValid())

	_, err = ParseCreditTransactionType("GIFT")
	assert.Error(t, err)
}
