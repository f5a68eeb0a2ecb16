package plans

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/nebutra/billing-service/pkg/db/models"
)

func toPlanConfig(record *models.PricingPlan) PlanConfig {
	features := make(map[string]FeatureValue, len(record.Features))
	for _, feature := range record.Features {
		key := feature.Feature.Key
		if key == "" {
			continue
		}
		value := FeatureValue{Enabled: feature.IsEnabled}
		if len(feature.Value) > 0 {
			value.Value = json.RawMessage(feature.Value)
		}
		if len(feature.Metadata) > 0 {
			var metadata map[string]any
			if err := json.Unmarshal(feature.Metadata, &metadata); err == nil && len(metadata) > 0 {
				value.Metadata = metadata
			}
		}
		features[key] = value
	}

	limits := make(map[string]LimitConfig, len(record.Limits))
	for _, limit := range record.Limits {
		key := limit.LimitDef.Key
		if key == "" {
			continue
		}
		rate := nullDecimalPtr(limit.OverageRate)
		if rate == nil {
			rate = nullDecimalPtr(limit.LimitDef.OverageRate)
		}
		limits[key] = LimitConfig{
			Limit:       limit.LimitValue,
			Unit:        limit.LimitDef.Unit,
			ResetPeriod: resetPeriod(limit.LimitDef.ResetPeriod),
			OverageRate: rate,
		}
	}

	return PlanConfig{
		ID:            record.ID,
		Slug:          record.Slug,
		Name:          record.Name,
		Plan:          record.Tier,
		Version:       record.Version,
		Interval:      record.Interval,
		Amount:        record.Amount,
		Currency:      record.Currency,
		TrialDays:     record.TrialDays,
		Features:      features,
		Limits:        limits,
		IsActive:      record.IsActive,
		IsPublic:      record.IsPublic,
		EffectiveFrom: record.EffectiveFrom,
		EffectiveTo:   record.EffectiveTo,
	}
}

func nullDecimalPtr(value decimal.NullDecimal) *decimal.Decimal {
	if !value.Valid {
		return nil
	}
	rate := value.Decimal
	return &rate
}
