package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nebutra/billing-service/pkg/db/models"
	"github.com/nebutra/billing-service/pkg/enums"
)

type seedFeature struct {
	key  string
	name string
}

var seedFeatures = []seedFeature{
	{"ai.chat", "AI Chat"},
	{"ai.embeddings", "Embeddings"},
	{"ai.image", "Image Generation"},
	{"content.moderation", "Content Moderation"},
	{"recsys.advanced", "Advanced ML Recommendations"},
	{"team.members", "Team Members"},
	{"team.sso", "SSO/SAML"},
	{"support.priority", "Priority Support"},
	{"analytics.export", "Data Export"},
}

type seedPlan struct {
	slug      string
	name      string
	tier      enums.PlanTier
	amount    string
	trialDays int
	features  map[string]any
}

var seedPlans = []seedPlan{
	{
		slug: "free", name: "Free", tier: enums.PlanTierFree, amount: "0", trialDays: 0,
		features: map[string]any{"ai.chat": true, "ai.embeddings": false, "team.members": 1},
	},
	{
		slug: "pro", name: "Pro", tier: enums.PlanTierPro, amount: "29", trialDays: 14,
		features: map[string]any{
			"ai.chat": true, "ai.embeddings": true, "ai.image": true, "content.moderation": true,
			"team.members": 10, "support.priority": true, "analytics.export": true,
		},
	},
	{
		slug: "enterprise", name: "Enterprise", tier: enums.PlanTierEnterprise, amount: "299", trialDays: 30,
		features: map[string]any{
			"ai.chat": true, "ai.embeddings": true, "ai.image": true, "content.moderation": true,
			"recsys.advanced": true, "team.members": -1, "team.sso": true, "support.priority": true,
			"analytics.export": true,
		},
	},
}

// SeedDefaults inserts the FREE, PRO and ENTERPRISE v1 plans with the default limit table.
// Existing rows are left untouched.
func SeedDefaults(ctx context.Context, conn *gorm.DB, now time.Time) error {
	return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		featureIDs := make(map[string]string, len(seedFeatures))
		for _, feature := range seedFeatures {
			record := models.FeatureDefinition{ID: uuid.NewString(), Key: feature.key, Name: feature.name}
			if err := tx.Where(models.FeatureDefinition{Key: feature.key}).FirstOrCreate(&record).Error; err != nil {
				return fmt.Errorf("seed feature %s: %w", feature.key, err)
			}
			featureIDs[feature.key] = record.ID
		}

		limitIDs := make(map[enums.UsageType]string)
		for _, usageType := range enums.UsageTypes() {
			record := models.UsageLimitDefinition{
				ID:          uuid.NewString(),
				Key:         usageType.String(),
				Name:        usageType.String(),
				Unit:        usageUnits[usageType],
				ResetPeriod: enums.ResetPeriodMonthly,
				OverageRate: decimal.NewNullDecimal(DefaultOverageRate(usageType)),
			}
			if err := tx.Where(models.UsageLimitDefinition{Key: record.Key}).FirstOrCreate(&record).Error; err != nil {
				return fmt.Errorf("seed limit %s: %w", usageType, err)
			}
			limitIDs[usageType] = record.ID
		}

		for _, spec := range seedPlans {
			plan := models.PricingPlan{
				ID:            uuid.NewString(),
				Slug:          spec.slug,
				Name:          spec.name,
				Tier:          spec.tier,
				Version:       "v1",
				Interval:      enums.BillingIntervalMonthly,
				Amount:        decimal.RequireFromString(spec.amount),
				Currency:      "USD",
				TrialDays:     spec.trialDays,
				IsActive:      true,
				IsPublic:      true,
				EffectiveFrom: now.UTC(),
			}
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&plan)
			if result.Error != nil {
				return fmt.Errorf("seed plan %s: %w", spec.slug, result.Error)
			}
			if result.RowsAffected == 0 {
				continue
			}

			for key, value := range spec.features {
				raw, err := json.Marshal(value)
				if err != nil {
					return err
				}
				feature := models.PlanFeature{
					ID:        uuid.NewString(),
					PlanID:    plan.ID,
					FeatureID: featureIDs[key],
					IsEnabled: truthy(raw),
					Value:     datatypes.JSON(raw),
				}
				if err := tx.Create(&feature).Error; err != nil {
					return fmt.Errorf("seed plan feature %s/%s: %w", spec.slug, key, err)
				}
			}

			for usageType, value := range DefaultUsageLimits[spec.tier] {
				limit := models.PlanUsageLimit{
					ID:         uuid.NewString(),
					PlanID:     plan.ID,
					LimitDefID: limitIDs[usageType],
					LimitValue: value,
				}
				if err := tx.Create(&limit).Error; err != nil {
					return fmt.Errorf("seed plan limit %s/%s: %w", spec.slug, usageType, err)
				}
			}
		}
		return nil
	})
}
