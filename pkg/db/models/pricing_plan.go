package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/nebutra/billing-service/pkg/enums"
)

// PricingPlan is one published version of a plan. New versions are new rows.
type PricingPlan struct {
	ID            string                `gorm:"column:id;primaryKey"`
	Slug          string                `gorm:"column:slug;not null;uniqueIndex:idx_pricing_plans_slug_version"`
	Name          string                `gorm:"column:name;not null"`
	Tier          enums.PlanTier        `gorm:"column:tier;not null;index"`
	Version       string                `gorm:"column:version;not null;uniqueIndex:idx_pricing_plans_slug_version"`
	Interval      enums.BillingInterval `gorm:"column:billing_interval;not null"`
	Amount        decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency      string                `gorm:"column:currency;not null"`
	TrialDays     int                   `gorm:"column:trial_days;not null"`
	IsActive      bool                  `gorm:"column:is_active;not null"`
	IsPublic      bool                  `gorm:"column:is_public;not null"`
	StripePriceID *string               `gorm:"column:stripe_price_id;index"`
	EffectiveFrom time.Time             `gorm:"column:effective_from;not null"`
	EffectiveTo   *time.Time            `gorm:"column:effective_to"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time             `gorm:"column:updated_at;autoUpdateTime"`

	Features []PlanFeature    `gorm:"foreignKey:PlanID"`
	Limits   []PlanUsageLimit `gorm:"foreignKey:PlanID"`
}

// FeatureDefinition names a capability that plans can attach.
type FeatureDefinition struct {
	ID          string    `gorm:"column:id;primaryKey"`
	Key         string    `gorm:"column:key;not null;uniqueIndex"`
	Name        string    `gorm:"column:name;not null"`
	Description *string   `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// PlanFeature attaches a feature definition to a plan version.
type PlanFeature struct {
	ID        string            `gorm:"column:id;primaryKey"`
	PlanID    string            `gorm:"column:plan_id;not null;index"`
	FeatureID string            `gorm:"column:feature_id;not null"`
	IsEnabled bool              `gorm:"column:is_enabled;not null"`
	Value     datatypes.JSON    `gorm:"column:value"`
	Metadata  datatypes.JSON    `gorm:"column:metadata"`
	Feature   FeatureDefinition `gorm:"foreignKey:FeatureID"`
}

// UsageLimitDefinition names a metered limit and how it resets.
type UsageLimitDefinition struct {
	ID          string              `gorm:"column:id;primaryKey"`
	Key         string              `gorm:"column:key;not null;uniqueIndex"`
	Name        string              `gorm:"column:name;not null"`
	Unit        string              `gorm:"column:unit;not null"`
	ResetPeriod enums.ResetPeriod   `gorm:"column:reset_period;not null"`
	OverageRate decimal.NullDecimal `gorm:"column:overage_rate;type:numeric(20,10)"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
}

// PlanUsageLimit attaches a limit definition to a plan version. LimitValue -1 is unlimited.
type PlanUsageLimit struct {
	ID          string               `gorm:"column:id;primaryKey"`
	PlanID      string               `gorm:"column:plan_id;not null;index"`
	LimitDefID  string               `gorm:"column:limit_def_id;not null"`
	LimitValue  int64                `gorm:"column:limit_value;not null"`
	OverageRate decimal.NullDecimal  `gorm:"column:overage_rate;type:numeric(20,10)"`
	LimitDef    UsageLimitDefinition `gorm:"foreignKey:LimitDefID"`
}
