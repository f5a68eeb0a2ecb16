package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CustomerPlanVersion pins an organization to a specific plan version (grandfathering).
type CustomerPlanVersion struct {
	ID             string     `gorm:"column:id;primaryKey"`
	OrganizationID string     `gorm:"column:organization_id;not null;uniqueIndex"`
	PlanID         string     `gorm:"column:plan_id;not null"`
	ExpiresAt      *time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// CustomerFeatureOverride replaces one feature for one organization.
type CustomerFeatureOverride struct {
	ID             string         `gorm:"column:id;primaryKey"`
	OrganizationID string         `gorm:"column:organization_id;not null;index"`
	FeatureKey     string         `gorm:"column:feature_key;not null"`
	Value          datatypes.JSON `gorm:"column:value"`
	Reason         *string        `gorm:"column:reason"`
	ExpiresAt      *time.Time     `gorm:"column:expires_at"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
}

// CustomerUsageLimit replaces one usage limit for one organization.
type CustomerUsageLimit struct {
	ID             string               `gorm:"column:id;primaryKey"`
	OrganizationID string               `gorm:"column:organization_id;not null;index"`
	LimitDefID     string               `gorm:"column:limit_def_id;not null"`
	LimitValue     int64                `gorm:"column:limit_value;not null"`
	OverageRate    decimal.NullDecimal  `gorm:"column:overage_rate;type:numeric(20,10)"`
	Reason         *string              `gorm:"column:reason"`
	ExpiresAt      *time.Time           `gorm:"column:expires_at"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	LimitDef       UsageLimitDefinition `gorm:"foreignKey:LimitDefID"`
}
