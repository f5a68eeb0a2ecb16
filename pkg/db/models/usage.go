package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/nebutra/billing-service/pkg/enums"
)

// UsageCounter accumulates usage for one organization, period and type.
type UsageCounter struct {
	ID             string          `gorm:"column:id;primaryKey"`
	OrganizationID string          `gorm:"column:organization_id;not null;uniqueIndex:idx_usage_counters_org_period_type"`
	Period         string          `gorm:"column:period;not null;uniqueIndex:idx_usage_counters_org_period_type"`
	UsageType      enums.UsageType `gorm:"column:usage_type;not null;uniqueIndex:idx_usage_counters_org_period_type"`
	Quantity       int64           `gorm:"column:quantity;not null"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// UsageRecord is the immutable event behind a counter increment.
type UsageRecord struct {
	ID             string          `gorm:"column:id;primaryKey"`
	OrganizationID string          `gorm:"column:organization_id;not null;index"`
	Period         string          `gorm:"column:period;not null"`
	UsageType      enums.UsageType `gorm:"column:usage_type;not null"`
	Quantity       int64           `gorm:"column:quantity;not null"`
	Resource       *string         `gorm:"column:resource"`
	Metadata       datatypes.JSON  `gorm:"column:metadata"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}
