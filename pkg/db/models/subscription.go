package models

import (
	"time"

	"github.com/nebutra/billing-service/pkg/enums"
)

// Subscription persists an organization's Stripe subscription and the plan it pays for.
type Subscription struct {
	ID                   string                   `gorm:"column:id;primaryKey"`
	OrganizationID       string                   `gorm:"column:organization_id;not null;index"`
	PricingPlanID        string                   `gorm:"column:pricing_plan_id;not null"`
	Status               enums.SubscriptionStatus `gorm:"column:status;not null"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id;uniqueIndex"`
	StripeCustomerID     *string                  `gorm:"column:stripe_customer_id"`
	StripePriceID        *string                  `gorm:"column:stripe_price_id"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
