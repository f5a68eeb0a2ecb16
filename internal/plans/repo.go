package plans

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nebutra/billing-service/pkg/db/models"
	"github.com/nebutra/billing-service/pkg/enums"
)

// Repository handles plan, subscription and override persistence.
type Repository interface {
	ConfigStore
	WithTx(tx *gorm.DB) Repository
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	FindPlanByStripePrice(ctx context.Context, priceID string) (*models.PricingPlan, error)
	UpsertSubscription(ctx context.Context, subscription *models.Subscription) error
	ListLiveOrganizationIDs(ctx context.Context, limit int) ([]string, error)
}

// ConfigStore is the read-only view PlanResolver needs.
type ConfigStore interface {
	GetActiveSubscription(ctx context.Context, organizationID string) (*models.Subscription, error)
	GetPlanVersion(ctx context.Context, organizationID string) (*models.CustomerPlanVersion, error)
	GetPlanByID(ctx context.Context, id string) (*models.PricingPlan, error)
	GetPlanBySlug(ctx context.Context, slug, version string, now time.Time) (*models.PricingPlan, error)
	GetFreePlan(ctx context.Context, now time.Time) (*models.PricingPlan, error)
	ListActivePlans(ctx context.Context, publicOnly bool, now time.Time) ([]models.PricingPlan, error)
	GetFeatureOverrides(ctx context.Context, organizationID string, now time.Time) ([]models.CustomerFeatureOverride, error)
	GetLimitOverrides(ctx context.Context, organizationID string, now time.Time) ([]models.CustomerUsageLimit, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) withPlanDetails(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Features.Feature").
		Preload("Limits.LimitDef")
}

func (r *repository) GetActiveSubscription(ctx context.Context, organizationID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Where("status IN ?", enums.LiveSubscriptionStatuses).
		Order("created_at DESC").
		First(&sub).Error
	return firstOrNil(&sub, err)
}

func (r *repository) GetPlanVersion(ctx context.Context, organizationID string) (*models.CustomerPlanVersion, error) {
	var version models.CustomerPlanVersion
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("created_at DESC").
		First(&version).Error
	return firstOrNil(&version, err)
}

func (r *repository) GetPlanByID(ctx context.Context, id string) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	err := r.withPlanDetails(ctx).
		Where("id = ?", id).
		First(&plan).Error
	return firstOrNil(&plan, err)
}

func (r *repository) GetPlanBySlug(ctx context.Context, slug, version string, now time.Time) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	query := r.withPlanDetails(ctx).
		Where("slug = ?", slug).
		Where("is_active = ?", true).
		Where("(effective_to IS NULL OR effective_to > ?)", now)
	if version != "" {
		query = query.Where("version = ?", version)
	}
	err := query.Order("effective_from DESC").First(&plan).Error
	return firstOrNil(&plan, err)
}

func (r *repository) GetFreePlan(ctx context.Context, now time.Time) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	err := r.withPlanDetails(ctx).
		Where("tier = ?", enums.PlanTierFree).
		Where("is_active = ?", true).
		Where("(effective_to IS NULL OR effective_to > ?)", now).
		Order("effective_from DESC").
		First(&plan).Error
	return firstOrNil(&plan, err)
}

func (r *repository) ListActivePlans(ctx context.Context, publicOnly bool, now time.Time) ([]models.PricingPlan, error) {
	var plans []models.PricingPlan
	query := r.withPlanDetails(ctx).
		Where("is_active = ?", true).
		Where("(effective_to IS NULL OR effective_to > ?)", now)
	if publicOnly {
		query = query.Where("is_public = ?", true)
	}
	if err := query.Order("effective_from DESC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) GetFeatureOverrides(ctx context.Context, organizationID string, now time.Time) ([]models.CustomerFeatureOverride, error) {
	var overrides []models.CustomerFeatureOverride
	if err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Order("created_at ASC").
		Find(&overrides).Error; err != nil {
		return nil, err
	}
	return overrides, nil
}

func (r *repository) GetLimitOverrides(ctx context.Context, organizationID string, now time.Time) ([]models.CustomerUsageLimit, error) {
	var overrides []models.CustomerUsageLimit
	if err := r.db.WithContext(ctx).
		Preload("LimitDef").
		Where("organization_id = ?", organizationID).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Order("created_at ASC").
		Find(&overrides).Error; err != nil {
		return nil, err
	}
	return overrides, nil
}

func (r *repository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error
	return firstOrNil(&sub, err)
}

func (r *repository) FindPlanByStripePrice(ctx context.Context, priceID string) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	err := r.db.WithContext(ctx).
		Where("stripe_price_id = ?", priceID).
		Order("effective_from DESC").
		First(&plan).Error
	return firstOrNil(&plan, err)
}

// UpsertSubscription saves a loaded row, or inserts keyed on stripe_subscription_id.
func (r *repository) UpsertSubscription(ctx context.Context, subscription *models.Subscription) error {
	if subscription.ID != "" {
		return r.db.WithContext(ctx).Save(subscription).Error
	}
	subscription.ID = uuid.NewString()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"pricing_plan_id",
				"status",
				"stripe_customer_id",
				"stripe_price_id",
				"current_period_start",
				"current_period_end",
				"cancel_at_period_end",
				"canceled_at",
				"updated_at",
			}),
		}).
		Create(subscription).Error
}

func (r *repository) ListLiveOrganizationIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Distinct("organization_id").
		Where("status IN ?", enums.LiveSubscriptionStatuses).
		Order("organization_id").
		Limit(limit).
		Pluck("organization_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func firstOrNil[T any](record *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}
