package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nebutra/billing-service/pkg/db/models"
	"github.com/nebutra/billing-service/pkg/enums"
)

// Repository persists usage counters and records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Increment(ctx context.Context, organizationID, period string, usageType enums.UsageType, quantity int64, at time.Time) (int64, error)
	AppendRecord(ctx context.Context, record *models.UsageRecord) error
	Current(ctx context.Context, organizationID, period string, usageType enums.UsageType) (int64, error)
	CurrentAll(ctx context.Context, organizationID, period string) (map[enums.UsageType]int64, error)
	Reset(ctx context.Context, organizationID, period string, usageType *enums.UsageType, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a usage repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Increment adds quantity to the counter in one upsert and returns the new total.
func (r *repository) Increment(ctx context.Context, organizationID, period string, usageType enums.UsageType, quantity int64, at time.Time) (int64, error) {
	counter := models.UsageCounter{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Period:         period,
		UsageType:      usageType,
		Quantity:       quantity,
		UpdatedAt:      at,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "organization_id"}, {Name: "period"}, {Name: "usage_type"}},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity":   gorm.Expr("usage_counters.quantity + ?", quantity),
				"updated_at": at,
			}),
		}).
		Create(&counter).Error
	if err != nil {
		return 0, err
	}
	return r.Current(ctx, organizationID, period, usageType)
}

func (r *repository) AppendRecord(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) Current(ctx context.Context, organizationID, period string, usageType enums.UsageType) (int64, error) {
	var quantities []int64
	if err := r.db.WithContext(ctx).
		Model(&models.UsageCounter{}).
		Where("organization_id = ? AND period = ? AND usage_type = ?", organizationID, period, usageType).
		Limit(1).
		Pluck("quantity", &quantities).Error; err != nil {
		return 0, err
	}
	if len(quantities) == 0 {
		return 0, nil
	}
	return quantities[0], nil
}

func (r *repository) CurrentAll(ctx context.Context, organizationID, period string) (map[enums.UsageType]int64, error) {
	var counters []models.UsageCounter
	if err := r.db.WithContext(ctx).
		Where("organization_id = ? AND period = ?", organizationID, period).
		Find(&counters).Error; err != nil {
		return nil, err
	}
	out := make(map[enums.UsageType]int64, len(counters))
	for _, counter := range counters {
		out[counter.UsageType] = counter.Quantity
	}
	return out, nil
}

// Reset zeroes the period's counters; other periods are untouched.
func (r *repository) Reset(ctx context.Context, organizationID, period string, usageType *enums.UsageType, at time.Time) error {
	query := r.db.WithContext(ctx).
		Model(&models.UsageCounter{}).
		Where("organization_id = ? AND period = ?", organizationID, period)
	if usageType != nil {
		query = query.Where("usage_type = ?", *usageType)
	}
	return query.Updates(map[string]any{"quantity": 0, "updated_at": at}).Error
}
