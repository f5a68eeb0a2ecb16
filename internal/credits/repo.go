package credits

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nebutra/billing-service/pkg/db/models"
	"github.com/nebutra/billing-service/pkg/enums"
)

// Repository persists balances, transactions and bonus grants.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockBalance(ctx context.Context, organizationID string, now time.Time) (*models.CreditBalance, error)
	GetBalance(ctx context.Context, organizationID string) (*models.CreditBalance, error)
	SaveBalance(ctx context.Context, balance *models.CreditBalance) error
	CreateTransaction(ctx context.Context, txn *models.CreditTransaction) error
	FindTransaction(ctx context.Context, organizationID, id string) (*models.CreditTransaction, error)
	FindTransactionByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.CreditTransaction, error)
	ListTransactions(ctx context.Context, query ListTransactionsQuery) ([]models.CreditTransaction, int64, error)
	CreateBonusGrant(ctx context.Context, grant *models.CreditBonusGrant) error
	ListLapsedBonusGrants(ctx context.Context, now time.Time, limit int) ([]models.CreditBonusGrant, error)
	MarkBonusGrantExpired(ctx context.Context, id string, expiredAt time.Time, transactionID *string) error
}

// ListTransactionsQuery filters an organization's history.
type ListTransactionsQuery struct {
	OrganizationID string
	Type           *enums.CreditTransactionType
	Limit          int
	Offset         int
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockBalance creates the balance row on first use and locks it for the rest of the transaction.
func (r *repository) LockBalance(ctx context.Context, organizationID string, now time.Time) (*models.CreditBalance, error) {
	seed := models.CreditBalance{OrganizationID: organizationID, UpdatedAt: now}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, err
	}
	var balance models.CreditBalance
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ?", organizationID).
		First(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) GetBalance(ctx context.Context, organizationID string) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		First(&balance).Error
	return firstOrNil(&balance, err)
}

func (r *repository) SaveBalance(ctx context.Context, balance *models.CreditBalance) error {
	return r.db.WithContext(ctx).
		Model(&models.CreditBalance{}).
		Where("organization_id = ?", balance.OrganizationID).
		Updates(map[string]any{
			"balance":       balance.Balance,
			"last_sequence": balance.LastSequence,
			"updated_at":    balance.UpdatedAt,
		}).Error
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindTransaction(ctx context.Context, organizationID, id string) (*models.CreditTransaction, error) {
	var txn models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", organizationID, id).
		First(&txn).Error
	return firstOrNil(&txn, err)
}

func (r *repository) FindTransactionByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.CreditTransaction, error) {
	var txn models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", paymentIntentID).
		First(&txn).Error
	return firstOrNil(&txn, err)
}

func (r *repository) ListTransactions(ctx context.Context, query ListTransactionsQuery) ([]models.CreditTransaction, int64, error) {
	base := r.db.WithContext(ctx).
		Model(&models.CreditTransaction{}).
		Where("organization_id = ?", query.OrganizationID)
	if query.Type != nil {
		base = base.Where("type = ?", *query.Type)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.CreditTransaction
	if err := base.Session(&gorm.Session{}).
		Order("sequence DESC").
		Limit(query.Limit).
		Offset(query.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *repository) CreateBonusGrant(ctx context.Context, grant *models.CreditBonusGrant) error {
	return r.db.WithContext(ctx).Create(grant).Error
}

func (r *repository) ListLapsedBonusGrants(ctx context.Context, now time.Time, limit int) ([]models.CreditBonusGrant, error) {
	var grants []models.CreditBonusGrant
	if err := r.db.WithContext(ctx).
		Where("expired_at IS NULL AND expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repository) MarkBonusGrantExpired(ctx context.Context, id string, expiredAt time.Time, transactionID *string) error {
	return r.db.WithContext(ctx).
		Model(&models.CreditBonusGrant{}).
		Where("id = ? AND expired_at IS NULL", id).
		Updates(map[string]any{
			"expired_at":                expiredAt,
			"expiration_transaction_id": transactionID,
		}).Error
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
