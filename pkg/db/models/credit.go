package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/nebutra/billing-service/pkg/enums"
)

// CreditBalance is the running balance row locked by every ledger write.
type CreditBalance struct {
	OrganizationID string    `gorm:"column:organization_id;primaryKey"`
	Balance        int64     `gorm:"column:balance;not null"`
	LastSequence   int64     `gorm:"column:last_sequence;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

// CreditTransaction is an append-only ledger entry. Sequence orders entries per organization.
type CreditTransaction struct {
	ID                   string                      `gorm:"column:id;primaryKey"`
	OrganizationID       string                      `gorm:"column:organization_id;not null;uniqueIndex:idx_credit_transactions_org_sequence"`
	Sequence             int64                       `gorm:"column:sequence;not null;uniqueIndex:idx_credit_transactions_org_sequence"`
	Type                 enums.CreditTransactionType `gorm:"column:type;not null"`
	Credits              int64                       `gorm:"column:credits;not null"`
	BalanceAfter         int64                       `gorm:"column:balance_after;not null"`
	Description          string                      `gorm:"column:description;not null"`
	PaymentIntentID      *string                     `gorm:"column:payment_intent_id;uniqueIndex"`
	RelatedTransactionID *string                     `gorm:"column:related_transaction_id"`
	Metadata             datatypes.JSON              `gorm:"column:metadata"`
	CreatedAt            time.Time                   `gorm:"column:created_at"`
}

// CreditBonusGrant tracks bonus credits that lapse at ExpiresAt.
type CreditBonusGrant struct {
	ID                      string     `gorm:"column:id;primaryKey"`
	OrganizationID          string     `gorm:"column:organization_id;not null;index"`
	TransactionID           string     `gorm:"column:transaction_id;not null;uniqueIndex"`
	Credits                 int64      `gorm:"column:credits;not null"`
	ExpiresAt               time.Time  `gorm:"column:expires_at;not null;index"`
	ExpiredAt               *time.Time `gorm:"column:expired_at"`
	ExpirationTransactionID *string    `gorm:"column:expiration_transaction_id"`
	CreatedAt               time.Time  `gorm:"column:created_at;autoCreateTime"`
}
