package credits

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nebutra/billing-service/pkg/db/models"
	"github.com/nebutra/billing-service/pkg/enums"
)

// CreditsPerDollar converts purchase amounts to credits.
const CreditsPerDollar int64 = 100

// MaxCreditsPerEntry bounds the credits a single ledger entry may move.
const MaxCreditsPerEntry int64 = 1_000_000_000_000

// PurchaseMetadataType tags payment intents created for credit purchases.
const PurchaseMetadataType = "credit_purchase"

// Transaction is the API view of a ledger entry. Credits is signed.
type Transaction struct {
	ID                   string                      `json:"id"`
	OrganizationID       string                      `json:"organization_id"`
	Type                 enums.CreditTransactionType `json:"type"`
	Credits              int64                       `json:"credits"`
	BalanceAfter         int64                       `json:"balance_after"`
	Description          string                      `json:"description"`
	PaymentIntentID      *string                     `json:"payment_intent_id,omitempty"`
	RelatedTransactionID *string                     `json:"related_transaction_id,omitempty"`
	Metadata             map[string]any              `json:"metadata,omitempty"`
	CreatedAt            time.Time                   `json:"created_at"`
}

// Balance is an organization's current credit standing.
type Balance struct {
	OrganizationID string          `json:"organization_id"`
	Balance        int64           `json:"balance"`
	DollarValue    decimal.Decimal `json:"dollar_value"`
	Formatted      string          `json:"formatted"`
	LastUpdated    *time.Time      `json:"last_updated"`
}

// PurchaseInput requests credits bought with a card payment.
type PurchaseInput struct {
	OrganizationID string
	Amount         decimal.Decimal
	PaymentMethod  string
}

// PurchaseResult reports the payment intent and, unless pending, the PURCHASE entry.
type PurchaseResult struct {
	Credits         int64        `json:"credits"`
	PaymentIntentID string       `json:"payment_intent_id"`
	ClientSecret    string       `json:"client_secret,omitempty"`
	Pending         bool         `json:"pending"`
	Transaction     *Transaction `json:"transaction,omitempty"`
	Balance         int64        `json:"balance"`
}

// ConfirmPurchaseInput is a succeeded payment reported by Stripe.
type ConfirmPurchaseInput struct {
	OrganizationID  string
	PaymentIntentID string
	Credits         int64
	AmountCents     int64
}

// DeductInput consumes credits.
type DeductInput struct {
	OrganizationID string
	Credits        int64
	Reason         string
	Metadata       map[string]any
}

// RefundInput returns credits against an earlier transaction. Nil Credits refunds the full amount.
type RefundInput struct {
	OrganizationID string
	TransactionID  string
	Credits        *int64
	Reason         string
}

// BonusInput grants promotional credits, optionally lapsing at ExpiresAt.
type BonusInput struct {
	OrganizationID string
	Credits        int64
	Reason         string
	ExpiresAt      *time.Time
}

// TransactionsQuery pages through an organization's history, newest first.
type TransactionsQuery struct {
	OrganizationID string
	Type           *enums.CreditTransactionType
	Limit          int
	Offset         int
}

// TransactionPage is one page of history.
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	TotalCount   int64         `json:"total_count"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
	HasMore      bool          `json:"has_more"`
}

// CheckResult answers whether a deduction of Requested credits would succeed.
type CheckResult struct {
	HasEnough      bool  `json:"has_enough"`
	Requested      int64 `json:"requested"`
	Balance        int64 `json:"balance"`
	RemainingAfter int64 `json:"remaining_after"`
}

// DollarsToCredits converts a dollar amount, rounding to the nearest credit.
func DollarsToCredits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(CreditsPerDollar)).Round(0).IntPart()
}

// CreditsToDollars converts credits back to dollars.
func CreditsToDollars(credits int64) decimal.Decimal {
	return decimal.NewFromInt(credits).Div(decimal.NewFromInt(CreditsPerDollar))
}

// FormatCredits renders the dollar value of credits as $X.XX.
func FormatCredits(credits int64) string {
	return fmt.Sprintf("$%s", CreditsToDollars(credits).StringFixed(2))
}

func toTransaction(record *models.CreditTransaction) Transaction {
	out := Transaction{
		ID:                   record.ID,
		OrganizationID:       record.OrganizationID,
		Type:                 record.Type,
		Credits:              record.Credits,
		BalanceAfter:         record.BalanceAfter,
		Description:          record.Description,
		PaymentIntentID:      record.PaymentIntentID,
		RelatedTransactionID: record.RelatedTransactionID,
		CreatedAt:            record.CreatedAt,
	}
	if len(record.Metadata) > 0 {
		var metadata map[string]any
		if err := json.Unmarshal(record.Metadata, &metadata); err == nil && len(metadata) > 0 {
			out.Metadata = metadata
		}
	}
	return out
}
