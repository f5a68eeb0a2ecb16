package enums

// CreditTransactionType classifies a credit ledger entry.
type CreditTransactionType string

const (
	CreditTransactionPurchase   CreditTransactionType = "PURCHASE"
	CreditTransactionUsage      CreditTransactionType = "USAGE"
	CreditTransactionRefund     CreditTransactionType = "REFUND"
	CreditTransactionBonus      CreditTransactionType = "BONUS"
	CreditTransactionAdjustment CreditTransactionType = "ADJUSTMENT"
	CreditTransactionExpiration CreditTransactionType = "EXPIRATION"
)

var creditTransactionTypes = newSet("credit transaction type",
	CreditTransactionPurchase,
	CreditTransactionUsage,
	CreditTransactionRefund,
	CreditTransactionBonus,
	CreditTransactionAdjustment,
	CreditTransactionExpiration,
).folding(normalizeUpper)

func (c CreditTransactionType) String() string { return string(c) }

func (c CreditTransactionType) IsValid() bool { return creditTransactionTypes.has(c) }

// ParseCreditTransactionType accepts any letter case, so "purchase" parses.
func ParseCreditTransactionType(value string) (CreditTransactionType, error) {
	return creditTransactionTypes.parse(value)
}
