// Package credits keeps the append-only prepaid credit ledger.
package credits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nebutra/billing-service/pkg/db"
	"github.com/nebutra/billing-service/pkg/db/models"
	"github.com/nebutra/billing-service/pkg/enums"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/logger"
	"github.com/nebutra/billing-service/pkg/metrics"
	"github.com/nebutra/billing-service/pkg/pagination"
	pkgstripe "github.com/nebutra/billing-service/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PaymentGateway creates the external payment behind a credit purchase.
type PaymentGateway interface {
	FindCustomerByOrganization(ctx context.Context, organizationID string) (string, error)
	CreatePaymentIntent(ctx context.Context, req pkgstripe.PaymentIntentRequest) (*pkgstripe.PaymentIntent, error)
}

// ServiceParams groups dependencies for the credit service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Payments PaymentGateway
	Logger   *logger.Logger
	Metrics  *metrics.LedgerMetrics
	Now      func() time.Time
	// GrantOnConfirmation defers PURCHASE entries to ConfirmPurchase.
	GrantOnConfirmation bool
	Currency            string
}

// Service owns every credit balance mutation.
type Service struct {
	repo                Repository
	tx                  txRunner
	payments            PaymentGateway
	logg                *logger.Logger
	metrics             *metrics.LedgerMetrics
	now                 func() time.Time
	grantOnConfirmation bool
	currency            string
	locks               *orgLocks
}

// NewService builds a credit service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	currency := strings.TrimSpace(params.Currency)
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		repo:                params.Repo,
		tx:                  params.Tx,
		payments:            params.Payments,
		logg:                params.Logger,
		metrics:             params.Metrics,
		now:                 now,
		grantOnConfirmation: params.GrantOnConfirmation,
		currency:            currency,
		locks:               newOrgLocks(),
	}, nil
}

// Balance returns the organization's balance; organizations without history have zero.
func (s *Service) Balance(ctx context.Context, organizationID string) (*Balance, error) {
	org, err := requireOrg(organizationID)
	if err != nil {
		return nil, err
	}
	record, err := s.repo.GetBalance(ctx, org)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit balance")
	}
	out := &Balance{OrganizationID: org}
	if record != nil {
		out.Balance = record.Balance
		updated := record.UpdatedAt
		out.LastUpdated = &updated
	}
	out.DollarValue = CreditsToDollars(out.Balance)
	out.Formatted = FormatCredits(out.Balance)
	return out, nil
}

// Purchase creates a payment intent for the amount and records the PURCHASE unless grants wait for confirmation.
func (s *Service) Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	org, err := requireOrg(input.OrganizationID)
	if err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Amount.GreaterThan(CreditsToDollars(MaxCreditsPerEntry)) {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "amount must not exceed %s", CreditsToDollars(MaxCreditsPerEntry).StringFixed(2))
	}
	credits := DollarsToCredits(input.Amount)
	if credits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount too small to buy credits")
	}
	if s.payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment provider not configured")
	}

	customerID, err := s.payments.FindCustomerByOrganization(ctx, org)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payment customer")
	}
	intent, err := s.payments.CreatePaymentIntent(ctx, pkgstripe.PaymentIntentRequest{
		AmountCents:   input.Amount.Mul(centsPerDollar).Round(0).IntPart(),
		Currency:      s.currency,
		CustomerID:    customerID,
		PaymentMethod: strings.TrimSpace(input.PaymentMethod),
		Metadata: map[string]string{
			"organization_id": org,
			"credits":         strconv.FormatInt(credits, 10),
			"type":            PurchaseMetadataType,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	result := &PurchaseResult{
		Credits:         credits,
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
	}
	if s.grantOnConfirmation {
		result.Pending = true
		if current, err := s.repo.GetBalance(ctx, org); err == nil && current != nil {
			result.Balance = current.Balance
		}
		s.logInfo(ctx, org, "credit purchase awaiting payment confirmation", map[string]any{"payment_intent_id": intent.ID})
		return result, nil
	}

	intentID := intent.ID
	txn, err := s.apply(ctx, ledgerEntry{
		organizationID:  org,
		txType:          enums.CreditTransactionPurchase,
		credits:         credits,
		description:     fmt.Sprintf("Purchased %d credits", credits),
		paymentIntentID: &intentID,
		metadata: map[string]any{
			"payment_intent_id": intent.ID,
			"amount":            input.Amount.StringFixed(2),
		},
	})
	if err != nil {
		return nil, err
	}
	result.Transaction = txn
	result.Balance = txn.BalanceAfter
	return result, nil
}

// ConfirmPurchase records the PURCHASE for a succeeded payment intent. Repeated confirmations
// return the original entry and created=false.
func (s *Service) ConfirmPurchase(ctx context.Context, input ConfirmPurchaseInput) (*Transaction, bool, error) {
	org, err := requireOrg(input.OrganizationID)
	if err != nil {
		return nil, false, err
	}
	intentID := strings.TrimSpace(input.PaymentIntentID)
	if intentID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "payment_intent_id is required")
	}
	if input.Credits <= 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "credits must be positive")
	}

	if existing, err := s.repo.FindTransactionByPaymentIntent(ctx, intentID); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payment intent transaction")
	} else if existing != nil {
		view := toTransaction(existing)
		return &view, false, nil
	}

	metadata := map[string]any{"payment_intent_id": intentID}
	if input.AmountCents > 0 {
		metadata["amount"] = decimal.NewFromInt(input.AmountCents).Div(centsPerDollar).StringFixed(2)
	}
	txn, err := s.apply(ctx, ledgerEntry{
		organizationID:  org,
		txType:          enums.CreditTransactionPurchase,
		credits:         input.Credits,
		description:     fmt.Sprintf("Purchased %d credits", input.Credits),
		paymentIntentID: &intentID,
		metadata:        metadata,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeIdempotency) {
			existing, findErr := s.repo.FindTransactionByPaymentIntent(ctx, intentID)
			if findErr == nil && existing != nil {
				view := toTransaction(existing)
				return &view, false, nil
			}
		}
		return nil, false, err
	}
	return txn, true, nil
}

// Deduct removes credits. It fails without side effects when the balance is short.
func (s *Service) Deduct(ctx context.Context, input DeductInput) (*Transaction, error) {
	org, err := requireOrg(input.OrganizationID)
	if err != nil {
		return nil, err
	}
	if input.Credits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credits must be positive")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "Credit usage"
	}
	return s.apply(ctx, ledgerEntry{
		organizationID: org,
		txType:         enums.CreditTransactionUsage,
		credits:        -input.Credits,
		description:    reason,
		metadata:       input.Metadata,
		requireFunds:   true,
	})
}

// Refund returns credits against an earlier transaction of the same organization.
func (s *Service) Refund(ctx context.Context, input RefundInput) (*Transaction, error) {
	org, err := requireOrg(input.OrganizationID)
	if err != nil {
		return nil, err
	}
	originalID := strings.TrimSpace(input.TransactionID)
	if originalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction_id is required")
	}
	original, err := s.repo.FindTransaction(ctx, org, originalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load original transaction")
	}
	if original == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}

	credits := abs(original.Credits)
	if input.Credits != nil {
		credits = *input.Credits
	}
	if credits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund credits must be positive")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "Refund"
	}
	return s.apply(ctx, ledgerEntry{
		organizationID:       org,
		txType:               enums.CreditTransactionRefund,
		credits:              credits,
		description:          reason,
		relatedTransactionID: &original.ID,
		metadata:             map[string]any{"original_transaction_id": original.ID},
	})
}

// AddBonus grants promotional credits. Bonuses with ExpiresAt lapse through ExpireBonuses.
func (s *Service) AddBonus(ctx context.Context, input BonusInput) (*Transaction, error) {
	org, err := requireOrg(input.OrganizationID)
	if err != nil {
		return nil, err
	}
	if input.Credits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credits must be positive")
	}
	now := s.now().UTC()
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expires_at must be in the future")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "Bonus credits"
	}
	entry := ledgerEntry{
		organizationID: org,
		txType:         enums.CreditTransactionBonus,
		credits:        input.Credits,
		description:    reason,
	}
	if input.ExpiresAt != nil {
		expiresAt := input.ExpiresAt.UTC()
		entry.metadata = map[string]any{"expires_at": expiresAt.Format(time.RFC3339)}
		entry.after = func(ctx context.Context, repo Repository, txn *models.CreditTransaction) error {
			return repo.CreateBonusGrant(ctx, &models.CreditBonusGrant{
				ID:             uuid.NewString(),
				OrganizationID: org,
				TransactionID:  txn.ID,
				Credits:        input.Credits,
				ExpiresAt:      expiresAt,
			})
		}
	}
	return s.apply(ctx, entry)
}

// Transactions lists history newest first.
func (s *Service) Transactions(ctx context.Context, query TransactionsQuery) (*TransactionPage, error) {
	org, err := requireOrg(query.OrganizationID)
	if err != nil {
		return nil, err
	}
	if query.Type != nil && !query.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction type")
	}
	page := pagination.Params{Limit: query.Limit, Offset: query.Offset}.Normalize()
	rows, total, err := s.repo.ListTransactions(ctx, ListTransactionsQuery{
		OrganizationID: org,
		Type:           query.Type,
		Limit:          page.Limit,
		Offset:         page.Offset,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credit transactions")
	}
	out := &TransactionPage{
		Transactions: make([]Transaction, 0, len(rows)),
		TotalCount:   total,
		Limit:        page.Limit,
		Offset:       page.Offset,
		HasMore:      pagination.HasMore(page, len(rows), total),
	}
	for i := range rows {
		out.Transactions = append(out.Transactions, toTransaction(&rows[i]))
	}
	return out, nil
}

// Check reports whether credits could be deducted right now.
func (s *Service) Check(ctx context.Context, organizationID string, credits int64) (*CheckResult, error) {
	if credits < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credits must not be negative")
	}
	balance, err := s.Balance(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	out := &CheckResult{
		HasEnough: balance.Balance >= credits,
		Requested: credits,
		Balance:   balance.Balance,
	}
	if out.HasEnough {
		out.RemainingAfter = balance.Balance - credits
	}
	return out, nil
}

// HasEnoughCredits is Check reduced to its answer.
func (s *Service) HasEnoughCredits(ctx context.Context, organizationID string, credits int64) (bool, error) {
	result, err := s.Check(ctx, organizationID, credits)
	if err != nil {
		return false, err
	}
	return result.HasEnough, nil
}

// ExpireBonuses records EXPIRATION entries for lapsed bonus grants, capped at the balance.
// It returns how many grants were closed.
func (s *Service) ExpireBonuses(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 200
	}
	now := s.now().UTC()
	grants, err := s.repo.ListLapsedBonusGrants(ctx, now, batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list lapsed bonus grants")
	}
	closed := 0
	for _, grant := range grants {
		_, err := s.apply(ctx, ledgerEntry{
			organizationID:       grant.OrganizationID,
			txType:               enums.CreditTransactionExpiration,
			credits:              -grant.Credits,
			description:          "Bonus credits expired",
			relatedTransactionID: &grant.TransactionID,
			metadata:             map[string]any{"bonus_transaction_id": grant.TransactionID},
			capToBalance:         true,
			after: func(ctx context.Context, repo Repository, txn *models.CreditTransaction) error {
				var txnID *string
				if txn != nil {
					txnID = &txn.ID
				}
				return repo.MarkBonusGrantExpired(ctx, grant.ID, now, txnID)
			},
		})
		if err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

type ledgerEntry struct {
	organizationID       string
	txType               enums.CreditTransactionType
	credits              int64
	description          string
	paymentIntentID      *string
	relatedTransactionID *string
	metadata             map[string]any
	// requireFunds rejects debits larger than the balance.
	requireFunds bool
	// capToBalance shrinks debits to the balance; a zero result writes no entry.
	capToBalance bool
	after        func(ctx context.Context, repo Repository, txn *models.CreditTransaction) error
}

// apply is the only path that changes a balance. The balance row update and the
// transaction insert commit together.
func (s *Service) apply(ctx context.Context, entry ledgerEntry) (*Transaction, error) {
	if entry.credits > MaxCreditsPerEntry || entry.credits < -MaxCreditsPerEntry {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "credits must not exceed %d per transaction", MaxCreditsPerEntry)
	}
	var metadata datatypes.JSON
	if len(entry.metadata) > 0 {
		raw, err := json.Marshal(entry.metadata)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "metadata must be JSON encodable")
		}
		metadata = datatypes.JSON(raw)
	}

	release := s.locks.lock(entry.organizationID)
	defer release()

	var created *models.CreditTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()
		balance, err := repo.LockBalance(ctx, entry.organizationID, now)
		if err != nil {
			return err
		}

		credits := entry.credits
		if credits < 0 && balance.Balance+credits < 0 {
			switch {
			case entry.capToBalance:
				credits = -balance.Balance
			case entry.requireFunds:
				return pkgerrors.InsufficientCredits(balance.Balance, -credits)
			}
		}
		if credits == 0 && entry.capToBalance {
			if entry.after != nil {
				return entry.after(ctx, repo, nil)
			}
			return nil
		}

		if credits > 0 && balance.Balance > math.MaxInt64-credits {
			return pkgerrors.New(pkgerrors.CodeValidation, "credit balance would overflow").
				WithDetails(map[string]int64{"balance": balance.Balance, "credits": credits})
		}
		next := balance.Balance + credits
		txn := &models.CreditTransaction{
			ID:                   uuid.NewString(),
			OrganizationID:       entry.organizationID,
			Sequence:             balance.LastSequence + 1,
			Type:                 entry.txType,
			Credits:              credits,
			BalanceAfter:         next,
			Description:          entry.description,
			PaymentIntentID:      entry.paymentIntentID,
			RelatedTransactionID: entry.relatedTransactionID,
			Metadata:             metadata,
			CreatedAt:            now,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		balance.Balance = next
		balance.LastSequence = txn.Sequence
		balance.UpdatedAt = now
		if err := repo.SaveBalance(ctx, balance); err != nil {
			return err
		}
		if entry.after != nil {
			if err := entry.after(ctx, repo, txn); err != nil {
				return err
			}
		}
		created = txn
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, err
		}
		if entry.paymentIntentID != nil && db.IsUniqueViolation(err, "payment_intent_id") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "payment intent already recorded")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply credit transaction")
	}
	if created == nil {
		return nil, nil
	}

	s.metrics.IncTransaction(entry.txType.String())
	s.logInfo(ctx, entry.organizationID, "credit transaction recorded", map[string]any{
		"transaction_id": created.ID,
		"type":           entry.txType.String(),
		"credits":        created.Credits,
		"balance_after":  created.BalanceAfter,
	})
	view := toTransaction(created)
	return &view, nil
}

func (s *Service) logInfo(ctx context.Context, org, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithOrganizationID(ctx, org)
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}

var centsPerDollar = decimal.NewFromInt(100)

func requireOrg(organizationID string) (string, error) {
	org := strings.TrimSpace(organizationID)
	if org == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "organization_id is required")
	}
	return org, nil
}

func abs(value int64) int64 {
	if value < 0 {
		return -value
	}
	return value
}
