package credits

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nebutra/billing-service/api/responses"
	"github.com/nebutra/billing-service/api/validators"
	creditsvc "github.com/nebutra/billing-service/internal/credits"
	"github.com/nebutra/billing-service/pkg/enums"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/logger"
	"github.com/nebutra/billing-service/pkg/pagination"
)

// Service describes the CreditLedger methods used by the HTTP controllers.
type Service interface {
	Balance(ctx context.Context, organizationID string) (*creditsvc.Balance, error)
	Purchase(ctx context.Context, input creditsvc.PurchaseInput) (*creditsvc.PurchaseResult, error)
	Deduct(ctx context.Context, input creditsvc.DeductInput) (*creditsvc.Transaction, error)
	Refund(ctx context.Context, input creditsvc.RefundInput) (*creditsvc.Transaction, error)
	AddBonus(ctx context.Context, input creditsvc.BonusInput) (*creditsvc.Transaction, error)
	Transactions(ctx context.Context, query creditsvc.TransactionsQuery) (*creditsvc.TransactionPage, error)
	Check(ctx context.Context, organizationID string, credits int64) (*creditsvc.CheckResult, error)
}

type purchaseRequest struct {
	OrganizationID  string          `json:"organization_id" validate:"required,max=128"`
	AmountDollars   decimal.Decimal `json:"amount_dollars"`
	PaymentMethodID string          `json:"payment_method_id,omitempty" validate:"omitempty,max=255"`
}

type purchaseResponse struct {
	Success         bool   `json:"success"`
	CreditsAdded    int64  `json:"credits_added"`
	NewBalance      int64  `json:"new_balance"`
	TransactionID   string `json:"transaction_id,omitempty"`
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret,omitempty"`
	Pending         bool   `json:"pending"`
}

type deductRequest struct {
	OrganizationID string         `json:"organization_id" validate:"required,max=128"`
	Credits        int64          `json:"credits" validate:"gt=0,max=1000000000000"`
	Reason         string         `json:"reason" validate:"required,max=255"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type refundRequest struct {
	OrganizationID string `json:"organization_id" validate:"required,max=128"`
	TransactionID  string `json:"transaction_id" validate:"required,max=64"`
	Credits        *int64 `json:"credits,omitempty" validate:"omitempty,gt=0,max=1000000000000"`
	Reason         string `json:"reason" validate:"required,max=255"`
}

type bonusRequest struct {
	OrganizationID string     `json:"organization_id" validate:"required,max=128"`
	Credits        int64      `json:"credits" validate:"gt=0,max=1000000000000"`
	Reason         string     `json:"reason" validate:"required,max=255"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type entryResponse struct {
	Success         bool                   `json:"success"`
	Credits         int64                  `json:"credits"`
	NewBalance      int64                  `json:"new_balance"`
	TransactionID   string                 `json:"transaction_id"`
	Transaction     *creditsvc.Transaction `json:"transaction"`
	CreditsDeducted *int64                 `json:"credits_deducted,omitempty"`
}

type transactionsResponse struct {
	OrganizationID string `json:"organization_id"`
	*creditsvc.TransactionPage
}

// Balance returns an organization's credit balance.
func Balance(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		orgID, err := validators.PathParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.Balance(r.Context(), orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

// Purchase creates a payment intent and grants the credits.
func Purchase(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		var payload purchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Purchase(r.Context(), creditsvc.PurchaseInput{
			OrganizationID: payload.OrganizationID,
			Amount:         payload.AmountDollars,
			PaymentMethod:  payload.PaymentMethodID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := purchaseResponse{
			Success:         true,
			CreditsAdded:    result.Credits,
			NewBalance:      result.Balance,
			PaymentIntentID: result.PaymentIntentID,
			ClientSecret:    result.ClientSecret,
			Pending:         result.Pending,
		}
		if result.Transaction != nil {
			resp.TransactionID = result.Transaction.ID
		}
		status := http.StatusOK
		if result.Pending {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, resp)
	}
}

// Deduct consumes credits or fails with 402 when the balance is short.
func Deduct(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		var payload deductRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txn, err := svc.Deduct(r.Context(), creditsvc.DeductInput{
			OrganizationID: payload.OrganizationID,
			Credits:        payload.Credits,
			Reason:         payload.Reason,
			Metadata:       payload.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := newEntryResponse(txn)
		deducted := -txn.Credits
		resp.CreditsDeducted = &deducted
		responses.WriteSuccess(w, resp)
	}
}

// Refund returns credits against an earlier transaction.
func Refund(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txn, err := svc.Refund(r.Context(), creditsvc.RefundInput{
			OrganizationID: payload.OrganizationID,
			TransactionID:  payload.TransactionID,
			Credits:        payload.Credits,
			Reason:         payload.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newEntryResponse(txn))
	}
}

// Bonus grants promotional credits.
func Bonus(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		var payload bonusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txn, err := svc.AddBonus(r.Context(), creditsvc.BonusInput{
			OrganizationID: payload.OrganizationID,
			Credits:        payload.Credits,
			Reason:         payload.Reason,
			ExpiresAt:      payload.ExpiresAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newEntryResponse(txn))
	}
}

// Transactions pages through history newest first.
func Transactions(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		orgID, err := validators.PathParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		q := r.URL.Query()
		page, err := pagination.ParseParams(q.Get("limit"), q.Get("offset"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid pagination"))
			return
		}
		query := creditsvc.TransactionsQuery{
			OrganizationID: orgID,
			Limit:          page.Limit,
			Offset:         page.Offset,
		}
		if raw := strings.TrimSpace(q.Get("type")); raw != "" {
			txType, err := enums.ParseCreditTransactionType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction type").WithDetails(map[string]any{"field": "type"}))
				return
			}
			query.Type = &txType
		}
		out, err := svc.Transactions(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, transactionsResponse{OrganizationID: orgID, TransactionPage: out})
	}
}

// Check reports whether the organization could spend {credits} now.
func Check(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		orgID, err := validators.PathParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		credits, err := validators.PathInt64(r, "credits")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := svc.Check(r.Context(), orgID, credits)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

func newEntryResponse(txn *creditsvc.Transaction) entryResponse {
	return entryResponse{
		Success:       true,
		Credits:       txn.Credits,
		NewBalance:    txn.BalanceAfter,
		TransactionID: txn.ID,
		Transaction:   txn,
	}
}
