package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/nebutra/billing-service/internal/credits"
	"github.com/nebutra/billing-service/pkg/db/models"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/logger"
)

type subscriptionSyncer interface {
	SyncFromStripe(ctx context.Context, sub *stripe.Subscription) (*models.Subscription, error)
}

type purchaseConfirmer interface {
	ConfirmPurchase(ctx context.Context, input credits.ConfirmPurchaseInput) (*credits.Transaction, bool, error)
}

type ServiceParams struct {
	Subscriptions subscriptionSyncer
	Credits       purchaseConfirmer
	Logger        *logger.Logger
}

type Service struct {
	subscriptions subscriptionSyncer
	credits       purchaseConfirmer
	logg          *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Subscriptions == nil {
		return nil, errors.New("subscription syncer required")
	}
	if params.Credits == nil {
		return nil, errors.New("credit ledger required")
	}
	return &Service{
		subscriptions: params.Subscriptions,
		credits:       params.Credits,
		logg:          params.Logger,
	}, nil
}

// HandleEvent dispatches a verified Stripe event. Unhandled types are acknowledged.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
		}
		_, err := s.subscriptions.SyncFromStripe(ctx, &stripeSub)
		return err
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		return s.confirmPurchase(ctx, &intent)
	default:
		return nil
	}
}

func (s *Service) confirmPurchase(ctx context.Context, intent *stripe.PaymentIntent) error {
	if intent.Metadata["type"] != credits.PurchaseMetadataType {
		return nil
	}
	org := strings.TrimSpace(intent.Metadata["organization_id"])
	if org == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent missing organization_id")
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(intent.Metadata["credits"]), 10, 64)
	if err != nil || amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent has invalid credits metadata")
	}
	received := intent.AmountReceived
	if received == 0 {
		received = intent.Amount
	}

	txn, created, err := s.credits.ConfirmPurchase(ctx, credits.ConfirmPurchaseInput{
		OrganizationID:  org,
		PaymentIntentID: intent.ID,
		Credits:         amount,
		AmountCents:     received,
	})
	if err != nil {
		return err
	}
	if s.logg != nil {
		fields := map[string]any{
			"organization_id":   org,
			"payment_intent_id": intent.ID,
			"transaction_id":    txn.ID,
			"created":           created,
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "credit purchase confirmed")
	}
	return nil
}
