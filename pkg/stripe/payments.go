package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
)

// PaymentIntentRequest describes a card charge for a credit purchase.
type PaymentIntentRequest struct {
	AmountCents   int64
	Currency      string
	CustomerID    string
	PaymentMethod string
	Metadata      map[string]string
}

// PaymentIntent is the subset of Stripe's payment intent the ledger keeps.
type PaymentIntent struct {
	ID           string
	Status       string
	ClientSecret string
}

// FindCustomerByOrganization returns the Stripe customer tagged with metadata.organization_id, or "" when none exists.
func (c *Client) FindCustomerByOrganization(ctx context.Context, organizationID string) (string, error) {
	if c == nil || c.api == nil {
		return "", errAPIKeyRequired
	}
	params := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Context: ctx,
			Query:   fmt.Sprintf("metadata['organization_id']:'%s'", escapeSearch(organizationID)),
			Limit:   stripe.Int64(1),
		},
	}
	for customer, err := range c.api.V1Customers.Search(ctx, params) {
		if err != nil {
			return "", fmt.Errorf("search stripe customers: %w", err)
		}
		if customer != nil {
			return customer.ID, nil
		}
	}
	return "", nil
}

// CreatePaymentIntent creates and, when a payment method is supplied, confirms a payment intent.
func (c *Client) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	if c == nil || c.api == nil {
		return nil, errAPIKeyRequired
	}
	if req.AmountCents <= 0 {
		return nil, errors.New("payment intent amount must be positive")
	}
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.PaymentMethod != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethod)
		params.Confirm = stripe.Bool(true)
		params.OffSession = stripe.Bool(true)
	} else {
		params.AutomaticPaymentMethods = &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		}
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}

	intent, err := c.api.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &PaymentIntent{
		ID:           intent.ID,
		Status:       string(intent.Status),
		ClientSecret: intent.ClientSecret,
	}, nil
}

func escapeSearch(value string) string {
	return strings.ReplaceAll(value, "'", "\\'")
}
