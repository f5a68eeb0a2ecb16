package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/nebutra/billing-service/internal/plans"
	"github.com/nebutra/billing-service/pkg/db"
	"github.com/nebutra/billing-service/pkg/db/dbtest"
	"github.com/nebutra/billing-service/pkg/db/models"
	"github.com/nebutra/billing-service/pkg/enums"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
)

type recordingInvalidator struct {
	orgs []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, org string) error {
	r.orgs = append(r.orgs, org)
	return nil
}

func setup(t *testing.T) (Service, *gorm.DB, *recordingInvalidator, models.PricingPlan) {
	t.Helper()
	conn := dbtest.Open(t)
	priceID := "price_pro_monthly"
	plan := models.PricingPlan{
		ID:            uuid.NewString(),
		Slug:          "pro",
		Name:          "Pro",
		Tier:          enums.PlanTierPro,
		Version:       "v1",
		Interval:      enums.BillingIntervalMonthly,
		Amount:        decimal.RequireFromString("29"),
		Currency:      "USD",
		IsActive:      true,
		IsPublic:      true,
		StripePriceID: &priceID,
		EffectiveFrom: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, conn.Create(&plan).Error)

	invalidator := &recordingInvalidator{}
	svc, err := NewService(ServiceParams{
		Repo:              plans.NewRepository(conn),
		TransactionRunner: db.FromGorm(conn),
		Invalidator:       invalidator,
	})
	require.NoError(t, err)
	return svc, conn, invalidator, plan
}

func stripeSubscription(status stripe.SubscriptionStatus, metadata map[string]string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       "sub_123",
		Status:   status,
		Customer: &stripe.Customer{ID: "cus_9"},
		Metadata: metadata,
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			Price:              &stripe.Price{ID: "price_pro_monthly"},
			CurrentPeriodStart: 1767225600,
			CurrentPeriodEnd:   1769904000,
		}}},
	}
}

func TestSyncFromStripeCreatesAndUpdates(t *testing.T) {
	svc, conn, invalidator, plan := setup(t)
	ctx := context.Background()

	created, err := svc.SyncFromStripe(ctx, stripeSubscription(stripe.SubscriptionStatusActive, map[string]string{
		MetadataOrganizationID: "org-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "org-1", created.OrganizationID)
	assert.Equal(t, plan.ID, created.PricingPlanID)
	assert.Equal(t, enums.SubscriptionStatusActive, created.Status)
	require.NotNil(t, created.CurrentPeriodEnd)
	assert.Equal(t, int64(1769904000), created.CurrentPeriodEnd.Unix())

	updated, err := svc.SyncFromStripe(ctx, stripeSubscription(stripe.SubscriptionStatusPastDue, nil))
	require.NoError(t, err)
	assert.Equal(t, "org-1", updated.OrganizationID)
	assert.Equal(t, enums.SubscriptionStatusPastDue, updated.Status)

	var count int64
	require.NoError(t, conn.Model(&models.Subscription{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, []string{"org-1", "org-1"}, invalidator.orgs)
}

func TestSyncFromStripeRequiresOrganization(t *testing.T) {
	svc, _, _, _ := setup(t)

	_, err := svc.SyncFromStripe(context.Background(), stripeSubscription(stripe.SubscriptionStatusActive, nil))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSyncFromStripeUnknownPrice(t *testing.T) {
	svc, _, _, _ := setup(t)
	sub := stripeSubscription(stripe.SubscriptionStatusActive, map[string]string{MetadataOrganizationID: "org-1"})
	sub.Items.Data[0].Price.ID = "price_unknown"

	_, err := svc.SyncFromStripe(context.Background(), sub)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestMapStripeStatus(t *testing.T) {
	cases := map[stripe.SubscriptionStatus]enums.SubscriptionStatus{
		stripe.SubscriptionStatusActive:            enums.SubscriptionStatusActive,
		stripe.SubscriptionStatusTrialing:          enums.SubscriptionStatusTrialing,
		stripe.SubscriptionStatusPastDue:           enums.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusCanceled:          enums.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusIncompleteExpired: enums.SubscriptionStatusIncompleteExpired,
		"something_new":                            enums.SubscriptionStatusIncomplete,
	}
	for in, want := range cases {
		if got := MapStripeStatus(in); got != want {
			t.Fatalf("MapStripeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
