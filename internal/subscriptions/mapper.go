package subscriptions

import (
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/nebutra/billing-service/pkg/db/models"
	"github.com/nebutra/billing-service/pkg/enums"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
)

// Metadata keys set on Stripe subscriptions at checkout.
const (
	MetadataOrganizationID = "organization_id"
	MetadataPlanID         = "plan_id"
)

// OrganizationIDFromMetadata reads the organization id Stripe carries for us.
func OrganizationIDFromMetadata(metadata map[string]string) (string, error) {
	if metadata == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "subscription metadata missing")
	}
	org := strings.TrimSpace(metadata[MetadataOrganizationID])
	if org == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "organization_id metadata missing")
	}
	return org, nil
}

// MapStripeStatus converts Stripe's lowercase status; unknown values are treated as incomplete.
func MapStripeStatus(status stripe.SubscriptionStatus) enums.SubscriptionStatus {
	parsed, err := enums.ParseSubscriptionStatus(string(status))
	if err != nil {
		return enums.SubscriptionStatusIncomplete
	}
	return parsed
}

// PriceID returns the price of the subscription's first item.
func PriceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	if sub.Items.Data[0].Price != nil {
		return sub.Items.Data[0].Price.ID
	}
	return ""
}

// ApplyStripeSubscription copies Stripe's state onto target.
func ApplyStripeSubscription(target *models.Subscription, sub *stripe.Subscription, planID string) {
	target.PricingPlanID = planID
	target.Status = MapStripeStatus(sub.Status)
	stripeID := sub.ID
	target.StripeSubscriptionID = &stripeID
	if sub.Customer != nil {
		target.StripeCustomerID = trimmedPtr(sub.Customer.ID)
	}
	target.StripePriceID = trimmedPtr(PriceID(sub))
	start, end := periodFromSubscription(sub)
	target.CurrentPeriodStart = toTimePtr(start)
	target.CurrentPeriodEnd = toTimePtr(end)
	target.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	target.CanceledAt = toTimePtr(sub.CanceledAt)
}

func periodFromSubscription(sub *stripe.Subscription) (int64, int64) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0, 0
	}
	item := sub.Items.Data[0]
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func trimmedPtr(value string) *string {
	if s := strings.TrimSpace(value); s != "" {
		return &s
	}
	return nil
}
