package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/nebutra/billing-service/api/responses"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/logger"
)

const (
	maxWebhookBodyBytes = 1 << 20
	signatureHeader     = "Stripe-Signature"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeEventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type webhookAck struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

type stripeWebhook struct {
	svc      StripeWebhookService
	verifier stripeEventVerifier
	guard    stripeWebhookGuard
	logg     *logger.Logger
}

// StripeWebhook verifies, de-duplicates, and dispatches Stripe events. An event
// whose handler fails is released from the guard so Stripe's retry is processed.
func StripeWebhook(svc StripeWebhookService, verifier stripeEventVerifier, guard stripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	h := &stripeWebhook{svc: svc, verifier: verifier, guard: guard, logg: logg}
	return h.serve
}

func (h *stripeWebhook) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.ready(); err != nil {
		responses.WriteError(ctx, h.logg, w, err)
		return
	}

	event, err := h.verify(r)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	if h.logg != nil {
		ctx = h.logg.WithFields(ctx, map[string]any{
			"stripe_event_id":   event.ID,
			"stripe_event_type": string(event.Type),
		})
	}

	seen, err := h.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	if seen {
		h.info(ctx, "stripe event already processed")
		responses.WriteSuccess(w, webhookAck{Received: true, Duplicate: true})
		return
	}

	if err := h.svc.HandleEvent(ctx, &event); err != nil {
		if relErr := h.guard.Delete(ctx, event.ID); relErr != nil && h.logg != nil {
			h.logg.Error(ctx, "release stripe event", relErr)
		}
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	h.info(ctx, "stripe event processed")
	responses.WriteSuccess(w, webhookAck{Received: true})
}

func (h *stripeWebhook) ready() error {
	switch {
	case h.svc == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable")
	case h.verifier == nil:
		return pkgerrors.New(pkgerrors.CodeDependency, "stripe client unavailable")
	case h.guard == nil:
		return pkgerrors.New(pkgerrors.CodeDependency, "idempotency guard unavailable")
	}
	return nil
}

func (h *stripeWebhook) verify(r *http.Request) (stripe.Event, error) {
	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing")
	}

	payload, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload too large")
		}
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook payload")
	}

	event, err := h.verifier.ConstructEvent(payload, signature)
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid stripe signature")
	}
	return event, nil
}

func (h *stripeWebhook) info(ctx context.Context, msg string) {
	if h.logg != nil {
		h.logg.Info(ctx, msg)
	}
}
