package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/nebutra/billing-service/pkg/config"
	"github.com/nebutra/billing-service/pkg/logger"
)

// Mode is the Stripe account mode a key belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook secret is required")
	errUnknownMode    = fmt.Errorf("stripe environment must be %q or %q", ModeTest, ModeLive)

	// ErrInvalidSignature is returned by ConstructEvent for payloads that fail verification.
	ErrInvalidSignature = errors.New("stripe signature verification failed")
)

// Client is the billing service's handle on Stripe: payment intents, customer
// lookup and webhook verification share one API key and mode.
type Client struct {
	api       *stripe.Client
	mode      Mode
	secret    string
	tolerance time.Duration
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}
	mode, err := parseMode(cfg.Environment())
	if err != nil {
		return nil, err
	}
	if keyMode := modeOfKey(key); keyMode != mode {
		return nil, fmt.Errorf("stripe environment %q does not match the %s key", mode, describeKey(keyMode))
	}
	tolerance := cfg.SignatureTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", string(mode)), "stripe client ready")
	}
	return &Client{
		api:       stripe.NewClient(key),
		mode:      mode,
		secret:    secret,
		tolerance: tolerance,
	}, nil
}

// API exposes the underlying stripe-go client.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Mode reports whether the client talks to test or live Stripe.
func (c *Client) Mode() Mode {
	if c == nil {
		return ""
	}
	return c.mode
}

// ConstructEvent verifies a webhook delivery against the signing secret and
// decodes it. Events from other API versions are accepted.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if c == nil || c.secret == "" {
		return stripe.Event{}, errSecretRequired
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.secret, webhook.ConstructEventOptions{
		Tolerance:                c.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

func parseMode(raw string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return ModeTest, nil
	case ModeTest, ModeLive:
		return mode, nil
	}
	return "", errUnknownMode
}

// modeOfKey classifies secret (sk_) and restricted (rk_) keys; anything else yields "".
func modeOfKey(key string) Mode {
	for _, prefix := range []string{"sk_", "rk_"} {
		switch {
		case strings.HasPrefix(key, prefix+"test_"):
			return ModeTest
		case strings.HasPrefix(key, prefix+"live_"):
			return ModeLive
		}
	}
	return ""
}

func describeKey(mode Mode) string {
	if mode == "" {
		return "unrecognised"
	}
	return string(mode)
}
