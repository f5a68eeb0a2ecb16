package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v84"

	"github.com/nebutra/billing-service/pkg/config"
)

const testWebhookSecret = "whsec_test_secret"

func TestParseMode(t *testing.T) {
	mode, err := parseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeTest, mode)

	mode, err = parseMode(" LIVE ")
	require.NoError(t, err)
	assert.Equal(t, ModeLive, mode)

	_, err = parseMode("staging")
	assert.ErrorIs(t, err, errUnknownMode)
}

func TestModeOfKey(t *testing.T) {
	assert.Equal(t, ModeTest, modeOfKey("sk_test_123"))
	assert.Equal(t, ModeTest, modeOfKey("rk_test_123"))
	assert.Equal(t, ModeLive, modeOfKey("sk_live_123"))
	assert.Equal(t, ModeLive, modeOfKey("rk_live_123"))
	assert.Equal(t, Mode(""), modeOfKey("pk_test_123"))
}

func TestNewClientValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.StripeConfig{WebhookSecret: testWebhookSecret}, nil)
	assert.ErrorIs(t, err, errAPIKeyRequired)

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_test_123"}, nil)
	assert.ErrorIs(t, err, errSecretRequired)

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_live_123", WebhookSecret: testWebhookSecret, Env: "test"}, nil)
	assert.ErrorContains(t, err, "does not match the live key")

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "pk_test_123", WebhookSecret: testWebhookSecret}, nil)
	assert.ErrorContains(t, err, "unrecognised key")

	client, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_123", WebhookSecret: testWebhookSecret}, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeTest, client.Mode())
	assert.NotNil(t, client.API())
}

func TestConstructEventVerifiesSignature(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_123", WebhookSecret: testWebhookSecret}, nil)
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","api_version":%q,"data":{"object":{"id":"pi_1","object":"payment_intent"}}}`, stripego.APIVersion))
	ts := time.Now().Unix()

	event, err := client.ConstructEvent(payload, sign(payload, testWebhookSecret, ts))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, stripego.EventTypePaymentIntentSucceeded, event.Type)

	_, err = client.ConstructEvent(payload, sign(payload, "whsec_other", ts))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	stale := time.Now().Add(-time.Hour).Unix()
	_, err = client.ConstructEvent(payload, sign(payload, testWebhookSecret, stale))
	assert.ErrorIs(t, err, ErrInvalidSignature, "signatures older than the tolerance are rejected")
}

func TestNilClientGuards(t *testing.T) {
	var client *Client
	_, err := client.ConstructEvent([]byte("{}"), "t=1,v1=x")
	assert.ErrorIs(t, err, errSecretRequired)

	_, err = client.CreatePaymentIntent(context.Background(), PaymentIntentRequest{AmountCents: 100})
	assert.ErrorIs(t, err, errAPIKeyRequired)

	_, err = client.FindCustomerByOrganization(context.Background(), "org-1")
	assert.ErrorIs(t, err, errAPIKeyRequired)
	assert.Equal(t, Mode(""), client.Mode())
}

func TestEscapeSearch(t *testing.T) {
	assert.Equal(t, `o\'brien`, escapeSearch("o'brien"))
}

func sign(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
