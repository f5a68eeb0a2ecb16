package plans

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nebutra/billing-service/pkg/enums"
)

// PlanConfig is the published shape of one plan version.
type PlanConfig struct {
	ID            string                  `json:"id"`
	Slug          string                  `json:"slug"`
	Name          string                  `json:"name"`
	Plan          enums.PlanTier          `json:"plan"`
	Version       string                  `json:"version"`
	Interval      enums.BillingInterval   `json:"interval"`
	Amount        decimal.Decimal         `json:"amount"`
	Currency      string                  `json:"currency"`
	TrialDays     int                     `json:"trial_days"`
	Features      map[string]FeatureValue `json:"features"`
	Limits        map[string]LimitConfig  `json:"limits"`
	IsActive      bool                    `json:"is_active"`
	IsPublic      bool                    `json:"is_public"`
	EffectiveFrom time.Time               `json:"effective_from"`
	EffectiveTo   *time.Time              `json:"effective_to,omitempty"`
}

// FeatureValue is a feature flag or parameterized capability. Value is opaque JSON.
type FeatureValue struct {
	Enabled  bool            `json:"enabled"`
	Value    json.RawMessage `json:"value,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// LimitConfig bounds one metered quantity. Limit -1 means unlimited.
type LimitConfig struct {
	Limit       int64             `json:"limit"`
	Unit        string            `json:"unit"`
	ResetPeriod enums.ResetPeriod `json:"reset_period"`
	OverageRate *decimal.Decimal  `json:"overage_rate"`
}

// Unlimited reports whether the limit is the -1 sentinel.
func (l LimitConfig) Unlimited() bool {
	return l.Limit == UnlimitedLimit
}

// UnlimitedLimit is the sentinel stored for limits without a ceiling.
const UnlimitedLimit int64 = -1

// Overrides lists what customer-level records changed in a ResolvedConfig.
type Overrides struct {
	PlanVersion *string  `json:"plan_version"`
	Features    []string `json:"features"`
	Limits      []string `json:"limits"`
}

// ResolvedConfig is the merged view of an organization's plan and overrides.
type ResolvedConfig struct {
	Plan      PlanConfig              `json:"plan"`
	Features  map[string]FeatureValue `json:"features"`
	Limits    map[string]LimitConfig  `json:"limits"`
	Overrides Overrides               `json:"overrides"`
}

// HasFeature reports whether key is present and enabled.
func (c *ResolvedConfig) HasFeature(key string) bool {
	if c == nil {
		return false
	}
	feature, ok := c.Features[key]
	return ok && feature.Enabled
}

// Limit returns the resolved limit for key.
func (c *ResolvedConfig) Limit(key string) (LimitConfig, bool) {
	if c == nil {
		return LimitConfig{}, false
	}
	limit, ok := c.Limits[key]
	return limit, ok
}
