package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nebutra/billing-service/pkg/db/models"
	"github.com/nebutra/billing-service/pkg/enums"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/logger"
	"github.com/nebutra/billing-service/pkg/metrics"
)

const (
	DefaultCacheTTL = 300 * time.Second
	defaultPrefix   = "billing"

	scopeOrg   = "org"
	scopePlan  = "plan"
	scopePlans = "plans"
)

// ResolverParams wires the resolver's collaborators.
type ResolverParams struct {
	Store   ConfigStore
	Cache   Cache
	Logger  *logger.Logger
	Metrics *metrics.CacheMetrics
	TTL     time.Duration
	Prefix  string
	Now     func() time.Time
}

// Resolver merges plans, grandfathered versions and customer overrides into a ResolvedConfig.
type Resolver struct {
	store   ConfigStore
	cache   Cache
	logg    *logger.Logger
	metrics *metrics.CacheMetrics
	ttl     time.Duration
	prefix  string
	now     func() time.Time
	group   singleflight.Group
}

// NewResolver validates dependencies and applies defaults.
func NewResolver(params ResolverParams) (*Resolver, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("config store required")
	}
	cache := params.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	prefix := strings.TrimSuffix(strings.TrimSpace(params.Prefix), ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		store:   params.Store,
		cache:   cache,
		logg:    params.Logger,
		metrics: params.Metrics,
		ttl:     ttl,
		prefix:  prefix,
		now:     now,
	}, nil
}

// OrgKey returns the cache key holding an organization's resolved config.
func (r *Resolver) OrgKey(organizationID string) string {
	return r.key("org", organizationID)
}

// PlanKey returns the cache key for a plan lookup; an empty version means latest.
func (r *Resolver) PlanKey(slug, version string) string {
	if version == "" {
		version = "latest"
	}
	return r.key("plan", slug, version)
}

// PlansKey returns the cache key for the plan list.
func (r *Resolver) PlansKey(publicOnly bool) string {
	if publicOnly {
		return r.key("plans", "public")
	}
	return r.key("plans", "all")
}

func (r *Resolver) key(parts ...string) string {
	return r.prefix + ":config:" + strings.Join(parts, ":")
}

// Resolve returns the organization's effective configuration, served from cache when possible.
func (r *Resolver) Resolve(ctx context.Context, organizationID string) (*ResolvedConfig, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization_id is required")
	}

	key := r.OrgKey(organizationID)
	var cached ResolvedConfig
	if r.readCache(ctx, scopeOrg, key, &cached) {
		return &cached, nil
	}

	// Joined callers share this load, so it must outlive the first caller's cancellation.
	shared := context.WithoutCancel(ctx)
	value, err, _ := r.group.Do(key, func() (any, error) {
		return r.Refresh(shared, organizationID)
	})
	if err != nil {
		return nil, err
	}
	return value.(*ResolvedConfig), nil
}

// Refresh rebuilds the organization's configuration from the store and rewrites the cache entry.
func (r *Resolver) Refresh(ctx context.Context, organizationID string) (*ResolvedConfig, error) {
	resolved, err := r.build(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	r.writeCache(ctx, scopeOrg, r.OrgKey(organizationID), resolved)
	return resolved, nil
}

func (r *Resolver) build(ctx context.Context, organizationID string) (*ResolvedConfig, error) {
	now := r.now().UTC()

	plan, planVersionID, err := r.effectivePlan(ctx, organizationID, now)
	if err != nil {
		return nil, err
	}

	var (
		featureOverrides []models.CustomerFeatureOverride
		limitOverrides   []models.CustomerUsageLimit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		featureOverrides, err = r.store.GetFeatureOverrides(gctx, organizationID, now)
		return err
	})
	g.Go(func() error {
		var err error
		limitOverrides, err = r.store.GetLimitOverrides(gctx, organizationID, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, upstream(err, "load customer overrides")
	}

	features := make(map[string]FeatureValue, len(plan.Features)+len(featureOverrides))
	for key, value := range plan.Features {
		features[key] = value
	}
	limits := make(map[string]LimitConfig, len(plan.Limits)+len(limitOverrides))
	for key, value := range plan.Limits {
		limits[key] = value
	}

	overriddenFeatures := make([]string, 0, len(featureOverrides))
	for _, override := range featureOverrides {
		if override.FeatureKey == "" {
			continue
		}
		features[override.FeatureKey] = FeatureValue{
			Enabled:  truthy(override.Value),
			Value:    json.RawMessage(override.Value),
			Metadata: map[string]any{"override_reason": derefReason(override.Reason)},
		}
		overriddenFeatures = appendUnique(overriddenFeatures, override.FeatureKey)
	}

	overriddenLimits := make([]string, 0, len(limitOverrides))
	for _, override := range limitOverrides {
		key := override.LimitDef.Key
		if key == "" {
			continue
		}
		rate := nullDecimalPtr(override.OverageRate)
		if rate == nil {
			if base, ok := limits[key]; ok && base.OverageRate != nil {
				rate = base.OverageRate
			} else {
				rate = nullDecimalPtr(override.LimitDef.OverageRate)
			}
		}
		limits[key] = LimitConfig{
			Limit:       override.LimitValue,
			Unit:        override.LimitDef.Unit,
			ResetPeriod: resetPeriod(override.LimitDef.ResetPeriod),
			OverageRate: rate,
		}
		overriddenLimits = appendUnique(overriddenLimits, key)
	}

	return &ResolvedConfig{
		Plan:     *plan,
		Features: features,
		Limits:   limits,
		Overrides: Overrides{
			PlanVersion: planVersionID,
			Features:    overriddenFeatures,
			Limits:      overriddenLimits,
		},
	}, nil
}

// effectivePlan picks grandfathered version, then live subscription, then FREE.
func (r *Resolver) effectivePlan(ctx context.Context, organizationID string, now time.Time) (*PlanConfig, *string, error) {
	version, err := r.store.GetPlanVersion(ctx, organizationID)
	if err != nil {
		return nil, nil, upstream(err, "load plan version")
	}
	if version != nil && (version.ExpiresAt == nil || version.ExpiresAt.After(now)) {
		record, err := r.store.GetPlanByID(ctx, version.PlanID)
		if err != nil {
			return nil, nil, upstream(err, "load grandfathered plan")
		}
		if record != nil {
			plan := toPlanConfig(record)
			versionID := version.ID
			return &plan, &versionID, nil
		}
		if r.logg != nil {
			warnCtx := r.logg.WithFields(ctx, map[string]any{"organization_id": organizationID, "plan_id": version.PlanID})
			r.logg.Warn(warnCtx, "grandfathered plan missing, falling back to subscription")
		}
	}

	sub, err := r.store.GetActiveSubscription(ctx, organizationID)
	if err != nil {
		return nil, nil, upstream(err, "load subscription")
	}
	if sub != nil && sub.PricingPlanID != "" {
		record, err := r.store.GetPlanByID(ctx, sub.PricingPlanID)
		if err != nil {
			return nil, nil, upstream(err, "load subscription plan")
		}
		if record != nil {
			plan := toPlanConfig(record)
			return &plan, nil, nil
		}
	}

	free, err := r.store.GetFreePlan(ctx, now)
	if err != nil {
		return nil, nil, upstream(err, "load free plan")
	}
	if free != nil {
		plan := toPlanConfig(free)
		return &plan, nil, nil
	}
	plan := DefaultFreePlan(now)
	return &plan, nil, nil
}

// GetPlan returns the newest active version of slug, or the exact version when given.
// A nil plan with a nil error means no such plan.
func (r *Resolver) GetPlan(ctx context.Context, slug, version string) (*PlanConfig, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "slug is required")
	}
	key := r.PlanKey(slug, version)
	var cached PlanConfig
	if r.readCache(ctx, scopePlan, key, &cached) {
		return &cached, nil
	}

	record, err := r.store.GetPlanBySlug(ctx, slug, version, r.now().UTC())
	if err != nil {
		return nil, upstream(err, "load plan")
	}
	if record == nil {
		return nil, nil
	}
	plan := toPlanConfig(record)
	r.writeCache(ctx, scopePlan, key, plan)
	return &plan, nil
}

// GetPlans lists active plans, one entry per slug holding its newest version, ordered by tier.
func (r *Resolver) GetPlans(ctx context.Context, publicOnly bool) ([]PlanConfig, error) {
	key := r.PlansKey(publicOnly)
	var cached []PlanConfig
	if r.readCache(ctx, scopePlans, key, &cached) {
		return cached, nil
	}

	records, err := r.store.ListActivePlans(ctx, publicOnly, r.now().UTC())
	if err != nil {
		return nil, upstream(err, "list plans")
	}
	seen := make(map[string]struct{}, len(records))
	out := make([]PlanConfig, 0, len(records))
	for i := range records {
		if _, ok := seen[records[i].Slug]; ok {
			continue
		}
		seen[records[i].Slug] = struct{}{}
		out = append(out, toPlanConfig(&records[i]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Plan.Rank() < out[j].Plan.Rank()
	})
	r.writeCache(ctx, scopePlans, key, out)
	return out, nil
}

// HasFeature reports whether the organization's resolved config enables key.
func (r *Resolver) HasFeature(ctx context.Context, organizationID, key string) (bool, error) {
	resolved, err := r.Resolve(ctx, organizationID)
	if err != nil {
		return false, err
	}
	return resolved.HasFeature(key), nil
}

// GetLimit returns the organization's resolved limit for key, or nil when unconfigured.
func (r *Resolver) GetLimit(ctx context.Context, organizationID, key string) (*LimitConfig, error) {
	resolved, err := r.Resolve(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	limit, ok := resolved.Limit(key)
	if !ok {
		return nil, nil
	}
	return &limit, nil
}

// Invalidate drops the organization's cached configuration.
func (r *Resolver) Invalidate(ctx context.Context, organizationID string) error {
	if err := r.cache.Del(ctx, r.OrgKey(organizationID)); err != nil {
		return upstream(err, "invalidate organization config")
	}
	return nil
}

// InvalidatePlans drops every cached plan and both plan lists.
func (r *Resolver) InvalidatePlans(ctx context.Context) error {
	keys, err := r.cache.Keys(ctx, r.key("plan", "*"))
	if err != nil {
		return upstream(err, "list cached plans")
	}
	keys = append(keys, r.PlansKey(true), r.PlansKey(false))
	if err := r.cache.Del(ctx, keys...); err != nil {
		return upstream(err, "invalidate plans")
	}
	return nil
}

// InvalidateAll drops every key under the resolver's prefix.
func (r *Resolver) InvalidateAll(ctx context.Context) error {
	keys, err := r.cache.Keys(ctx, r.prefix+":config:*")
	if err != nil {
		return upstream(err, "list cached config")
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.cache.Del(ctx, keys...); err != nil {
		return upstream(err, "invalidate config")
	}
	return nil
}

func (r *Resolver) readCache(ctx context.Context, scope, key string, dst any) bool {
	raw, err := r.cache.Get(ctx, key)
	if err != nil {
		if isCacheMiss(err) {
			r.metrics.ObserveLookup(scope, metrics.CacheMiss)
			return false
		}
		r.metrics.ObserveLookup(scope, metrics.CacheError)
		r.warn(ctx, key, "config cache read failed", err)
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		r.metrics.ObserveLookup(scope, metrics.CacheError)
		r.warn(ctx, key, "config cache entry undecodable", err)
		return false
	}
	r.metrics.ObserveLookup(scope, metrics.CacheHit)
	return true
}

func (r *Resolver) writeCache(ctx context.Context, scope, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		r.metrics.IncWriteFailure(scope)
		r.warn(ctx, key, "config cache encode failed", err)
		return
	}
	if err := r.cache.Set(ctx, key, string(payload), r.ttl); err != nil {
		r.metrics.IncWriteFailure(scope)
		r.warn(ctx, key, "config cache write failed", err)
	}
}

func (r *Resolver) warn(ctx context.Context, key, msg string, err error) {
	if r.logg == nil {
		return
	}
	ctx = r.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()})
	r.logg.Warn(ctx, msg)
}

func upstream(err error, msg string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func derefReason(reason *string) any {
	if reason == nil {
		return nil
	}
	return *reason
}

func appendUnique(keys []string, key string) []string {
	for _, existing := range keys {
		if existing == key {
			return keys
		}
	}
	return append(keys, key)
}

func resetPeriod(value enums.ResetPeriod) enums.ResetPeriod {
	if value == "" {
		return enums.ResetPeriodMonthly
	}
	return value
}

// truthy mirrors JSON truthiness: null, false, 0, "" and empty containers are false.
func truthy(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return false
	}
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}
