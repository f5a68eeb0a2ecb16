// Package usage meters per-organization consumption in calendar-month buckets.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nebutra/billing-service/internal/limits"
	"github.com/nebutra/billing-service/internal/plans"
	"github.com/nebutra/billing-service/pkg/db/models"
	"github.com/nebutra/billing-service/pkg/enums"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/logger"
	"github.com/nebutra/billing-service/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ConfigResolver supplies the organization's resolved limits.
type ConfigResolver interface {
	Resolve(ctx context.Context, organizationID string) (*plans.ResolvedConfig, error)
}

// ServiceParams groups dependencies for the usage service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Resolver ConfigResolver
	Logger   *logger.Logger
	Metrics  *metrics.LedgerMetrics
	Now      func() time.Time
}

// Service records and summarizes usage.
type Service struct {
	repo     Repository
	tx       txRunner
	resolver ConfigResolver
	logg     *logger.Logger
	metrics  *metrics.LedgerMetrics
	now      func() time.Time
}

// NewService builds a usage service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if params.Resolver == nil {
		return nil, errors.New("config resolver is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     params.Repo,
		tx:       params.Tx,
		resolver: params.Resolver,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// MaxQuantityPerRecord bounds the quantity a single usage event may add.
const MaxQuantityPerRecord int64 = 1_000_000_000_000_000

// RecordInput describes one usage event.
type RecordInput struct {
	OrganizationID string
	Type           enums.UsageType
	Quantity       int64
	Resource       *string
	Metadata       map[string]any
}

// RecordResult is the counter state after a Record call.
type RecordResult struct {
	UsageID      string `json:"usage_id"`
	CurrentUsage int64  `json:"current_usage"`
	Limit        int64  `json:"limit"`
	Remaining    int64  `json:"remaining"`
}

// Record increments the current period's counter unconditionally.
// Admission belongs to CheckLimit.
func (s *Service) Record(ctx context.Context, input RecordInput) (*RecordResult, error) {
	org, err := requireOrg(input.OrganizationID)
	if err != nil {
		return nil, err
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid usage type")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.Quantity > MaxQuantityPerRecord {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "quantity must not exceed %d", MaxQuantityPerRecord)
	}
	var metadata datatypes.JSON
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "metadata must be JSON encodable")
		}
		metadata = datatypes.JSON(raw)
	}

	resolved, err := s.resolver.Resolve(ctx, org)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	period := PeriodKey(now)
	record := models.UsageRecord{
		OrganizationID: org,
		Period:         period,
		UsageType:      input.Type,
		Quantity:       input.Quantity,
		Resource:       input.Resource,
		Metadata:       metadata,
		CreatedAt:      now,
	}

	var current int64
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		before, err := repo.Current(ctx, org, period, input.Type)
		if err != nil {
			return err
		}
		if before > math.MaxInt64-input.Quantity {
			return pkgerrors.New(pkgerrors.CodeValidation, "usage counter would overflow").
				WithDetails(map[string]int64{"current": before, "quantity": input.Quantity})
		}
		total, err := repo.Increment(ctx, org, period, input.Type, input.Quantity, now)
		if err != nil {
			return err
		}
		current = total
		return repo.AppendRecord(ctx, &record)
	}); err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record usage")
	}
	s.metrics.AddUsage(input.Type.String(), input.Quantity)

	limit := limitValue(resolved, input.Type)
	return &RecordResult{
		UsageID:      record.ID,
		CurrentUsage: current,
		Limit:        limit,
		Remaining:    remaining(limit, current),
	}, nil
}

// TypeSummary is one usage type's standing in the current period.
type TypeSummary struct {
	Current     int64           `json:"current"`
	Limit       int64           `json:"limit"`
	Percentage  float64         `json:"percentage"`
	Overage     int64           `json:"overage"`
	OverageCost decimal.Decimal `json:"overage_cost"`
	Display     string          `json:"display"`
}

// Summary aggregates the current period for one organization.
type Summary struct {
	OrganizationID string                          `json:"organization_id"`
	Period         string                          `json:"period"`
	PeriodStart    time.Time                       `json:"period_start"`
	PeriodEnd      time.Time                       `json:"period_end"`
	Usage          map[enums.UsageType]TypeSummary `json:"usage"`
	TotalCost      decimal.Decimal                 `json:"total_cost"`
}

// Summary reports current usage, overage and its cost; a nil usageType covers every type.
func (s *Service) Summary(ctx context.Context, organizationID string, usageType *enums.UsageType) (*Summary, error) {
	org, err := requireOrg(organizationID)
	if err != nil {
		return nil, err
	}
	types, err := requestedTypes(usageType)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolver.Resolve(ctx, org)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	period := PeriodKey(now)
	counters, err := s.repo.CurrentAll(ctx, org, period)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load usage counters")
	}

	start, end := PeriodBounds(now)
	summary := &Summary{
		OrganizationID: org,
		Period:         period,
		PeriodStart:    start,
		PeriodEnd:      end,
		Usage:          make(map[enums.UsageType]TypeSummary, len(types)),
		TotalCost:      decimal.Zero,
	}
	for _, t := range types {
		current := counters[t]
		limitCfg, _ := resolved.Limit(t.String())
		entry := TypeSummary{
			Current:     current,
			Limit:       limitCfg.Limit,
			OverageCost: decimal.Zero,
			Display:     Display(t, current),
		}
		if limitCfg.Limit > 0 {
			entry.Percentage = math.Min(100, float64(current)/float64(limitCfg.Limit)*100)
			if current > limitCfg.Limit {
				entry.Overage = current - limitCfg.Limit
			}
		}
		if entry.Overage > 0 {
			entry.OverageCost = decimal.NewFromInt(entry.Overage).Mul(overageRate(limitCfg, t))
		}
		summary.TotalCost = summary.TotalCost.Add(entry.OverageCost)
		summary.Usage[t] = entry
	}
	return summary, nil
}

// CheckLimit reports whether quantity more units of usageType fit under the resolved limit.
func (s *Service) CheckLimit(ctx context.Context, organizationID string, usageType enums.UsageType, quantity int64) (limits.Result, error) {
	org, err := requireOrg(organizationID)
	if err != nil {
		return limits.Result{}, err
	}
	if !usageType.IsValid() {
		return limits.Result{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid usage type")
	}
	if quantity < 0 {
		return limits.Result{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	resolved, err := s.resolver.Resolve(ctx, org)
	if err != nil {
		return limits.Result{}, err
	}
	current, err := s.repo.Current(ctx, org, PeriodKey(s.now()), usageType)
	if err != nil {
		return limits.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load usage counter")
	}
	result := limits.Check(resolved.Limits, usageType.String(), current, quantity)
	if !result.Allowed {
		s.metrics.IncDenied(usageType.String())
	}
	return result, nil
}

// LimitStatus is one usage type's limit and consumption.
type LimitStatus struct {
	Limit     int64 `json:"limit"`
	Current   int64 `json:"current"`
	Remaining int64 `json:"remaining"`
}

// Limits is the per-type limit view for an organization.
type Limits struct {
	OrganizationID string                          `json:"organization_id"`
	Plan           enums.PlanTier                  `json:"plan"`
	Period         string                          `json:"period"`
	Limits         map[enums.UsageType]LimitStatus `json:"limits"`
}

// GetLimits returns every usage type's limit and current consumption.
func (s *Service) GetLimits(ctx context.Context, organizationID string) (*Limits, error) {
	org, err := requireOrg(organizationID)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolver.Resolve(ctx, org)
	if err != nil {
		return nil, err
	}
	period := PeriodKey(s.now())
	counters, err := s.repo.CurrentAll(ctx, org, period)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load usage counters")
	}
	out := &Limits{
		OrganizationID: org,
		Plan:           resolved.Plan.Plan,
		Period:         period,
		Limits:         make(map[enums.UsageType]LimitStatus),
	}
	for _, t := range enums.UsageTypes() {
		limit := limitValue(resolved, t)
		current := counters[t]
		out.Limits[t] = LimitStatus{Limit: limit, Current: current, Remaining: remaining(limit, current)}
	}
	return out, nil
}

// Reset zeroes the current period's counters for one type or, when usageType is nil, all of them.
func (s *Service) Reset(ctx context.Context, organizationID string, usageType *enums.UsageType) error {
	org, err := requireOrg(organizationID)
	if err != nil {
		return err
	}
	if usageType != nil && !usageType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid usage type")
	}
	now := s.now().UTC()
	if err := s.repo.Reset(ctx, org, PeriodKey(now), usageType, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset usage")
	}
	if s.logg != nil {
		fields := map[string]any{"organization_id": org, "period": PeriodKey(now)}
		if usageType != nil {
			fields["usage_type"] = usageType.String()
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "usage counters reset")
	}
	return nil
}

func requireOrg(organizationID string) (string, error) {
	org := strings.TrimSpace(organizationID)
	if org == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "organization_id is required")
	}
	return org, nil
}

func requestedTypes(usageType *enums.UsageType) ([]enums.UsageType, error) {
	if usageType == nil {
		return enums.UsageTypes(), nil
	}
	if !usageType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid usage type")
	}
	return []enums.UsageType{*usageType}, nil
}

// limitValue is 0 when the type has no configured limit.
func limitValue(resolved *plans.ResolvedConfig, usageType enums.UsageType) int64 {
	limit, ok := resolved.Limit(usageType.String())
	if !ok {
		return 0
	}
	return limit.Limit
}

func remaining(limit, current int64) int64 {
	if limit == plans.UnlimitedLimit {
		return plans.UnlimitedLimit
	}
	if current >= limit {
		return 0
	}
	return limit - current
}

func overageRate(limit plans.LimitConfig, usageType enums.UsageType) decimal.Decimal {
	if limit.OverageRate != nil {
		return *limit.OverageRate
	}
	return plans.DefaultOverageRate(usageType)
}
