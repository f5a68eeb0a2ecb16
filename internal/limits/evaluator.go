// Package limits decides whether an organization may consume more of a metered resource.
package limits

import (
	"context"
	"fmt"
	"strings"

	"github.com/nebutra/billing-service/internal/plans"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/metrics"
)

// Result is the outcome of an admission check.
type Result struct {
	Allowed     bool  `json:"allowed"`
	Limit       int64 `json:"limit"`
	Current     int64 `json:"current"`
	Remaining   int64 `json:"remaining"`
	WouldExceed bool  `json:"would_exceed"`
}

// Check evaluates current+additional against the resolved limit for key.
// Unknown keys are denied.
func Check(resolved map[string]plans.LimitConfig, key string, current, additional int64) Result {
	limit, ok := resolved[key]
	if !ok {
		return Result{Allowed: false, Limit: 0, Current: current, Remaining: 0, WouldExceed: true}
	}
	if limit.Unlimited() {
		return Result{Allowed: true, Limit: plans.UnlimitedLimit, Current: current, Remaining: plans.UnlimitedLimit}
	}
	remaining := limit.Limit - current
	if remaining < 0 {
		remaining = 0
	}
	exceed := current > limit.Limit || additional > limit.Limit-current
	return Result{
		Allowed:     !exceed,
		Limit:       limit.Limit,
		Current:     current,
		Remaining:   remaining,
		WouldExceed: exceed,
	}
}

// ConfigResolver is the part of plans.Resolver the evaluator depends on.
type ConfigResolver interface {
	Resolve(ctx context.Context, organizationID string) (*plans.ResolvedConfig, error)
}

// Evaluator resolves an organization's limits before checking them.
type Evaluator struct {
	resolver ConfigResolver
	metrics  *metrics.LedgerMetrics
}

// NewEvaluator builds an Evaluator. Metrics are optional.
func NewEvaluator(resolver ConfigResolver, ledgerMetrics *metrics.LedgerMetrics) (*Evaluator, error) {
	if resolver == nil {
		return nil, fmt.Errorf("config resolver required")
	}
	return &Evaluator{resolver: resolver, metrics: ledgerMetrics}, nil
}

// CheckOrganization resolves the organization's config and runs Check for key.
func (e *Evaluator) CheckOrganization(ctx context.Context, organizationID, key string, current, additional int64) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "limit key is required")
	}
	if current < 0 || additional < 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "usage quantities must not be negative")
	}
	resolved, err := e.resolver.Resolve(ctx, organizationID)
	if err != nil {
		return Result{}, err
	}
	result := Check(resolved.Limits, key, current, additional)
	if !result.Allowed {
		e.metrics.IncDenied(key)
	}
	return result, nil
}
