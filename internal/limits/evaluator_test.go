package limits

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebutra/billing-service/internal/plans"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
)

func TestCheckUnknownKeyDenies(t *testing.T) {
	result := Check(map[string]plans.LimitConfig{}, "AI_TOKEN", 0, 1)
	assert.False(t, result.Allowed)
	assert.True(t, result.WouldExceed)
	assert.Equal(t, int64(0), result.Remaining)
	assert.Equal(t, int64(0), result.Limit)
}

func TestCheckUnlimitedAlwaysAllows(t *testing.T) {
	resolved := map[string]plans.LimitConfig{"AI_TOKEN": {Limit: plans.UnlimitedLimit}}
	result := Check(resolved, "AI_TOKEN", 1<<40, 1<<40)
	assert.True(t, result.Allowed)
	assert.False(t, result.WouldExceed)
	assert.Equal(t, int64(-1), result.Remaining)
	assert.Equal(t, int64(-1), result.Limit)
}

func TestCheckBoundedLimit(t *testing.T) {
	resolved := map[string]plans.LimitConfig{"AI_TOKEN": {Limit: 1000}}

	cases := []struct {
		name       string
		current    int64
		additional int64
		allowed    bool
		remaining  int64
	}{
		{name: "headroom", current: 0, additional: 10, allowed: true, remaining: 1000},
		{name: "exactly at limit", current: 500, additional: 500, allowed: true, remaining: 500},
		{name: "would exceed", current: 600, additional: 500, allowed: false, remaining: 400},
		{name: "already over", current: 1200, additional: 0, allowed: false, remaining: 0},
		{name: "zero additional at limit", current: 1000, additional: 0, allowed: true, remaining: 0},
		{name: "huge additional", current: 600, additional: math.MaxInt64, allowed: false, remaining: 400},
		{name: "huge current", current: math.MaxInt64, additional: 1, allowed: false, remaining: 0},
		{name: "both huge", current: math.MaxInt64 - 1, additional: math.MaxInt64 - 1, allowed: false, remaining: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Check(resolved, "AI_TOKEN", tc.current, tc.additional)
			assert.Equal(t, tc.allowed, result.Allowed)
			assert.Equal(t, !tc.allowed, result.WouldExceed)
			assert.Equal(t, tc.remaining, result.Remaining)
			assert.Equal(t, tc.current, result.Current)
		})
	}
}

type stubResolver struct {
	resolved *plans.ResolvedConfig
	err      error
}

func (s stubResolver) Resolve(context.Context, string) (*plans.ResolvedConfig, error) {
	return s.resolved, s.err
}

func TestEvaluatorCheckOrganization(t *testing.T) {
	evaluator, err := NewEvaluator(stubResolver{resolved: &plans.ResolvedConfig{
		Limits: map[string]plans.LimitConfig{"API_CALL": {Limit: 100}},
	}}, nil)
	require.NoError(t, err)

	result, err := evaluator.CheckOrganization(context.Background(), "org-1", "API_CALL", 99, 1)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	_, err = evaluator.CheckOrganization(context.Background(), "org-1", "API_CALL", -1, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestEvaluatorPropagatesResolverErrors(t *testing.T) {
	boom := pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "load subscription")
	evaluator, err := NewEvaluator(stubResolver{err: boom}, nil)
	require.NoError(t, err)

	_, err = evaluator.CheckOrganization(context.Background(), "org-1", "API_CALL", 0, 1)
	assert.ErrorIs(t, err, boom)
}
