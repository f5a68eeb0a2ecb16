package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebutra/billing-service/internal/credits"
	"github.com/nebutra/billing-service/internal/limits"
	"github.com/nebutra/billing-service/internal/plans"
	"github.com/nebutra/billing-service/internal/usage"
	"github.com/nebutra/billing-service/pkg/config"
	"github.com/nebutra/billing-service/pkg/enums"
	"github.com/nebutra/billing-service/pkg/redis"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubPlans struct{}

func (stubPlans) Resolve(_ context.Context, _ string) (*plans.ResolvedConfig, error) {
	return &plans.ResolvedConfig{Plan: plans.PlanConfig{Slug: "free"}}, nil
}

func (stubPlans) Invalidate(context.Context, string) error { return nil }

func (stubPlans) GetPlan(_ context.Context, slug, _ string) (*plans.PlanConfig, error) {
	return &plans.PlanConfig{Slug: slug}, nil
}

func (stubPlans) GetPlans(context.Context, bool) ([]plans.PlanConfig, error) {
	return []plans.PlanConfig{{Slug: "free"}, {Slug: "pro"}}, nil
}

func (stubPlans) InvalidatePlans(context.Context) error { return nil }

type stubLimits struct{}

func (stubLimits) CheckOrganization(context.Context, string, string, int64, int64) (limits.Result, error) {
	return limits.Result{Allowed: true}, nil
}

type stubUsage struct {
	records int
}

func (s *stubUsage) Record(context.Context, usage.RecordInput) (*usage.RecordResult, error) {
	s.records++
	return &usage.RecordResult{UsageID: "u-1", CurrentUsage: int64(s.records)}, nil
}

func (s *stubUsage) Summary(_ context.Context, org string, _ *enums.UsageType) (*usage.Summary, error) {
	return &usage.Summary{OrganizationID: org}, nil
}

func (s *stubUsage) CheckLimit(context.Context, string, enums.UsageType, int64) (limits.Result, error) {
	return limits.Result{Allowed: true}, nil
}

func (s *stubUsage) GetLimits(_ context.Context, org string) (*usage.Limits, error) {
	return &usage.Limits{OrganizationID: org}, nil
}

func (s *stubUsage) Reset(context.Context, string, *enums.UsageType) error { return nil }

type stubCredits struct {
	deducts int
}

func (s *stubCredits) Balance(_ context.Context, org string) (*credits.Balance, error) {
	return &credits.Balance{OrganizationID: org, Balance: 42}, nil
}

func (s *stubCredits) Purchase(context.Context, credits.PurchaseInput) (*credits.PurchaseResult, error) {
	return &credits.PurchaseResult{Pending: true}, nil
}

func (s *stubCredits) Deduct(_ context.Context, input credits.DeductInput) (*credits.Transaction, error) {
	s.deducts++
	return &credits.Transaction{ID: "txn-1", Credits: -input.Credits}, nil
}

func (s *stubCredits) Refund(context.Context, credits.RefundInput) (*credits.Transaction, error) {
	return &credits.Transaction{ID: "txn-2"}, nil
}

func (s *stubCredits) AddBonus(context.Context, credits.BonusInput) (*credits.Transaction, error) {
	return &credits.Transaction{ID: "txn-3"}, nil
}

func (s *stubCredits) Transactions(context.Context, credits.TransactionsQuery) (*credits.TransactionPage, error) {
	return &credits.TransactionPage{}, nil
}

func (s *stubCredits) Check(_ context.Context, _ string, amount int64) (*credits.CheckResult, error) {
	return &credits.CheckResult{HasEnough: true, Requested: amount}, nil
}

func newTestDeps(t *testing.T) (Dependencies, *stubCredits) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	client := redis.NewFromClient(raw, "billing")

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "billing_test_total"}))

	creditSvc := &stubCredits{}
	return Dependencies{
		Config:      &config.Config{App: config.AppConfig{Env: "test"}},
		DB:          stubPinger{},
		Redis:       client,
		Idempotency: client,
		Gatherer:    reg,
		Plans:       stubPlans{},
		Limits:      stubLimits{},
		Usage:       &stubUsage{},
		Credits:     creditSvc,
	}, creditSvc
}

func do(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestRoutesAreMounted(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := NewRouter(deps)

	cases := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/health/live", "", http.StatusOK},
		{http.MethodGet, "/health/ready", "", http.StatusOK},
		{http.MethodGet, "/api/v1/config/org-1", "", http.StatusOK},
		{http.MethodPost, "/api/v1/config/org-1/invalidate", "", http.StatusOK},
		{http.MethodGet, "/api/v1/plans", "", http.StatusOK},
		{http.MethodGet, "/api/v1/plans/pro", "", http.StatusOK},
		{http.MethodPost, "/api/v1/plans/invalidate", "", http.StatusOK},
		{http.MethodGet, "/api/v1/usage/org-1", "", http.StatusOK},
		{http.MethodGet, "/api/v1/usage/org-1/limits", "", http.StatusOK},
		{http.MethodPost, "/api/v1/usage/check-limit", `{"organization_id":"org-1","type":"API_CALL","quantity":1}`, http.StatusOK},
		{http.MethodGet, "/api/v1/credits/org-1/balance", "", http.StatusOK},
		{http.MethodGet, "/api/v1/credits/org-1/transactions", "", http.StatusOK},
		{http.MethodGet, "/api/v1/credits/org-1/check/10", "", http.StatusOK},
		{http.MethodPost, "/api/v1/credits/purchase", `{"organization_id":"org-1","amount_dollars":"5"}`, http.StatusAccepted},
		{http.MethodGet, "/api/v1/unknown", "", http.StatusNotFound},
	}

	for _, tc := range cases {
		resp := do(h, tc.method, tc.path, tc.body, nil)
		assert.Equal(t, tc.status, resp.Code, "%s %s: %s", tc.method, tc.path, resp.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	deps, _ := newTestDeps(t)
	resp := do(NewRouter(deps), http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "billing_test_total")
}

func TestStripeWebhookWithoutStripeConfigured(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.StripeWebhooks = nil
	resp := do(NewRouter(deps), http.MethodPost, "/api/v1/webhooks/stripe", "{}", map[string]string{"Stripe-Signature": "t=1,v1=x"})
	assert.GreaterOrEqual(t, resp.Code, http.StatusInternalServerError)
}

func TestDeductReplaysIdempotentResponse(t *testing.T) {
	deps, creditSvc := newTestDeps(t)
	h := NewRouter(deps)

	body := `{"organization_id":"org-1","credits":5,"reason":"run"}`
	headers := map[string]string{"Idempotency-Key": "deduct-1", "Content-Type": "application/json"}

	first := do(h, http.MethodPost, "/api/v1/credits/deduct", body, headers)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := do(h, http.MethodPost, "/api/v1/credits/deduct", body, headers)
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, 1, creditSvc.deducts)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Config.App.CORSAllowedOrigins = []string{"https://app.example.com"}
	resp := do(NewRouter(deps), http.MethodOptions, "/api/v1/plans", "", map[string]string{
		"Origin":                        "https://app.example.com",
		"Access-Control-Request-Method": http.MethodGet,
	})
	assert.Equal(t, "https://app.example.com", resp.Header().Get("Access-Control-Allow-Origin"))
}
