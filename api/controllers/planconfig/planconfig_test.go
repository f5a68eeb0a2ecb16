package planconfig

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/nebutra/billing-service/internal/limits"
	"github.com/nebutra/billing-service/internal/plans"
	"github.com/nebutra/billing-service/pkg/enums"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
)

type stubConfigService struct {
	config          *plans.ResolvedConfig
	resolveErr      error
	invalidated     []string
	plan            *plans.PlanConfig
	planSlug        string
	planVersion     string
	list            []plans.PlanConfig
	listPublic      *bool
	plansInvalidate int
}

func (s *stubConfigService) Resolve(_ context.Context, organizationID string) (*plans.ResolvedConfig, error) {
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return s.config, nil
}

func (s *stubConfigService) Invalidate(_ context.Context, organizationID string) error {
	s.invalidated = append(s.invalidated, organizationID)
	return nil
}

func (s *stubConfigService) GetPlan(_ context.Context, slug, version string) (*plans.PlanConfig, error) {
	s.planSlug = slug
	s.planVersion = version
	return s.plan, nil
}

func (s *stubConfigService) GetPlans(_ context.Context, publicOnly bool) ([]plans.PlanConfig, error) {
	s.listPublic = &publicOnly
	return s.list, nil
}

func (s *stubConfigService) InvalidatePlans(context.Context) error {
	s.plansInvalidate++
	return nil
}

type stubChecker struct {
	org        string
	key        string
	current    int64
	additional int64
	result     limits.Result
}

func (s *stubChecker) CheckOrganization(_ context.Context, organizationID, key string, current, additional int64) (limits.Result, error) {
	s.org, s.key, s.current, s.additional = organizationID, key, current, additional
	return s.result, nil
}

func proConfig() *plans.ResolvedConfig {
	rate := decimal.RequireFromString("0.00001")
	return &plans.ResolvedConfig{
		Plan: plans.PlanConfig{Slug: "pro", Plan: enums.PlanTierPro, Version: "v1"},
		Features: map[string]plans.FeatureValue{
			"ai.chat": {Enabled: true, Value: json.RawMessage(`true`)},
		},
		Limits: map[string]plans.LimitConfig{
			"AI_TOKEN": {Limit: 1000000, Unit: "tokens", ResetPeriod: enums.ResetPeriodMonthly, OverageRate: &rate},
		},
	}
}

func newRouter(svc *stubConfigService, checker *stubChecker) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/config/{organizationId}", OrganizationConfig(svc, nil))
	r.Get("/api/v1/config/{organizationId}/features/{featureKey}", OrganizationFeature(svc, nil))
	r.Get("/api/v1/config/{organizationId}/limits/{limitKey}", OrganizationLimit(svc, nil))
	r.Post("/api/v1/config/{organizationId}/limits/{limitKey}/check", OrganizationLimitCheck(checker, nil))
	r.Post("/api/v1/config/{organizationId}/invalidate", OrganizationInvalidate(svc, nil))
	r.Get("/api/v1/plans", PlanList(svc, nil))
	r.Get("/api/v1/plans/{slug}", PlanDetail(svc, nil))
	r.Post("/api/v1/plans/invalidate", PlansInvalidate(svc, nil))
	return r
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestOrganizationConfigReturnsResolvedConfig(t *testing.T) {
	h := newRouter(&stubConfigService{config: proConfig()}, &stubChecker{})
	resp := serve(h, http.MethodGet, "/api/v1/config/org-1", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var envelope struct {
		Data plans.ResolvedConfig `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Plan.Slug != "pro" || envelope.Data.Limits["AI_TOKEN"].Limit != 1000000 {
		t.Fatalf("unexpected config %+v", envelope.Data)
	}
}

func TestOrganizationConfigMapsUpstreamErrors(t *testing.T) {
	svc := &stubConfigService{resolveErr: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "resolve")}
	resp := serve(newRouter(svc, &stubChecker{}), http.MethodGet, "/api/v1/config/org-1", "")
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestOrganizationFeature(t *testing.T) {
	h := newRouter(&stubConfigService{config: proConfig()}, &stubChecker{})

	resp := serve(h, http.MethodGet, "/api/v1/config/org-1/features/ai.chat", "")
	var envelope struct {
		Data featureResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !envelope.Data.Enabled || envelope.Data.FeatureKey != "ai.chat" {
		t.Fatalf("expected enabled ai.chat, got %+v", envelope.Data)
	}

	resp = serve(h, http.MethodGet, "/api/v1/config/org-1/features/team.sso", "")
	envelope.Data = featureResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != http.StatusOK || envelope.Data.Enabled {
		t.Fatalf("expected absent feature disabled, got %d %+v", resp.Code, envelope.Data)
	}
}

func TestOrganizationLimit(t *testing.T) {
	h := newRouter(&stubConfigService{config: proConfig()}, &stubChecker{})

	resp := serve(h, http.MethodGet, "/api/v1/config/org-1/limits/AI_TOKEN", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data["limit"].(float64) != 1000000 || envelope.Data["unit"] != "tokens" {
		t.Fatalf("unexpected limit payload %v", envelope.Data)
	}

	resp = serve(h, http.MethodGet, "/api/v1/config/org-1/limits/COMPUTE", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing limit, got %d", resp.Code)
	}
}

func TestOrganizationLimitCheck(t *testing.T) {
	checker := &stubChecker{result: limits.Result{Allowed: false, Limit: 100, Current: 90, Remaining: 10, WouldExceed: true}}
	h := newRouter(&stubConfigService{}, checker)

	resp := serve(h, http.MethodPost, "/api/v1/config/org-1/limits/API_CALL/check", `{"current":90,"additional":20}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if checker.org != "org-1" || checker.key != "API_CALL" || checker.current != 90 || checker.additional != 20 {
		t.Fatalf("unexpected checker input %+v", checker)
	}
	var envelope struct {
		Data limitCheckResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Allowed || !envelope.Data.WouldExceed || envelope.Data.Remaining != 10 {
		t.Fatalf("unexpected result %+v", envelope.Data)
	}

	resp = serve(h, http.MethodPost, "/api/v1/config/org-1/limits/API_CALL/check", `{"current":-1,"additional":1}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative current, got %d", resp.Code)
	}

	resp = serve(h, http.MethodPost, "/api/v1/config/org-1/limits/API_CALL/check", `{"current":0,"additional":9223372036854775807}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized additional, got %d", resp.Code)
	}
}

func TestInvalidateEndpoints(t *testing.T) {
	svc := &stubConfigService{}
	h := newRouter(svc, &stubChecker{})

	if resp := serve(h, http.MethodPost, "/api/v1/config/org-9/invalidate", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if len(svc.invalidated) != 1 || svc.invalidated[0] != "org-9" {
		t.Fatalf("expected org-9 invalidated, got %v", svc.invalidated)
	}
	if resp := serve(h, http.MethodPost, "/api/v1/plans/invalidate", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.plansInvalidate != 1 {
		t.Fatalf("expected plans invalidated once, got %d", svc.plansInvalidate)
	}
}

func TestPlanList(t *testing.T) {
	svc := &stubConfigService{list: []plans.PlanConfig{{Slug: "free"}, {Slug: "pro"}}}
	h := newRouter(svc, &stubChecker{})

	resp := serve(h, http.MethodGet, "/api/v1/plans", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.listPublic == nil || !*svc.listPublic {
		t.Fatalf("expected public listing by default")
	}
	var envelope struct {
		Data planListResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Plans) != 2 || envelope.Data.Plans[0].Slug != "free" {
		t.Fatalf("unexpected plans %+v", envelope.Data.Plans)
	}

	serve(h, http.MethodGet, "/api/v1/plans?public=false", "")
	if *svc.listPublic {
		t.Fatalf("expected public=false to list every plan")
	}
	if resp := serve(h, http.MethodGet, "/api/v1/plans?public=maybe", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad boolean, got %d", resp.Code)
	}
}

func TestPlanDetail(t *testing.T) {
	svc := &stubConfigService{plan: &plans.PlanConfig{Slug: "pro", Version: "v2"}}
	h := newRouter(svc, &stubChecker{})

	resp := serve(h, http.MethodGet, "/api/v1/plans/PRO?version=v2", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.planSlug != "pro" || svc.planVersion != "v2" {
		t.Fatalf("unexpected lookup %s/%s", svc.planSlug, svc.planVersion)
	}

	svc.plan = nil
	if resp := serve(h, http.MethodGet, "/api/v1/plans/gold", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown plan, got %d", resp.Code)
	}
}
