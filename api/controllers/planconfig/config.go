package planconfig

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nebutra/billing-service/api/responses"
	"github.com/nebutra/billing-service/api/validators"
	"github.com/nebutra/billing-service/internal/limits"
	"github.com/nebutra/billing-service/internal/plans"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/logger"
)

// ConfigService is the PlanResolver surface used by the HTTP controllers.
type ConfigService interface {
	Resolve(ctx context.Context, organizationID string) (*plans.ResolvedConfig, error)
	Invalidate(ctx context.Context, organizationID string) error
	GetPlan(ctx context.Context, slug, version string) (*plans.PlanConfig, error)
	GetPlans(ctx context.Context, publicOnly bool) ([]plans.PlanConfig, error)
	InvalidatePlans(ctx context.Context) error
}

// LimitChecker evaluates admission against an organization's resolved limits.
type LimitChecker interface {
	CheckOrganization(ctx context.Context, organizationID, key string, current, additional int64) (limits.Result, error)
}

type featureResponse struct {
	OrganizationID string          `json:"organization_id"`
	FeatureKey     string          `json:"feature_key"`
	Enabled        bool            `json:"enabled"`
	Value          json.RawMessage `json:"value,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

type limitResponse struct {
	OrganizationID string `json:"organization_id"`
	LimitKey       string `json:"limit_key"`
	plans.LimitConfig
}

type limitCheckRequest struct {
	Current    int64 `json:"current" validate:"min=0,max=1000000000000000"`
	Additional int64 `json:"additional" validate:"min=0,max=1000000000000000"`
}

type limitCheckResponse struct {
	OrganizationID string `json:"organization_id"`
	LimitKey       string `json:"limit_key"`
	limits.Result
}

// OrganizationConfig returns the merged plan configuration for an organization.
func OrganizationConfig(svc ConfigService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "config service unavailable"))
			return
		}
		orgID, err := validators.PathParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cfg, err := svc.Resolve(r.Context(), orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cfg)
	}
}

// OrganizationFeature reports one feature. Absent features are disabled.
func OrganizationFeature(svc ConfigService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "config service unavailable"))
			return
		}
		orgID, err := validators.PathParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := validators.PathParam(r, "featureKey")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cfg, err := svc.Resolve(r.Context(), orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := featureResponse{OrganizationID: orgID, FeatureKey: key}
		if feature, ok := cfg.Features[key]; ok {
			resp.Enabled = feature.Enabled
			resp.Value = feature.Value
			resp.Metadata = feature.Metadata
		}
		responses.WriteSuccess(w, resp)
	}
}

// OrganizationLimit returns one resolved limit or 404 when the plan has none.
func OrganizationLimit(svc ConfigService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "config service unavailable"))
			return
		}
		orgID, err := validators.PathParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := validators.PathParam(r, "limitKey")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cfg, err := svc.Resolve(r.Context(), orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, ok := cfg.Limit(key)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "limit not configured").WithDetails(map[string]any{"limit_key": key}))
			return
		}
		responses.WriteSuccess(w, limitResponse{OrganizationID: orgID, LimitKey: key, LimitConfig: limit})
	}
}

// OrganizationLimitCheck evaluates current+additional against one limit.
func OrganizationLimitCheck(checker LimitChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "limit evaluator unavailable"))
			return
		}
		orgID, err := validators.PathParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := validators.PathParam(r, "limitKey")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload limitCheckRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := checker.CheckOrganization(r.Context(), orgID, key, payload.Current, payload.Additional)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, limitCheckResponse{OrganizationID: orgID, LimitKey: key, Result: result})
	}
}

// OrganizationInvalidate drops the cached configuration for an organization.
func OrganizationInvalidate(svc ConfigService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "config service unavailable"))
			return
		}
		orgID, err := validators.PathParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Invalidate(r.Context(), orgID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"success": true, "organization_id": orgID})
	}
}
