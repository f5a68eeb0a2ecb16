package planconfig

import (
	"net/http"
	"strings"

	"github.com/nebutra/billing-service/api/responses"
	"github.com/nebutra/billing-service/api/validators"
	"github.com/nebutra/billing-service/internal/plans"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/logger"
)

type planListResponse struct {
	Plans []plans.PlanConfig `json:"plans"`
}

// PlanList returns the newest active version of each plan, lowest tier first.
func PlanList(svc ConfigService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "config service unavailable"))
			return
		}
		publicOnly, err := validators.QueryBool(r, "public", true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.GetPlans(r.Context(), publicOnly)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if list == nil {
			list = []plans.PlanConfig{}
		}
		responses.WriteSuccess(w, planListResponse{Plans: list})
	}
}

// PlanDetail returns one plan by slug, optionally pinned to a version.
func PlanDetail(svc ConfigService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "config service unavailable"))
			return
		}
		slug, err := validators.PathParam(r, "slug")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		version := validators.Trimmed(r.URL.Query().Get("version"), 32)
		plan, err := svc.GetPlan(r.Context(), strings.ToLower(slug), version)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if plan == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found").WithDetails(map[string]any{"slug": slug}))
			return
		}
		responses.WriteSuccess(w, plan)
	}
}

// PlansInvalidate drops every cached plan entry.
func PlansInvalidate(svc ConfigService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "config service unavailable"))
			return
		}
		if err := svc.InvalidatePlans(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"success": true})
	}
}
