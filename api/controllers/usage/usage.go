package usage

import (
	"context"
	"net/http"
	"strings"

	"github.com/nebutra/billing-service/api/responses"
	"github.com/nebutra/billing-service/api/validators"
	"github.com/nebutra/billing-service/internal/limits"
	usagesvc "github.com/nebutra/billing-service/internal/usage"
	"github.com/nebutra/billing-service/pkg/enums"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/logger"
)

// Service describes the UsageLedger methods used by the HTTP controllers.
type Service interface {
	Record(ctx context.Context, input usagesvc.RecordInput) (*usagesvc.RecordResult, error)
	Summary(ctx context.Context, organizationID string, usageType *enums.UsageType) (*usagesvc.Summary, error)
	CheckLimit(ctx context.Context, organizationID string, usageType enums.UsageType, quantity int64) (limits.Result, error)
	GetLimits(ctx context.Context, organizationID string) (*usagesvc.Limits, error)
	Reset(ctx context.Context, organizationID string, usageType *enums.UsageType) error
}

type recordRequest struct {
	OrganizationID string         `json:"organization_id" validate:"required,max=128"`
	Type           string         `json:"type" validate:"required"`
	Quantity       int64          `json:"quantity" validate:"gt=0,max=1000000000000000"`
	Resource       *string        `json:"resource,omitempty" validate:"omitempty,max=255"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type recordResponse struct {
	Success bool `json:"success"`
	*usagesvc.RecordResult
}

type checkLimitRequest struct {
	OrganizationID string `json:"organization_id" validate:"required,max=128"`
	Type           string `json:"type" validate:"required"`
	Quantity       int64  `json:"quantity" validate:"min=0,max=1000000000000000"`
}

// Record appends a usage event and increments the period counter.
func Record(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}
		var payload recordRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		usageType, err := parseType(payload.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Record(r.Context(), usagesvc.RecordInput{
			OrganizationID: payload.OrganizationID,
			Type:           usageType,
			Quantity:       payload.Quantity,
			Resource:       payload.Resource,
			Metadata:       payload.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, recordResponse{Success: true, RecordResult: result})
	}
}

// Summary returns the current period's usage, optionally filtered by ?type=.
func Summary(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}
		orgID, err := validators.PathParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		usageType, err := parseOptionalType(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.Summary(r.Context(), orgID, usageType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// CheckLimit reports whether quantity more units would fit the limit.
func CheckLimit(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}
		var payload checkLimitRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		usageType, err := parseType(payload.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.CheckLimit(r.Context(), payload.OrganizationID, usageType, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Limits returns every usage type's limit and consumption.
func Limits(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}
		orgID, err := validators.PathParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := svc.GetLimits(r.Context(), orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

// Reset zeroes the current period's counters, optionally for one ?type=.
func Reset(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}
		orgID, err := validators.PathParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		usageType, err := parseOptionalType(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Reset(r.Context(), orgID, usageType); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"success": true, "message": "Usage reset successfully"})
	}
}

func parseType(raw string) (enums.UsageType, error) {
	usageType, err := enums.ParseUsageType(strings.ToUpper(strings.TrimSpace(raw)))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid usage type").WithDetails(map[string]any{"field": "type"})
	}
	return usageType, nil
}

func parseOptionalType(r *http.Request) (*enums.UsageType, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("type"))
	if raw == "" {
		return nil, nil
	}
	usageType, err := parseType(raw)
	if err != nil {
		return nil, err
	}
	return &usageType, nil
}
