package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/nebutra/billing-service/internal/plans"
	"github.com/nebutra/billing-service/pkg/logger"
)

const defaultWarmLimit = 500

type configWarmer interface {
	GetPlans(ctx context.Context, publicOnly bool) ([]plans.PlanConfig, error)
	Refresh(ctx context.Context, organizationID string) (*plans.ResolvedConfig, error)
}

type liveOrganizationLister interface {
	ListLiveOrganizationIDs(ctx context.Context, limit int) ([]string, error)
}

// PlanConfigWarmJobParams configure cache pre-warming.
type PlanConfigWarmJobParams struct {
	Logger        *logger.Logger
	Resolver      configWarmer
	Organizations liveOrganizationLister
	Limit         int
}

// NewPlanConfigWarmJob builds the job that refreshes plan lists and live organization configs.
func NewPlanConfigWarmJob(params PlanConfigWarmJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Resolver == nil {
		return nil, fmt.Errorf("plan resolver required")
	}
	if params.Organizations == nil {
		return nil, fmt.Errorf("organization lister required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultWarmLimit
	}
	return &planConfigWarmJob{
		logg:     params.Logger,
		resolver: params.Resolver,
		orgs:     params.Organizations,
		limit:    limit,
	}, nil
}

type planConfigWarmJob struct {
	logg     *logger.Logger
	resolver configWarmer
	orgs     liveOrganizationLister
	limit    int
}

func (j *planConfigWarmJob) Name() string { return "plan-config-warm" }

func (j *planConfigWarmJob) Run(ctx context.Context) error {
	var errs error
	for _, publicOnly := range []bool{true, false} {
		if _, err := j.resolver.GetPlans(ctx, publicOnly); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("warm plans public=%t: %w", publicOnly, err))
		}
	}

	ids, err := j.orgs.ListLiveOrganizationIDs(ctx, j.limit)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("list live organizations: %w", err))
	}
	warmed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		if _, err := j.resolver.Refresh(ctx, id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("warm config for %s: %w", id, err))
			continue
		}
		warmed++
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"organizations": len(ids),
		"warmed":        warmed,
	})
	j.logg.Info(logCtx, "plan config warm complete")
	return errs
}
