package subscriptions

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/nebutra/billing-service/internal/plans"
	"github.com/nebutra/billing-service/pkg/db/models"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ConfigInvalidator drops an organization's cached configuration.
type ConfigInvalidator interface {
	Invalidate(ctx context.Context, organizationID string) error
}

// Service mirrors Stripe subscriptions into the subscriptions table.
type Service interface {
	SyncFromStripe(ctx context.Context, sub *stripe.Subscription) (*models.Subscription, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              plans.Repository
	TransactionRunner txRunner
	Invalidator       ConfigInvalidator
	Logger            *logger.Logger
}

type service struct {
	repo        plans.Repository
	txRunner    txRunner
	invalidator ConfigInvalidator
	logg        *logger.Logger
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("plan repo required")
	}
	if params.TransactionRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	return &service{
		repo:        params.Repo,
		txRunner:    params.TransactionRunner,
		invalidator: params.Invalidator,
		logg:        params.Logger,
	}, nil
}

// SyncFromStripe upserts the subscription and invalidates the organization's resolved config.
func (s *service) SyncFromStripe(ctx context.Context, sub *stripe.Subscription) (*models.Subscription, error) {
	if sub == nil || strings.TrimSpace(sub.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}

	var synced *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeID(ctx, sub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}

		org, metadataErr := OrganizationIDFromMetadata(sub.Metadata)
		if metadataErr != nil {
			if stored == nil {
				return metadataErr
			}
			org = stored.OrganizationID
		}

		planID, err := s.planFor(ctx, repo, sub, stored)
		if err != nil {
			return err
		}

		target := &models.Subscription{OrganizationID: org}
		if stored != nil {
			target = stored
		}
		ApplyStripeSubscription(target, sub, planID)
		if err := repo.UpsertSubscription(ctx, target); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert subscription")
		}
		synced = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, synced.OrganizationID); err != nil && s.logg != nil {
			warnCtx := s.logg.WithFields(ctx, map[string]any{
				"organization_id": synced.OrganizationID,
				"error":           err.Error(),
			})
			s.logg.Warn(warnCtx, "config invalidation after subscription sync failed")
		}
	}
	return synced, nil
}

func (s *service) planFor(ctx context.Context, repo plans.Repository, sub *stripe.Subscription, stored *models.Subscription) (string, error) {
	if priceID := PriceID(sub); priceID != "" {
		plan, err := repo.FindPlanByStripePrice(ctx, priceID)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup plan by price")
		}
		if plan != nil {
			return plan.ID, nil
		}
	}
	if planID := strings.TrimSpace(sub.Metadata[MetadataPlanID]); planID != "" {
		return planID, nil
	}
	if stored != nil && stored.PricingPlanID != "" {
		return stored.PricingPlanID, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeNotFound, "no pricing plan matches subscription price")
}
