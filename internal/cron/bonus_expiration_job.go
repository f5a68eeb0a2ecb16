package cron

import (
	"context"
	"fmt"

	"github.com/nebutra/billing-service/pkg/logger"
)

const (
	defaultBonusExpiryBatch = 200
	maxBonusExpiryRounds    = 50
)

type bonusExpirer interface {
	ExpireBonuses(ctx context.Context, batch int) (int, error)
}

// BonusExpirationJobParams configure the lapsed bonus sweep.
type BonusExpirationJobParams struct {
	Logger  *logger.Logger
	Credits bonusExpirer
	Batch   int
}

// NewBonusExpirationJob builds the job that writes EXPIRATION entries for lapsed bonuses.
func NewBonusExpirationJob(params BonusExpirationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credit ledger required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultBonusExpiryBatch
	}
	return &bonusExpirationJob{
		logg:    params.Logger,
		credits: params.Credits,
		batch:   batch,
	}, nil
}

type bonusExpirationJob struct {
	logg    *logger.Logger
	credits bonusExpirer
	batch   int
}

func (j *bonusExpirationJob) Name() string { return "credit-bonus-expiration" }

func (j *bonusExpirationJob) Run(ctx context.Context) error {
	total := 0
	for round := 0; round < maxBonusExpiryRounds; round++ {
		closed, err := j.credits.ExpireBonuses(ctx, j.batch)
		total += closed
		if err != nil {
			return fmt.Errorf("expire bonuses: %w", err)
		}
		if closed < j.batch {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"expired": total})
	j.logg.Info(logCtx, "bonus expiration sweep complete")
	return nil
}
