package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nebutra/billing-service/pkg/logger"
	"github.com/nebutra/billing-service/pkg/metrics"
)

const defaultInterval = time.Hour

// ErrJobLocked is returned by RunJob when another worker holds the job's lease.
var ErrJobLocked = errors.New("cron job is running on another worker")

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockProvider
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs the registered jobs every interval, each under its own lease.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locks    LockProvider
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

// CycleSummary counts job outcomes for one pass over the registry.
type CycleSummary struct {
	Succeeded int
	Failed    int
	Skipped   int
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Locks == nil:
		return nil, fmt.Errorf("lock provider required")
	}
	s := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		locks:    params.Locks,
		metrics:  params.Metrics,
		interval: params.Interval,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s, nil
}

// Run executes a cycle immediately and then once per interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes every registered job once, in registration order.
func (s *Service) RunOnce(ctx context.Context) CycleSummary {
	var summary CycleSummary
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			break
		}
		switch outcome, _ := s.execute(ctx, job); outcome {
		case metrics.JobSucceeded:
			summary.Succeeded++
		case metrics.JobSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	}), "cron cycle finished")
	return summary
}

// RunJob executes the named job once and reports its error.
func (s *Service) RunJob(ctx context.Context, name string) error {
	job, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("cron job %q not registered", name)
	}
	outcome, err := s.execute(ctx, job)
	if outcome == metrics.JobSkipped {
		return ErrJobLocked
	}
	return err
}

func (s *Service) execute(ctx context.Context, job Job) (outcome string, err error) {
	name := job.Name()
	ctx = s.logg.WithField(ctx, "job", name)
	start := time.Now()
	defer func() {
		took := time.Since(start)
		s.metrics.ObserveRun(name, outcome, took)
		if outcome == metrics.JobSkipped {
			return
		}
		done := s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
		if err != nil {
			s.logg.Error(done, "cron job failed", err)
			return
		}
		s.logg.Info(done, "cron job succeeded")
	}()

	lock, err := s.locks.ForJob(name)
	if err != nil {
		return metrics.JobFailed, fmt.Errorf("lock for %s: %w", name, err)
	}
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return metrics.JobFailed, fmt.Errorf("acquire lock for %s: %w", name, err)
	}
	if !acquired {
		s.logg.Info(ctx, "cron job held by another worker")
		return metrics.JobSkipped, nil
	}
	defer func() {
		if relErr := lock.Release(ctx); relErr != nil {
			s.logg.Warn(s.logg.WithField(ctx, "release_error", relErr.Error()), "cron lock release failed")
		}
	}()

	start = time.Now()
	if err := job.Run(ctx); err != nil {
		return metrics.JobFailed, err
	}
	return metrics.JobSucceeded, nil
}
