package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/nebutra/billing-service/internal/credits"
	"github.com/nebutra/billing-service/internal/cron"
	"github.com/nebutra/billing-service/internal/plans"
	"github.com/nebutra/billing-service/pkg/config"
	"github.com/nebutra/billing-service/pkg/db"
	"github.com/nebutra/billing-service/pkg/logger"
	"github.com/nebutra/billing-service/pkg/metrics"
	"github.com/nebutra/billing-service/pkg/migrate"
	"github.com/nebutra/billing-service/pkg/redis"
)

const serviceName = "cron-worker"

type runMode struct {
	once bool
	job  string
}

func main() {
	var mode runMode
	flag.BoolVar(&mode.once, "once", false, "run every job a single time and exit")
	flag.StringVar(&mode.job, "job", "", "run only the named job once and exit")
	flag.Parse()

	bootLog := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": cfg.Service.Kind})

	if err := run(ctx, cfg, logg, mode); err != nil {
		logg.Error(ctx, "cron worker failed", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, mode runMode) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient, func(ctx context.Context, conn *gorm.DB) error {
		return plans.SeedDefaults(ctx, conn, time.Now())
	}); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis (required for job leases): %w", err)
	}
	defer closeQuietly(ctx, logg, "redis", redisClient.Close)

	registry, err := buildRegistry(cfg, logg, dbClient, redisClient)
	if err != nil {
		return err
	}
	locks, err := cron.NewRedisLockProvider(redisClient, cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock provider: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg.Component("cron"),
		Registry: registry,
		Locks:    locks,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}
	ctx = logg.WithField(ctx, "jobs", registry.Names())

	switch {
	case mode.job != "":
		err := service.RunJob(ctx, mode.job)
		if errors.Is(err, cron.ErrJobLocked) {
			logg.Info(ctx, "cron job already running elsewhere")
			return nil
		}
		return err
	case mode.once:
		if summary := service.RunOnce(ctx); summary.Failed > 0 {
			return fmt.Errorf("%d cron job(s) failed", summary.Failed)
		}
		return nil
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

// buildRegistry registers bonus expiration and, when enabled, plan config warming.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*cron.Registry, error) {
	creditService, err := credits.NewService(credits.ServiceParams{
		Repo:     credits.NewRepository(dbClient.DB()),
		Tx:       dbClient,
		Logger:   logg.Component("credits"),
		Metrics:  metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
		Currency: cfg.Credits.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("credits service: %w", err)
	}

	jobs := []cron.Job{}
	bonusJob, err := cron.NewBonusExpirationJob(cron.BonusExpirationJobParams{
		Logger:  logg,
		Credits: creditService,
		Batch:   cfg.Cron.BonusExpiryBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("bonus expiration job: %w", err)
	}
	jobs = append(jobs, bonusJob)

	if cfg.Cron.WarmCacheEnabled {
		plansRepo := plans.NewRepository(dbClient.DB())
		resolver, err := plans.NewResolver(plans.ResolverParams{
			Store:   plansRepo,
			Cache:   redisClient,
			Logger:  logg.Component("plans"),
			Metrics: metrics.NewCacheMetrics(prometheus.DefaultRegisterer),
			TTL:     cfg.Cache.ConfigTTL,
			Prefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("plan resolver: %w", err)
		}
		warmJob, err := cron.NewPlanConfigWarmJob(cron.PlanConfigWarmJobParams{
			Logger:        logg,
			Resolver:      resolver,
			Organizations: plansRepo,
		})
		if err != nil {
			return nil, fmt.Errorf("plan config warm job: %w", err)
		}
		jobs = append(jobs, warmJob)
	}

	registry := cron.NewRegistry()
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func closeQuietly(ctx context.Context, logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+what, err)
	}
}
