package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/nebutra/billing-service/api/routes"
	"github.com/nebutra/billing-service/internal/credits"
	"github.com/nebutra/billing-service/internal/limits"
	"github.com/nebutra/billing-service/internal/plans"
	"github.com/nebutra/billing-service/internal/subscriptions"
	"github.com/nebutra/billing-service/internal/usage"
	stripewebhook "github.com/nebutra/billing-service/internal/webhooks/stripe"
	"github.com/nebutra/billing-service/pkg/config"
	"github.com/nebutra/billing-service/pkg/db"
	"github.com/nebutra/billing-service/pkg/logger"
	"github.com/nebutra/billing-service/pkg/metrics"
	"github.com/nebutra/billing-service/pkg/migrate"
	"github.com/nebutra/billing-service/pkg/redis"
	"github.com/nebutra/billing-service/pkg/stripe"
)

const (
	shutdownTimeout    = 15 * time.Second
	stripeWebhookScope = "stripe-webhook"
	readHeaderTimeout  = 10 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "billing-api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "billing-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient, seedDefaults); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	deps := routes.Dependencies{
		Config: cfg,
		Logger: logg,
		DB:     dbClient,
	}

	var configCache plans.Cache = plans.NewMemoryCache()
	redisClient, err := bootstrapRedis(cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		configCache = redisClient
		deps.Redis = redisClient
		deps.Idempotency = redisClient
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Gatherer = registry
	cacheMetrics := metrics.NewCacheMetrics(registry)
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	plansRepo := plans.NewRepository(dbClient.DB())
	resolver, err := plans.NewResolver(plans.ResolverParams{
		Store:   plansRepo,
		Cache:   configCache,
		Logger:  logg.Component("plans"),
		Metrics: cacheMetrics,
		TTL:     cfg.Cache.ConfigTTL,
		Prefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create plan resolver", err)
		os.Exit(1)
	}
	deps.Plans = resolver

	evaluator, err := limits.NewEvaluator(resolver, ledgerMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create limit evaluator", err)
		os.Exit(1)
	}
	deps.Limits = evaluator

	usageService, err := usage.NewService(usage.ServiceParams{
		Repo:     usage.NewRepository(dbClient.DB()),
		Tx:       dbClient,
		Resolver: resolver,
		Logger:   logg.Component("usage"),
		Metrics:  ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create usage service", err)
		os.Exit(1)
	}
	deps.Usage = usageService

	stripeClient, err := bootstrapStripe(cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	creditParams := credits.ServiceParams{
		Repo:                credits.NewRepository(dbClient.DB()),
		Tx:                  dbClient,
		Logger:              logg.Component("credits"),
		Metrics:             ledgerMetrics,
		GrantOnConfirmation: cfg.Credits.GrantOnConfirmation,
		Currency:            cfg.Credits.Currency,
	}
	if stripeClient != nil {
		creditParams.Payments = stripeClient
	}
	creditService, err := credits.NewService(creditParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create credits service", err)
		os.Exit(1)
	}
	deps.Credits = creditService

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              plansRepo,
		TransactionRunner: dbClient,
		Invalidator:       resolver,
		Logger:            logg.Component("subscriptions"),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Subscriptions: subscriptionService,
		Credits:       creditService,
		Logger:        logg.Component("stripe-webhook"),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}
	deps.StripeWebhooks = webhookService
	if stripeClient != nil {
		deps.StripeVerifier = stripeClient
	}
	if redisClient != nil {
		guard, err := stripewebhook.NewEventGuard(stripewebhook.GuardParams{
			Store:  redisClient,
			Window: cfg.Cron.IdempotencyWindow,
			Scope:  stripeWebhookScope,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create stripe webhook guard", err)
			os.Exit(1)
		}
		deps.WebhookGuard = guard
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"serviceKind": cfg.Service.Kind,
		"redis":       redisClient != nil,
		"stripe":      stripeClient != nil,
	})
	logg.Info(ctx, "starting billing api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}

func seedDefaults(ctx context.Context, conn *gorm.DB) error {
	return plans.SeedDefaults(ctx, conn, time.Now())
}

func bootstrapRedis(cfg *config.Config, logg *logger.Logger) (*redis.Client, error) {
	if cfg.Redis.URL == "" && cfg.Redis.Address == "" {
		logg.Warn(context.Background(), "redis not configured, using in-memory config cache")
		return nil, nil
	}
	return redis.New(context.Background(), cfg.Redis, logg)
}

func bootstrapStripe(cfg *config.Config, logg *logger.Logger) (*stripe.Client, error) {
	if cfg.Stripe.APIKey == "" {
		logg.Warn(context.Background(), "stripe not configured, credit purchases and webhooks disabled")
		return nil, nil
	}
	return stripe.NewClient(context.Background(), cfg.Stripe, logg)
}
