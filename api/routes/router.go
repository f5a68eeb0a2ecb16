package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v84"

	"github.com/nebutra/billing-service/api/controllers"
	creditcontrollers "github.com/nebutra/billing-service/api/controllers/credits"
	"github.com/nebutra/billing-service/api/controllers/planconfig"
	usagecontrollers "github.com/nebutra/billing-service/api/controllers/usage"
	webhookcontrollers "github.com/nebutra/billing-service/api/controllers/webhooks"
	"github.com/nebutra/billing-service/api/middleware"
	"github.com/nebutra/billing-service/pkg/config"
	"github.com/nebutra/billing-service/pkg/db"
	"github.com/nebutra/billing-service/pkg/logger"
	"github.com/nebutra/billing-service/pkg/redis"
)

// StripeVerifier checks webhook signatures. Nil when Stripe is not configured.
type StripeVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// WebhookGuard deduplicates Stripe event deliveries.
type WebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// Dependencies carries everything the router hands to controllers.
// Optional collaborators are nil interfaces when their backend is not configured.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    redis.Pinger
	Idempotency redis.IdempotencyStore
	Gatherer prometheus.Gatherer

	Plans          planconfig.ConfigService
	Limits         planconfig.LimitChecker
	Usage          usagecontrollers.Service
	Credits        creditcontrollers.Service
	StripeWebhooks webhookcontrollers.StripeWebhookService
	StripeVerifier StripeVerifier
	WebhookGuard   WebhookGuard
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
		middleware.Idempotency(deps.Idempotency, logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/config/{organizationId}", func(r chi.Router) {
			r.Get("/", planconfig.OrganizationConfig(deps.Plans, logg))
			r.Get("/features/{featureKey}", planconfig.OrganizationFeature(deps.Plans, logg))
			r.Get("/limits/{limitKey}", planconfig.OrganizationLimit(deps.Plans, logg))
			r.Post("/limits/{limitKey}/check", planconfig.OrganizationLimitCheck(deps.Limits, logg))
			r.Post("/invalidate", planconfig.OrganizationInvalidate(deps.Plans, logg))
		})

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", planconfig.PlanList(deps.Plans, logg))
			r.Post("/invalidate", planconfig.PlansInvalidate(deps.Plans, logg))
			r.Get("/{slug}", planconfig.PlanDetail(deps.Plans, logg))
		})

		r.Route("/usage", func(r chi.Router) {
			r.Post("/record", usagecontrollers.Record(deps.Usage, logg))
			r.Post("/check-limit", usagecontrollers.CheckLimit(deps.Usage, logg))
			r.Get("/{organizationId}", usagecontrollers.Summary(deps.Usage, logg))
			r.Get("/{organizationId}/limits", usagecontrollers.Limits(deps.Usage, logg))
			r.Post("/{organizationId}/reset", usagecontrollers.Reset(deps.Usage, logg))
		})

		r.Route("/credits", func(r chi.Router) {
			r.Post("/purchase", creditcontrollers.Purchase(deps.Credits, logg))
			r.Post("/deduct", creditcontrollers.Deduct(deps.Credits, logg))
			r.Post("/refund", creditcontrollers.Refund(deps.Credits, logg))
			r.Post("/bonus", creditcontrollers.Bonus(deps.Credits, logg))
			r.Get("/{organizationId}/balance", creditcontrollers.Balance(deps.Credits, logg))
			r.Get("/{organizationId}/transactions", creditcontrollers.Transactions(deps.Credits, logg))
			r.Get("/{organizationId}/check/{credits}", creditcontrollers.Check(deps.Credits, logg))
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhooks, deps.StripeVerifier, deps.WebhookGuard, logg))
		})
	})

	return r
}
