package config

const (
	EnvPrefix = "BILLING"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "BILLING_APP_ENV"
	EnvPort     = "BILLING_APP_PORT"
	EnvLogLevel = "BILLING_LOG_LEVEL"

	EnvDBDSN  = "BILLING_DB_DSN"
	EnvDBHost = "BILLING_DB_HOST"
	EnvDBUser = "BILLING_DB_USER"
	EnvDBName = "BILLING_DB_NAME"

	EnvRedisURL       = "BILLING_REDIS_URL"
	EnvRedisKeyPrefix = "BILLING_REDIS_KEY_PREFIX"

	EnvCacheConfigTTL = "BILLING_CACHE_CONFIG_TTL"

	EnvCreditsGrantOnConfirmation = "BILLING_CREDITS_GRANT_ON_CONFIRMATION"

	EnvStripeSecretKey     = "BILLING_STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret = "BILLING_STRIPE_WEBHOOK_SECRET"

	EnvUseSQLite = "BILLING_USE_SQLITE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
