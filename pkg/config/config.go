package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Cache        CacheConfig
	Credits      CreditsConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BILLING_APP_ENV" required:"true"`
	Port         string `envconfig:"BILLING_APP_PORT" default:"8005"`
	LogLevel     string `envconfig:"BILLING_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"BILLING_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"BILLING_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"BILLING_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BILLING_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BILLING_DB_DSN"`
	Driver string `envconfig:"BILLING_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BILLING_DB_HOST"`
	LegacyPort     int    `envconfig:"BILLING_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BILLING_DB_USER"`
	LegacyPassword string `envconfig:"BILLING_DB_PASSWORD"`
	LegacyName     string `envconfig:"BILLING_DB_NAME"`
	LegacySSLMode  string `envconfig:"BILLING_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILLING_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILLING_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILLING_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILLING_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"BILLING_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BILLING_REDIS_URL"`
	Address      string        `envconfig:"BILLING_REDIS_ADDR"`
	Password     string        `envconfig:"BILLING_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILLING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILLING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILLING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILLING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILLING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILLING_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"BILLING_REDIS_KEY_PREFIX" default:"billing"`
}

// CacheConfig controls how long resolved plan configuration stays cached.
type CacheConfig struct {
	ConfigTTL time.Duration `envconfig:"BILLING_CACHE_CONFIG_TTL" default:"300s"`
}

type CreditsConfig struct {
	// GrantOnConfirmation defers PURCHASE grants until Stripe reports payment_intent.succeeded.
	GrantOnConfirmation bool   `envconfig:"BILLING_CREDITS_GRANT_ON_CONFIRMATION" default:"false"`
	Currency            string `envconfig:"BILLING_CREDITS_CURRENCY" default:"usd"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"BILLING_CRON_INTERVAL" default:"1h"`
	LockTTL           time.Duration `envconfig:"BILLING_CRON_LOCK_TTL" default:"55m"`
	BonusExpiryBatch  int           `envconfig:"BILLING_CRON_BONUS_EXPIRY_BATCH" default:"200"`
	WarmCacheEnabled  bool          `envconfig:"BILLING_CRON_WARM_CACHE_ENABLED" default:"true"`
	IdempotencyWindow time.Duration `envconfig:"BILLING_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BILLING_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BILLING_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"BILLING_STRIPE_SECRET_KEY"`
	WebhookSecret string `envconfig:"BILLING_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"BILLING_STRIPE_ENV" default:"test"`
	// SignatureTolerance bounds the age of a Stripe-Signature timestamp.
	SignatureTolerance time.Duration `envconfig:"BILLING_STRIPE_SIGNATURE_TOLERANCE" default:"5m"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if db.DSN != "" {
		return nil
	}
	if sqlite {
		db.DSN = "file:billing.db?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
