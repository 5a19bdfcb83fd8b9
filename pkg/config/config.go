package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	Credits      CreditsConfig
	Scheduler    SchedulerConfig
	Automation   AutomationConfig
	Reconcile    ReconcileConfig
	Providers    ProvidersConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// validate reports every out-of-range tuning value at once.
func (c *Config) validate() error {
	var err error
	positive := func(name string, v int) {
		if v <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("scheduler batch size", c.Scheduler.BatchSize)
	positive("reconcile batch size", c.Reconcile.BatchSize)
	positive("automation workers", c.Automation.Workers)
	positive("outbox max attempts", c.Outbox.MaxAttempts)
	positive("outbox batch size", c.Outbox.BatchSize)
	if c.Reconcile.StaleAfter <= 0 {
		err = multierr.Append(err, fmt.Errorf("reconcile stale threshold must be positive, got %v", c.Reconcile.StaleAfter))
	}
	if c.RateLimit.WorkspaceLimit < 0 || c.RateLimit.IPLimit < 0 {
		err = multierr.Append(err, errors.New("rate limits must not be negative"))
	}
	if price, perr := decimal.NewFromString(strings.TrimSpace(c.Credits.UnitPriceUSD)); perr != nil {
		err = multierr.Append(err, fmt.Errorf("credit unit price %q: %w", c.Credits.UnitPriceUSD, perr))
	} else if price.IsNegative() {
		err = multierr.Append(err, fmt.Errorf("credit unit price %s is negative", price))
	}
	return err
}

type AppConfig struct {
	Env          string `envconfig:"CONTENTSTUDIO_APP_ENV" required:"true"`
	Port         string `envconfig:"CONTENTSTUDIO_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CONTENTSTUDIO_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CONTENTSTUDIO_LOG_WARN_STACK" default:"false"`
	// CORSOrigins is comma separated. Empty falls back to the local dev origins.
	CORSOrigins []string `envconfig:"CONTENTSTUDIO_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CONTENTSTUDIO_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CONTENTSTUDIO_DB_DSN"`
	Driver string `envconfig:"CONTENTSTUDIO_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CONTENTSTUDIO_DB_HOST"`
	LegacyPort     int    `envconfig:"CONTENTSTUDIO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CONTENTSTUDIO_DB_USER"`
	LegacyPassword string `envconfig:"CONTENTSTUDIO_DB_PASSWORD"`
	LegacyName     string `envconfig:"CONTENTSTUDIO_DB_NAME"`
	LegacySSLMode  string `envconfig:"CONTENTSTUDIO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CONTENTSTUDIO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CONTENTSTUDIO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CONTENTSTUDIO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CONTENTSTUDIO_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CONTENTSTUDIO_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CONTENTSTUDIO_REDIS_ADDR"`
	Password     string        `envconfig:"CONTENTSTUDIO_REDIS_PASSWORD"`
	DB           int           `envconfig:"CONTENTSTUDIO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CONTENTSTUDIO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CONTENTSTUDIO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CONTENTSTUDIO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CONTENTSTUDIO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CONTENTSTUDIO_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CONTENTSTUDIO_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CONTENTSTUDIO_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CONTENTSTUDIO_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CONTENTSTUDIO_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CONTENTSTUDIO_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"CONTENTSTUDIO_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CONTENTSTUDIO_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"CONTENTSTUDIO_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CONTENTSTUDIO_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	StudioTopic              string `envconfig:"CONTENTSTUDIO_PUBSUB_STUDIO_TOPIC" default:"cs-studio-events"`
	BillingTopic             string `envconfig:"CONTENTSTUDIO_PUBSUB_BILLING_TOPIC" default:"cs-billing-events"`
	NotificationSubscription string `envconfig:"CONTENTSTUDIO_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	AnalyticsSubscription    string `envconfig:"CONTENTSTUDIO_PUBSUB_ANALYTICS_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset    string `envconfig:"CONTENTSTUDIO_BIGQUERY_DATASET" default:"contentstudio"`
	UsageTable string `envconfig:"CONTENTSTUDIO_BIGQUERY_USAGE_TABLE" default:"credit_usage"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CONTENTSTUDIO_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CONTENTSTUDIO_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CONTENTSTUDIO_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey string `envconfig:"CONTENTSTUDIO_STRIPE_API_KEY"`
	Secret string `envconfig:"CONTENTSTUDIO_STRIPE_SECRET"`
	Env    string `envconfig:"CONTENTSTUDIO_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// CreditsConfig tunes wallet defaults and usage pricing.
type CreditsConfig struct {
	LowBalanceThreshold int    `envconfig:"CONTENTSTUDIO_CREDITS_LOW_BALANCE_THRESHOLD" default:"20"`
	UnitPriceUSD        string `envconfig:"CONTENTSTUDIO_CREDITS_UNIT_PRICE_USD" default:"0.01"`
}

type SchedulerConfig struct {
	Lookahead time.Duration `envconfig:"CONTENTSTUDIO_SCHEDULER_LOOKAHEAD" default:"2m"`
	BatchSize int           `envconfig:"CONTENTSTUDIO_SCHEDULER_BATCH_SIZE" default:"50"`
	Interval  time.Duration `envconfig:"CONTENTSTUDIO_SCHEDULER_INTERVAL" default:"1m"`
}

type AutomationConfig struct {
	Workers      int           `envconfig:"CONTENTSTUDIO_AUTOMATION_WORKERS" default:"4"`
	QueueKey     string        `envconfig:"CONTENTSTUDIO_AUTOMATION_QUEUE_KEY" default:"automation:runs"`
	PollInterval time.Duration `envconfig:"CONTENTSTUDIO_AUTOMATION_POLL_INTERVAL" default:"1s"`
}

// ReconcileConfig drives the stale-hold sweep. ExternalStaleAfter bounds holds
// reserved through the credits API, which the caller finalizes on its own schedule.
type ReconcileConfig struct {
	StaleAfter         time.Duration `envconfig:"CONTENTSTUDIO_RECONCILE_STALE_AFTER" default:"30m"`
	ExternalStaleAfter time.Duration `envconfig:"CONTENTSTUDIO_RECONCILE_EXTERNAL_STALE_AFTER" default:"168h"`
	Interval           time.Duration `envconfig:"CONTENTSTUDIO_RECONCILE_INTERVAL" default:"5m"`
	BatchSize          int           `envconfig:"CONTENTSTUDIO_RECONCILE_BATCH_SIZE" default:"100"`
}

// ProvidersConfig paces calls into the generation and social adapters.
type ProvidersConfig struct {
	RequestsPerSecond float64 `envconfig:"CONTENTSTUDIO_PROVIDER_RPS" default:"5"`
	Burst             int     `envconfig:"CONTENTSTUDIO_PROVIDER_BURST" default:"5"`
}

// RateLimitConfig throttles credit-spending endpoints per workspace and per IP.
type RateLimitConfig struct {
	Window         time.Duration `envconfig:"CONTENTSTUDIO_RATE_LIMIT_WINDOW" default:"1m"`
	WorkspaceLimit int           `envconfig:"CONTENTSTUDIO_RATE_LIMIT_WORKSPACE" default:"60"`
	IPLimit        int           `envconfig:"CONTENTSTUDIO_RATE_LIMIT_IP" default:"120"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
