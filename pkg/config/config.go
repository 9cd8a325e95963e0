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
	JWT          JWTConfig
	Password     PasswordConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	Pricing      PricingConfig
	Payment      PaymentConfig
	Settlement   SettlementConfig
	Withdrawal   WithdrawalConfig
	Cron         CronConfig
	GoogleMaps   GoogleMapsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Withdrawal.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PREPMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"PREPMARKET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PREPMARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PREPMARKET_LOG_WARN_STACK" default:"false"`

	// CORSOrigins also gates websocket upgrades.
	CORSOrigins []string `envconfig:"PREPMARKET_CORS_ORIGINS" default:"http://localhost:3000"`
	// RateLimit caps write requests per user per RateWindow.
	RateLimit  int64         `envconfig:"PREPMARKET_RATE_LIMIT" default:"120"`
	RateWindow time.Duration `envconfig:"PREPMARKET_RATE_WINDOW" default:"1m"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PREPMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PREPMARKET_DB_DSN"`
	Driver string `envconfig:"PREPMARKET_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"PREPMARKET_DB_HOST"`
	Port     int    `envconfig:"PREPMARKET_DB_PORT" default:"5432"`
	User     string `envconfig:"PREPMARKET_DB_USER"`
	Password string `envconfig:"PREPMARKET_DB_PASSWORD"`
	Name     string `envconfig:"PREPMARKET_DB_NAME"`
	SSLMode  string `envconfig:"PREPMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PREPMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PREPMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PREPMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PREPMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PREPMARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PREPMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"PREPMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"PREPMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PREPMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PREPMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PREPMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PREPMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PREPMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"PREPMARKET_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"PREPMARKET_JWT_ISSUER" required:"true"`
}

// PasswordConfig tunes argon2id; it is used for wallet PINs.
type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"PREPMARKET_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"PREPMARKET_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"PREPMARKET_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"PREPMARKET_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"PREPMARKET_ARGON_KEY_LEN" default:"32"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PREPMARKET_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"PREPMARKET_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	RequestIdempotencyTTL time.Duration `envconfig:"PREPMARKET_EVENTING_REQUEST_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"PREPMARKET_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"PREPMARKET_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"PREPMARKET_PUBSUB_DOMAIN_TOPIC" default:"prepmarket-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PREPMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PREPMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PREPMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey string `envconfig:"PREPMARKET_STRIPE_API_KEY"`
	Secret string `envconfig:"PREPMARKET_STRIPE_SECRET"`
	Env    string `envconfig:"PREPMARKET_STRIPE_ENV" default:"test"`
}

type PricingConfig struct {
	Currency               string `envconfig:"PREPMARKET_PRICING_CURRENCY" default:"usd"`
	TaxPercent             string `envconfig:"PREPMARKET_PRICING_TAX_PERCENT" default:"0"`
	DiscountPercent        string `envconfig:"PREPMARKET_PRICING_DISCOUNT_PERCENT" default:"0"`
	MaxOrderNumberAttempts int    `envconfig:"PREPMARKET_PRICING_ORDER_NUMBER_ATTEMPTS" default:"5"`
}

type PaymentConfig struct {
	AmbiguousRetries   int           `envconfig:"PREPMARKET_PAYMENT_AMBIGUOUS_RETRIES" default:"2"`
	StaleProcessingAge time.Duration `envconfig:"PREPMARKET_PAYMENT_STALE_PROCESSING_AGE" default:"15m"`
}

type SettlementConfig struct {
	HoldingWindow     time.Duration `envconfig:"PREPMARKET_SETTLEMENT_HOLDING_WINDOW" default:"48h"`
	CommissionPercent string        `envconfig:"PREPMARKET_SETTLEMENT_COMMISSION_PERCENT" default:"3"`
	SweepBatchSize    int           `envconfig:"PREPMARKET_SETTLEMENT_SWEEP_BATCH_SIZE" default:"200"`
}

// WithdrawalConfig prices bank withdrawals: fee = max(amount*FeePercent/100, MinFeeCents).
type WithdrawalConfig struct {
	FeePercent     string `envconfig:"PREPMARKET_WITHDRAWAL_FEE_PERCENT" default:"1.5"`
	MinFeeCents    int64  `envconfig:"PREPMARKET_WITHDRAWAL_MIN_FEE_CENTS" default:"100"`
	MinAmountCents int64  `envconfig:"PREPMARKET_WITHDRAWAL_MIN_AMOUNT_CENTS" default:"1000"`

	RateLimit  int64         `envconfig:"PREPMARKET_WITHDRAWAL_RATE_LIMIT" default:"5"`
	RateWindow time.Duration `envconfig:"PREPMARKET_WITHDRAWAL_RATE_WINDOW" default:"1h"`
}

func (w WithdrawalConfig) validate() error {
	if w.MinFeeCents < 0 {
		return fmt.Errorf("%s must not be negative", EnvWithdrawalMinFee)
	}
	if w.MinAmountCents <= w.MinFeeCents {
		return fmt.Errorf("%s must exceed %s", EnvWithdrawalMinAmount, EnvWithdrawalMinFee)
	}
	return nil
}

type GoogleMapsConfig struct {
	APIKey string `envconfig:"PREPMARKET_GOOGLE_MAPS_API_KEY"`
}

// CronConfig drives the cron worker. Tick is how often due jobs are checked;
// each job then runs on its own cadence.
type CronConfig struct {
	Tick              time.Duration `envconfig:"PREPMARKET_CRON_TICK" default:"1m"`
	LockTTL           time.Duration `envconfig:"PREPMARKET_CRON_LOCK_TTL" default:"30m"`
	ReconcileEvery    time.Duration `envconfig:"PREPMARKET_CRON_RECONCILE_EVERY" default:"5m"`
	SweepEvery        time.Duration `envconfig:"PREPMARKET_CRON_SWEEP_EVERY" default:"1h"`
	CleanupEvery      time.Duration `envconfig:"PREPMARKET_CRON_CLEANUP_EVERY" default:"24h"`
	OutboxRetention   time.Duration `envconfig:"PREPMARKET_CRON_OUTBOX_RETENTION" default:"720h"`
	NotificationsKept time.Duration `envconfig:"PREPMARKET_CRON_NOTIFICATION_RETENTION" default:"2160h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
