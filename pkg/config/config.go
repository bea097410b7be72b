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
	MercadoPago  MercadoPagoConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SOLARA_APP_ENV" required:"true"`
	Port         string `envconfig:"SOLARA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SOLARA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SOLARA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SOLARA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SOLARA_DB_DSN"`
	Driver string `envconfig:"SOLARA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SOLARA_DB_HOST"`
	LegacyPort     int    `envconfig:"SOLARA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SOLARA_DB_USER"`
	LegacyPassword string `envconfig:"SOLARA_DB_PASSWORD"`
	LegacyName     string `envconfig:"SOLARA_DB_NAME"`
	LegacySSLMode  string `envconfig:"SOLARA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SOLARA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SOLARA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SOLARA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SOLARA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SOLARA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SOLARA_REDIS_ADDR"`
	Password     string        `envconfig:"SOLARA_REDIS_PASSWORD"`
	DB           int           `envconfig:"SOLARA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SOLARA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SOLARA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SOLARA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SOLARA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SOLARA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SOLARA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SOLARA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SOLARA_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the access token TTL.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// MercadoPagoConfig carries the platform-level gateway settings. Seller
// access tokens live on the seller records, not here.
type MercadoPagoConfig struct {
	BaseURL             string        `envconfig:"SOLARA_MERCADOPAGO_BASE_URL" default:"https://api.mercadopago.com"`
	AccessToken         string        `envconfig:"SOLARA_MERCADOPAGO_ACCESS_TOKEN"`
	WebhookURL          string        `envconfig:"SOLARA_MERCADOPAGO_WEBHOOK_URL"`
	StatementDescriptor string        `envconfig:"SOLARA_MERCADOPAGO_STATEMENT_DESCRIPTOR" default:"SOLARA"`
	HTTPTimeout         time.Duration `envconfig:"SOLARA_MERCADOPAGO_HTTP_TIMEOUT" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SOLARA_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SOLARA_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"SOLARA_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"SOLARA_WEBHOOK_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SOLARA_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SOLARA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SOLARA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"SOLARA_PUBSUB_DOMAIN_TOPIC" default:"solara-domain-events"`
	DomainSubscription string `envconfig:"SOLARA_PUBSUB_DOMAIN_SUBSCRIPTION"`
	OrdersTopic        string `envconfig:"SOLARA_PUBSUB_ORDERS_TOPIC" default:"solara-order-events"`
	OrdersSubscription string `envconfig:"SOLARA_PUBSUB_ORDERS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SOLARA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SOLARA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SOLARA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval     time.Duration `envconfig:"SOLARA_CRON_INTERVAL" default:"5m"`
	LockTTL      time.Duration `envconfig:"SOLARA_CRON_LOCK_TTL" default:"4m"`
	MetricsPort  string        `envconfig:"SOLARA_CRON_METRICS_PORT" default:"9102"`
	SweepEnabled bool          `envconfig:"SOLARA_CRON_RESERVATION_SWEEP_ENABLED" default:"true"`
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
