package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix scopes every environment variable consumed by the platform.
const EnvPrefix = "AGRILINK"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "AGRILINK_DB_DSN"
	EnvDBHost = "AGRILINK_DB_HOST"
	EnvDBUser = "AGRILINK_DB_USER"
	EnvDBName = "AGRILINK_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Password  PasswordConfig
	Market    MarketConfig
	RateLimit RateLimitConfig
	Burst     BurstLimitConfig
	Gateway   GatewayConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Outbox    OutboxConfig
	Cron      CronConfig
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
	Env          string `envconfig:"AGRILINK_APP_ENV" required:"true"`
	Port         string `envconfig:"AGRILINK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"AGRILINK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"AGRILINK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"AGRILINK_DB_DSN"`
	Driver string `envconfig:"AGRILINK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"AGRILINK_DB_HOST"`
	LegacyPort     int    `envconfig:"AGRILINK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"AGRILINK_DB_USER"`
	LegacyPassword string `envconfig:"AGRILINK_DB_PASSWORD"`
	LegacyName     string `envconfig:"AGRILINK_DB_NAME"`
	LegacySSLMode  string `envconfig:"AGRILINK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"AGRILINK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"AGRILINK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"AGRILINK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"AGRILINK_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"AGRILINK_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"AGRILINK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"AGRILINK_REDIS_ADDR"`
	Password     string        `envconfig:"AGRILINK_REDIS_PASSWORD"`
	DB           int           `envconfig:"AGRILINK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"AGRILINK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"AGRILINK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"AGRILINK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"AGRILINK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"AGRILINK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"AGRILINK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"AGRILINK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"AGRILINK_JWT_EXPIRATION_MINUTES" default:"60"`
	RefreshTokenDays  int    `envconfig:"AGRILINK_JWT_REFRESH_TOKEN_DAYS" default:"30"`
}

// RefreshTokenTTL converts the configured refresh lifetime into a duration.
func (c JWTConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenDays) * 24 * time.Hour
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"AGRILINK_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"AGRILINK_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"AGRILINK_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"AGRILINK_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"AGRILINK_ARGON_KEY_LEN" default:"32"`
}

// MarketConfig carries the marketplace tunables that seed the system
// settings row and the durations the transactional core enforces.
type MarketConfig struct {
	DefaultSpendCapCents int64         `envconfig:"AGRILINK_DEFAULT_SPEND_CAP_CENTS" default:"100000000"`
	ServiceFeePercent    int           `envconfig:"AGRILINK_SERVICE_FEE_PERCENT" default:"3"`
	UnitSizeKilos        int           `envconfig:"AGRILINK_UNIT_SIZE_KILOS" default:"10"`
	BlockSizeKilos       int           `envconfig:"AGRILINK_BLOCK_SIZE_KILOS" default:"100"`
	DeliverySLA          time.Duration `envconfig:"AGRILINK_DELIVERY_SLA" default:"6h"`
	PickupSLA            time.Duration `envconfig:"AGRILINK_PICKUP_SLA" default:"48h"`
	NegotiationTTL       time.Duration `envconfig:"AGRILINK_NEGOTIATION_TTL" default:"24h"`
}

// RateLimitConfig holds per-action sliding-window policies. Counts are
// derived from domain records; these values only bound them.
type RateLimitConfig struct {
	ListingsPerFarmer    int           `envconfig:"AGRILINK_RL_LISTINGS_LIMIT" default:"10"`
	ListingsWindow       time.Duration `envconfig:"AGRILINK_RL_LISTINGS_WINDOW" default:"24h"`
	NegotiationActions   int           `envconfig:"AGRILINK_RL_NEGOTIATION_LIMIT" default:"30"`
	NegotiationWindow    time.Duration `envconfig:"AGRILINK_RL_NEGOTIATION_WINDOW" default:"1h"`
	LocksPerTrader       int           `envconfig:"AGRILINK_RL_LOCKS_LIMIT" default:"20"`
	LocksWindow          time.Duration `envconfig:"AGRILINK_RL_LOCKS_WINDOW" default:"1h"`
	PurchasesPerBuyer    int           `envconfig:"AGRILINK_RL_PURCHASES_LIMIT" default:"10"`
	PurchasesWindow      time.Duration `envconfig:"AGRILINK_RL_PURCHASES_WINDOW" default:"1h"`
	WithdrawalsPerTrader int           `envconfig:"AGRILINK_RL_WITHDRAWALS_LIMIT" default:"3"`
	WithdrawalsWindow    time.Duration `envconfig:"AGRILINK_RL_WITHDRAWALS_WINDOW" default:"24h"`
}

// BurstLimitConfig shields hot HTTP surfaces (login, payment webhook) with
// redis counters. Distinct from the domain rate limiter.
type BurstLimitConfig struct {
	Window       time.Duration `envconfig:"AGRILINK_BURST_WINDOW" default:"1m"`
	LoginLimit   int           `envconfig:"AGRILINK_BURST_LOGIN_LIMIT" default:"10"`
	WebhookLimit int           `envconfig:"AGRILINK_BURST_WEBHOOK_LIMIT" default:"120"`
}

// GatewayConfig authenticates payment confirmations from the external
// gateway. The gateway protocol itself is out of scope; only the shared
// secret on the inbound webhook matters here.
type GatewayConfig struct {
	WebhookSecret string `envconfig:"AGRILINK_GATEWAY_WEBHOOK_SECRET" required:"true"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"AGRILINK_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"AGRILINK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"AGRILINK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	MarketTopic              string `envconfig:"AGRILINK_PUBSUB_MARKET_TOPIC" default:"agrilink-market-events"`
	NotificationTopic        string `envconfig:"AGRILINK_PUBSUB_NOTIFICATION_TOPIC" default:"agrilink-notification-events"`
	NotificationSubscription string `envconfig:"AGRILINK_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"AGRILINK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"AGRILINK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"AGRILINK_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// CronConfig drives the SLA sweep worker.
type CronConfig struct {
	SweepInterval time.Duration `envconfig:"AGRILINK_CRON_SWEEP_INTERVAL" default:"5m"`
	MetricsPort   string        `envconfig:"AGRILINK_CRON_METRICS_PORT" default:"9090"`
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
