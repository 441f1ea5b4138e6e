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
	Redis        RedisConfig
	DB           DBConfig
	FeatureFlags FeatureFlagsConfig
	Orders       OrdersConfig
	Download     DownloadConfig
	Gateway      GatewayConfig
	Deploy       DeployConfig
	Promotion    PromotionConfig
	Audit        AuditConfig
	Heal         HealConfig
	Reasoning    ReasoningConfig
	Visibility   VisibilityConfig
	GCP          GCPConfig
	GCS          GCSConfig
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
	Env          string   `envconfig:"AUTOPILOT_APP_ENV" required:"true"`
	Port         string   `envconfig:"AUTOPILOT_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"AUTOPILOT_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"AUTOPILOT_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"AUTOPILOT_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"AUTOPILOT_CORS_ORIGINS" default:"*"`
	PublicURL    string   `envconfig:"AUTOPILOT_PUBLIC_URL"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// RedisConfig doubles as the "remote credentials" switch for the order store.
type RedisConfig struct {
	URL          string        `envconfig:"AUTOPILOT_REDIS_URL"`
	Address      string        `envconfig:"AUTOPILOT_REDIS_ADDR"`
	Password     string        `envconfig:"AUTOPILOT_REDIS_PASSWORD"`
	DB           int           `envconfig:"AUTOPILOT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"AUTOPILOT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"AUTOPILOT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"AUTOPILOT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"AUTOPILOT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"AUTOPILOT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Configured reports whether remote key/value credentials were supplied.
func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// DBConfig points at the product ledger database.
type DBConfig struct {
	DSN    string `envconfig:"AUTOPILOT_DB_DSN"`
	Driver string `envconfig:"AUTOPILOT_DB_DRIVER" default:"sqlite"`

	LegacyHost     string `envconfig:"AUTOPILOT_DB_HOST"`
	LegacyPort     int    `envconfig:"AUTOPILOT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"AUTOPILOT_DB_USER"`
	LegacyPassword string `envconfig:"AUTOPILOT_DB_PASSWORD"`
	LegacyName     string `envconfig:"AUTOPILOT_DB_NAME"`
	LegacySSLMode  string `envconfig:"AUTOPILOT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"AUTOPILOT_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"AUTOPILOT_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"AUTOPILOT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"AUTOPILOT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"AUTOPILOT_AUTO_MIGRATE" default:"false"`
}

type OrdersConfig struct {
	DataDir    string        `envconfig:"AUTOPILOT_ORDERS_DATA_DIR" default:"data"`
	FileName   string        `envconfig:"AUTOPILOT_ORDERS_FILE" default:"orders.json"`
	PendingTTL time.Duration `envconfig:"AUTOPILOT_ORDER_PENDING_TTL" default:"24h"`
}

type DownloadConfig struct {
	Secret   string        `envconfig:"AUTOPILOT_DOWNLOAD_SECRET" required:"true"`
	Issuer   string        `envconfig:"AUTOPILOT_DOWNLOAD_ISSUER" default:"storefront-autopilot"`
	TokenTTL time.Duration `envconfig:"AUTOPILOT_DOWNLOAD_TOKEN_TTL" default:"24h"`
	FileName string        `envconfig:"AUTOPILOT_DOWNLOAD_FILE" default:"product.pdf"`
}

type GatewayConfig struct {
	Provider       string        `envconfig:"AUTOPILOT_GATEWAY_PROVIDER" default:"nowpayments"`
	BaseURL        string        `envconfig:"AUTOPILOT_GATEWAY_BASE_URL" default:"https://api.nowpayments.io/v1"`
	APIKey         string        `envconfig:"AUTOPILOT_GATEWAY_API_KEY"`
	WebhookSecret  string        `envconfig:"AUTOPILOT_GATEWAY_WEBHOOK_SECRET"`
	Currency       string        `envconfig:"AUTOPILOT_GATEWAY_CURRENCY" default:"usd"`
	Timeout        time.Duration `envconfig:"AUTOPILOT_GATEWAY_TIMEOUT" default:"15s"`
	IdempotencyTTL time.Duration `envconfig:"AUTOPILOT_GATEWAY_IDEMPOTENCY_TTL" default:"72h"`
}

type DeployConfig struct {
	BaseURL   string        `envconfig:"AUTOPILOT_DEPLOY_BASE_URL" default:"https://api.vercel.com"`
	Token     string        `envconfig:"AUTOPILOT_DEPLOY_TOKEN"`
	TeamID    string        `envconfig:"AUTOPILOT_DEPLOY_TEAM_ID"`
	Timeout   time.Duration `envconfig:"AUTOPILOT_DEPLOY_TIMEOUT" default:"60s"`
	SharedDir string        `envconfig:"AUTOPILOT_DEPLOY_SHARED_DIR" default:"shared"`
}

type PromotionConfig struct {
	BaseURL string        `envconfig:"AUTOPILOT_PROMOTION_BASE_URL" default:"https://dev.to/api"`
	APIKey  string        `envconfig:"AUTOPILOT_PROMOTION_API_KEY"`
	Timeout time.Duration `envconfig:"AUTOPILOT_PROMOTION_TIMEOUT" default:"15s"`
}

type AuditConfig struct {
	OutputsDir      string        `envconfig:"AUTOPILOT_OUTPUTS_DIR" default:"outputs"`
	ReportPath      string        `envconfig:"AUTOPILOT_AUDIT_REPORT_PATH" default:"data/audit_report.json"`
	WidgetMarker    string        `envconfig:"AUTOPILOT_AUDIT_WIDGET_MARKER" default:"data-pay-widget"`
	ProbeTimeout    time.Duration `envconfig:"AUTOPILOT_AUDIT_PROBE_TIMEOUT" default:"15s"`
	ProductLimit    int           `envconfig:"AUTOPILOT_AUDIT_PRODUCT_LIMIT" default:"500"`
	ProbePaymentAPI bool          `envconfig:"AUTOPILOT_AUDIT_PROBE_PAYMENT_API" default:"true"`
}

type HealConfig struct {
	VerifyTimeout time.Duration `envconfig:"AUTOPILOT_HEAL_VERIFY_TIMEOUT" default:"20s"`
	VerifyInvoice bool          `envconfig:"AUTOPILOT_HEAL_VERIFY_INVOICE" default:"false"`
	AutoRemediate bool          `envconfig:"AUTOPILOT_HEAL_AUTO_REMEDIATE" default:"true"`
}

type ReasoningConfig struct {
	APIKey  string        `envconfig:"AUTOPILOT_OPENAI_API_KEY"`
	BaseURL string        `envconfig:"AUTOPILOT_OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	Model   string        `envconfig:"AUTOPILOT_OPENAI_MODEL" default:"gpt-4o-mini"`
	Timeout time.Duration `envconfig:"AUTOPILOT_OPENAI_TIMEOUT" default:"30s"`
}

type VisibilityConfig struct {
	Enabled  bool          `envconfig:"AUTOPILOT_VISIBILITY_ENABLED" default:"false"`
	BaseURL  string        `envconfig:"AUTOPILOT_VISIBILITY_BASE_URL" default:"https://www.googleapis.com/customsearch/v1"`
	APIKey   string        `envconfig:"AUTOPILOT_VISIBILITY_API_KEY"`
	EngineID string        `envconfig:"AUTOPILOT_VISIBILITY_ENGINE_ID"`
	Timeout  time.Duration `envconfig:"AUTOPILOT_VISIBILITY_TIMEOUT" default:"10s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"AUTOPILOT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"AUTOPILOT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"AUTOPILOT_GOOGLE_APPLICATION_CREDENTIALS"`
}

// GCSConfig enables mirroring the audit report to a bucket when BucketName is set.
type GCSConfig struct {
	BucketName   string `envconfig:"AUTOPILOT_GCS_BUCKET_NAME"`
	ReportObject string `envconfig:"AUTOPILOT_GCS_REPORT_OBJECT" default:"audit/audit_report.json"`
}

type CronConfig struct {
	Interval    time.Duration `envconfig:"AUTOPILOT_CRON_INTERVAL" default:"6h"`
	LockTTL     time.Duration `envconfig:"AUTOPILOT_CRON_LOCK_TTL" default:"2h"`
	JobTimeout  time.Duration `envconfig:"AUTOPILOT_CRON_JOB_TIMEOUT" default:"45m"`
	RunOnce     bool          `envconfig:"AUTOPILOT_CRON_RUN_ONCE" default:"false"`
	MetricsAddr string        `envconfig:"AUTOPILOT_CRON_METRICS_ADDR"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = defaultSQLiteDSN
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
