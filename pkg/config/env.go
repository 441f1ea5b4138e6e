package config

const (
	EnvPrefix = "AUTOPILOT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverSQLite   = "sqlite"
	DBDriverPostgres = "postgres"

	defaultSQLiteDSN = "file:autopilot.db?cache=shared&_busy_timeout=5000"
)

const (
	EnvAppEnv         = "AUTOPILOT_APP_ENV"
	EnvPort           = "AUTOPILOT_APP_PORT"
	EnvDBDSN          = "AUTOPILOT_DB_DSN"
	EnvDBDriver       = "AUTOPILOT_DB_DRIVER"
	EnvDBHost         = "AUTOPILOT_DB_HOST"
	EnvDBUser         = "AUTOPILOT_DB_USER"
	EnvDBName         = "AUTOPILOT_DB_NAME"
	EnvRedisURL       = "AUTOPILOT_REDIS_URL"
	EnvDownloadSecret = "AUTOPILOT_DOWNLOAD_SECRET"
	EnvDownloadTTL    = "AUTOPILOT_DOWNLOAD_TOKEN_TTL"
	EnvGatewayAPIKey  = "AUTOPILOT_GATEWAY_API_KEY"
	EnvCronInterval   = "AUTOPILOT_CRON_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
