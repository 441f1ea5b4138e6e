package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Success(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.App.Env != "production" {
		t.Fatalf("expected App.Env to be production, got %q", cfg.App.Env)
	}
	if cfg.App.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.App.Port)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected Redis URL: %q", cfg.Redis.URL)
	}
	if !cfg.Redis.Configured() {
		t.Fatal("expected redis to report configured")
	}
	if got := cfg.Download.TokenTTL; got != 24*time.Hour {
		t.Fatalf("expected default token ttl 24h, got %v", got)
	}
	if cfg.Audit.WidgetMarker != "data-pay-widget" {
		t.Fatalf("unexpected widget marker %q", cfg.Audit.WidgetMarker)
	}
	if cfg.DB.DSN != defaultSQLiteDSN {
		t.Fatalf("expected sqlite default dsn, got %q", cfg.DB.DSN)
	}
}

func TestLoad_OverridesDurations(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvDownloadTTL, "90m")
	t.Setenv(EnvCronInterval, "15m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.Download.TokenTTL != 90*time.Minute {
		t.Fatalf("expected token ttl 90m, got %v", cfg.Download.TokenTTL)
	}
	if cfg.Cron.Interval != 15*time.Minute {
		t.Fatalf("expected cron interval 15m, got %v", cfg.Cron.Interval)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setMinimalEnv(t)
	if err := os.Unsetenv(EnvDownloadSecret); err != nil {
		t.Fatalf("failed to unset %s: %v", EnvDownloadSecret, err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected missing required env to return an error")
	}
}

func TestLoad_PostgresRequiresDSNOrLegacy(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvDBDriver, DBDriverPostgres)

	if _, err := Load(); err == nil {
		t.Fatal("expected postgres driver without dsn to fail")
	}

	t.Setenv(EnvDBHost, "db.internal")
	t.Setenv(EnvDBUser, "autopilot")
	t.Setenv(EnvDBName, "ledger")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.DB.DSN != "postgres://autopilot@db.internal:5432/ledger?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", cfg.DB.DSN)
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv(EnvAppEnv, "production")
	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
	t.Setenv(EnvDownloadSecret, "download-secret")
	t.Setenv(EnvGatewayAPIKey, "gw-key")
}

func TestAppConfigEnvHelpers(t *testing.T) {
	devConfig := AppConfig{Env: "DEV"}
	if !devConfig.IsDev() {
		t.Fatalf("expected IsDev true for %q", devConfig.Env)
	}
	if devConfig.IsProd() {
		t.Fatalf("expected IsProd false for %q", devConfig.Env)
	}

	prodConfig := AppConfig{Env: "prod"}
	if !prodConfig.IsProd() {
		t.Fatalf("expected IsProd true for %q", prodConfig.Env)
	}
}

func TestRedisConfigConfigured(t *testing.T) {
	if (RedisConfig{}).Configured() {
		t.Fatal("expected empty redis config to be unconfigured")
	}
	if !(RedisConfig{Address: "localhost:6379"}).Configured() {
		t.Fatal("expected address-only config to be configured")
	}
}
