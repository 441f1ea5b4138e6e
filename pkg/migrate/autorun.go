package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront-autopilot/pkg/config"
	"github.com/angelmondragon/storefront-autopilot/pkg/db"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
)

// MaybeRunDev brings the ledger schema up to date on startup, only for the
// dev environment with AutoMigrate switched on. Other environments run
// cmd/migrate explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	pool, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	dialect := DialectFor(cfg.DB)
	runner, err := NewRunner(pool, dialect, Bundled())
	if err != nil {
		return err
	}

	applied, err := runner.Up(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"dialect": string(dialect),
		"applied": applied,
	}), "migrate.autorun_complete")
	return nil
}
