package orders

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/angelmondragon/storefront-autopilot/pkg/config"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/spf13/afero"
)

// StoreParams wires NewStore.
type StoreParams struct {
	Config config.Config
	Redis  KV
	FS     afero.Fs
	Logger *logger.Logger
}

// NewStore picks the remote backend when redis credentials are configured,
// otherwise the local JSON document under the orders data dir.
func NewStore(ctx context.Context, params StoreParams) (Store, error) {
	if params.Config.Redis.Configured() {
		if params.Redis == nil {
			return nil, fmt.Errorf("redis credentials configured but no redis client supplied")
		}
		if params.Logger != nil {
			params.Logger.Info(ctx, "order store backend: redis")
		}
		return NewRedisStore(params.Redis)
	}

	fs := params.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	path := filepath.Join(params.Config.Orders.DataDir, params.Config.Orders.FileName)
	if params.Logger != nil {
		params.Logger.Info(params.Logger.WithField(ctx, "path", path), "order store backend: file")
	}
	return NewFileStore(fs, path)
}
