package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storefront-autopilot/api/controllers"
	"github.com/angelmondragon/storefront-autopilot/api/routes"
	"github.com/angelmondragon/storefront-autopilot/internal/downloads"
	"github.com/angelmondragon/storefront-autopilot/internal/ledger"
	"github.com/angelmondragon/storefront-autopilot/internal/orders"
	gatewaywebhook "github.com/angelmondragon/storefront-autopilot/internal/webhooks/gateway"
	"github.com/angelmondragon/storefront-autopilot/pkg/config"
	"github.com/angelmondragon/storefront-autopilot/pkg/db"
	"github.com/angelmondragon/storefront-autopilot/pkg/gateway"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/angelmondragon/storefront-autopilot/pkg/metrics"
	"github.com/angelmondragon/storefront-autopilot/pkg/migrate"
	"github.com/angelmondragon/storefront-autopilot/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Configured() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	}

	fs := afero.NewOsFs()
	storeParams := orders.StoreParams{Config: *cfg, FS: fs, Logger: logg}
	if redisClient != nil {
		storeParams.Redis = redisClient
	}
	orderStore, err := orders.NewStore(context.Background(), storeParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create order store", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:   ledger.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	gatewayClient, err := gateway.NewClient(cfg.Gateway.APIKey,
		gateway.WithBaseURL(cfg.Gateway.BaseURL),
		gateway.WithTimeout(cfg.Gateway.Timeout),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Store:           orderStore,
		Gateway:         gatewayClient,
		Prices:          ledgerService,
		Logger:          logg,
		Provider:        cfg.Gateway.Provider,
		DefaultCurrency: cfg.Gateway.Currency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	tokenService, err := downloads.NewService(downloads.ServiceParams{
		Orders: orderStore,
		Secret: cfg.Download.Secret,
		Issuer: cfg.Download.Issuer,
		TTL:    cfg.Download.TokenTTL,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create download service", err)
		os.Exit(1)
	}

	files, err := downloads.NewFileResolver(fs, cfg.Audit.OutputsDir, cfg.Download.FileName)
	if err != nil {
		logg.Error(context.Background(), "failed to create download file resolver", err)
		os.Exit(1)
	}

	var guard *gatewaywebhook.IdempotencyGuard
	if redisClient != nil {
		guard, err = gatewaywebhook.NewIdempotencyGuard(redisClient, cfg.Gateway.IdempotencyTTL, gatewaywebhook.IdempotencyScope)
		if err != nil {
			logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
			os.Exit(1)
		}
	}

	webhookService, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		Orders: orderService,
		Secret: cfg.Gateway.WebhookSecret,
		Guard:  guard,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pingers := map[string]controllers.Pinger{"db": dbClient}
	if redisClient != nil {
		pingers["redis"] = redisClient
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:   cfg,
			Logger:   logg,
			Orders:   orderService,
			Tokens:   tokenService,
			Files:    files,
			Webhooks: webhookService,
			Pingers:  pingers,
			Metrics:  metrics.NewPaymentMetrics(registry),
			Gatherer: registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
