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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/angelmondragon/storefront-autopilot/internal/audit"
	"github.com/angelmondragon/storefront-autopilot/internal/cron"
	"github.com/angelmondragon/storefront-autopilot/internal/heal"
	"github.com/angelmondragon/storefront-autopilot/internal/ledger"
	"github.com/angelmondragon/storefront-autopilot/internal/orders"
	"github.com/angelmondragon/storefront-autopilot/internal/payflow"
	"github.com/angelmondragon/storefront-autopilot/pkg/config"
	"github.com/angelmondragon/storefront-autopilot/pkg/db"
	"github.com/angelmondragon/storefront-autopilot/pkg/deploy"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/angelmondragon/storefront-autopilot/pkg/metrics"
	"github.com/angelmondragon/storefront-autopilot/pkg/migrate"
	"github.com/angelmondragon/storefront-autopilot/pkg/promotion"
	"github.com/angelmondragon/storefront-autopilot/pkg/reasoning"
	"github.com/angelmondragon/storefront-autopilot/pkg/redis"
	"github.com/angelmondragon/storefront-autopilot/pkg/storage/gcs"
	"github.com/angelmondragon/storefront-autopilot/pkg/visibility"
)

const (
	serviceName = "heal-worker"
	lockName    = "heal-worker"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
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
	registerer := prometheus.DefaultRegisterer
	healMetrics := metrics.NewHealMetrics(registerer)

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:   ledger.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	reportParams := audit.ReportStoreParams{FS: fs, Path: cfg.Audit.ReportPath, Logger: logg}
	if cfg.GCS.BucketName != "" {
		gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create gcs client", err)
			os.Exit(1)
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing gcs client", err)
			}
		}()
		reportParams.Mirror = gcsClient
		reportParams.MirrorObject = cfg.GCS.ReportObject
	}
	reports, err := audit.NewReportStore(reportParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create report store", err)
		os.Exit(1)
	}

	var (
		channels []audit.PromotionChannel
		editors  []heal.PostEditor
	)
	if cfg.Promotion.APIKey != "" {
		promotionClient, err := promotion.NewClient(cfg.Promotion.APIKey,
			promotion.WithBaseURL(cfg.Promotion.BaseURL),
			promotion.WithTimeout(cfg.Promotion.Timeout),
		)
		if err != nil {
			logg.Error(context.Background(), "failed to create promotion client", err)
			os.Exit(1)
		}
		channels = append(channels, promotionClient)
		editors = append(editors, promotionClient)
	} else {
		logg.Warn(context.Background(), "promotion api key not set; promotion audit disabled")
	}

	auditParams := audit.Params{
		Ledger:          ledgerService,
		Reports:         reports,
		Channels:        channels,
		FS:              fs,
		OutputsDir:      cfg.Audit.OutputsDir,
		WidgetMarker:    cfg.Audit.WidgetMarker,
		ProductLimit:    cfg.Audit.ProductLimit,
		ProbePaymentAPI: cfg.Audit.ProbePaymentAPI,
		Timeout:         cfg.Audit.ProbeTimeout,
		Metrics:         healMetrics,
		Logger:          logg,
	}
	if cfg.Visibility.Enabled {
		visibilityClient, err := visibility.NewClient(cfg.Visibility.APIKey, cfg.Visibility.EngineID,
			visibility.WithBaseURL(cfg.Visibility.BaseURL),
			visibility.WithTimeout(cfg.Visibility.Timeout),
		)
		if err != nil {
			logg.Error(context.Background(), "failed to create visibility client", err)
			os.Exit(1)
		}
		auditParams.Visibility = visibilityClient
	}
	engine, err := audit.NewEngine(auditParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create audit engine", err)
		os.Exit(1)
	}

	deployClient, err := deploy.NewClient(cfg.Deploy.Token,
		deploy.WithBaseURL(cfg.Deploy.BaseURL),
		deploy.WithTeamID(cfg.Deploy.TeamID),
		deploy.WithTimeout(cfg.Deploy.Timeout),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create deploy client", err)
		os.Exit(1)
	}

	verifier, err := payflow.NewVerifier(payflow.Params{
		Timeout:       cfg.Heal.VerifyTimeout,
		Currency:      cfg.Gateway.Currency,
		VerifyInvoice: cfg.Heal.VerifyInvoice,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment flow verifier", err)
		os.Exit(1)
	}

	var advisor heal.Advisor
	if cfg.Reasoning.APIKey != "" {
		reasoningClient, err := reasoning.NewClient(reasoning.Config{
			APIKey:  cfg.Reasoning.APIKey,
			BaseURL: cfg.Reasoning.BaseURL,
			Model:   cfg.Reasoning.Model,
			Timeout: cfg.Reasoning.Timeout,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create reasoning client", err)
			os.Exit(1)
		}
		advisor = reasoningClient
	}
	diagnoser, err := heal.NewDiagnoser(advisor, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create diagnoser", err)
		os.Exit(1)
	}

	controller, err := heal.NewController(heal.Params{
		Auditor:         engine,
		Ledger:          ledgerService,
		Deployer:        deployClient,
		Verifier:        verifier,
		Editors:         editors,
		Diagnoser:       diagnoser,
		FS:              fs,
		OutputsDir:      cfg.Audit.OutputsDir,
		SharedDir:       cfg.Deploy.SharedDir,
		DeliverableFile: cfg.Download.FileName,
		GatewayAPIKey:   cfg.Gateway.APIKey,
		DownloadSecret:  cfg.Download.Secret,
		AutoRemediate:   cfg.Heal.AutoRemediate,
		Metrics:         healMetrics,
		Logger:          logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create heal controller", err)
		os.Exit(1)
	}

	storeParams := orders.StoreParams{Config: *cfg, FS: fs, Logger: logg}
	if redisClient != nil {
		storeParams.Redis = redisClient
	}
	orderStore, err := orders.NewStore(context.Background(), storeParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create order store", err)
		os.Exit(1)
	}

	healJob, err := cron.NewHealCycleJob(cron.HealCycleJobParams{Logger: logg, Controller: controller})
	if err != nil {
		logg.Error(context.Background(), "failed to create heal cycle job", err)
		os.Exit(1)
	}
	ttlJob, err := cron.NewOrderTTLJob(cron.OrderTTLJobParams{Logger: logg, Store: orderStore, PendingTTL: cfg.Orders.PendingTTL})
	if err != nil {
		logg.Error(context.Background(), "failed to create order ttl job", err)
		os.Exit(1)
	}

	var lock cron.Lock = cron.NoopLock{}
	if redisClient != nil {
		redisLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Cron.LockTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create cron lock", err)
			os.Exit(1)
		}
		lock = redisLock
		logg.Info(logg.WithField(context.Background(), "lease_owner", redisLock.Owner()), "scheduler lease configured")
	} else {
		logg.Warn(context.Background(), "redis not configured; overlapping heal cycles are not excluded")
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   cron.NewRegistry(healJob, ttlJob),
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(registerer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Cron.Interval.String(),
		"run_once": cfg.Cron.RunOnce,
	})

	if cfg.Cron.RunOnce {
		logg.Info(ctx, "running single heal cycle")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "heal cycle finished with errors", err)
			os.Exit(1)
		}
		return
	}

	if cfg.Cron.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Cron.MetricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "metrics server stopped", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logg.Info(ctx, "starting heal worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "heal worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "heal worker shutting down gracefully")
}
