package routes

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-autopilot/api/controllers"
	"github.com/angelmondragon/storefront-autopilot/api/middleware"
	"github.com/angelmondragon/storefront-autopilot/internal/downloads"
	"github.com/angelmondragon/storefront-autopilot/internal/orders"
	gatewaywebhook "github.com/angelmondragon/storefront-autopilot/internal/webhooks/gateway"
	"github.com/angelmondragon/storefront-autopilot/pkg/config"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/angelmondragon/storefront-autopilot/pkg/metrics"
)

const webhookPath = "/api/pay/webhook"

// RouterParams carries everything the HTTP surface is built from. Pingers
// with nil values are skipped by the readiness check.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Orders   *orders.Service
	Tokens   *downloads.Service
	Files    *downloads.FileResolver
	Webhooks *gatewaywebhook.Service
	Pingers  map[string]controllers.Pinger
	Metrics  *metrics.PaymentMetrics
	Gatherer prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, params.Pingers, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", controllers.APIHealth(cfg))

		r.Route("/pay", func(r chi.Router) {
			start := controllers.PayStart(params.Orders, callbackURL(cfg), params.Metrics, logg)
			r.Get("/start", start)
			r.Post("/start", start)
			r.Get("/status", controllers.PayStatus(params.Orders, logg))
			r.Post("/webhook", controllers.PayWebhook(params.Webhooks, params.Metrics, logg))
			r.Get("/token", controllers.PayToken(params.Tokens, logg))
			r.Get("/download", controllers.PayDownload(params.Tokens, params.Files, params.Metrics, logg))
		})
	})

	if params.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func callbackURL(cfg *config.Config) string {
	if cfg.App.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(cfg.App.PublicURL, "/") + webhookPath
}
