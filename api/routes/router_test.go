package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-autopilot/api/controllers"
	"github.com/angelmondragon/storefront-autopilot/internal/downloads"
	"github.com/angelmondragon/storefront-autopilot/internal/orders"
	gatewaywebhook "github.com/angelmondragon/storefront-autopilot/internal/webhooks/gateway"
	"github.com/angelmondragon/storefront-autopilot/pkg/config"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	"github.com/angelmondragon/storefront-autopilot/pkg/gateway"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/angelmondragon/storefront-autopilot/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
)

const ipnSecret = "ipn-secret"

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubGateway struct {
	lastCallback string
}

func (g *stubGateway) Start(ctx context.Context, params gateway.StartParams) (*gateway.StartResult, error) {
	g.lastCallback = params.CallbackURL
	return &gateway.StartResult{PaymentID: "pay_1", InvoiceURL: "https://pay.example/i/" + params.OrderID}, nil
}

func (g *stubGateway) Check(ctx context.Context, paymentID string) (enums.OrderStatus, error) {
	return enums.OrderStatusPending, nil
}

func newTestRouter(t *testing.T) (http.Handler, *stubGateway) {
	t.Helper()
	fs := afero.NewMemMapFs()
	logg := logger.Nop()
	cfg := &config.Config{App: config.AppConfig{
		Env:         "dev",
		CORSOrigins: []string{"*"},
		PublicURL:   "https://api.example/",
	}}

	store, err := orders.NewFileStore(fs, "data/orders.json")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	gw := &stubGateway{}
	orderSvc, err := orders.NewService(orders.ServiceParams{Store: store, Gateway: gw, Logger: logg})
	if err != nil {
		t.Fatalf("orders.NewService: %v", err)
	}
	tokens, err := downloads.NewService(downloads.ServiceParams{Orders: store, Secret: "dl-secret", TTL: time.Hour, Logger: logg})
	if err != nil {
		t.Fatalf("downloads.NewService: %v", err)
	}
	if err := afero.WriteFile(fs, "outputs/p1/product.pdf", []byte("pdf-bytes"), 0o644); err != nil {
		t.Fatalf("seed deliverable: %v", err)
	}
	files, err := downloads.NewFileResolver(fs, "outputs", "product.pdf")
	if err != nil {
		t.Fatalf("NewFileResolver: %v", err)
	}
	hooks, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{Orders: orderSvc, Secret: ipnSecret, Logger: logg})
	if err != nil {
		t.Fatalf("gatewaywebhook.NewService: %v", err)
	}

	reg := prometheus.NewRegistry()
	return NewRouter(RouterParams{
		Config:   cfg,
		Logger:   logg,
		Orders:   orderSvc,
		Tokens:   tokens,
		Files:    files,
		Webhooks: hooks,
		Pingers:  map[string]controllers.Pinger{"db": stubPinger{}},
		Metrics:  metrics.NewPaymentMetrics(reg),
		Gatherer: reg,
	}), gw
}

func serve(h http.Handler, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/health/live", "/health/ready", "/api/health"} {
		rec := serve(router, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Fatalf("%s: expected request id header", path)
		}
	}
}

func TestPayStartAcceptsGET(t *testing.T) {
	router, gw := newTestRouter(t)

	rec := serve(router, http.MethodGet, "/api/pay/start?product_id=p1&amount=5", nil, nil)
	if rec.Code == http.StatusMethodNotAllowed {
		t.Fatal("GET /api/pay/start must not be rejected")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gw.lastCallback != "https://api.example/api/pay/webhook" {
		t.Fatalf("unexpected callback url %q", gw.lastCallback)
	}

	rec = serve(router, http.MethodPut, "/api/pay/start", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for PUT, got %d", rec.Code)
	}
}

func TestCheckoutToDownloadThroughRouter(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := serve(router, http.MethodPost, "/api/pay/start", strings.NewReader(`{"product_id":"p1","amount":10,"currency":"usd"}`), map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var started struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	orderID := started.Data.OrderID

	body := []byte(`{"order_id":"` + orderID + `","payment_status":"confirmed"}`)
	rec = serve(router, http.MethodPost, "/api/pay/webhook", strings.NewReader(string(body)), map[string]string{gateway.SignatureHeader: gateway.Sign(ipnSecret, body)})
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(router, http.MethodGet, "/api/pay/status?order_id="+orderID, nil, nil)
	if !strings.Contains(rec.Body.String(), `"status":"paid"`) {
		t.Fatalf("status: expected paid, got %s", rec.Body.String())
	}

	rec = serve(router, http.MethodGet, "/api/pay/token?order_id="+orderID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("token: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var token struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&token); err != nil {
		t.Fatalf("decode token: %v", err)
	}

	rec = serve(router, http.MethodGet, "/api/pay/download?token="+url.QueryEscape(token.Data.Token), nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "pdf-bytes" {
		t.Fatalf("download: unexpected %d %q", rec.Code, rec.Body.String())
	}

	rec = serve(router, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "autopilot_downloads_total") {
		t.Fatalf("metrics: expected download counter, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := serve(router, http.MethodOptions, "/api/pay/start", nil, map[string]string{
		"Origin":                        "https://p1.vercel.app",
		"Access-Control-Request-Method": http.MethodPost,
	})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard allow-origin, got %q", got)
	}
}
