package heal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-autopilot/internal/audit"
	"github.com/angelmondragon/storefront-autopilot/internal/ledger"
	"github.com/angelmondragon/storefront-autopilot/internal/payflow"
	"github.com/angelmondragon/storefront-autopilot/pkg/db"
	"github.com/angelmondragon/storefront-autopilot/pkg/db/models"
	"github.com/angelmondragon/storefront-autopilot/pkg/deploy"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/angelmondragon/storefront-autopilot/pkg/promotion"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) *ledger.Service {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Product{}))
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	svc, err := ledger.NewService(ledger.ServiceParams{
		Repo:   ledger.NewRepository(conn),
		Tx:     db.NewFromGorm(conn),
		Logger: logger.Nop(),
	})
	require.NoError(t, err)
	return svc
}

func seedShared(t *testing.T, fs afero.Fs, skip ...string) {
	t.Helper()
	skipped := map[string]bool{}
	for _, s := range skip {
		skipped[s] = true
	}
	for _, name := range SharedManifest {
		if skipped[name] {
			continue
		}
		require.NoError(t, afero.WriteFile(fs, filepath.Join("shared", filepath.FromSlash(name)), []byte("// "+name), 0o644))
	}
}

func newAuditEngine(t *testing.T, led *ledger.Service, fs afero.Fs) (*audit.Engine, *audit.ReportStore) {
	t.Helper()
	reports, err := audit.NewReportStore(audit.ReportStoreParams{FS: fs, Path: "data/audit_report.json", Logger: logger.Nop()})
	require.NoError(t, err)
	engine, err := audit.NewEngine(audit.Params{
		Ledger:          led,
		Reports:         reports,
		FS:              fs,
		OutputsDir:      "outputs",
		WidgetMarker:    "data-pay-widget",
		ProbePaymentAPI: true,
		Timeout:         2 * time.Second,
		Logger:          logger.Nop(),
	})
	require.NoError(t, err)
	return engine, reports
}

// newStorefrontServer serves a healthy storefront with a working payment API.
func newStorefrontServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/pay/start" && r.Method == http.MethodPost:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"order_id": "ord_1", "invoice_url": "https://pay.example/i/1"})
		case r.URL.Path == "/api/health":
			w.WriteHeader(http.StatusOK)
		default:
			_, _ = w.Write([]byte(`<div data-pay-widget></div>`))
		}
	}))
}

type fakeDeployer struct {
	mu        sync.Mutex
	url       string
	deployErr error
	envErr    error
	deploys   []string
	files     [][]deploy.File
	env       map[string]string
	protected int
	onDeploy  func()
}

func (f *fakeDeployer) Deploy(ctx context.Context, targetID string, files []deploy.File) (*deploy.Deployment, error) {
	f.mu.Lock()
	f.deploys = append(f.deploys, targetID)
	f.files = append(f.files, files)
	hook := f.onDeploy
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	return &deploy.Deployment{ID: "dpl_1", URL: f.url}, nil
}

func (f *fakeDeployer) SetEnvVar(ctx context.Context, targetID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.envErr != nil {
		return f.envErr
	}
	if f.env == nil {
		f.env = map[string]string{}
	}
	f.env[key] = value
	return nil
}

func (f *fakeDeployer) DisableProtection(ctx context.Context, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.protected++
	return nil
}

type fakeVerifier struct {
	result payflow.Result
	calls  int
}

func (f *fakeVerifier) Verify(ctx context.Context, productID, baseURL string, price decimal.Decimal) payflow.Result {
	f.calls++
	return f.result
}

type stubAuditor struct {
	products   audit.Pass
	promotions audit.Pass
	published  *audit.Report
}

func (s *stubAuditor) AuditProducts(ctx context.Context) (audit.Pass, error) { return s.products, nil }

func (s *stubAuditor) AuditPromotions(ctx context.Context) (audit.Pass, error) {
	return s.promotions, nil
}

func (s *stubAuditor) Publish(ctx context.Context, products, promotions audit.Pass) (*audit.Report, error) {
	s.published = audit.NewReport(fixedNow, products, promotions)
	return s.published, nil
}

type fakeEditor struct {
	channel string
	posts   map[string]*promotion.Post
	updated map[string]string
}

func (f *fakeEditor) Channel() string { return f.channel }

func (f *fakeEditor) GetPost(ctx context.Context, postID string) (*promotion.Post, error) {
	post, ok := f.posts[postID]
	if !ok {
		return nil, promotion.ErrPostNotFound
	}
	return post, nil
}

func (f *fakeEditor) UpdatePost(ctx context.Context, postID, body string) (*promotion.Post, error) {
	if f.updated == nil {
		f.updated = map[string]string{}
	}
	f.updated[postID] = body
	return &promotion.Post{ID: postID, Body: body, Published: true}, nil
}

type controllerDeps struct {
	auditor  Auditor
	ledger   Ledger
	deployer Deployer
	verifier Verifier
	editors  []PostEditor
	fs       afero.Fs
	advisor  Advisor
}

func newTestController(t *testing.T, deps controllerDeps) *Controller {
	t.Helper()
	if deps.auditor == nil {
		deps.auditor = &stubAuditor{}
	}
	diagnoser, err := NewDiagnoser(deps.advisor, logger.Nop())
	require.NoError(t, err)
	c, err := NewController(Params{
		Auditor:         deps.auditor,
		Ledger:          deps.ledger,
		Deployer:        deps.deployer,
		Verifier:        deps.verifier,
		Editors:         deps.editors,
		Diagnoser:       diagnoser,
		FS:              deps.fs,
		OutputsDir:      "outputs",
		SharedDir:       "shared",
		DeliverableFile: "product.pdf",
		GatewayAPIKey:   "gw-key",
		DownloadSecret:  "dl-secret",
		AutoRemediate:   true,
		Logger:          logger.Nop(),
	})
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}
