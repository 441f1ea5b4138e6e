package audit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-autopilot/internal/ledger"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/angelmondragon/storefront-autopilot/pkg/promotion"
	"github.com/spf13/afero"
)

type fakeLedger struct {
	mu       sync.Mutex
	products []ledger.Product
	updates  map[string]enums.ProductStatus
}

func newFakeLedger(products ...ledger.Product) *fakeLedger {
	return &fakeLedger{products: products, updates: map[string]enums.ProductStatus{}}
}

func (f *fakeLedger) ListProducts(ctx context.Context, limit int) ([]ledger.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ledger.Product, len(f.products))
	copy(out, f.products)
	return out, nil
}

func (f *fakeLedger) UpdateProduct(ctx context.Context, id string, status *enums.ProductStatus, metadata map[string]any) (*ledger.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.products {
		if f.products[i].ID != id {
			continue
		}
		if status != nil {
			f.products[i].Status = *status
			f.updates[id] = *status
		}
		p := f.products[i]
		return &p, nil
	}
	return nil, ledger.ErrProductNotFound
}

type fakeChannel struct {
	posts map[string]*promotion.Post
	err   error
}

func (f *fakeChannel) Channel() string { return promotion.ChannelDevTo }

func (f *fakeChannel) GetPost(ctx context.Context, postID string) (*promotion.Post, error) {
	if f.err != nil {
		return nil, f.err
	}
	post, ok := f.posts[postID]
	if !ok {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, promotion.ErrPostNotFound, "get post")
	}
	return post, nil
}

func product(id string, status enums.ProductStatus, meta map[string]any) ledger.Product {
	return ledger.Product{ID: id, Title: id, Status: status, Metadata: ledger.ParseMetadata(meta), Raw: meta}
}

type engineFixture struct {
	engine  *Engine
	ledger  *fakeLedger
	fs      afero.Fs
	reports *ReportStore
}

func newEngineFixture(t *testing.T, led *fakeLedger, channels []PromotionChannel, artifacts ...string) engineFixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, id := range artifacts {
		if err := afero.WriteFile(fs, filepath.Join("outputs", id, "index.html"), []byte("<html></html>"), 0o644); err != nil {
			t.Fatalf("seed artifact: %v", err)
		}
	}
	reports, err := NewReportStore(ReportStoreParams{FS: fs, Path: "data/audit_report.json", Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("NewReportStore: %v", err)
	}
	engine, err := NewEngine(Params{
		Ledger:          led,
		Reports:         reports,
		Channels:        channels,
		FS:              fs,
		OutputsDir:      "outputs",
		WidgetMarker:    "data-pay-widget",
		ProbePaymentAPI: true,
		Timeout:         2 * time.Second,
		Logger:          logger.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	engine.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return engineFixture{engine: engine, ledger: led, fs: fs, reports: reports}
}

func storefront(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/health":
			w.WriteHeader(http.StatusOK)
		case "/api/pay/start":
			w.WriteHeader(http.StatusBadRequest)
		default:
			_, _ = w.Write([]byte(body))
		}
	}))
}

func TestAuditProductsHealthy(t *testing.T) {
	srv := storefront(`<html><div data-pay-widget></div></html>`)
	defer srv.Close()

	led := newFakeLedger(product("p1", enums.ProductStatusPublished, map[string]any{"deployment_url": srv.URL}))
	fx := newEngineFixture(t, led, nil, "p1")

	pass, err := fx.engine.AuditProducts(context.Background())
	if err != nil {
		t.Fatalf("AuditProducts: %v", err)
	}
	if pass.Checked != 1 || len(pass.Findings) != 0 {
		t.Fatalf("expected clean pass, got %+v", pass)
	}
	if len(led.updates) != 0 {
		t.Fatalf("healthy product must not be updated, got %v", led.updates)
	}
}

func TestAuditProductsUnreachableRequeues(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	led := newFakeLedger(product("p1", enums.ProductStatusPublished, map[string]any{"deployment_url": srv.URL}))
	fx := newEngineFixture(t, led, nil, "p1")

	pass, err := fx.engine.AuditProducts(context.Background())
	if err != nil {
		t.Fatalf("AuditProducts: %v", err)
	}
	if len(pass.Findings) != 1 {
		t.Fatalf("expected one finding, got %+v", pass)
	}
	finding := pass.Findings[0]
	if finding.EntityType != enums.FindingEntityProduct || finding.EntityID != "p1" {
		t.Fatalf("unexpected finding %+v", finding)
	}
	if !strings.Contains(finding.Issues[0], "404") {
		t.Fatalf("expected status code in issue, got %q", finding.Issues[0])
	}
	if led.updates["p1"] != enums.ProductStatusWaitingForDeployment {
		t.Fatalf("expected requeue to WAITING_FOR_DEPLOYMENT, got %v", led.updates)
	}
}

func TestAuditProductsFlagsDirectoryListing(t *testing.T) {
	srv := storefront(`<html><title>Index of /</title><a href="..">Parent Directory</a></html>`)
	defer srv.Close()

	led := newFakeLedger(product("p1", enums.ProductStatusPromoted, map[string]any{"deployment_url": srv.URL}))
	fx := newEngineFixture(t, led, nil, "p1")

	pass, err := fx.engine.AuditProducts(context.Background())
	if err != nil {
		t.Fatalf("AuditProducts: %v", err)
	}
	if len(pass.Findings) != 1 || !pass.Findings[0].HasIssue(IssueDirectoryListing) {
		t.Fatalf("expected directory listing finding, got %+v", pass.Findings)
	}
}

func TestAuditProductsMissingWidgetAndArtifact(t *testing.T) {
	srv := storefront(`<html>no widget</html>`)
	defer srv.Close()

	led := newFakeLedger(product("p1", enums.ProductStatusPublished, map[string]any{"deployment_url": srv.URL}))
	fx := newEngineFixture(t, led, nil)

	pass, err := fx.engine.AuditProducts(context.Background())
	if err != nil {
		t.Fatalf("AuditProducts: %v", err)
	}
	if len(pass.Findings) != 1 {
		t.Fatalf("expected one finding, got %+v", pass)
	}
	f := pass.Findings[0]
	if !f.HasIssue(IssueWidgetMissing) || !f.HasIssue(IssueSourceArtifactMissing) {
		t.Fatalf("expected widget and artifact issues, got %v", f.Issues)
	}
}

func TestAuditProductsPaymentAPIRegression(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/health":
			w.WriteHeader(http.StatusBadGateway)
		case "/api/pay/start":
			w.WriteHeader(http.StatusMethodNotAllowed)
		default:
			_, _ = w.Write([]byte(`<div data-pay-widget></div>`))
		}
	}))
	defer srv.Close()

	led := newFakeLedger(product("p1", enums.ProductStatusPublished, map[string]any{"deployment_url": srv.URL}))
	fx := newEngineFixture(t, led, nil, "p1")

	pass, err := fx.engine.AuditProducts(context.Background())
	if err != nil {
		t.Fatalf("AuditProducts: %v", err)
	}
	if len(pass.Findings) != 1 {
		t.Fatalf("expected one finding, got %+v", pass)
	}
	f := pass.Findings[0]
	if !f.HasIssue(IssuePaymentAPIUnhealthy) || !f.HasIssue(IssuePaymentStartRejectsGET) {
		t.Fatalf("expected payment api issues, got %v", f.Issues)
	}
}

func TestAuditProductsSkipsNonLiveAndNeverTouchesSold(t *testing.T) {
	led := newFakeLedger(
		product("sold", enums.ProductStatusSold, map[string]any{"deployment_url": "http://127.0.0.1:1"}),
		product("draft", enums.ProductStatusDraft, nil),
		product("live", enums.ProductStatusPublished, nil),
	)
	fx := newEngineFixture(t, led, nil)

	pass, err := fx.engine.AuditProducts(context.Background())
	if err != nil {
		t.Fatalf("AuditProducts: %v", err)
	}
	if pass.Checked != 1 {
		t.Fatalf("expected only the live product to be checked, got %d", pass.Checked)
	}
	if len(pass.Findings) != 1 || !pass.Findings[0].HasIssue(IssueMissingDeploymentURL) {
		t.Fatalf("expected missing url finding, got %+v", pass.Findings)
	}
	if _, touched := led.updates["sold"]; touched {
		t.Fatal("SOLD product must never be updated")
	}
}

func TestAuditProductsReportsStalledRedeploys(t *testing.T) {
	led := newFakeLedger(
		product("stalled", enums.ProductStatusWaitingForDeployment, map[string]any{"deployment_url": "http://127.0.0.1:1"}),
		product("retried", enums.ProductStatusWaitingForDeployment, map[string]any{"last_redeploy_at": "2026-03-01T12:00:00Z"}),
		product("fresh", enums.ProductStatusWaitingForDeployment, nil),
	)
	fx := newEngineFixture(t, led, nil)

	pass, err := fx.engine.AuditProducts(context.Background())
	if err != nil {
		t.Fatalf("AuditProducts: %v", err)
	}
	if pass.Checked != 2 || len(pass.Findings) != 2 {
		t.Fatalf("expected two stalled products, got checked=%d findings=%+v", pass.Checked, pass.Findings)
	}
	for _, f := range pass.Findings {
		if f.EntityID == "fresh" {
			t.Fatal("never-deployed product must wait for its first publish")
		}
		if len(f.Issues) != 1 || !f.HasIssue(IssueAwaitingRedeploy) {
			t.Fatalf("expected awaiting redeploy issue only, got %+v", f)
		}
	}
	if len(led.updates) != 0 {
		t.Fatalf("waiting products should not be updated, got %+v", led.updates)
	}
}

func TestAuditPromotions(t *testing.T) {
	channel := &fakeChannel{posts: map[string]*promotion.Post{
		"good":   {ID: "good", Published: true, Body: "buy at https://p1.example"},
		"nolink": {ID: "nolink", Published: true, Body: "no link here"},
		"draft":  {ID: "draft", Published: false, Body: "https://p3.example"},
	}}
	led := newFakeLedger(
		product("p1", enums.ProductStatusPromoted, map[string]any{"deployment_url": "https://p1.example", "promotion_post_id": "good"}),
		product("p2", enums.ProductStatusPromoted, map[string]any{"deployment_url": "https://p2.example", "promotion_post_id": "nolink"}),
		product("p3", enums.ProductStatusPromoted, map[string]any{"deployment_url": "https://p3.example", "promotion_post_id": "draft"}),
		product("p4", enums.ProductStatusPromoted, map[string]any{"promotion_post_id": "gone"}),
		product("p5", enums.ProductStatusPromoted, map[string]any{"promotion_post_id": "x", "promotion_channel": "mastodon"}),
		product("p6", enums.ProductStatusPublished, nil),
	)
	fx := newEngineFixture(t, led, []PromotionChannel{channel})

	pass, err := fx.engine.AuditPromotions(context.Background())
	if err != nil {
		t.Fatalf("AuditPromotions: %v", err)
	}
	if pass.Checked != 4 {
		t.Fatalf("expected 4 promotions checked, got %d", pass.Checked)
	}
	byID := map[string]Finding{}
	for _, f := range pass.Findings {
		byID[f.EntityID] = f
	}
	if _, ok := byID["p1"]; ok {
		t.Fatal("healthy promotion must not produce a finding")
	}
	if !byID["p2"].HasIssue(IssueMissingBacklink) {
		t.Fatalf("expected backlink issue, got %+v", byID["p2"])
	}
	if !byID["p3"].HasIssue(IssuePromotionUnpublished) {
		t.Fatalf("expected unpublished issue, got %+v", byID["p3"])
	}
	if !byID["p4"].HasIssue(IssuePromotionMissing) {
		t.Fatalf("expected missing post issue, got %+v", byID["p4"])
	}
	if byID["p2"].Channel != promotion.ChannelDevTo {
		t.Fatalf("expected channel recorded, got %q", byID["p2"].Channel)
	}
}

func TestAuditPromotionsChannelError(t *testing.T) {
	channel := &fakeChannel{err: fmt.Errorf("rate limited")}
	led := newFakeLedger(product("p1", enums.ProductStatusPromoted, map[string]any{"promotion_post_id": "1"}))
	fx := newEngineFixture(t, led, []PromotionChannel{channel})

	pass, err := fx.engine.AuditPromotions(context.Background())
	if err != nil {
		t.Fatalf("AuditPromotions: %v", err)
	}
	if len(pass.Findings) != 1 || !pass.Findings[0].HasIssue(IssuePromotionUnavailable) {
		t.Fatalf("expected channel error finding, got %+v", pass.Findings)
	}
}

func TestRunWritesReport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	led := newFakeLedger(
		product("p1", enums.ProductStatusPublished, map[string]any{"deployment_url": srv.URL}),
		product("p2", enums.ProductStatusSold, nil),
	)
	fx := newEngineFixture(t, led, nil, "p1")

	report, err := fx.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Summary.TotalProducts != 1 || report.Summary.BrokenProducts != 1 || report.Summary.HealthyProducts != 0 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}

	stored, ok, err := fx.reports.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if !stored.LastAudit.Equal(report.LastAudit) || len(stored.Details) != 1 {
		t.Fatalf("stored report mismatch: %+v", stored)
	}
}
