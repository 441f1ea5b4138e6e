// Package audit scans live products and their promotions and records what is broken.
package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-autopilot/internal/ledger"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/angelmondragon/storefront-autopilot/pkg/metrics"
	"github.com/angelmondragon/storefront-autopilot/pkg/promotion"
	"github.com/angelmondragon/storefront-autopilot/pkg/visibility"
	"github.com/spf13/afero"
)

const artifactFile = "index.html"

// Ledger is the product access the audit needs.
type Ledger interface {
	ListProducts(ctx context.Context, limit int) ([]ledger.Product, error)
	UpdateProduct(ctx context.Context, id string, status *enums.ProductStatus, metadata map[string]any) (*ledger.Product, error)
}

// PromotionChannel reads posts from one publishing channel.
type PromotionChannel interface {
	Channel() string
	GetPost(ctx context.Context, postID string) (*promotion.Post, error)
}

// VisibilityChecker is the optional search-index lookup.
type VisibilityChecker interface {
	Check(ctx context.Context, pageURL string) (*visibility.Result, error)
}

// Params wires an Engine.
type Params struct {
	Ledger          Ledger
	Reports         *ReportStore
	Channels        []PromotionChannel
	DefaultChannel  string
	Visibility      VisibilityChecker
	FS              afero.Fs
	OutputsDir      string
	WidgetMarker    string
	ProductLimit    int
	ProbePaymentAPI bool
	HTTPClient      *http.Client
	Timeout         time.Duration
	Metrics         *metrics.HealMetrics
	Logger          *logger.Logger
}

// Engine runs audits sequentially; one slow storefront delays the rest.
type Engine struct {
	ledger          Ledger
	reports         *ReportStore
	channels        map[string]PromotionChannel
	defaultChannel  string
	visibility      VisibilityChecker
	fs              afero.Fs
	outputsDir      string
	productLimit    int
	probePaymentAPI bool
	probe           *prober
	metrics         *metrics.HealMetrics
	logg            *logger.Logger
	now             func() time.Time
}

func NewEngine(params Params) (*Engine, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Reports == nil {
		return nil, fmt.Errorf("report store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(params.OutputsDir) == "" {
		return nil, fmt.Errorf("outputs dir required")
	}
	fs := params.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	client := params.HTTPClient
	if client == nil {
		timeout := params.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	channels := make(map[string]PromotionChannel, len(params.Channels))
	for _, ch := range params.Channels {
		if ch != nil {
			channels[ch.Channel()] = ch
		}
	}
	defaultChannel := params.DefaultChannel
	if defaultChannel == "" {
		defaultChannel = promotion.ChannelDevTo
	}
	return &Engine{
		ledger:          params.Ledger,
		reports:         params.Reports,
		channels:        channels,
		defaultChannel:  defaultChannel,
		visibility:      params.Visibility,
		fs:              fs,
		outputsDir:      params.OutputsDir,
		productLimit:    params.ProductLimit,
		probePaymentAPI: params.ProbePaymentAPI,
		probe:           &prober{httpClient: client, marker: params.WidgetMarker},
		metrics:         params.Metrics,
		logg:            params.Logger,
		now:             time.Now,
	}, nil
}

// AuditProducts checks every live product. Products with findings are moved
// back to WAITING_FOR_DEPLOYMENT; remediation itself happens elsewhere.
// Products left waiting by an earlier failed redeploy are reported again so
// the next cycle retries them.
func (e *Engine) AuditProducts(ctx context.Context) (Pass, error) {
	products, err := e.ledger.ListProducts(ctx, e.productLimit)
	if err != nil {
		return Pass{}, fmt.Errorf("list products: %w", err)
	}

	var pass Pass
	for _, product := range products {
		pctx := e.logg.WithProductID(ctx, product.ID)
		if awaitingRedeploy(product) {
			pass.Checked++
			pass.Findings = append(pass.Findings, Finding{
				EntityType: enums.FindingEntityProduct,
				EntityID:   product.ID,
				Issues:     []string{IssueAwaitingRedeploy},
			})
			e.logg.Info(pctx, "product still waiting for redeploy")
			continue
		}
		if !product.Status.IsLive() {
			continue
		}
		pass.Checked++

		issues := e.auditProduct(pctx, product)
		if len(issues) == 0 {
			continue
		}
		pass.Findings = append(pass.Findings, Finding{
			EntityType: enums.FindingEntityProduct,
			EntityID:   product.ID,
			Issues:     issues,
		})
		e.logg.Warn(e.logg.WithField(pctx, "issues", issues), "product audit found issues")
		e.requeue(pctx, product)
	}
	e.metrics.AddFindings(enums.FindingEntityProduct.String(), len(pass.Findings))
	return pass, nil
}

// awaitingRedeploy reports a WAITING_FOR_DEPLOYMENT product that has been
// deployed before. Products that were never deployed wait for their first
// publish instead.
func awaitingRedeploy(product ledger.Product) bool {
	if product.Status != enums.ProductStatusWaitingForDeployment {
		return false
	}
	meta := product.Metadata
	return meta.Deployment.URL != "" || meta.Deployment.ProjectID != "" || meta.LastRedeployAt != nil
}

func (e *Engine) auditProduct(ctx context.Context, product ledger.Product) []string {
	var issues []string
	pageURL := product.Metadata.Deployment.URL

	if pageURL == "" {
		issues = append(issues, IssueMissingDeploymentURL)
	} else {
		page := e.probe.fetchPage(ctx, pageURL)
		switch page.outcome {
		case pageUnreachable, pageDirectoryListing:
			issues = append(issues, page.issue)
		case pageHealthy:
			if !e.probe.hasWidget(page.body) {
				issues = append(issues, IssueWidgetMissing)
			}
			if e.probePaymentAPI {
				issues = append(issues, e.probe.paymentAPI(ctx, pageURL)...)
			}
		}
		e.checkVisibility(ctx, pageURL)
	}

	if !e.artifactExists(ctx, product.ID) {
		issues = append(issues, IssueSourceArtifactMissing)
	}
	return issues
}

func (e *Engine) artifactExists(ctx context.Context, productID string) bool {
	path := filepath.Join(e.outputsDir, productID, artifactFile)
	ok, err := afero.Exists(e.fs, path)
	if err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "path", path), "artifact check failed: "+err.Error())
		return false
	}
	return ok
}

func (e *Engine) checkVisibility(ctx context.Context, pageURL string) {
	if e.visibility == nil {
		return
	}
	res, err := e.visibility.Check(ctx, pageURL)
	if err != nil {
		e.logg.Warn(ctx, "visibility check failed: "+err.Error())
		return
	}
	e.logg.Info(e.logg.WithField(ctx, "indexed", res.Indexed), "visibility checked")
}

func (e *Engine) requeue(ctx context.Context, product ledger.Product) {
	waiting := enums.ProductStatusWaitingForDeployment
	if !product.Status.CanTransitionAutomatically(waiting) {
		return
	}
	if _, err := e.ledger.UpdateProduct(ctx, product.ID, &waiting, nil); err != nil {
		e.logg.Error(ctx, "failed to requeue product for deployment", err)
	}
}

// AuditPromotions checks every product that records a promotion post.
func (e *Engine) AuditPromotions(ctx context.Context) (Pass, error) {
	products, err := e.ledger.ListProducts(ctx, e.productLimit)
	if err != nil {
		return Pass{}, fmt.Errorf("list products: %w", err)
	}

	var pass Pass
	for _, product := range products {
		postID := product.Metadata.Promotion.PostID
		if postID == "" {
			continue
		}
		channelName := product.Metadata.Promotion.Channel
		if channelName == "" {
			channelName = e.defaultChannel
		}
		pctx := e.logg.WithFields(ctx, map[string]any{"product_id": product.ID, "post_id": postID, "channel": channelName})

		channel, ok := e.channels[channelName]
		if !ok {
			e.logg.Info(pctx, "promotion channel unsupported, skipping")
			continue
		}
		pass.Checked++

		issues := e.auditPromotion(pctx, channel, postID, product.Metadata.Deployment.URL)
		if len(issues) == 0 {
			continue
		}
		pass.Findings = append(pass.Findings, Finding{
			EntityType: enums.FindingEntityPromotion,
			EntityID:   product.ID,
			Channel:    channelName,
			Issues:     issues,
		})
		e.logg.Warn(e.logg.WithField(pctx, "issues", issues), "promotion audit found issues")
	}
	e.metrics.AddFindings(enums.FindingEntityPromotion.String(), len(pass.Findings))
	return pass, nil
}

func (e *Engine) auditPromotion(ctx context.Context, channel PromotionChannel, postID, deploymentURL string) []string {
	post, err := channel.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, promotion.ErrPostNotFound) {
			return []string{IssuePromotionMissing}
		}
		return []string{fmt.Sprintf("%s: %v", IssuePromotionUnavailable, err)}
	}

	var issues []string
	if !post.Published {
		issues = append(issues, IssuePromotionUnpublished)
	}
	if deploymentURL != "" && !strings.Contains(post.Body, deploymentURL) {
		issues = append(issues, fmt.Sprintf("%s %s", IssueMissingBacklink, deploymentURL))
	}
	return issues
}

// Publish builds the report from two passes and replaces the stored one.
func (e *Engine) Publish(ctx context.Context, products, promotions Pass) (*Report, error) {
	report := NewReport(e.now(), products, promotions)
	if err := e.reports.Save(ctx, report); err != nil {
		return nil, err
	}
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"broken_products":   report.Summary.BrokenProducts,
		"broken_promotions": report.Summary.BrokenPromotions,
	}), "audit report written")
	return report, nil
}

// Run audits products and promotions and writes the report.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	products, err := e.AuditProducts(ctx)
	if err != nil {
		return nil, err
	}
	promotions, err := e.AuditPromotions(ctx)
	if err != nil {
		return nil, err
	}
	return e.Publish(ctx, products, promotions)
}
