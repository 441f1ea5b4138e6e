// Package heal repairs what the audit finds: it redeploys broken storefronts
// and rewrites promotion posts that lost their backlink.
package heal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-autopilot/internal/audit"
	"github.com/angelmondragon/storefront-autopilot/internal/ledger"
	"github.com/angelmondragon/storefront-autopilot/internal/payflow"
	"github.com/angelmondragon/storefront-autopilot/pkg/deploy"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/angelmondragon/storefront-autopilot/pkg/metrics"
	"github.com/angelmondragon/storefront-autopilot/pkg/promotion"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
)

// Auditor is the audit surface a cycle drives.
type Auditor interface {
	AuditProducts(ctx context.Context) (audit.Pass, error)
	AuditPromotions(ctx context.Context) (audit.Pass, error)
	Publish(ctx context.Context, products, promotions audit.Pass) (*audit.Report, error)
}

// Ledger is the product access the controller needs.
type Ledger interface {
	GetProduct(ctx context.Context, id string) (*ledger.Product, error)
	UpdateProduct(ctx context.Context, id string, status *enums.ProductStatus, metadata map[string]any) (*ledger.Product, error)
}

// Deployer publishes a file set to a hosting target.
type Deployer interface {
	Deploy(ctx context.Context, targetID string, files []deploy.File) (*deploy.Deployment, error)
	SetEnvVar(ctx context.Context, targetID, key, value string) error
	DisableProtection(ctx context.Context, targetID string) error
}

// Verifier probes a deployed payment flow.
type Verifier interface {
	Verify(ctx context.Context, productID, baseURL string, price decimal.Decimal) payflow.Result
}

// PostEditor reads and rewrites promotion posts on one channel.
type PostEditor interface {
	Channel() string
	GetPost(ctx context.Context, postID string) (*promotion.Post, error)
	UpdatePost(ctx context.Context, postID, body string) (*promotion.Post, error)
}

// Storefront environment variables pushed on every redeploy.
const (
	EnvGatewayAPIKey  = "PAYMENT_GATEWAY_API_KEY"
	EnvDownloadSecret = "DOWNLOAD_TOKEN_SECRET"
	EnvProductID      = "PRODUCT_ID"
	EnvProductPrice   = "PRODUCT_PRICE"
	EnvCurrency       = "PRODUCT_CURRENCY"
)

// Params wires a Controller.
type Params struct {
	Auditor         Auditor
	Ledger          Ledger
	Deployer        Deployer
	Verifier        Verifier
	Editors         []PostEditor
	Diagnoser       *Diagnoser
	FS              afero.Fs
	OutputsDir      string
	SharedDir       string
	DeliverableFile string
	GatewayAPIKey   string
	DownloadSecret  string
	AutoRemediate   bool
	Metrics         *metrics.HealMetrics
	Logger          *logger.Logger
}

// Controller runs the audit-then-heal cycle. It holds no lock; callers that
// may overlap must serialize cycles themselves.
type Controller struct {
	auditor        Auditor
	ledger         Ledger
	deployer       Deployer
	verifier       Verifier
	editors        map[string]PostEditor
	diagnoser      *Diagnoser
	assets         assetCollector
	fs             afero.Fs
	outputsDir     string
	gatewayAPIKey  string
	downloadSecret string
	autoRemediate  bool
	metrics        *metrics.HealMetrics
	logg           *logger.Logger
	now            func() time.Time
}

func NewController(params Params) (*Controller, error) {
	if params.Auditor == nil {
		return nil, fmt.Errorf("auditor required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Deployer == nil {
		return nil, fmt.Errorf("deployer required")
	}
	if params.Verifier == nil {
		return nil, fmt.Errorf("verifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(params.OutputsDir) == "" {
		return nil, fmt.Errorf("outputs dir required")
	}
	if strings.TrimSpace(params.SharedDir) == "" {
		return nil, fmt.Errorf("shared dir required")
	}
	fs := params.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	diagnoser := params.Diagnoser
	if diagnoser == nil {
		diagnoser = &Diagnoser{logg: params.Logger}
	}
	editors := make(map[string]PostEditor, len(params.Editors))
	for _, editor := range params.Editors {
		if editor != nil {
			editors[editor.Channel()] = editor
		}
	}
	return &Controller{
		auditor:   params.Auditor,
		ledger:    params.Ledger,
		deployer:  params.Deployer,
		verifier:  params.Verifier,
		editors:   editors,
		diagnoser: diagnoser,
		assets: assetCollector{
			fs:          fs,
			outputsDir:  params.OutputsDir,
			sharedDir:   params.SharedDir,
			deliverable: params.DeliverableFile,
		},
		fs:             fs,
		outputsDir:     params.OutputsDir,
		gatewayAPIKey:  params.GatewayAPIKey,
		downloadSecret: params.DownloadSecret,
		autoRemediate:  params.AutoRemediate,
		metrics:        params.Metrics,
		logg:           params.Logger,
		now:            time.Now,
	}, nil
}

// HealSummary counts per-entity outcomes of one heal pass.
type HealSummary struct {
	Attempted int `json:"attempted"`
	Healed    int `json:"healed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// CycleResult is what one full cycle produced.
type CycleResult struct {
	Report     *audit.Report `json:"report"`
	Products   HealSummary   `json:"products"`
	Promotions HealSummary   `json:"promotions"`
}

// RunFullCycle audits and heals products, then promotions, then writes the
// combined report. Promotions are audited after product redeploys so
// backlinks are compared against fresh URLs.
func (c *Controller) RunFullCycle(ctx context.Context) (*CycleResult, error) {
	products, err := c.auditor.AuditProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit products: %w", err)
	}
	productSummary := c.HealProducts(ctx, products.Findings)

	promotions, err := c.auditor.AuditPromotions(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit promotions: %w", err)
	}
	promotionSummary := c.HealPromotions(ctx, promotions.Findings)

	report, err := c.auditor.Publish(ctx, products, promotions)
	if err != nil {
		return nil, fmt.Errorf("publish report: %w", err)
	}
	c.metrics.MarkCycle(c.now())
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"products_healed":   productSummary.Healed,
		"products_failed":   productSummary.Failed,
		"promotions_healed": promotionSummary.Healed,
		"promotions_failed": promotionSummary.Failed,
	}), "heal cycle complete")

	return &CycleResult{Report: report, Products: productSummary, Promotions: promotionSummary}, nil
}

var redeployTriggers = []string{
	audit.IssueDeploymentUnreachable,
	audit.IssueMissingDeploymentURL,
	audit.IssueDirectoryListing,
	audit.IssueWidgetMissing,
	audit.IssuePaymentAPIUnhealthy,
	audit.IssuePaymentStartRejectsGET,
	audit.IssueAwaitingRedeploy,
}

func needsRedeploy(f audit.Finding) bool {
	for _, trigger := range redeployTriggers {
		if f.HasIssue(trigger) {
			return true
		}
	}
	return false
}

// HealProducts redeploys every product whose finding a redeploy can fix.
// One product's failure never stops the others.
func (c *Controller) HealProducts(ctx context.Context, findings []audit.Finding) HealSummary {
	var summary HealSummary
	for _, finding := range findings {
		if finding.EntityType != enums.FindingEntityProduct {
			continue
		}
		pctx := c.logg.WithProductID(ctx, finding.EntityID)
		if !needsRedeploy(finding) {
			summary.Skipped++
			if finding.HasIssue(audit.IssueSourceArtifactMissing) {
				c.logg.Warn(pctx, "source artifact missing, regeneration required")
			}
			continue
		}

		summary.Attempted++
		result, err := c.Redeploy(pctx, finding.EntityID)
		if err != nil {
			summary.Failed++
			c.logg.Error(pctx, "redeploy failed", err)
			continue
		}
		if result.Verification.OK {
			summary.Healed++
		} else {
			summary.Failed++
		}
	}
	return summary
}
