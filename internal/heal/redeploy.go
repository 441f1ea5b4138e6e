package heal

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/storefront-autopilot/internal/ledger"
	"github.com/angelmondragon/storefront-autopilot/internal/payflow"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	"go.uber.org/multierr"
)

// Redeploy outcomes reported to metrics.
const (
	outcomePublished     = "published"
	outcomePublishFailed = "publish_failed"
	outcomeSold          = "sold"
	outcomeError         = "error"
)

// RedeployResult describes one completed redeploy.
type RedeployResult struct {
	ProductID    string              `json:"product_id"`
	TargetID     string              `json:"target_id"`
	URL          string              `json:"url"`
	Status       enums.ProductStatus `json:"status"`
	Verification payflow.Result      `json:"verification"`
	Remediation  Remediation         `json:"remediation,omitempty"`
}

// Redeploy pushes the product's storefront, verifies the payment flow and
// records the outcome. A SOLD product keeps its status.
func (c *Controller) Redeploy(ctx context.Context, productID string) (*RedeployResult, error) {
	product, err := c.ledger.GetProduct(ctx, productID)
	if err != nil {
		c.metrics.IncRedeploy(outcomeError)
		return nil, fmt.Errorf("load product: %w", err)
	}
	at := c.now().UTC()
	targetID := targetIDFor(product.Metadata.Deployment.ProjectID, product.Title, at)
	ctx = c.logg.WithField(ctx, "target_id", targetID)

	files, err := c.assets.collect(product.ID)
	if err != nil {
		c.metrics.IncRedeploy(outcomeError)
		return nil, err
	}

	deployment, err := c.deployer.Deploy(ctx, targetID, files)
	if err != nil {
		c.remediate(ctx, targetID, product, err)
		c.metrics.IncRedeploy(outcomeError)
		return nil, fmt.Errorf("deploy: %w", err)
	}
	ctx = c.logg.WithField(ctx, "deployment_url", deployment.URL)

	if err := c.pushEnv(ctx, targetID, product); err != nil {
		c.remediate(ctx, targetID, product, err)
		c.metrics.IncRedeploy(outcomeError)
		return nil, fmt.Errorf("push env: %w", err)
	}
	if err := c.deployer.DisableProtection(ctx, targetID); err != nil {
		c.logg.Warn(ctx, "disable protection failed: "+err.Error())
	}

	verification := c.verifier.Verify(ctx, product.ID, deployment.URL, product.Metadata.Pricing.Price)
	result := &RedeployResult{
		ProductID:    product.ID,
		TargetID:     targetID,
		URL:          deployment.URL,
		Verification: verification,
	}
	if !verification.OK {
		result.Remediation = c.remediate(ctx, targetID, product, errors.New(verification.Message))
	}

	var next *enums.ProductStatus
	outcome := outcomeSold
	if product.Status != enums.ProductStatusSold {
		status := enums.ProductStatusPublished
		outcome = outcomePublished
		if !verification.OK {
			status = enums.ProductStatusPublishFailed
			outcome = outcomePublishFailed
		}
		next = &status
	}

	verified := verification.OK
	details := map[string]any{"message": verification.Message}
	for k, v := range verification.Details {
		details[k] = v
	}
	patch := ledger.Metadata{
		Deployment:     ledger.Deployment{URL: deployment.URL, ProjectID: targetID},
		Verification:   ledger.Verification{PaymentVerified: &verified, Details: details},
		LastRedeployAt: &at,
	}.Patch()

	updated, err := c.ledger.UpdateProduct(ctx, product.ID, next, patch)
	if err != nil {
		c.metrics.IncRedeploy(outcomeError)
		return nil, fmt.Errorf("record redeploy: %w", err)
	}
	result.Status = updated.Status
	c.metrics.IncRedeploy(outcome)

	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"status":           result.Status,
		"payment_verified": verified,
	}), "redeploy recorded")
	return result, nil
}

func (c *Controller) storefrontEnv(product *ledger.Product) map[string]string {
	env := map[string]string{EnvProductID: product.ID}
	if c.gatewayAPIKey != "" {
		env[EnvGatewayAPIKey] = c.gatewayAPIKey
	}
	if c.downloadSecret != "" {
		env[EnvDownloadSecret] = c.downloadSecret
	}
	if product.Metadata.Pricing.Price.IsPositive() {
		env[EnvProductPrice] = product.Metadata.Pricing.Price.String()
	}
	if product.Metadata.Pricing.Currency != "" {
		env[EnvCurrency] = product.Metadata.Pricing.Currency
	}
	return env
}

func (c *Controller) pushEnv(ctx context.Context, targetID string, product *ledger.Product) error {
	var errs error
	for key, value := range c.storefrontEnv(product) {
		if err := c.deployer.SetEnvVar(ctx, targetID, key, value); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errs
}

// remediate diagnoses failure and, when allowed, applies the chosen action.
func (c *Controller) remediate(ctx context.Context, targetID string, product *ledger.Product, failure error) Remediation {
	diag := c.diagnoser.Diagnose(ctx, failure)
	dctx := c.logg.WithFields(ctx, map[string]any{
		"remediation": string(diag.Remediation),
		"source":      diag.Source,
	})
	if diag.Remediation == RemediationNone {
		c.logg.Warn(dctx, "no remediation for failure: "+failure.Error())
		return RemediationNone
	}
	if !c.autoRemediate {
		c.logg.Info(dctx, "remediation suggested, auto remediation disabled")
		return diag.Remediation
	}

	var err error
	switch diag.Remediation {
	case RemediationDisableProtection:
		err = c.deployer.DisableProtection(ctx, targetID)
	case RemediationPushEnv:
		err = c.pushEnv(ctx, targetID, product)
	}
	if err != nil {
		c.logg.Error(dctx, "remediation failed", err)
		return diag.Remediation
	}
	c.logg.Info(dctx, "remediation applied")
	return diag.Remediation
}
