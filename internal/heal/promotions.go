package heal

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/angelmondragon/storefront-autopilot/internal/audit"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	"github.com/angelmondragon/storefront-autopilot/pkg/promotion"
	"github.com/spf13/afero"
)

const productURLPlaceholder = "{{PRODUCT_URL}}"

// HealPromotions rewrites posts whose backlink to the storefront is missing.
// Unpublished or deleted posts are reported but left alone.
func (c *Controller) HealPromotions(ctx context.Context, findings []audit.Finding) HealSummary {
	var summary HealSummary
	for _, finding := range findings {
		if finding.EntityType != enums.FindingEntityPromotion {
			continue
		}
		pctx := c.logg.WithFields(ctx, map[string]any{"product_id": finding.EntityID, "channel": finding.Channel})
		if !finding.HasIssue(audit.IssueMissingBacklink) {
			summary.Skipped++
			c.logg.Warn(pctx, "promotion issue needs manual attention")
			continue
		}
		editor, ok := c.editors[finding.Channel]
		if !ok || finding.Channel != promotion.ChannelDevTo {
			summary.Skipped++
			c.logg.Info(pctx, "promotion channel edit unsupported")
			continue
		}

		summary.Attempted++
		if err := c.restoreBacklink(pctx, editor, finding.EntityID); err != nil {
			summary.Failed++
			c.logg.Error(pctx, "promotion heal failed", err)
			continue
		}
		summary.Healed++
	}
	return summary
}

func (c *Controller) restoreBacklink(ctx context.Context, editor PostEditor, productID string) error {
	product, err := c.ledger.GetProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	productURL := product.Metadata.Deployment.URL
	postID := product.Metadata.Promotion.PostID
	if productURL == "" || postID == "" {
		return fmt.Errorf("product has no deployment url or promotion post")
	}

	body, err := c.promotionBody(ctx, editor, productID, postID, productURL)
	if err != nil {
		return err
	}
	if _, err := editor.UpdatePost(ctx, postID, body); err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	c.logg.Info(c.logg.WithField(ctx, "post_id", postID), "promotion backlink restored")
	return nil
}

// promotionBody renders the stored promotion source, falling back to the
// live post with the link appended.
func (c *Controller) promotionBody(ctx context.Context, editor PostEditor, productID, postID, productURL string) (string, error) {
	source := filepath.Join(c.outputsDir, productID, promotionSourceFile)
	if data, err := afero.ReadFile(c.fs, source); err == nil {
		rendered := strings.ReplaceAll(string(data), productURLPlaceholder, productURL)
		if strings.Contains(rendered, productURL) {
			return rendered, nil
		}
		return rendered + "\n\n" + productURL + "\n", nil
	}

	post, err := editor.GetPost(ctx, postID)
	if err != nil {
		return "", fmt.Errorf("get post: %w", err)
	}
	return strings.TrimRight(post.Body, "\n") + "\n\n" + productURL + "\n", nil
}
