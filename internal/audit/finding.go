package audit

import (
	"strings"
	"time"

	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
)

// Issue prefixes recorded on findings. The heal controller matches on them.
const (
	IssueDeploymentUnreachable  = "deployment unreachable"
	IssueMissingDeploymentURL   = "missing deployment url"
	IssueDirectoryListing       = "deployment serves directory listing"
	IssueWidgetMissing          = "payment widget marker missing"
	IssueSourceArtifactMissing  = "source artifact missing"
	IssuePaymentAPIUnhealthy    = "payment api unhealthy"
	IssuePaymentStartRejectsGET = "payment start rejects GET"
	IssueAwaitingRedeploy       = "awaiting redeploy"

	IssuePromotionMissing     = "promotion post missing"
	IssuePromotionUnpublished = "promotion post unpublished"
	IssueMissingBacklink      = "missing backlink to"
	IssuePromotionUnavailable = "promotion channel error"
)

// Finding is one entity's list of detected problems.
type Finding struct {
	EntityType enums.FindingEntityType `json:"entity_type"`
	EntityID   string                  `json:"entity_id"`
	Channel    string                  `json:"channel,omitempty"`
	Issues     []string                `json:"issues"`
}

// HasIssue reports whether any issue starts with prefix.
func (f Finding) HasIssue(prefix string) bool {
	for _, issue := range f.Issues {
		if strings.HasPrefix(issue, prefix) {
			return true
		}
	}
	return false
}

// Pass is the outcome of auditing one entity kind.
type Pass struct {
	Checked  int
	Findings []Finding
}

// Summary counts healthy and broken entities of the last run.
type Summary struct {
	TotalProducts     int `json:"total_products"`
	HealthyProducts   int `json:"healthy_products"`
	BrokenProducts    int `json:"broken_products"`
	TotalPromotions   int `json:"total_promotions"`
	HealthyPromotions int `json:"healthy_promotions"`
	BrokenPromotions  int `json:"broken_promotions"`
}

// Report is the audit artifact. Each run replaces the previous one.
type Report struct {
	LastAudit time.Time `json:"last_audit"`
	Summary   Summary   `json:"summary"`
	Details   []Finding `json:"details"`
}

// NewReport folds two passes into a report stamped at.
func NewReport(at time.Time, products, promotions Pass) *Report {
	details := make([]Finding, 0, len(products.Findings)+len(promotions.Findings))
	details = append(details, products.Findings...)
	details = append(details, promotions.Findings...)
	return &Report{
		LastAudit: at.UTC(),
		Summary: Summary{
			TotalProducts:     products.Checked,
			HealthyProducts:   products.Checked - len(products.Findings),
			BrokenProducts:    len(products.Findings),
			TotalPromotions:   promotions.Checked,
			HealthyPromotions: promotions.Checked - len(promotions.Findings),
			BrokenPromotions:  len(promotions.Findings),
		},
		Details: details,
	}
}
