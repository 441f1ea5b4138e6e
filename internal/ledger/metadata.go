package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Metadata keys understood by the typed view.
const (
	KeyDeploymentURL       = "deployment_url"
	KeyDeploymentProjectID = "deployment_project_id"
	KeyPrice               = "price"
	KeyCurrency            = "currency"
	KeyPromotionPostID     = "promotion_post_id"
	KeyPromotionChannel    = "promotion_channel"
	KeyPaymentVerified     = "payment_verified"
	KeyVerificationDetails = "verification_details"
	KeyLastRedeployAt      = "last_redeploy_at"
)

// MaxExtraKeys bounds the untyped remainder of a metadata document.
const MaxExtraKeys = 32

var knownKeys = map[string]struct{}{
	KeyDeploymentURL:       {},
	KeyDeploymentProjectID: {},
	KeyPrice:               {},
	KeyCurrency:            {},
	KeyPromotionPostID:     {},
	KeyPromotionChannel:    {},
	KeyPaymentVerified:     {},
	KeyVerificationDetails: {},
	KeyLastRedeployAt:      {},
}

type Deployment struct {
	URL       string
	ProjectID string
}

type Pricing struct {
	Price    decimal.Decimal
	Currency string
}

type Promotion struct {
	PostID  string
	Channel string
}

type Verification struct {
	PaymentVerified *bool
	Details         map[string]any
}

// Metadata is the typed view over a product's open metadata document.
type Metadata struct {
	Deployment     Deployment
	Pricing        Pricing
	Promotion      Promotion
	Verification   Verification
	LastRedeployAt *time.Time
	Extra          map[string]any
}

// ParseMetadata decodes the stored document. Unknown keys land in Extra, in
// key order, until MaxExtraKeys is reached.
func ParseMetadata(raw map[string]any) Metadata {
	m := Metadata{
		Deployment: Deployment{
			URL:       asString(raw[KeyDeploymentURL]),
			ProjectID: asString(raw[KeyDeploymentProjectID]),
		},
		Pricing: Pricing{
			Price:    asDecimal(raw[KeyPrice]),
			Currency: strings.ToLower(asString(raw[KeyCurrency])),
		},
		Promotion: Promotion{
			PostID:  asString(raw[KeyPromotionPostID]),
			Channel: asString(raw[KeyPromotionChannel]),
		},
	}

	if v, ok := raw[KeyPaymentVerified].(bool); ok {
		m.Verification.PaymentVerified = &v
	}
	switch details := raw[KeyVerificationDetails].(type) {
	case map[string]any:
		m.Verification.Details = details
	case string:
		if details != "" {
			m.Verification.Details = map[string]any{"message": details}
		}
	}
	if ts, err := time.Parse(time.RFC3339, asString(raw[KeyLastRedeployAt])); err == nil {
		m.LastRedeployAt = &ts
	}

	extraKeys := make([]string, 0)
	for k := range raw {
		if _, known := knownKeys[k]; !known {
			extraKeys = append(extraKeys, k)
		}
	}
	sort.Strings(extraKeys)
	if len(extraKeys) > 0 {
		m.Extra = make(map[string]any, min(len(extraKeys), MaxExtraKeys))
		for _, k := range extraKeys {
			if len(m.Extra) == MaxExtraKeys {
				break
			}
			m.Extra[k] = raw[k]
		}
	}
	return m
}

// Patch renders the set fields as a shallow-merge document. Zero values are
// omitted so a patch never clears keys it does not mention.
func (m Metadata) Patch() map[string]any {
	patch := map[string]any{}
	setString(patch, KeyDeploymentURL, m.Deployment.URL)
	setString(patch, KeyDeploymentProjectID, m.Deployment.ProjectID)
	if !m.Pricing.Price.IsZero() {
		patch[KeyPrice] = m.Pricing.Price.String()
	}
	setString(patch, KeyCurrency, m.Pricing.Currency)
	setString(patch, KeyPromotionPostID, m.Promotion.PostID)
	setString(patch, KeyPromotionChannel, m.Promotion.Channel)
	if m.Verification.PaymentVerified != nil {
		patch[KeyPaymentVerified] = *m.Verification.PaymentVerified
	}
	if m.Verification.Details != nil {
		patch[KeyVerificationDetails] = m.Verification.Details
	}
	if m.LastRedeployAt != nil {
		patch[KeyLastRedeployAt] = m.LastRedeployAt.UTC().Format(time.RFC3339)
	}
	for k, v := range m.Extra {
		if _, known := knownKeys[k]; known {
			continue
		}
		patch[k] = v
	}
	return patch
}

// Published reports whether the product records a deployment.
func (m Metadata) Published() bool {
	return m.Deployment.URL != ""
}

func setString(patch map[string]any, key, value string) {
	if value != "" {
		patch[key] = value
	}
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return decimal.NewFromFloat(val).String()
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func asDecimal(v any) decimal.Decimal {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val)
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case string:
		d, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(val), "$"))
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}
