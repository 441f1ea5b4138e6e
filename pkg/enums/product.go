package enums

import "fmt"

// ProductStatus tracks a catalog product through its deployment lifecycle.
type ProductStatus string

const (
	ProductStatusDraft                ProductStatus = "DRAFT"
	ProductStatusGenerated            ProductStatus = "GENERATED"
	ProductStatusWaitingForDeployment ProductStatus = "WAITING_FOR_DEPLOYMENT"
	ProductStatusPublished            ProductStatus = "PUBLISHED"
	ProductStatusPublishFailed        ProductStatus = "PUBLISH_FAILED"
	ProductStatusPromoted             ProductStatus = "PROMOTED"
	ProductStatusSold                 ProductStatus = "SOLD"
	ProductStatusDeleted              ProductStatus = "DELETED"
)

var validProductStatuses = []ProductStatus{
	ProductStatusDraft,
	ProductStatusGenerated,
	ProductStatusWaitingForDeployment,
	ProductStatusPublished,
	ProductStatusPublishFailed,
	ProductStatusPromoted,
	ProductStatusSold,
	ProductStatusDeleted,
}

// String implements fmt.Stringer.
func (s ProductStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ProductStatus.
func (s ProductStatus) IsValid() bool {
	for _, candidate := range validProductStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseProductStatus converts raw input into a ProductStatus.
func ParseProductStatus(value string) (ProductStatus, error) {
	for _, candidate := range validProductStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid product status %q", value)
}

// IsLive reports whether the product should have a reachable storefront.
func (s ProductStatus) IsLive() bool {
	return s == ProductStatusPublished || s == ProductStatusPromoted
}

// CanTransitionAutomatically reports whether automation may move a product from s to next.
// SOLD and DELETED are absorbing; everything else is left to the caller.
func (s ProductStatus) CanTransitionAutomatically(next ProductStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case ProductStatusSold, ProductStatusDeleted:
		return false
	}
	return next.IsValid()
}
