package enums

import "fmt"

// FindingEntityType identifies what an audit finding is about.
type FindingEntityType string

const (
	FindingEntityProduct   FindingEntityType = "product"
	FindingEntityPromotion FindingEntityType = "promotion"
)

var validFindingEntityTypes = []FindingEntityType{
	FindingEntityProduct,
	FindingEntityPromotion,
}

// String implements fmt.Stringer.
func (t FindingEntityType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known FindingEntityType.
func (t FindingEntityType) IsValid() bool {
	for _, candidate := range validFindingEntityTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseFindingEntityType converts raw input into a FindingEntityType.
func ParseFindingEntityType(value string) (FindingEntityType, error) {
	for _, candidate := range validFindingEntityTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid finding entity type %q", value)
}
