package enums

import "fmt"

// ListingStatus maps to the listing_status_enum enum in Postgres. It is always
// derived from the listing's units, never set directly by callers.
type ListingStatus string

const (
	ListingStatusActive          ListingStatus = "active"
	ListingStatusPartiallyLocked ListingStatus = "partially_locked"
	ListingStatusFullyLocked     ListingStatus = "fully_locked"
)

var validListingStatuses = []ListingStatus{
	ListingStatusActive,
	ListingStatusPartiallyLocked,
	ListingStatusFullyLocked,
}

// IsValid reports whether the value matches the canonical listing status enum.
func (s ListingStatus) IsValid() bool {
	for _, candidate := range validListingStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseListingStatus converts raw input into ListingStatus.
func ParseListingStatus(value string) (ListingStatus, error) {
	for _, candidate := range validListingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing status %q", value)
}
