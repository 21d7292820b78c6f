package enums

import "fmt"

// PurchaseStatus maps to the purchase_status_enum enum in Postgres.
type PurchaseStatus string

const (
	PurchaseStatusPendingPickup PurchaseStatus = "pending_pickup"
	PurchaseStatusPickedUp      PurchaseStatus = "picked_up"
	PurchaseStatusOverdue       PurchaseStatus = "overdue"
)

var validPurchaseStatuses = []PurchaseStatus{
	PurchaseStatusPendingPickup,
	PurchaseStatusPickedUp,
	PurchaseStatusOverdue,
}

// IsValid reports whether the value matches the canonical purchase status enum.
func (s PurchaseStatus) IsValid() bool {
	for _, candidate := range validPurchaseStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePurchaseStatus converts raw input into PurchaseStatus.
func ParsePurchaseStatus(value string) (PurchaseStatus, error) {
	for _, candidate := range validPurchaseStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid purchase status %q", value)
}
