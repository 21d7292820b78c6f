package enums

import "fmt"

// InventoryStatus maps to the inventory_status_enum enum in Postgres.
type InventoryStatus string

const (
	InventoryStatusInStorage InventoryStatus = "in_storage"
	InventoryStatusSold      InventoryStatus = "sold"
)

var validInventoryStatuses = []InventoryStatus{
	InventoryStatusInStorage,
	InventoryStatusSold,
}

// IsValid reports whether the value matches the canonical inventory status enum.
func (s InventoryStatus) IsValid() bool {
	for _, candidate := range validInventoryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseInventoryStatus converts raw input into InventoryStatus.
func ParseInventoryStatus(value string) (InventoryStatus, error) {
	for _, candidate := range validInventoryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inventory status %q", value)
}
