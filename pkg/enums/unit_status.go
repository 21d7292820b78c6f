package enums

import "fmt"

// UnitStatus maps to the unit_status_enum enum in Postgres. A unit moves from
// available to locked only through the pay-to-lock transaction.
type UnitStatus string

const (
	UnitStatusAvailable UnitStatus = "available"
	UnitStatusLocked    UnitStatus = "locked"
	UnitStatusDelivered UnitStatus = "delivered"
	UnitStatusCancelled UnitStatus = "cancelled"
)

var validUnitStatuses = []UnitStatus{
	UnitStatusAvailable,
	UnitStatusLocked,
	UnitStatusDelivered,
	UnitStatusCancelled,
}

// IsValid reports whether the value matches the canonical unit status enum.
func (s UnitStatus) IsValid() bool {
	for _, candidate := range validUnitStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseUnitStatus converts raw input into UnitStatus.
func ParseUnitStatus(value string) (UnitStatus, error) {
	for _, candidate := range validUnitStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid unit status %q", value)
}
