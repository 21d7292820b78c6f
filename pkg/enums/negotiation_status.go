package enums

import "fmt"

// NegotiationStatus maps to the negotiation_status_enum enum in Postgres.
// Accepted and rejected are terminal; expiry is evaluated lazily at point of
// use rather than persisted as a status.
type NegotiationStatus string

const (
	NegotiationStatusPending   NegotiationStatus = "pending"
	NegotiationStatusCountered NegotiationStatus = "countered"
	NegotiationStatusAccepted  NegotiationStatus = "accepted"
	NegotiationStatusRejected  NegotiationStatus = "rejected"
)

var validNegotiationStatuses = []NegotiationStatus{
	NegotiationStatusPending,
	NegotiationStatusCountered,
	NegotiationStatusAccepted,
	NegotiationStatusRejected,
}

// IsValid reports whether the value matches the canonical negotiation status enum.
func (s NegotiationStatus) IsValid() bool {
	for _, candidate := range validNegotiationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsLive reports whether the negotiation can still be acted on (pending or
// countered). Expiry is checked separately against ExpiresAt.
func (s NegotiationStatus) IsLive() bool {
	return s == NegotiationStatusPending || s == NegotiationStatusCountered
}

// ParseNegotiationStatus converts raw input into NegotiationStatus.
func ParseNegotiationStatus(value string) (NegotiationStatus, error) {
	for _, candidate := range validNegotiationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid negotiation status %q", value)
}
