package enums

import "fmt"

// NegotiationActionKind records a single step in a negotiation's history.
type NegotiationActionKind string

const (
	NegotiationActionOffer   NegotiationActionKind = "offer"
	NegotiationActionCounter NegotiationActionKind = "counter"
	NegotiationActionAccept  NegotiationActionKind = "accept"
	NegotiationActionReject  NegotiationActionKind = "reject"
)

var validNegotiationActionKinds = []NegotiationActionKind{
	NegotiationActionOffer,
	NegotiationActionCounter,
	NegotiationActionAccept,
	NegotiationActionReject,
}

// IsValid reports whether the value matches a known negotiation action.
func (k NegotiationActionKind) IsValid() bool {
	for _, candidate := range validNegotiationActionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseNegotiationActionKind converts raw input into NegotiationActionKind.
func ParseNegotiationActionKind(value string) (NegotiationActionKind, error) {
	for _, candidate := range validNegotiationActionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid negotiation action %q", value)
}
