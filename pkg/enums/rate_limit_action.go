package enums

import "fmt"

// RateLimitAction identifies a throttled domain action. Counts are derived
// from existing domain records, never from a separate counter table.
type RateLimitAction string

const (
	RateLimitActionCreateListing     RateLimitAction = "create_listing"
	RateLimitActionNegotiationAction RateLimitAction = "negotiation_action"
	RateLimitActionLockUnit          RateLimitAction = "lock_unit"
	RateLimitActionPurchase          RateLimitAction = "purchase"
	RateLimitActionProfitWithdrawal  RateLimitAction = "profit_withdrawal"
)

var validRateLimitActions = []RateLimitAction{
	RateLimitActionCreateListing,
	RateLimitActionNegotiationAction,
	RateLimitActionLockUnit,
	RateLimitActionPurchase,
	RateLimitActionProfitWithdrawal,
}

// IsValid reports whether the value matches a known throttled action.
func (a RateLimitAction) IsValid() bool {
	for _, candidate := range validRateLimitActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseRateLimitAction converts raw input into RateLimitAction.
func ParseRateLimitAction(value string) (RateLimitAction, error) {
	for _, candidate := range validRateLimitActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid rate limit action %q", value)
}
