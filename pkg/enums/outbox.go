package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type_enum enum in Postgres.
type OutboxAggregateType string

const (
	AggregateListingUnit     OutboxAggregateType = "listing_unit"
	AggregateListing         OutboxAggregateType = "listing"
	AggregateTraderInventory OutboxAggregateType = "trader_inventory"
	AggregateBuyerPurchase   OutboxAggregateType = "buyer_purchase"
	AggregateWalletEntry     OutboxAggregateType = "wallet_entry"
	AggregateSystemSettings  OutboxAggregateType = "system_settings"
	AggregateUser            OutboxAggregateType = "user"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateListingUnit,
	AggregateListing,
	AggregateTraderInventory,
	AggregateBuyerPurchase,
	AggregateWalletEntry,
	AggregateSystemSettings,
	AggregateUser,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type_enum enum in Postgres.
type OutboxEventType string

const (
	EventUnitLocked         OutboxEventType = "unit_locked"
	EventUnitDelivered      OutboxEventType = "unit_delivered"
	EventLockCancelled      OutboxEventType = "lock_cancelled"
	EventBlockFormed        OutboxEventType = "block_formed"
	EventPurchaseCompleted  OutboxEventType = "purchase_completed"
	EventDepositConfirmed   OutboxEventType = "deposit_confirmed"
	EventPilotModeChanged   OutboxEventType = "pilot_mode_changed"
	EventSpendCapOverridden OutboxEventType = "spend_cap_overridden"
)

var validEventTypes = []OutboxEventType{
	EventUnitLocked,
	EventUnitDelivered,
	EventLockCancelled,
	EventBlockFormed,
	EventPurchaseCompleted,
	EventDepositConfirmed,
	EventPilotModeChanged,
	EventSpendCapOverridden,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
