package payloads

import (
	"time"

	"github.com/google/uuid"
)

// UnitLockedEvent is emitted when a trader pays to lock a listing unit. It
// carries enough denormalized context for a notification renderer; prices in
// this payload are trader-facing only.
type UnitLockedEvent struct {
	UnitID           uuid.UUID `json:"unit_id"`
	ListingID        uuid.UUID `json:"listing_id"`
	TraderAlias      string    `json:"trader_alias"`
	FarmerAlias      string    `json:"farmer_alias"`
	ProduceType      string    `json:"produce_type"`
	Kilos            int       `json:"kilos"`
	UnitPriceCents   int64     `json:"unit_price_cents"`
	UTID             string    `json:"utid"`
	DeliveryDeadline time.Time `json:"delivery_deadline"`
}

// UnitDeliveredEvent is emitted when a farmer's delivery is confirmed.
type UnitDeliveredEvent struct {
	UnitID      uuid.UUID `json:"unit_id"`
	InventoryID uuid.UUID `json:"inventory_id"`
	TraderAlias string    `json:"trader_alias"`
	ProduceType string    `json:"produce_type"`
	Kilos       int       `json:"kilos"`
	UTID        string    `json:"utid"`
}

// LockCancelledEvent is emitted when an admin cancels a lock and the trader
// is refunded.
type LockCancelledEvent struct {
	UnitID      uuid.UUID `json:"unit_id"`
	TraderAlias string    `json:"trader_alias"`
	RefundCents int64     `json:"refund_cents"`
	UTID        string    `json:"utid"`
}

// BlockFormedEvent signals the aggregator created a tradeable 100kg block.
type BlockFormedEvent struct {
	InventoryID     uuid.UUID   `json:"inventory_id"`
	TraderAlias     string      `json:"trader_alias"`
	ProduceType     string      `json:"produce_type"`
	StorageLocation string      `json:"storage_location"`
	Kilos           int         `json:"kilos"`
	SourceIDs       []uuid.UUID `json:"source_ids"`
	UTID            string      `json:"utid"`
}

// PurchaseCompletedEvent is emitted after a buyer purchase commits. The
// buyer-facing copy never includes trader-side pricing, only the total paid.
type PurchaseCompletedEvent struct {
	PurchaseID     uuid.UUID `json:"purchase_id"`
	InventoryID    uuid.UUID `json:"inventory_id"`
	BuyerAlias     string    `json:"buyer_alias"`
	TraderAlias    string    `json:"trader_alias"`
	ProduceType    string    `json:"produce_type"`
	Kilos          int       `json:"kilos"`
	TotalCostCents int64     `json:"total_cost_cents"`
	PickupSLA      time.Time `json:"pickup_sla"`
	UTID           string    `json:"utid"`
}

// DepositConfirmedEvent acknowledges a credited gateway deposit.
type DepositConfirmedEvent struct {
	EntryID     uuid.UUID `json:"entry_id"`
	UserAlias   string    `json:"user_alias"`
	AmountCents int64     `json:"amount_cents"`
	ExternalRef string    `json:"external_ref"`
	UTID        string    `json:"utid"`
}

// PilotModeChangedEvent records an admin flip of the global kill-switch.
type PilotModeChangedEvent struct {
	Enabled bool      `json:"enabled"`
	Reason  string    `json:"reason"`
	UTID    string    `json:"utid"`
	SetAt   time.Time `json:"set_at"`
}

// SpendCapOverriddenEvent records an admin spend-cap override for a trader.
type SpendCapOverriddenEvent struct {
	TraderID    uuid.UUID `json:"trader_id"`
	NewCapCents *int64    `json:"new_cap_cents"`
	UTID        string    `json:"utid"`
}
