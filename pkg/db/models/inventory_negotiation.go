package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// InventoryNegotiation is the trader<->buyer price conversation over a
// tradeable inventory block, isomorphic to Negotiation.
type InventoryNegotiation struct {
	ID                       uuid.UUID               `gorm:"type:uuid;primaryKey"`
	InventoryID              uuid.UUID               `gorm:"column:inventory_id;type:uuid;not null;index"`
	TraderID                 uuid.UUID               `gorm:"column:trader_id;type:uuid;not null;index"`
	BuyerID                  uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null;index"`
	Status                   enums.NegotiationStatus `gorm:"column:status;type:negotiation_status_enum;not null;default:'pending'"`
	CurrentPricePerKiloCents int64                   `gorm:"column:current_price_per_kilo_cents;not null"`
	AcceptedUTID             *string                 `gorm:"column:accepted_utid"`
	ExpiresAt                time.Time               `gorm:"column:expires_at;not null"`
	CreatedAt                time.Time               `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt                time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// IsExpired reports whether the negotiation has passed its expiry.
func (n InventoryNegotiation) IsExpired(now time.Time) bool {
	return !now.Before(n.ExpiresAt)
}

// IsActionable reports whether the negotiation can still be acted on.
func (n InventoryNegotiation) IsActionable(now time.Time) bool {
	return n.Status.IsLive() && !n.IsExpired(now)
}
