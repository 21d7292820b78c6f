package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// Negotiation is the farmer<->trader price conversation over a single listing
// unit. Only one negotiation in a live state may exist per unit at a time.
type Negotiation struct {
	ID                       uuid.UUID               `gorm:"type:uuid;primaryKey"`
	UnitID                   uuid.UUID               `gorm:"column:unit_id;type:uuid;not null;index"`
	ListingID                uuid.UUID               `gorm:"column:listing_id;type:uuid;not null;index"`
	FarmerID                 uuid.UUID               `gorm:"column:farmer_id;type:uuid;not null;index"`
	TraderID                 uuid.UUID               `gorm:"column:trader_id;type:uuid;not null;index"`
	Status                   enums.NegotiationStatus `gorm:"column:status;type:negotiation_status_enum;not null;default:'pending'"`
	CurrentPricePerKiloCents int64                   `gorm:"column:current_price_per_kilo_cents;not null"`
	AcceptedUTID             *string                 `gorm:"column:accepted_utid"`
	ExpiresAt                time.Time               `gorm:"column:expires_at;not null"`
	CreatedAt                time.Time               `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt                time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// IsExpired reports whether the negotiation has passed its expiry; expired
// negotiations are non-actionable even before any cleanup touches them.
func (n Negotiation) IsExpired(now time.Time) bool {
	return !now.Before(n.ExpiresAt)
}

// IsActionable reports whether the negotiation can still be acted on.
func (n Negotiation) IsActionable(now time.Time) bool {
	return n.Status.IsLive() && !n.IsExpired(now)
}
