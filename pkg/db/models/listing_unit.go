package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// ListingUnit is the lockable grain of a listing. At most one live
// negotiation may reference a unit, and the available -> locked transition
// happens only inside the pay-to-lock transaction.
type ListingUnit struct {
	ID                  uuid.UUID            `gorm:"type:uuid;primaryKey"`
	ListingID           uuid.UUID            `gorm:"column:listing_id;type:uuid;not null;index"`
	UnitNumber          int                  `gorm:"column:unit_number;not null"`
	SizeKilos           int                  `gorm:"column:size_kilos;not null"`
	Status              enums.UnitStatus     `gorm:"column:status;type:unit_status_enum;not null;default:'available';index"`
	LockedBy            *uuid.UUID           `gorm:"column:locked_by;type:uuid;index:idx_listing_units_locked_by_at"`
	LockUTID            *string              `gorm:"column:lock_utid"`
	LockedAt            *time.Time           `gorm:"column:locked_at;index:idx_listing_units_locked_by_at"`
	DeliveryDeadline    *time.Time           `gorm:"column:delivery_deadline"`
	DeliveryStatus      enums.DeliveryStatus `gorm:"column:delivery_status;type:delivery_status_enum;not null;default:'pending'"`
	ActiveNegotiationID *uuid.UUID           `gorm:"column:active_negotiation_id;type:uuid"`
	Archived            bool                 `gorm:"column:archived;not null;default:false"`
	CreatedAt           time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
