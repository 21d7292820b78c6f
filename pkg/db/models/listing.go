package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// Listing is a farmer's produce offer, split into lockable units at creation.
// Status is derived from the unit states; listings are never deleted.
type Listing struct {
	ID                uuid.UUID           `gorm:"type:uuid;primaryKey"`
	FarmerID          uuid.UUID           `gorm:"column:farmer_id;type:uuid;not null;index"`
	ProduceType       string              `gorm:"column:produce_type;not null;index"`
	QualityGrade      string              `gorm:"column:quality_grade;not null"`
	TotalKilos        int                 `gorm:"column:total_kilos;not null"`
	PricePerKiloCents int64               `gorm:"column:price_per_kilo_cents;not null"`
	UnitSizeKilos     int                 `gorm:"column:unit_size_kilos;not null"`
	TotalUnits        int                 `gorm:"column:total_units;not null"`
	Status            enums.ListingStatus `gorm:"column:status;type:listing_status_enum;not null;default:'active'"`
	CreationUTID      string              `gorm:"column:creation_utid;not null"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Units []ListingUnit `gorm:"foreignKey:ListingID"`
}
