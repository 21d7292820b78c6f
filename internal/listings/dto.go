package listings

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// ListingDTO is the catalog view of an offer. The farmer appears only by ID;
// aliases are resolved at the API layer so this package stays price-and-stock
// only.
type ListingDTO struct {
	ID                uuid.UUID           `json:"id"`
	FarmerID          uuid.UUID           `json:"farmer_id"`
	ProduceType       string              `json:"produce_type"`
	QualityGrade      string              `json:"quality_grade"`
	TotalKilos        int                 `json:"total_kilos"`
	PricePerKiloCents int64               `json:"price_per_kilo_cents"`
	UnitSizeKilos     int                 `json:"unit_size_kilos"`
	TotalUnits        int                 `json:"total_units"`
	Status            enums.ListingStatus `json:"status"`
	CreatedAt         time.Time           `json:"created_at"`
	Units             []UnitDTO           `json:"units,omitempty"`
}

// UnitDTO is one lockable slice of a listing.
type UnitDTO struct {
	ID               uuid.UUID            `json:"id"`
	UnitNumber       int                  `json:"unit_number"`
	SizeKilos        int                  `json:"size_kilos"`
	Status           enums.UnitStatus     `json:"status"`
	DeliveryStatus   enums.DeliveryStatus `json:"delivery_status"`
	DeliveryDeadline *time.Time           `json:"delivery_deadline,omitempty"`
}

// FromModel maps a listing model to its DTO, including units when preloaded.
func FromModel(listing *models.Listing) ListingDTO {
	if listing == nil {
		return ListingDTO{}
	}
	dto := ListingDTO{
		ID:                listing.ID,
		FarmerID:          listing.FarmerID,
		ProduceType:       listing.ProduceType,
		QualityGrade:      listing.QualityGrade,
		TotalKilos:        listing.TotalKilos,
		PricePerKiloCents: listing.PricePerKiloCents,
		UnitSizeKilos:     listing.UnitSizeKilos,
		TotalUnits:        listing.TotalUnits,
		Status:            listing.Status,
		CreatedAt:         listing.CreatedAt,
	}
	for _, unit := range listing.Units {
		dto.Units = append(dto.Units, UnitDTO{
			ID:               unit.ID,
			UnitNumber:       unit.UnitNumber,
			SizeKilos:        unit.SizeKilos,
			Status:           unit.Status,
			DeliveryStatus:   unit.DeliveryStatus,
			DeliveryDeadline: unit.DeliveryDeadline,
		})
	}
	return dto
}
