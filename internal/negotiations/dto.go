package negotiations

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// Target selects which negotiation variant an action addresses.
type Target string

const (
	TargetUnit      Target = "unit"
	TargetInventory Target = "inventory"
)

// IsValid reports whether the target names a known variant.
func (t Target) IsValid() bool {
	return t == TargetUnit || t == TargetInventory
}

// NegotiationDTO is the shared view of either negotiation variant. Parties
// appear by ID; aliases are resolved at the API layer.
type NegotiationDTO struct {
	ID                       uuid.UUID               `json:"id"`
	Target                   Target                  `json:"target"`
	TargetID                 uuid.UUID               `json:"target_id"`
	OfferMakerID             uuid.UUID               `json:"offer_maker_id"`
	CounterpartyID           uuid.UUID               `json:"counterparty_id"`
	Status                   enums.NegotiationStatus `json:"status"`
	CurrentPricePerKiloCents int64                   `json:"current_price_per_kilo_cents"`
	ExpiresAt                time.Time               `json:"expires_at"`
	AcceptedUTID             *string                 `json:"accepted_utid,omitempty"`
	CreatedAt                time.Time               `json:"created_at"`
}

// EventDTO is one step of a negotiation's history.
type EventDTO struct {
	ID                uuid.UUID                   `json:"id"`
	ActorID           uuid.UUID                   `json:"actor_id"`
	Kind              enums.NegotiationActionKind `json:"kind"`
	PricePerKiloCents *int64                      `json:"price_per_kilo_cents,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
}

func fromUnitModel(row *models.Negotiation) NegotiationDTO {
	return NegotiationDTO{
		ID:                       row.ID,
		Target:                   TargetUnit,
		TargetID:                 row.UnitID,
		OfferMakerID:             row.TraderID,
		CounterpartyID:           row.FarmerID,
		Status:                   row.Status,
		CurrentPricePerKiloCents: row.CurrentPricePerKiloCents,
		ExpiresAt:                row.ExpiresAt,
		AcceptedUTID:             row.AcceptedUTID,
		CreatedAt:                row.CreatedAt,
	}
}

func fromInventoryModel(row *models.InventoryNegotiation) NegotiationDTO {
	return NegotiationDTO{
		ID:                       row.ID,
		Target:                   TargetInventory,
		TargetID:                 row.InventoryID,
		OfferMakerID:             row.BuyerID,
		CounterpartyID:           row.TraderID,
		Status:                   row.Status,
		CurrentPricePerKiloCents: row.CurrentPricePerKiloCents,
		ExpiresAt:                row.ExpiresAt,
		AcceptedUTID:             row.AcceptedUTID,
		CreatedAt:                row.CreatedAt,
	}
}

func fromEventModel(event models.NegotiationEvent) EventDTO {
	return EventDTO{
		ID:                event.ID,
		ActorID:           event.ActorID,
		Kind:              event.Kind,
		PricePerKiloCents: event.PricePerKiloCents,
		CreatedAt:         event.CreatedAt,
	}
}
