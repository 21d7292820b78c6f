package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// NegotiationEvent is the append-only history of offers, counters, accepts
// and rejects across both negotiation variants. The rate limiter derives
// negotiation-action counts from these rows.
type NegotiationEvent struct {
	ID                uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	NegotiationID     uuid.UUID                   `gorm:"column:negotiation_id;type:uuid;not null;index"`
	ActorID           uuid.UUID                   `gorm:"column:actor_id;type:uuid;not null;index:idx_negotiation_events_actor_at"`
	Kind              enums.NegotiationActionKind `gorm:"column:kind;type:negotiation_action_enum;not null"`
	PricePerKiloCents *int64                      `gorm:"column:price_per_kilo_cents"`
	CreatedAt         time.Time                   `gorm:"column:created_at;autoCreateTime;index:idx_negotiation_events_actor_at"`
}
