package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// OutboxEvent represents an append-only event emitted via the outbox pattern.
// Rows are written in the same transaction as the domain mutation and drained
// to the notification sink by the outbox publisher.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:event_type_enum;not null;index:idx_outbox_events_event_aggregate"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:aggregate_type_enum;not null;index:idx_outbox_events_event_aggregate"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null;index:idx_outbox_events_event_aggregate"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
}
