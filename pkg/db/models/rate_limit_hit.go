package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// RateLimitHit is the audit record of a denied attempt. Business logic only
// ever appends these rows; admin reporting reads them.
type RateLimitHit struct {
	ID          uuid.UUID             `gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	Role        enums.Role            `gorm:"column:role;type:user_role_enum;not null"`
	Action      enums.RateLimitAction `gorm:"column:action;type:rate_limit_action_enum;not null"`
	WindowStart time.Time             `gorm:"column:window_start;not null"`
	WindowEnd   time.Time             `gorm:"column:window_end;not null"`
	Count       int                   `gorm:"column:count;not null"`
	Limit       int                   `gorm:"column:limit_value;not null"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime;index"`
}
