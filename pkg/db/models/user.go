package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// User represents the canonical identity entity. Role is immutable after
// signup; Alias is the public-facing, anonymity-preserving handle shown to
// counterparties instead of the phone number.
type User struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Phone               string     `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash        string     `gorm:"column:password_hash;not null"`
	Role                enums.Role `gorm:"column:role;type:user_role_enum;not null"`
	Alias               string     `gorm:"column:alias;not null;uniqueIndex"`
	CustomSpendCapCents *int64     `gorm:"column:custom_spend_cap_cents"`
	IsActive            bool       `gorm:"column:is_active;not null;default:true"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
