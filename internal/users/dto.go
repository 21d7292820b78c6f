package users

import (
	"time"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	"github.com/google/uuid"
)

// CreateUserDTO carries the fields needed to insert a user row.
type CreateUserDTO struct {
	Phone        string
	PasswordHash string
	Role         enums.Role
	Alias        string
}

// ToModel converts the DTO into a persistable model.
func (d CreateUserDTO) ToModel() *models.User {
	return &models.User{
		ID:           uuid.New(),
		Phone:        d.Phone,
		PasswordHash: d.PasswordHash,
		Role:         d.Role,
		Alias:        d.Alias,
		IsActive:     true,
	}
}

// UserDTO is the caller's own view of their account. Phone is only ever
// returned to the account owner.
type UserDTO struct {
	ID        uuid.UUID  `json:"id"`
	Phone     string     `json:"phone"`
	Alias     string     `json:"alias"`
	Role      enums.Role `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

// PublicUserDTO is what counterparties see. It never carries the phone
// number; the alias preserves anonymity in all market surfaces.
type PublicUserDTO struct {
	ID    uuid.UUID  `json:"id"`
	Alias string     `json:"alias"`
	Role  enums.Role `json:"role"`
}

// FromModel maps a user model to the owner-facing DTO.
func FromModel(user *models.User) UserDTO {
	if user == nil {
		return UserDTO{}
	}
	return UserDTO{
		ID:        user.ID,
		Phone:     user.Phone,
		Alias:     user.Alias,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	}
}

// PublicFromModel maps a user model to the counterparty-facing DTO.
func PublicFromModel(user *models.User) PublicUserDTO {
	if user == nil {
		return PublicUserDTO{}
	}
	return PublicUserDTO{
		ID:    user.ID,
		Alias: user.Alias,
		Role:  user.Role,
	}
}
