package users

import (
	"context"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes user-related persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user and returns the persisted model.
func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	user := dto.ToModel()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// FindByPhone retrieves the user matching the provided phone number.
func (r *Repository) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("phone = ?", phone).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByAlias retrieves the user with the given public alias.
func (r *Repository) FindByAlias(ctx context.Context, alias string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("alias = ?", alias).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// AliasExists reports whether an alias is already taken.
func (r *Repository) AliasExists(ctx context.Context, alias string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("alias = ?", alias).
		Count(&count).Error
	return count > 0, err
}

// UpdateSpendCap overwrites the per-trader spend cap override. A nil cap
// reverts the trader to the system default.
func (r *Repository) UpdateSpendCap(ctx context.Context, id uuid.UUID, capCents *int64) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("custom_spend_cap_cents", capCents).Error
}
