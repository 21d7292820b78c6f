package trading

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
)

// Repository covers the rows pay-to-lock reads and writes. All reads that
// precede the lock decision happen FOR UPDATE inside the one transaction.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	FindUnitForUpdate(ctx context.Context, unitID uuid.UUID) (*models.ListingUnit, error)
	SaveUnit(ctx context.Context, unit *models.ListingUnit) error
	FindNegotiation(ctx context.Context, id uuid.UUID) (*models.Negotiation, error)
	FindListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a trading repository bound to the given database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, "id = ?", userID).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindUnitForUpdate(ctx context.Context, unitID uuid.UUID) (*models.ListingUnit, error) {
	var unit models.ListingUnit
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&unit, "id = ?", unitID).Error
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

func (r *repository) SaveUnit(ctx context.Context, unit *models.ListingUnit) error {
	return r.db.WithContext(ctx).Save(unit).Error
}

func (r *repository) FindNegotiation(ctx context.Context, id uuid.UUID) (*models.Negotiation, error) {
	var row models.Negotiation
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *repository) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
