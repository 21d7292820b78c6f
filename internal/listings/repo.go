package listings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// ListFilter narrows a catalog query. Zero values mean "no filter".
type ListFilter struct {
	FarmerID    uuid.UUID
	ProduceType string
	Status      enums.ListingStatus
	Limit       int
	Offset      int
}

// Repository persists listings and their units. Unit state transitions go
// through FindUnitForUpdate so every writer holds the row lock first.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, listing *models.Listing) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	List(ctx context.Context, filter ListFilter) ([]models.Listing, error)
	FindUnit(ctx context.Context, unitID uuid.UUID) (*models.ListingUnit, error)
	FindUnitForUpdate(ctx context.Context, unitID uuid.UUID) (*models.ListingUnit, error)
	UpdateUnit(ctx context.Context, unit *models.ListingUnit) error
	CountUnits(ctx context.Context, listingID uuid.UUID) (total, available int64, err error)
	UpdateStatus(ctx context.Context, listingID uuid.UUID, status enums.ListingStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a listings repository bound to the given database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, listing *models.Listing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.WithContext(ctx).
		Preload("Units", func(db *gorm.DB) *gorm.DB {
			return db.Order("unit_number ASC")
		}).
		First(&listing, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.Listing, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Model(&models.Listing{})
	if filter.FarmerID != uuid.Nil {
		query = query.Where("farmer_id = ?", filter.FarmerID)
	}
	if filter.ProduceType != "" {
		query = query.Where("produce_type = ?", filter.ProduceType)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	var rows []models.Listing
	err := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&rows).Error
	return rows, err
}

func (r *repository) FindUnit(ctx context.Context, unitID uuid.UUID) (*models.ListingUnit, error) {
	var unit models.ListingUnit
	if err := r.db.WithContext(ctx).First(&unit, "id = ?", unitID).Error; err != nil {
		return nil, err
	}
	return &unit, nil
}

// FindUnitForUpdate takes the unit row lock. Concurrent lockers queue here, so
// the loser re-reads the winner's committed state and fails its status check.
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

func (r *repository) UpdateUnit(ctx context.Context, unit *models.ListingUnit) error {
	return r.db.WithContext(ctx).Save(unit).Error
}

func (r *repository) CountUnits(ctx context.Context, listingID uuid.UUID) (int64, int64, error) {
	var total, available int64
	base := r.db.WithContext(ctx).Model(&models.ListingUnit{}).
		Where("listing_id = ? AND archived = ?", listingID, false)
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err := base.Session(&gorm.Session{}).
		Where("status = ?", enums.UnitStatusAvailable).
		Count(&available).Error
	if err != nil {
		return 0, 0, err
	}
	return total, available, nil
}

func (r *repository) UpdateStatus(ctx context.Context, listingID uuid.UUID, status enums.ListingStatus) error {
	result := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ?", listingID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("listing not found")
	}
	return nil
}
