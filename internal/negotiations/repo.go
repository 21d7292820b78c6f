package negotiations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// Repository persists both negotiation variants and their shared event
// history. Reads that precede a state change take the row lock.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateNegotiation(ctx context.Context, negotiation *models.Negotiation) error
	FindNegotiation(ctx context.Context, id uuid.UUID) (*models.Negotiation, error)
	FindNegotiationForUpdate(ctx context.Context, id uuid.UUID) (*models.Negotiation, error)
	SaveNegotiation(ctx context.Context, negotiation *models.Negotiation) error

	CreateInventoryNegotiation(ctx context.Context, negotiation *models.InventoryNegotiation) error
	FindInventoryNegotiation(ctx context.Context, id uuid.UUID) (*models.InventoryNegotiation, error)
	FindInventoryNegotiationForUpdate(ctx context.Context, id uuid.UUID) (*models.InventoryNegotiation, error)
	SaveInventoryNegotiation(ctx context.Context, negotiation *models.InventoryNegotiation) error
	FindLiveByInventory(ctx context.Context, inventoryID uuid.UUID, now time.Time) (*models.InventoryNegotiation, error)
	FindAcceptedByInventory(ctx context.Context, inventoryID uuid.UUID) (*models.InventoryNegotiation, error)

	AppendEvent(ctx context.Context, event *models.NegotiationEvent) error
	LastEvent(ctx context.Context, negotiationID uuid.UUID) (*models.NegotiationEvent, error)
	History(ctx context.Context, negotiationID uuid.UUID) ([]models.NegotiationEvent, error)

	FindUnitForUpdate(ctx context.Context, unitID uuid.UUID) (*models.ListingUnit, error)
	UpdateUnitNegotiationRef(ctx context.Context, unitID uuid.UUID, negotiationID *uuid.UUID) error
	FindListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error)
	FindInventoryForUpdate(ctx context.Context, inventoryID uuid.UUID) (*models.TraderInventory, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a negotiations repository bound to the given database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateNegotiation(ctx context.Context, negotiation *models.Negotiation) error {
	return r.db.WithContext(ctx).Create(negotiation).Error
}

func (r *repository) FindNegotiation(ctx context.Context, id uuid.UUID) (*models.Negotiation, error) {
	var row models.Negotiation
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindNegotiationForUpdate(ctx context.Context, id uuid.UUID) (*models.Negotiation, error) {
	var row models.Negotiation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&row, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) SaveNegotiation(ctx context.Context, negotiation *models.Negotiation) error {
	return r.db.WithContext(ctx).Save(negotiation).Error
}

func (r *repository) CreateInventoryNegotiation(ctx context.Context, negotiation *models.InventoryNegotiation) error {
	return r.db.WithContext(ctx).Create(negotiation).Error
}

func (r *repository) FindInventoryNegotiation(ctx context.Context, id uuid.UUID) (*models.InventoryNegotiation, error) {
	var row models.InventoryNegotiation
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindInventoryNegotiationForUpdate(ctx context.Context, id uuid.UUID) (*models.InventoryNegotiation, error) {
	var row models.InventoryNegotiation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&row, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) SaveInventoryNegotiation(ctx context.Context, negotiation *models.InventoryNegotiation) error {
	return r.db.WithContext(ctx).Save(negotiation).Error
}

// FindLiveByInventory returns the one live, unexpired negotiation on an
// inventory record, or nil. Inventories carry no ActiveNegotiationID column;
// uniqueness is enforced through this query under the inventory row lock.
func (r *repository) FindLiveByInventory(ctx context.Context, inventoryID uuid.UUID, now time.Time) (*models.InventoryNegotiation, error) {
	var row models.InventoryNegotiation
	err := r.db.WithContext(ctx).
		Where("inventory_id = ? AND status IN ? AND expires_at > ?",
			inventoryID,
			[]enums.NegotiationStatus{enums.NegotiationStatusPending, enums.NegotiationStatusCountered},
			now).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindAcceptedByInventory(ctx context.Context, inventoryID uuid.UUID) (*models.InventoryNegotiation, error) {
	var row models.InventoryNegotiation
	err := r.db.WithContext(ctx).
		Where("inventory_id = ? AND status = ?", inventoryID, enums.NegotiationStatusAccepted).
		Order("updated_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) AppendEvent(ctx context.Context, event *models.NegotiationEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) LastEvent(ctx context.Context, negotiationID uuid.UUID) (*models.NegotiationEvent, error) {
	var event models.NegotiationEvent
	err := r.db.WithContext(ctx).
		Where("negotiation_id = ?", negotiationID).
		Order("created_at DESC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) History(ctx context.Context, negotiationID uuid.UUID) ([]models.NegotiationEvent, error) {
	var events []models.NegotiationEvent
	err := r.db.WithContext(ctx).
		Where("negotiation_id = ?", negotiationID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
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

func (r *repository) UpdateUnitNegotiationRef(ctx context.Context, unitID uuid.UUID, negotiationID *uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.ListingUnit{}).
		Where("id = ?", unitID).
		Update("active_negotiation_id", negotiationID).Error
}

func (r *repository) FindListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).First(&listing, "id = ?", listingID).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *repository) FindInventoryForUpdate(ctx context.Context, inventoryID uuid.UUID) (*models.TraderInventory, error) {
	var inventory models.TraderInventory
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&inventory, "id = ?", inventoryID).Error
	if err != nil {
		return nil, err
	}
	return &inventory, nil
}
