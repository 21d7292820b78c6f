package inventory

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

// Repository persists trader inventory and the unit rows the delivery flow
// transitions. Aggregation reads happen inside the caller's transaction.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUnitForUpdate(ctx context.Context, unitID uuid.UUID) (*models.ListingUnit, error)
	SaveUnit(ctx context.Context, unit *models.ListingUnit) error
	FindListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	FindLedgerEntryByUTID(ctx context.Context, utid string) (*models.WalletLedgerEntry, error)
	FindNegotiation(ctx context.Context, id uuid.UUID) (*models.Negotiation, error)

	InsertInventory(ctx context.Context, inventory *models.TraderInventory) error
	SaveInventory(ctx context.Context, inventory *models.TraderInventory) error
	DeleteInventory(ctx context.Context, id uuid.UUID) error
	NonBlockInStorage(ctx context.Context, traderID uuid.UUID) ([]models.TraderInventory, error)
	ListForTrader(ctx context.Context, traderID uuid.UUID) ([]models.TraderInventory, error)
	ListBlocksInStorage(ctx context.Context, produceType string, limit, offset int) ([]models.TraderInventory, error)

	MarkLateDeliveries(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an inventory repository bound to the given database.
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

func (r *repository) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
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

func (r *repository) FindListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *repository) FindLedgerEntryByUTID(ctx context.Context, utid string) (*models.WalletLedgerEntry, error) {
	var entry models.WalletLedgerEntry
	err := r.db.WithContext(ctx).First(&entry, "utid = ?", utid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindNegotiation(ctx context.Context, id uuid.UUID) (*models.Negotiation, error) {
	var negotiation models.Negotiation
	err := r.db.WithContext(ctx).First(&negotiation, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &negotiation, nil
}

func (r *repository) InsertInventory(ctx context.Context, inventory *models.TraderInventory) error {
	return r.db.WithContext(ctx).Create(inventory).Error
}

func (r *repository) SaveInventory(ctx context.Context, inventory *models.TraderInventory) error {
	return r.db.WithContext(ctx).Save(inventory).Error
}

func (r *repository) DeleteInventory(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.TraderInventory{}, "id = ?", id).Error
}

// NonBlockInStorage loads the aggregator's raw material oldest-first.
func (r *repository) NonBlockInStorage(ctx context.Context, traderID uuid.UUID) ([]models.TraderInventory, error) {
	var rows []models.TraderInventory
	err := r.db.WithContext(ctx).
		Where("trader_id = ? AND status = ? AND is_100kg_block = ?",
			traderID, enums.InventoryStatusInStorage, false).
		Order("acquired_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListForTrader(ctx context.Context, traderID uuid.UUID) ([]models.TraderInventory, error) {
	var rows []models.TraderInventory
	err := r.db.WithContext(ctx).
		Where("trader_id = ?", traderID).
		Order("acquired_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListBlocksInStorage(ctx context.Context, produceType string, limit, offset int) ([]models.TraderInventory, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).
		Where("status = ? AND is_100kg_block = ?", enums.InventoryStatusInStorage, true)
	if produceType != "" {
		query = query.Where("produce_type = ?", produceType)
	}
	var rows []models.TraderInventory
	err := query.Order("acquired_at ASC").Limit(limit).Offset(offset).Find(&rows).Error
	return rows, err
}

// MarkLateDeliveries flips pending deliveries past their deadline to late.
// The update is idempotent; re-running it matches zero rows.
func (r *repository) MarkLateDeliveries(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.ListingUnit{}).
		Where("status = ? AND delivery_status = ? AND delivery_deadline < ?",
			enums.UnitStatusLocked, enums.DeliveryStatusPending, now).
		Update("delivery_status", enums.DeliveryStatusLate)
	return result.RowsAffected, result.Error
}
