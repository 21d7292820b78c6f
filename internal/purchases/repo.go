package purchases

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

// Repository persists buyer purchases and the inventory rows a sale consumes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindInventoryForUpdate(ctx context.Context, inventoryID uuid.UUID) (*models.TraderInventory, error)
	SaveInventory(ctx context.Context, inventory *models.TraderInventory) error
	InsertInventory(ctx context.Context, inventory *models.TraderInventory) error
	FindAcceptedNegotiation(ctx context.Context, inventoryID, buyerID uuid.UUID) (*models.InventoryNegotiation, error)

	Insert(ctx context.Context, purchase *models.BuyerPurchase) error
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.BuyerPurchase, error)
	Save(ctx context.Context, purchase *models.BuyerPurchase) error
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]models.BuyerPurchase, error)

	MarkOverduePickups(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a purchases repository bound to the given database.
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

func (r *repository) SaveInventory(ctx context.Context, inventory *models.TraderInventory) error {
	return r.db.WithContext(ctx).Save(inventory).Error
}

func (r *repository) InsertInventory(ctx context.Context, inventory *models.TraderInventory) error {
	return r.db.WithContext(ctx).Create(inventory).Error
}

// FindAcceptedNegotiation returns the buyer's accepted price conversation on
// this inventory, or nil when the sale falls back to the acquisition price.
func (r *repository) FindAcceptedNegotiation(ctx context.Context, inventoryID, buyerID uuid.UUID) (*models.InventoryNegotiation, error) {
	var row models.InventoryNegotiation
	err := r.db.WithContext(ctx).
		Where("inventory_id = ? AND buyer_id = ? AND status = ?",
			inventoryID, buyerID, enums.NegotiationStatusAccepted).
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

func (r *repository) Insert(ctx context.Context, purchase *models.BuyerPurchase) error {
	return r.db.WithContext(ctx).Create(purchase).Error
}

func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.BuyerPurchase, error) {
	var purchase models.BuyerPurchase
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&purchase, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (r *repository) Save(ctx context.Context, purchase *models.BuyerPurchase) error {
	return r.db.WithContext(ctx).Save(purchase).Error
}

func (r *repository) ListForBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]models.BuyerPurchase, error) {
	if limit <= 0 {
		limit = 50
	}
	var purchases []models.BuyerPurchase
	err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&purchases).Error
	return purchases, err
}

// MarkOverduePickups flips pending pickups past their SLA to overdue.
func (r *repository) MarkOverduePickups(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.BuyerPurchase{}).
		Where("status = ? AND pickup_sla < ?", enums.PurchaseStatusPendingPickup, now).
		Update("status", enums.PurchaseStatusOverdue)
	return result.RowsAffected, result.Error
}
