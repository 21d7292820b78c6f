package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// Repository persists and aggregates the append-only wallet ledger. No update
// or delete methods exist; balances are always sums over the signed rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, entry *models.WalletLedgerEntry) error
	SumAll(ctx context.Context, userID uuid.UUID) (int64, error)
	SumByTypes(ctx context.Context, userID uuid.UUID, types ...enums.LedgerEntryType) (int64, error)
	FindByExternalRef(ctx context.Context, ref string) (*models.WalletLedgerEntry, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletLedgerEntry, error)
	LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a wallet repository bound to the given database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, entry *models.WalletLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) SumAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.WalletLedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	return total, err
}

func (r *repository) SumByTypes(ctx context.Context, userID uuid.UUID, types ...enums.LedgerEntryType) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.WalletLedgerEntry{}).
		Where("user_id = ? AND type IN ?", userID, types).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	return total, err
}

func (r *repository) FindByExternalRef(ctx context.Context, ref string) (*models.WalletLedgerEntry, error) {
	var entry models.WalletLedgerEntry
	err := r.db.WithContext(ctx).Where("external_ref = ?", ref).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repository) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletLedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.WalletLedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}

// LockUser takes the user row lock that serializes wallet mutations for one
// participant. Every balance check that gates a write happens behind it.
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
