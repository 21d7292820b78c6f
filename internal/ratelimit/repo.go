package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// Repository derives per-action counts from the domain tables themselves.
// There are no counter rows to reset or repair; the business records in the
// window are the count.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CountInWindow(ctx context.Context, userID uuid.UUID, action enums.RateLimitAction, since time.Time) (int, error)
	OldestInWindow(ctx context.Context, userID uuid.UUID, action enums.RateLimitAction, since time.Time) (*time.Time, error)
	RecordHit(ctx context.Context, hit *models.RateLimitHit) error
	ListHits(ctx context.Context, since time.Time, limit int) ([]models.RateLimitHit, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a rate limit repository bound to the given database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CountInWindow(ctx context.Context, userID uuid.UUID, action enums.RateLimitAction, since time.Time) (int, error) {
	var count int64
	err := r.actionQuery(ctx, userID, action, since).Count(&count).Error
	return int(count), err
}

// OldestInWindow returns the timestamp of the earliest counted record, which
// determines when the window frees a slot.
func (r *repository) OldestInWindow(ctx context.Context, userID uuid.UUID, action enums.RateLimitAction, since time.Time) (*time.Time, error) {
	col := actionTimeColumn(action)
	var stamps []time.Time
	err := r.actionQuery(ctx, userID, action, since).
		Order(col + " ASC").
		Limit(1).
		Pluck(col, &stamps).Error
	if err != nil {
		return nil, err
	}
	if len(stamps) == 0 || stamps[0].IsZero() {
		return nil, nil
	}
	return &stamps[0], nil
}

func (r *repository) RecordHit(ctx context.Context, hit *models.RateLimitHit) error {
	return r.db.WithContext(ctx).Create(hit).Error
}

func (r *repository) ListHits(ctx context.Context, since time.Time, limit int) ([]models.RateLimitHit, error) {
	if limit <= 0 {
		limit = 100
	}
	var hits []models.RateLimitHit
	err := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at DESC").
		Limit(limit).
		Find(&hits).Error
	return hits, err
}

func (r *repository) actionQuery(ctx context.Context, userID uuid.UUID, action enums.RateLimitAction, since time.Time) *gorm.DB {
	db := r.db.WithContext(ctx)
	switch action {
	case enums.RateLimitActionCreateListing:
		return db.Model(&models.Listing{}).
			Where("farmer_id = ? AND created_at >= ?", userID, since)
	case enums.RateLimitActionNegotiationAction:
		return db.Model(&models.NegotiationEvent{}).
			Where("actor_id = ? AND created_at >= ?", userID, since)
	case enums.RateLimitActionLockUnit:
		return db.Model(&models.ListingUnit{}).
			Where("locked_by = ? AND locked_at >= ?", userID, since)
	case enums.RateLimitActionPurchase:
		return db.Model(&models.BuyerPurchase{}).
			Where("buyer_id = ? AND created_at >= ?", userID, since)
	case enums.RateLimitActionProfitWithdrawal:
		return db.Model(&models.WalletLedgerEntry{}).
			Where("user_id = ? AND type = ? AND created_at >= ?",
				userID, enums.LedgerEntryTypeProfitWithdrawal, since)
	default:
		// Unknown actions count nothing; the service validates first.
		return db.Model(&models.RateLimitHit{}).Where("1 = 0")
	}
}

func actionTimeColumn(action enums.RateLimitAction) string {
	if action == enums.RateLimitActionLockUnit {
		return "locked_at"
	}
	return "created_at"
}
