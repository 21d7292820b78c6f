package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrilink/agrilink-backend/pkg/config"
	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
)

// Policy is the sliding-window bound for one action.
type Policy struct {
	Limit  int
	Window time.Duration
}

// LimitDetails is attached to rate limit errors; it is user-safe.
type LimitDetails struct {
	Action    enums.RateLimitAction `json:"action"`
	Limit     int                   `json:"limit"`
	Window    string                `json:"window"`
	ResetTime time.Time             `json:"reset_time"`
}

// Service enforces the per-action sliding windows. Counts are recomputed from
// domain rows on every check, so the limiter can never drift from the ledger
// of record. Denials leave an audit row; allowed calls write nothing.
type Service interface {
	CheckAndRecord(ctx context.Context, tx *gorm.DB, user *models.User, action enums.RateLimitAction) error
	Hits(ctx context.Context, since time.Time, limit int) ([]models.RateLimitHit, error)
}

type service struct {
	repo     Repository
	policies map[enums.RateLimitAction]Policy
	now      func() time.Time
}

// NewService builds the limiter from the configured policies.
func NewService(repo Repository, cfg config.RateLimitConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("rate limit repository required")
	}
	return &service{
		repo: repo,
		policies: map[enums.RateLimitAction]Policy{
			enums.RateLimitActionCreateListing:     {Limit: cfg.ListingsPerFarmer, Window: cfg.ListingsWindow},
			enums.RateLimitActionNegotiationAction: {Limit: cfg.NegotiationActions, Window: cfg.NegotiationWindow},
			enums.RateLimitActionLockUnit:          {Limit: cfg.LocksPerTrader, Window: cfg.LocksWindow},
			enums.RateLimitActionPurchase:          {Limit: cfg.PurchasesPerBuyer, Window: cfg.PurchasesWindow},
			enums.RateLimitActionProfitWithdrawal:  {Limit: cfg.WithdrawalsPerTrader, Window: cfg.WithdrawalsWindow},
		},
		now: time.Now,
	}, nil
}

// CheckAndRecord must be called inside the mutation's transaction, before the
// mutation writes its domain row. Admins are exempt from every limit.
func (s *service) CheckAndRecord(ctx context.Context, tx *gorm.DB, user *models.User, action enums.RateLimitAction) error {
	if user == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user required")
	}
	if user.Role == enums.RoleAdmin {
		return nil
	}
	policy, ok := s.policies[action]
	if !ok || !action.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown rate limit action %q", action))
	}
	if policy.Limit <= 0 || policy.Window <= 0 {
		return nil
	}

	repo := s.repo.WithTx(tx)
	now := s.now()
	since := now.Add(-policy.Window)

	count, err := repo.CountInWindow(ctx, user.ID, action, since)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count rate limit window")
	}
	if count < policy.Limit {
		return nil
	}

	reset := now.Add(policy.Window)
	if oldest, err := repo.OldestInWindow(ctx, user.ID, action, since); err == nil && oldest != nil {
		reset = oldest.Add(policy.Window)
	}

	hit := &models.RateLimitHit{
		ID:          uuid.New(),
		UserID:      user.ID,
		Role:        user.Role,
		Action:      action,
		WindowStart: since,
		WindowEnd:   now,
		Count:       count,
		Limit:       policy.Limit,
	}
	// The caller's transaction rolls back on denial; write the audit row on
	// the base connection so it survives.
	if err := s.repo.RecordHit(ctx, hit); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record rate limit hit")
	}

	return pkgerrors.New(pkgerrors.CodeRateLimit, fmt.Sprintf("%s limit reached", action)).
		WithDetails(LimitDetails{
			Action:    action,
			Limit:     policy.Limit,
			Window:    policy.Window.String(),
			ResetTime: reset,
		})
}

func (s *service) Hits(ctx context.Context, since time.Time, limit int) ([]models.RateLimitHit, error) {
	return s.repo.ListHits(ctx, since, limit)
}
