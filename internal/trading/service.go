package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrilink/agrilink-backend/internal/exposure"
	"github.com/agrilink/agrilink-backend/internal/wallet"
	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/outbox"
	"github.com/agrilink/agrilink-backend/pkg/outbox/payloads"
	"github.com/agrilink/agrilink-backend/pkg/utid"
)

// Farmers have six hours to hand over a locked unit.
const deliveryWindow = 6 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type pilotGate interface {
	Check(ctx context.Context, tx *gorm.DB) error
}

type rateLimiter interface {
	CheckAndRecord(ctx context.Context, tx *gorm.DB, user *models.User, action enums.RateLimitAction) error
}

type walletLedger interface {
	AppendEntry(ctx context.Context, tx *gorm.DB, input wallet.AppendEntryInput) (*models.WalletLedgerEntry, error)
	BalanceIn(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*wallet.Balances, error)
}

type exposureCalculator interface {
	Calculate(ctx context.Context, tx *gorm.DB, traderID uuid.UUID) (*exposure.Exposure, error)
}

type listingStatusRecomputer interface {
	RecomputeStatus(ctx context.Context, tx *gorm.DB, listingID uuid.UUID) (enums.ListingStatus, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// LockResult is what the trader gets back from a successful pay-to-lock.
type LockResult struct {
	UnitID           uuid.UUID `json:"unit_id"`
	ListingID        uuid.UUID `json:"listing_id"`
	UnitPriceCents   int64     `json:"unit_price_cents"`
	UTID             string    `json:"utid"`
	DeliveryDeadline time.Time `json:"delivery_deadline"`
}

// Service runs the pay-to-lock transaction: exposure check, capital lock and
// unit transition in one indivisible step. First success on a unit wins;
// a concurrent loser observes the committed state and fails its status check.
type Service interface {
	LockUnit(ctx context.Context, traderID, unitID uuid.UUID) (*LockResult, error)
}

type service struct {
	tx       txRunner
	repo     Repository
	gate     pilotGate
	limiter  rateLimiter
	wallet   walletLedger
	exposure exposureCalculator
	listings listingStatusRecomputer
	outbox   outboxPublisher
	now      func() time.Time
}

// ServiceParams bundles the pay-to-lock dependencies.
type ServiceParams struct {
	Tx       txRunner
	Repo     Repository
	Gate     pilotGate
	Limiter  rateLimiter
	Wallet   walletLedger
	Exposure exposureCalculator
	Listings listingStatusRecomputer
	Outbox   outboxPublisher
	Now      func() time.Time
}

// NewService wires the trading service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("trading repository required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("pilot gate required")
	}
	if params.Limiter == nil {
		return nil, fmt.Errorf("rate limiter required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet ledger required")
	}
	if params.Exposure == nil {
		return nil, fmt.Errorf("exposure calculator required")
	}
	if params.Listings == nil {
		return nil, fmt.Errorf("listing status recomputer required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		tx:       params.Tx,
		repo:     params.Repo,
		gate:     params.Gate,
		limiter:  params.Limiter,
		wallet:   params.Wallet,
		exposure: params.Exposure,
		listings: params.Listings,
		outbox:   params.Outbox,
		now:      now,
	}, nil
}

func (s *service) LockUnit(ctx context.Context, traderID, unitID uuid.UUID) (*LockResult, error) {
	var result *LockResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.gate.Check(ctx, tx); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		// User row first, unit row second. Every path that touches both
		// takes them in this order.
		trader, err := repo.LockUser(ctx, traderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock trader")
		}
		if trader.Role != enums.RoleTrader {
			return pkgerrors.New(pkgerrors.CodeInvalidRole, "only traders lock units")
		}

		if err := s.limiter.CheckAndRecord(ctx, tx, trader, enums.RateLimitActionLockUnit); err != nil {
			return err
		}

		unit, err := repo.FindUnitForUpdate(ctx, unitID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "unit not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock unit row")
		}
		// The concurrent loser observes the winner's committed state here and
		// fails the same way as any other unavailable unit.
		if unit.Archived || unit.Status != enums.UnitStatusAvailable {
			return pkgerrors.New(pkgerrors.CodeUnitNotAvailable, "unit is not available").
				WithDetails(map[string]any{"status": string(unit.Status)})
		}

		now := s.now()
		negotiation, err := s.acceptedNegotiation(ctx, repo, unit, trader.ID, now)
		if err != nil {
			return err
		}

		unitPrice := negotiation.CurrentPricePerKiloCents * int64(unit.SizeKilos)

		listing, err := repo.FindListing(ctx, unit.ListingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load listing")
		}

		// A lock raises exposure by the deal price (locked capital) plus the
		// unit's order value at the listing price, so the cap is checked
		// against the post-lock total, not just the debit.
		orderValue := listing.PricePerKiloCents * int64(unit.SizeKilos)

		exp, err := s.exposure.Calculate(ctx, tx, trader.ID)
		if err != nil {
			return err
		}
		if exp.TotalExposureCents+unitPrice+orderValue > exp.SpendCapCents {
			return pkgerrors.New(pkgerrors.CodeSpendCapExceeded, "lock would exceed the spend cap").
				WithDetails(map[string]any{
					"total_exposure_cents": exp.TotalExposureCents,
					"spend_cap_cents":      exp.SpendCapCents,
				})
		}

		balances, err := s.wallet.BalanceIn(ctx, tx, trader.ID)
		if err != nil {
			return err
		}
		if balances.AvailableCapitalCents < unitPrice {
			return pkgerrors.New(pkgerrors.CodeInsufficientCapital, "available capital is below the unit price")
		}

		lockUTID := utid.Generate(trader.Role)
		metadata, _ := json.Marshal(map[string]string{
			"unit_id":        unit.ID.String(),
			"negotiation_id": negotiation.ID.String(),
		})
		if _, err := s.wallet.AppendEntry(ctx, tx, wallet.AppendEntryInput{
			UserID:      trader.ID,
			Type:        enums.LedgerEntryTypeCapitalLock,
			AmountCents: -unitPrice,
			UTID:        lockUTID,
			Metadata:    metadata,
		}); err != nil {
			return err
		}

		deadline := now.Add(deliveryWindow)
		unit.Status = enums.UnitStatusLocked
		unit.LockedBy = &trader.ID
		unit.LockedAt = &now
		unit.LockUTID = &lockUTID
		unit.DeliveryDeadline = &deadline
		unit.DeliveryStatus = enums.DeliveryStatusPending
		unit.ActiveNegotiationID = nil
		if err := repo.SaveUnit(ctx, unit); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save unit")
		}

		if _, err := s.listings.RecomputeStatus(ctx, tx, unit.ListingID); err != nil {
			return err
		}

		farmer, err := repo.FindUser(ctx, listing.FarmerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load farmer")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventUnitLocked,
			AggregateType: enums.AggregateListingUnit,
			AggregateID:   unit.ID,
			Actor:         &outbox.ActorRef{UserID: trader.ID, Alias: trader.Alias, Role: string(trader.Role)},
			Data: payloads.UnitLockedEvent{
				UnitID:           unit.ID,
				ListingID:        listing.ID,
				TraderAlias:      trader.Alias,
				FarmerAlias:      farmer.Alias,
				ProduceType:      listing.ProduceType,
				Kilos:            unit.SizeKilos,
				UnitPriceCents:   unitPrice,
				UTID:             lockUTID,
				DeliveryDeadline: deadline,
			},
			Version: 1,
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		result = &LockResult{
			UnitID:           unit.ID,
			ListingID:        listing.ID,
			UnitPriceCents:   unitPrice,
			UTID:             lockUTID,
			DeliveryDeadline: deadline,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// acceptedNegotiation resolves the unit's bound negotiation and verifies it
// is accepted, unexpired and belongs to the caller.
func (s *service) acceptedNegotiation(ctx context.Context, repo Repository, unit *models.ListingUnit, traderID uuid.UUID, now time.Time) (*models.Negotiation, error) {
	if unit.ActiveNegotiationID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no accepted negotiation for this unit")
	}
	negotiation, err := repo.FindNegotiation(ctx, *unit.ActiveNegotiationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no accepted negotiation for this unit")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load negotiation")
	}
	if negotiation.Status != enums.NegotiationStatusAccepted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "negotiation is not accepted")
	}
	if negotiation.IsExpired(now) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "accepted negotiation has expired")
	}
	if negotiation.TraderID != traderID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "negotiation belongs to another trader")
	}
	return negotiation, nil
}
