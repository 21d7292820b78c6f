package negotiations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/utid"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type pilotGate interface {
	Check(ctx context.Context, tx *gorm.DB) error
}

type rateLimiter interface {
	CheckAndRecord(ctx context.Context, tx *gorm.DB, user *models.User, action enums.RateLimitAction) error
}

type userFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Service runs the offer/counter/accept/reject state machine for both market
// legs: farmer<->trader over listing units and trader<->buyer over inventory.
// Every action appends a history event inside the same transaction.
type Service interface {
	OfferOnUnit(ctx context.Context, traderID, unitID uuid.UUID, priceCents int64) (*NegotiationDTO, error)
	OfferOnInventory(ctx context.Context, buyerID, inventoryID uuid.UUID, priceCents int64) (*NegotiationDTO, error)
	Counter(ctx context.Context, actorID uuid.UUID, target Target, negotiationID uuid.UUID, priceCents int64) (*NegotiationDTO, error)
	Accept(ctx context.Context, actorID uuid.UUID, target Target, negotiationID uuid.UUID) (*NegotiationDTO, error)
	Reject(ctx context.Context, actorID uuid.UUID, target Target, negotiationID uuid.UUID) (*NegotiationDTO, error)
	Get(ctx context.Context, target Target, negotiationID uuid.UUID) (*NegotiationDTO, error)
	History(ctx context.Context, negotiationID uuid.UUID) ([]EventDTO, error)
}

type service struct {
	tx      txRunner
	repo    Repository
	gate    pilotGate
	limiter rateLimiter
	users   userFinder
	now     func() time.Time
}

// ServiceParams bundles the negotiation service dependencies.
type ServiceParams struct {
	Tx      txRunner
	Repo    Repository
	Gate    pilotGate
	Limiter rateLimiter
	Users   userFinder
	Now     func() time.Time
}

// NewService wires the negotiation service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("negotiations repository required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("pilot gate required")
	}
	if params.Limiter == nil {
		return nil, fmt.Errorf("rate limiter required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user finder required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		tx:      params.Tx,
		repo:    params.Repo,
		gate:    params.Gate,
		limiter: params.Limiter,
		users:   params.Users,
		now:     now,
	}, nil
}

func (s *service) OfferOnUnit(ctx context.Context, traderID, unitID uuid.UUID, priceCents int64) (*NegotiationDTO, error) {
	if priceCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "offer price must be positive")
	}

	var result *NegotiationDTO
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.gate.Check(ctx, tx); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		trader, err := s.requireActor(ctx, traderID, enums.RoleTrader, "only traders make offers on units")
		if err != nil {
			return err
		}
		if err := s.limiter.CheckAndRecord(ctx, tx, trader, enums.RateLimitActionNegotiationAction); err != nil {
			return err
		}

		unit, err := repo.FindUnitForUpdate(ctx, unitID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "unit not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock unit")
		}
		if unit.Archived || unit.Status != enums.UnitStatusAvailable {
			return pkgerrors.New(pkgerrors.CodeUnitNotAvailable, "unit is not available")
		}

		now := s.now()
		if unit.ActiveNegotiationID != nil {
			existing, err := repo.FindNegotiation(ctx, *unit.ActiveNegotiationID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load active negotiation")
			}
			// A stale ref to an expired or closed negotiation does not block
			// a fresh offer; the new one simply replaces it.
			if existing != nil && existing.IsActionable(now) {
				return pkgerrors.New(pkgerrors.CodeConflict, "unit already has a live negotiation")
			}
		}

		listing, err := repo.FindListing(ctx, unit.ListingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load listing")
		}

		negotiation := &models.Negotiation{
			ID:                       uuid.New(),
			UnitID:                   unit.ID,
			ListingID:                listing.ID,
			FarmerID:                 listing.FarmerID,
			TraderID:                 trader.ID,
			Status:                   enums.NegotiationStatusPending,
			CurrentPricePerKiloCents: priceCents,
			ExpiresAt:                now.Add(negotiationTTL),
		}
		if err := repo.CreateNegotiation(ctx, negotiation); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create negotiation")
		}
		if err := repo.UpdateUnitNegotiationRef(ctx, unit.ID, &negotiation.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "bind unit negotiation")
		}
		if err := s.appendEvent(ctx, repo, negotiation.ID, trader.ID, enums.NegotiationActionOffer, &priceCents); err != nil {
			return err
		}

		dto := fromUnitModel(negotiation)
		result = &dto
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) OfferOnInventory(ctx context.Context, buyerID, inventoryID uuid.UUID, priceCents int64) (*NegotiationDTO, error) {
	if priceCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "offer price must be positive")
	}

	var result *NegotiationDTO
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.gate.Check(ctx, tx); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		buyer, err := s.requireActor(ctx, buyerID, enums.RoleBuyer, "only buyers make offers on inventory")
		if err != nil {
			return err
		}
		if err := s.limiter.CheckAndRecord(ctx, tx, buyer, enums.RateLimitActionNegotiationAction); err != nil {
			return err
		}

		inventory, err := repo.FindInventoryForUpdate(ctx, inventoryID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "inventory not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock inventory")
		}
		if inventory.Status != enums.InventoryStatusInStorage {
			return pkgerrors.New(pkgerrors.CodeInventoryNotAvailable, "inventory is not available")
		}

		now := s.now()
		live, err := repo.FindLiveByInventory(ctx, inventory.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check live negotiation")
		}
		if live != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "inventory already has a live negotiation")
		}

		negotiation := &models.InventoryNegotiation{
			ID:                       uuid.New(),
			InventoryID:              inventory.ID,
			TraderID:                 inventory.TraderID,
			BuyerID:                  buyer.ID,
			Status:                   enums.NegotiationStatusPending,
			CurrentPricePerKiloCents: priceCents,
			ExpiresAt:                now.Add(negotiationTTL),
		}
		if err := repo.CreateInventoryNegotiation(ctx, negotiation); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create negotiation")
		}
		if err := s.appendEvent(ctx, repo, negotiation.ID, buyer.ID, enums.NegotiationActionOffer, &priceCents); err != nil {
			return err
		}

		dto := fromInventoryModel(negotiation)
		result = &dto
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Counter(ctx context.Context, actorID uuid.UUID, target Target, negotiationID uuid.UUID, priceCents int64) (*NegotiationDTO, error) {
	return s.act(ctx, actorID, target, negotiationID, func(conv *conversation, actor *models.User, lastActor uuid.UUID, now time.Time) (enums.NegotiationActionKind, *int64, error) {
		if err := applyCounter(conv, actor.ID, lastActor, priceCents, now); err != nil {
			return "", nil, err
		}
		price := priceCents
		return enums.NegotiationActionCounter, &price, nil
	})
}

func (s *service) Accept(ctx context.Context, actorID uuid.UUID, target Target, negotiationID uuid.UUID) (*NegotiationDTO, error) {
	return s.act(ctx, actorID, target, negotiationID, func(conv *conversation, actor *models.User, lastActor uuid.UUID, now time.Time) (enums.NegotiationActionKind, *int64, error) {
		if err := applyAccept(conv, actor.ID, lastActor, now); err != nil {
			return "", nil, err
		}
		return enums.NegotiationActionAccept, nil, nil
	})
}

func (s *service) Reject(ctx context.Context, actorID uuid.UUID, target Target, negotiationID uuid.UUID) (*NegotiationDTO, error) {
	return s.act(ctx, actorID, target, negotiationID, func(conv *conversation, actor *models.User, lastActor uuid.UUID, now time.Time) (enums.NegotiationActionKind, *int64, error) {
		if err := applyReject(conv, actor.ID, now); err != nil {
			return "", nil, err
		}
		return enums.NegotiationActionReject, nil, nil
	})
}

type transition func(conv *conversation, actor *models.User, lastActor uuid.UUID, now time.Time) (enums.NegotiationActionKind, *int64, error)

// act runs one state-machine step for either variant: lock the row, replay
// the transition rules against the kind-independent view, persist, record.
func (s *service) act(ctx context.Context, actorID uuid.UUID, target Target, negotiationID uuid.UUID, apply transition) (*NegotiationDTO, error) {
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown negotiation target")
	}

	var result *NegotiationDTO
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.gate.Check(ctx, tx); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		actor, err := s.users.FindByID(ctx, actorID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find actor")
		}
		if err := s.limiter.CheckAndRecord(ctx, tx, actor, enums.RateLimitActionNegotiationAction); err != nil {
			return err
		}

		loaded, err := s.lockConversation(ctx, repo, target, negotiationID)
		if err != nil {
			return err
		}

		lastActor := loaded.conv.OfferMaker
		if last, err := repo.LastEvent(ctx, negotiationID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load last event")
		} else if last != nil {
			lastActor = last.ActorID
		}

		now := s.now()
		kind, price, err := apply(&loaded.conv, actor, lastActor, now)
		if err != nil {
			return err
		}

		var acceptedUTID *string
		if kind == enums.NegotiationActionAccept {
			value := utid.Generate(actor.Role)
			acceptedUTID = &value
		}
		if err := loaded.save(ctx, loaded.conv, acceptedUTID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save negotiation")
		}
		if kind == enums.NegotiationActionReject {
			if err := loaded.clearRef(ctx); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear negotiation ref")
			}
		}
		if err := s.appendEvent(ctx, repo, negotiationID, actor.ID, kind, price); err != nil {
			return err
		}

		dto, err := loaded.reload(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload negotiation")
		}
		result = dto
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lockedConversation is one variant's row projected onto the shared view,
// with closures that write the outcome back to the right table.
type lockedConversation struct {
	conv     conversation
	save     func(ctx context.Context, conv conversation, acceptedUTID *string) error
	clearRef func(ctx context.Context) error
	reload   func(ctx context.Context) (*NegotiationDTO, error)
}

func (s *service) lockConversation(ctx context.Context, repo Repository, target Target, negotiationID uuid.UUID) (*lockedConversation, error) {
	switch target {
	case TargetUnit:
		row, err := repo.FindNegotiationForUpdate(ctx, negotiationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "negotiation not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock negotiation")
		}
		return &lockedConversation{
			conv: conversation{
				ID:           row.ID,
				Status:       row.Status,
				PriceCents:   row.CurrentPricePerKiloCents,
				ExpiresAt:    row.ExpiresAt,
				OfferMaker:   row.TraderID,
				Counterparty: row.FarmerID,
			},
			save: func(ctx context.Context, conv conversation, acceptedUTID *string) error {
				row.Status = conv.Status
				row.CurrentPricePerKiloCents = conv.PriceCents
				row.ExpiresAt = conv.ExpiresAt
				if acceptedUTID != nil {
					row.AcceptedUTID = acceptedUTID
				}
				return repo.SaveNegotiation(ctx, row)
			},
			clearRef: func(ctx context.Context) error {
				return repo.UpdateUnitNegotiationRef(ctx, row.UnitID, nil)
			},
			reload: func(ctx context.Context) (*NegotiationDTO, error) {
				dto := fromUnitModel(row)
				return &dto, nil
			},
		}, nil
	case TargetInventory:
		row, err := repo.FindInventoryNegotiationForUpdate(ctx, negotiationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "negotiation not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock negotiation")
		}
		return &lockedConversation{
			conv: conversation{
				ID:           row.ID,
				Status:       row.Status,
				PriceCents:   row.CurrentPricePerKiloCents,
				ExpiresAt:    row.ExpiresAt,
				OfferMaker:   row.BuyerID,
				Counterparty: row.TraderID,
			},
			save: func(ctx context.Context, conv conversation, acceptedUTID *string) error {
				row.Status = conv.Status
				row.CurrentPricePerKiloCents = conv.PriceCents
				row.ExpiresAt = conv.ExpiresAt
				if acceptedUTID != nil {
					row.AcceptedUTID = acceptedUTID
				}
				return repo.SaveInventoryNegotiation(ctx, row)
			},
			clearRef: func(ctx context.Context) error {
				// Inventory rows carry no negotiation ref; liveness is
				// re-derived by query.
				return nil
			},
			reload: func(ctx context.Context) (*NegotiationDTO, error) {
				dto := fromInventoryModel(row)
				return &dto, nil
			},
		}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown negotiation target")
	}
}

func (s *service) requireActor(ctx context.Context, userID uuid.UUID, role enums.Role, message string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find user")
	}
	if user.Role != role {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRole, message)
	}
	return user, nil
}

func (s *service) appendEvent(ctx context.Context, repo Repository, negotiationID, actorID uuid.UUID, kind enums.NegotiationActionKind, price *int64) error {
	event := &models.NegotiationEvent{
		ID:                uuid.New(),
		NegotiationID:     negotiationID,
		ActorID:           actorID,
		Kind:              kind,
		PricePerKiloCents: price,
	}
	if err := repo.AppendEvent(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append negotiation event")
	}
	return nil
}

func (s *service) Get(ctx context.Context, target Target, negotiationID uuid.UUID) (*NegotiationDTO, error) {
	switch target {
	case TargetUnit:
		row, err := s.repo.FindNegotiation(ctx, negotiationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "negotiation not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find negotiation")
		}
		dto := fromUnitModel(row)
		return &dto, nil
	case TargetInventory:
		row, err := s.repo.FindInventoryNegotiation(ctx, negotiationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "negotiation not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find negotiation")
		}
		dto := fromInventoryModel(row)
		return &dto, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown negotiation target")
	}
}

func (s *service) History(ctx context.Context, negotiationID uuid.UUID) ([]EventDTO, error) {
	events, err := s.repo.History(ctx, negotiationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load history")
	}
	dtos := make([]EventDTO, 0, len(events))
	for _, event := range events {
		dtos = append(dtos, fromEventModel(event))
	}
	return dtos, nil
}
