package purchases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/agrilink/agrilink-backend/internal/wallet"
	"github.com/agrilink/agrilink-backend/pkg/db/models"
	dbtypes "github.com/agrilink/agrilink-backend/pkg/db/types"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/outbox"
	"github.com/agrilink/agrilink-backend/pkg/outbox/payloads"
	"github.com/agrilink/agrilink-backend/pkg/utid"
)

// Buyers have two days to collect their goods.
const pickupWindow = 48 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// settingsGate covers the pilot kill-switch, the purchase window flag and the
// fee configuration, all read inside the purchase transaction.
type settingsGate interface {
	Check(ctx context.Context, tx *gorm.DB) error
	PurchaseWindowOpen(ctx context.Context, tx *gorm.DB) (bool, error)
	Current(ctx context.Context, tx *gorm.DB) (*models.SystemSettings, error)
}

type rateLimiter interface {
	CheckAndRecord(ctx context.Context, tx *gorm.DB, user *models.User, action enums.RateLimitAction) error
}

type walletLedger interface {
	AppendEntry(ctx context.Context, tx *gorm.DB, input wallet.AppendEntryInput) (*models.WalletLedgerEntry, error)
	BalanceIn(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*wallet.Balances, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// PurchaseDTO is the buyer's view of a completed sale. It never carries the
// trader's acquisition or sale pricing, only what the buyer paid.
type PurchaseDTO struct {
	ID              uuid.UUID            `json:"id"`
	InventoryID     uuid.UUID            `json:"inventory_id"`
	ProduceType     string               `json:"produce_type"`
	Kilos           int                  `json:"kilos"`
	ServiceFeeCents int64                `json:"service_fee_cents"`
	TotalCostCents  int64                `json:"total_cost_cents"`
	PickupSLA       time.Time            `json:"pickup_sla"`
	Status          enums.PurchaseStatus `json:"status"`
	UTID            string               `json:"utid"`
	CreatedAt       time.Time            `json:"created_at"`
}

// Service sells trader inventory to buyers and tracks the pickup SLA.
type Service interface {
	Purchase(ctx context.Context, buyerID, inventoryID uuid.UUID, kilos int) (*PurchaseDTO, error)
	ConfirmPickup(ctx context.Context, actorID, purchaseID uuid.UUID) (*PurchaseDTO, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]PurchaseDTO, error)
	MarkOverduePickups(ctx context.Context) (int64, error)
}

type service struct {
	tx      txRunner
	repo    Repository
	gate    settingsGate
	limiter rateLimiter
	wallet  walletLedger
	outbox  outboxPublisher
	now     func() time.Time
}

// ServiceParams bundles the purchase service dependencies.
type ServiceParams struct {
	Tx      txRunner
	Repo    Repository
	Gate    settingsGate
	Limiter rateLimiter
	Wallet  walletLedger
	Outbox  outboxPublisher
	Now     func() time.Time
}

// NewService wires the purchase service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("purchases repository required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("settings gate required")
	}
	if params.Limiter == nil {
		return nil, fmt.Errorf("rate limiter required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
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
		wallet:  params.Wallet,
		outbox:  params.Outbox,
		now:     now,
	}, nil
}

func (s *service) Purchase(ctx context.Context, buyerID, inventoryID uuid.UUID, kilos int) (*PurchaseDTO, error) {
	var result *PurchaseDTO
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.gate.Check(ctx, tx); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		buyer, err := repo.LockUser(ctx, buyerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock buyer")
		}
		if buyer.Role != enums.RoleBuyer {
			return pkgerrors.New(pkgerrors.CodeInvalidRole, "only buyers purchase inventory")
		}

		open, err := s.gate.PurchaseWindowOpen(ctx, tx)
		if err != nil {
			return err
		}
		if !open {
			return pkgerrors.New(pkgerrors.CodePurchaseWindowClosed, "purchase window is closed")
		}

		if err := s.limiter.CheckAndRecord(ctx, tx, buyer, enums.RateLimitActionPurchase); err != nil {
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
		if kilos <= 0 || kilos > inventory.TotalKilos {
			return pkgerrors.New(pkgerrors.CodeInvalidKilos, "kilos must be positive and within the available stock")
		}

		salePrice, err := s.salePricePerKilo(ctx, repo, inventory, buyer.ID)
		if err != nil {
			return err
		}

		settings, err := s.gate.Current(ctx, tx)
		if err != nil {
			return err
		}
		baseCost, feeCents, totalCost := purchaseCost(salePrice, kilos, settings.ServiceFeePercent)

		balances, err := s.wallet.BalanceIn(ctx, tx, buyer.ID)
		if err != nil {
			return err
		}
		if balances.AvailableCapitalCents < totalCost {
			return pkgerrors.New(pkgerrors.CodeInsufficientCapital, "available capital is below the total cost")
		}

		now := s.now()
		purchaseUTID := utid.Generate(buyer.Role)
		soldID, err := s.consumeInventory(ctx, repo, inventory, kilos, now)
		if err != nil {
			return err
		}

		metadata, _ := json.Marshal(map[string]string{"inventory_id": soldID.String()})
		if _, err := s.wallet.AppendEntry(ctx, tx, wallet.AppendEntryInput{
			UserID:      buyer.ID,
			Type:        enums.LedgerEntryTypeCapitalSpend,
			AmountCents: -totalCost,
			UTID:        purchaseUTID,
			Metadata:    metadata,
		}); err != nil {
			return err
		}

		trader, err := repo.LockUser(ctx, inventory.TraderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock trader")
		}
		if _, err := s.wallet.AppendEntry(ctx, tx, wallet.AppendEntryInput{
			UserID:      trader.ID,
			Type:        enums.LedgerEntryTypeProfitCredit,
			AmountCents: baseCost,
			UTID:        utid.Generate(trader.Role),
			Metadata:    metadata,
		}); err != nil {
			return err
		}

		purchase := &models.BuyerPurchase{
			ID:              uuid.New(),
			BuyerID:         buyer.ID,
			TraderID:        trader.ID,
			InventoryID:     soldID,
			Kilos:           kilos,
			BaseCostCents:   baseCost,
			ServiceFeeCents: feeCents,
			TotalCostCents:  totalCost,
			PickupSLA:       now.Add(pickupWindow),
			Status:          enums.PurchaseStatusPendingPickup,
			UTID:            purchaseUTID,
		}
		if err := repo.Insert(ctx, purchase); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert purchase")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventPurchaseCompleted,
			AggregateType: enums.AggregateBuyerPurchase,
			AggregateID:   purchase.ID,
			Actor:         &outbox.ActorRef{UserID: buyer.ID, Alias: buyer.Alias, Role: string(buyer.Role)},
			Data: payloads.PurchaseCompletedEvent{
				PurchaseID:     purchase.ID,
				InventoryID:    soldID,
				BuyerAlias:     buyer.Alias,
				TraderAlias:    trader.Alias,
				ProduceType:    inventory.ProduceType,
				Kilos:          kilos,
				TotalCostCents: totalCost,
				PickupSLA:      purchase.PickupSLA,
				UTID:           purchaseUTID,
			},
			Version: 1,
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		dto := s.toDTO(purchase, inventory.ProduceType)
		result = &dto
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// salePricePerKilo prefers the buyer's accepted negotiation on the inventory
// and falls back to the acquisition price when no negotiation exists.
func (s *service) salePricePerKilo(ctx context.Context, repo Repository, inventory *models.TraderInventory, buyerID uuid.UUID) (int64, error) {
	negotiation, err := repo.FindAcceptedNegotiation(ctx, inventory.ID, buyerID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load accepted negotiation")
	}
	if negotiation != nil {
		return negotiation.CurrentPricePerKiloCents, nil
	}
	return inventory.PricePerKiloCents, nil
}

// purchaseCost computes base, fee and total in cents. The fee is a percent
// of the base, computed with decimal arithmetic and rounded half-up.
func purchaseCost(salePricePerKilo int64, kilos int, feePercent int) (base, fee, total int64) {
	baseDec := decimal.NewFromInt(salePricePerKilo).Mul(decimal.NewFromInt(int64(kilos)))
	feeDec := baseDec.Mul(decimal.NewFromInt(int64(feePercent))).Div(decimal.NewFromInt(100)).Round(0)
	base = baseDec.IntPart()
	fee = feeDec.IntPart()
	return base, fee, base + fee
}

// consumeInventory marks the sold kilos. A full purchase sells the record in
// place; a partial one carves out a sold record and leaves the remainder in
// storage, no longer a 100kg block.
func (s *service) consumeInventory(ctx context.Context, repo Repository, inventory *models.TraderInventory, kilos int, now time.Time) (uuid.UUID, error) {
	if kilos == inventory.TotalKilos {
		inventory.Status = enums.InventoryStatusSold
		inventory.SoldAt = &now
		if err := repo.SaveInventory(ctx, inventory); err != nil {
			return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sell inventory")
		}
		return inventory.ID, nil
	}

	sold := &models.TraderInventory{
		ID:                uuid.New(),
		TraderID:          inventory.TraderID,
		ProduceType:       inventory.ProduceType,
		QualityGrade:      inventory.QualityGrade,
		TotalKilos:        kilos,
		UnitIDs:           append(dbtypes.UUIDArray{}, inventory.UnitIDs...),
		PricePerKiloCents: inventory.PricePerKiloCents,
		StorageLocation:   inventory.StorageLocation,
		Status:            enums.InventoryStatusSold,
		Is100kgBlock:      false,
		UTID:              utid.GenerateSystem(),
		AcquiredAt:        inventory.AcquiredAt,
		SoldAt:            &now,
	}
	if err := repo.InsertInventory(ctx, sold); err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert sold record")
	}

	inventory.TotalKilos -= kilos
	inventory.Is100kgBlock = false
	if err := repo.SaveInventory(ctx, inventory); err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "shrink inventory")
	}
	return sold.ID, nil
}

func (s *service) ConfirmPickup(ctx context.Context, actorID, purchaseID uuid.UUID) (*PurchaseDTO, error) {
	var result *PurchaseDTO
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		purchase, err := repo.FindForUpdate(ctx, purchaseID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock purchase")
		}
		if actorID != purchase.BuyerID && actorID != purchase.TraderID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this purchase")
		}
		if purchase.Status == enums.PurchaseStatusPickedUp {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "purchase is already picked up")
		}

		now := s.now()
		purchase.Status = enums.PurchaseStatusPickedUp
		purchase.PickedUpAt = &now
		if err := repo.Save(ctx, purchase); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save purchase")
		}

		dto := s.toDTO(purchase, "")
		result = &dto
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]PurchaseDTO, error) {
	purchases, err := s.repo.ListForBuyer(ctx, buyerID, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list purchases")
	}
	dtos := make([]PurchaseDTO, 0, len(purchases))
	for i := range purchases {
		dtos = append(dtos, s.toDTO(&purchases[i], ""))
	}
	return dtos, nil
}

// MarkOverduePickups is the pickup SLA sweep run by the cron worker.
func (s *service) MarkOverduePickups(ctx context.Context) (int64, error) {
	var marked int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		marked, err = s.repo.WithTx(tx).MarkOverduePickups(ctx, s.now())
		return err
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark overdue pickups")
	}
	return marked, nil
}

// toDTO builds the buyer-facing view. BaseCost stays internal so trader-side
// pricing never leaks to buyers.
func (s *service) toDTO(purchase *models.BuyerPurchase, produceType string) PurchaseDTO {
	return PurchaseDTO{
		ID:              purchase.ID,
		InventoryID:     purchase.InventoryID,
		ProduceType:     produceType,
		Kilos:           purchase.Kilos,
		ServiceFeeCents: purchase.ServiceFeeCents,
		TotalCostCents:  purchase.TotalCostCents,
		PickupSLA:       purchase.PickupSLA,
		Status:          purchase.Status,
		UTID:            purchase.UTID,
		CreatedAt:       purchase.CreatedAt,
	}
}
