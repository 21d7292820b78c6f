package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
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

// Aggregation target. Buyers only see inventory once it reaches exactly this
// size.
const blockSizeKilos = 100

// StorageLocation fallback for deliveries confirmed without one.
const defaultStorageLocation = "primary"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type pilotGate interface {
	Check(ctx context.Context, tx *gorm.DB) error
}

type walletLedger interface {
	AppendEntry(ctx context.Context, tx *gorm.DB, input wallet.AppendEntryInput) (*models.WalletLedgerEntry, error)
}

type listingStatusRecomputer interface {
	RecomputeStatus(ctx context.Context, tx *gorm.DB, listingID uuid.UUID) (enums.ListingStatus, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type adminChecker interface {
	RequireRole(ctx context.Context, userID uuid.UUID, role enums.Role) error
}

// Service settles deliveries into trader inventory, rolls stock into 100kg
// blocks, and runs the delivery SLA sweep.
type Service interface {
	ConfirmDelivery(ctx context.Context, farmerID, unitID uuid.UUID, storageLocation string) (*models.TraderInventory, error)
	CancelLock(ctx context.Context, adminID, unitID uuid.UUID) error
	FormBlocks(ctx context.Context, tx *gorm.DB, traderID uuid.UUID) (int, error)
	ListForTrader(ctx context.Context, traderID uuid.UUID) ([]models.TraderInventory, error)
	ListBlocks(ctx context.Context, produceType string, limit, offset int) ([]models.TraderInventory, error)
	MarkLateDeliveries(ctx context.Context) (int64, error)
}

type service struct {
	tx       txRunner
	repo     Repository
	gate     pilotGate
	wallet   walletLedger
	listings listingStatusRecomputer
	admins   adminChecker
	outbox   outboxPublisher
	now      func() time.Time
}

// ServiceParams bundles the inventory service dependencies.
type ServiceParams struct {
	Tx       txRunner
	Repo     Repository
	Gate     pilotGate
	Wallet   walletLedger
	Listings listingStatusRecomputer
	Admins   adminChecker
	Outbox   outboxPublisher
	Now      func() time.Time
}

// NewService wires the inventory service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("pilot gate required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet ledger required")
	}
	if params.Listings == nil {
		return nil, fmt.Errorf("listing status recomputer required")
	}
	if params.Admins == nil {
		return nil, fmt.Errorf("admin checker required")
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
		wallet:   params.Wallet,
		listings: params.Listings,
		admins:   params.Admins,
		outbox:   params.Outbox,
		now:      now,
	}, nil
}

// ConfirmDelivery settles a locked unit: the trader's lock is released and
// spent, the farmer is credited, and the kilos enter the trader's inventory.
// Money moves exactly once each way; the aggregator runs in the same
// transaction.
func (s *service) ConfirmDelivery(ctx context.Context, farmerID, unitID uuid.UUID, storageLocation string) (*models.TraderInventory, error) {
	location := strings.TrimSpace(storageLocation)
	if location == "" {
		location = defaultStorageLocation
	}

	var created *models.TraderInventory
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.gate.Check(ctx, tx); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		unit, err := repo.FindUnitForUpdate(ctx, unitID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "unit not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock unit row")
		}
		if unit.Status != enums.UnitStatusLocked ||
			(unit.DeliveryStatus != enums.DeliveryStatusPending && unit.DeliveryStatus != enums.DeliveryStatusLate) {
			return pkgerrors.New(pkgerrors.CodeInvalidDeliveryStatus, "unit is not awaiting delivery").
				WithDetails(map[string]any{
					"unit_status":     unit.Status,
					"delivery_status": unit.DeliveryStatus,
				})
		}

		listing, err := repo.FindListing(ctx, unit.ListingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load listing")
		}
		if listing.FarmerID != farmerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "unit belongs to another farmer's listing")
		}

		lockEntry, err := s.lockEntry(ctx, repo, unit)
		if err != nil {
			return err
		}
		lockAmount := -lockEntry.AmountCents
		pricePerKilo, err := s.dealPricePerKilo(ctx, repo, lockEntry, lockAmount, unit.SizeKilos)
		if err != nil {
			return err
		}

		trader, err := repo.LockUser(ctx, *unit.LockedBy)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock trader")
		}
		farmer, err := repo.LockUser(ctx, farmerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock farmer")
		}

		deliveryUTID := utid.Generate(farmer.Role)
		metadata, _ := json.Marshal(map[string]string{"unit_id": unit.ID.String()})

		// Trader side: release the hold, then spend the same amount.
		if _, err := s.wallet.AppendEntry(ctx, tx, wallet.AppendEntryInput{
			UserID:      trader.ID,
			Type:        enums.LedgerEntryTypeCapitalUnlock,
			AmountCents: lockAmount,
			UTID:        deliveryUTID,
			Metadata:    metadata,
		}); err != nil {
			return err
		}
		if _, err := s.wallet.AppendEntry(ctx, tx, wallet.AppendEntryInput{
			UserID:      trader.ID,
			Type:        enums.LedgerEntryTypeCapitalSpend,
			AmountCents: -lockAmount,
			UTID:        utid.Generate(trader.Role),
			Metadata:    metadata,
		}); err != nil {
			return err
		}
		// Farmer side: the sale proceeds are realized profit.
		if _, err := s.wallet.AppendEntry(ctx, tx, wallet.AppendEntryInput{
			UserID:      farmer.ID,
			Type:        enums.LedgerEntryTypeProfitCredit,
			AmountCents: lockAmount,
			UTID:        utid.Generate(farmer.Role),
			Metadata:    metadata,
		}); err != nil {
			return err
		}

		unit.Status = enums.UnitStatusDelivered
		unit.DeliveryStatus = enums.DeliveryStatusDelivered
		if err := repo.SaveUnit(ctx, unit); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save unit")
		}
		if _, err := s.listings.RecomputeStatus(ctx, tx, unit.ListingID); err != nil {
			return err
		}

		inventory := &models.TraderInventory{
			ID:                uuid.New(),
			TraderID:          trader.ID,
			ProduceType:       listing.ProduceType,
			QualityGrade:      listing.QualityGrade,
			TotalKilos:        unit.SizeKilos,
			UnitIDs:           dbtypes.UUIDArray{unit.ID},
			PricePerKiloCents: pricePerKilo,
			StorageLocation:   location,
			Status:            enums.InventoryStatusInStorage,
			Is100kgBlock:      false,
			UTID:              deliveryUTID,
			AcquiredAt:        s.now(),
		}
		if err := repo.InsertInventory(ctx, inventory); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert inventory")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventUnitDelivered,
			AggregateType: enums.AggregateListingUnit,
			AggregateID:   unit.ID,
			Actor:         &outbox.ActorRef{UserID: farmer.ID, Alias: farmer.Alias, Role: string(farmer.Role)},
			Data: payloads.UnitDeliveredEvent{
				UnitID:      unit.ID,
				InventoryID: inventory.ID,
				TraderAlias: trader.Alias,
				ProduceType: listing.ProduceType,
				Kilos:       unit.SizeKilos,
				UTID:        deliveryUTID,
			},
			Version: 1,
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		if _, err := s.FormBlocks(ctx, tx, trader.ID); err != nil {
			return err
		}

		created = inventory
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// lockEntry recovers the capital_lock row written at lock time.
func (s *service) lockEntry(ctx context.Context, repo Repository, unit *models.ListingUnit) (*models.WalletLedgerEntry, error) {
	if unit.LockedBy == nil || unit.LockUTID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "unit carries no lock record")
	}
	entry, err := repo.FindLedgerEntryByUTID(ctx, *unit.LockUTID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load lock entry")
	}
	if entry == nil || entry.Type != enums.LedgerEntryTypeCapitalLock {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "lock ledger entry missing")
	}
	return entry, nil
}

// dealPricePerKilo recovers the per-kilo deal price for a delivered unit from
// the negotiation referenced by its lock entry. When the negotiation record is
// gone, the held sum is split only if it divides evenly; a silent truncation
// would understate the acquisition price.
func (s *service) dealPricePerKilo(ctx context.Context, repo Repository, entry *models.WalletLedgerEntry, lockAmount int64, sizeKilos int) (int64, error) {
	var meta struct {
		NegotiationID uuid.UUID `json:"negotiation_id"`
	}
	if len(entry.Metadata) > 0 && json.Unmarshal(entry.Metadata, &meta) == nil && meta.NegotiationID != uuid.Nil {
		negotiation, err := repo.FindNegotiation(ctx, meta.NegotiationID)
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load negotiation")
		}
		if negotiation != nil {
			return negotiation.CurrentPricePerKiloCents, nil
		}
	}
	if sizeKilos <= 0 || lockAmount%int64(sizeKilos) != 0 {
		return 0, pkgerrors.New(pkgerrors.CodeStateConflict, "held sum does not split evenly across the unit").
			WithDetails(map[string]any{
				"lock_amount_cents": lockAmount,
				"size_kilos":        sizeKilos,
			})
	}
	return lockAmount / int64(sizeKilos), nil
}

// CancelLock is the admin escape hatch for a lock that will never deliver.
// The trader's hold is released and the unit is retired. Admin mutations
// bypass the pilot gate.
func (s *service) CancelLock(ctx context.Context, adminID, unitID uuid.UUID) error {
	if err := s.admins.RequireRole(ctx, adminID, enums.RoleAdmin); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		unit, err := repo.FindUnitForUpdate(ctx, unitID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "unit not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock unit row")
		}
		if unit.Status != enums.UnitStatusLocked {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only locked units can be cancelled")
		}

		lockEntry, err := s.lockEntry(ctx, repo, unit)
		if err != nil {
			return err
		}
		lockAmount := -lockEntry.AmountCents
		trader, err := repo.LockUser(ctx, *unit.LockedBy)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock trader")
		}

		cancelUTID := utid.Generate(enums.RoleAdmin)
		metadata, _ := json.Marshal(map[string]string{"unit_id": unit.ID.String()})
		if _, err := s.wallet.AppendEntry(ctx, tx, wallet.AppendEntryInput{
			UserID:      trader.ID,
			Type:        enums.LedgerEntryTypeCapitalUnlock,
			AmountCents: lockAmount,
			UTID:        cancelUTID,
			Metadata:    metadata,
		}); err != nil {
			return err
		}

		unit.Status = enums.UnitStatusCancelled
		unit.DeliveryStatus = enums.DeliveryStatusCancelled
		if err := repo.SaveUnit(ctx, unit); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save unit")
		}
		if _, err := s.listings.RecomputeStatus(ctx, tx, unit.ListingID); err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventLockCancelled,
			AggregateType: enums.AggregateListingUnit,
			AggregateID:   unit.ID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.RoleAdmin)},
			Data: payloads.LockCancelledEvent{
				UnitID:      unit.ID,
				TraderAlias: trader.Alias,
				RefundCents: lockAmount,
				UTID:        cancelUTID,
			},
			Version: 1,
		}
		return s.outbox.Emit(ctx, tx, event)
	})
}

// FormBlocks rolls a trader's loose in-storage stock into exactly-100kg
// blocks, consuming oldest stock first within each (produce, location) group
// and splitting the record that straddles the boundary. It is idempotent and
// a no-op below 100kg.
func (s *service) FormBlocks(ctx context.Context, tx *gorm.DB, traderID uuid.UUID) (int, error) {
	repo := s.repo.WithTx(tx)

	rows, err := repo.NonBlockInStorage(ctx, traderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load loose inventory")
	}

	type groupKey struct {
		produce  string
		location string
	}
	groups := make(map[groupKey][]*models.TraderInventory)
	var order []groupKey
	for i := range rows {
		key := groupKey{produce: rows[i].ProduceType, location: rows[i].StorageLocation}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], &rows[i])
	}

	trader, err := repo.FindUser(ctx, traderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load trader")
	}

	formed := 0
	for _, key := range order {
		records := groups[key]
		for {
			block, err := s.formOneBlock(ctx, repo, tx, trader, key.produce, key.location, records)
			if err != nil {
				return formed, err
			}
			if block == nil {
				break
			}
			formed++
			records = compactConsumed(records)
		}
	}
	return formed, nil
}

// formOneBlock consumes oldest records up to exactly 100kg, or returns nil
// when the group no longer carries enough.
func (s *service) formOneBlock(ctx context.Context, repo Repository, tx *gorm.DB, trader *models.User, produce, location string, records []*models.TraderInventory) (*models.TraderInventory, error) {
	total := 0
	for _, record := range records {
		total += record.TotalKilos
	}
	if total < blockSizeKilos {
		return nil, nil
	}

	remaining := blockSizeKilos
	valueCents := decimal.Zero
	var unitIDs dbtypes.UUIDArray
	var sourceIDs []uuid.UUID
	var acquiredAt time.Time
	qualityGrade := ""

	for _, record := range records {
		if remaining == 0 {
			break
		}
		if record.TotalKilos == 0 {
			continue
		}
		if acquiredAt.IsZero() {
			acquiredAt = record.AcquiredAt
			qualityGrade = record.QualityGrade
		}

		take := record.TotalKilos
		if take > remaining {
			take = remaining
		}
		remaining -= take
		valueCents = valueCents.Add(decimal.NewFromInt(record.PricePerKiloCents).Mul(decimal.NewFromInt(int64(take))))
		sourceIDs = append(sourceIDs, record.ID)

		if take == record.TotalKilos {
			unitIDs = append(unitIDs, record.UnitIDs...)
			record.TotalKilos = 0
			if err := repo.DeleteInventory(ctx, record.ID); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "consume inventory record")
			}
		} else {
			// The straddling record shrinks in place and keeps its price. Its
			// unit IDs split with the kilos: a unit moves to the block only
			// when the block absorbed all of it, so no unit is counted on
			// both sides.
			moved := 0
			if n := len(record.UnitIDs); n > 0 {
				if unitKilos := record.TotalKilos / n; unitKilos > 0 {
					moved = take / unitKilos
				}
			}
			unitIDs = append(unitIDs, record.UnitIDs[:moved]...)
			record.UnitIDs = record.UnitIDs[moved:]
			record.TotalKilos -= take
			if err := repo.SaveInventory(ctx, record); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "shrink inventory record")
			}
		}
	}

	weightedPrice := valueCents.Div(decimal.NewFromInt(blockSizeKilos)).Round(0).IntPart()
	blockUTID := utid.Generate(trader.Role)
	block := &models.TraderInventory{
		ID:                uuid.New(),
		TraderID:          trader.ID,
		ProduceType:       produce,
		QualityGrade:      qualityGrade,
		TotalKilos:        blockSizeKilos,
		UnitIDs:           unitIDs,
		PricePerKiloCents: weightedPrice,
		StorageLocation:   location,
		Status:            enums.InventoryStatusInStorage,
		Is100kgBlock:      true,
		UTID:              blockUTID,
		AcquiredAt:        acquiredAt,
	}
	if err := repo.InsertInventory(ctx, block); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert block")
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventBlockFormed,
		AggregateType: enums.AggregateTraderInventory,
		AggregateID:   block.ID,
		Actor:         &outbox.ActorRef{UserID: trader.ID, Alias: trader.Alias, Role: string(trader.Role)},
		Data: payloads.BlockFormedEvent{
			InventoryID:     block.ID,
			TraderAlias:     trader.Alias,
			ProduceType:     produce,
			StorageLocation: location,
			Kilos:           blockSizeKilos,
			SourceIDs:       sourceIDs,
			UTID:            blockUTID,
		},
		Version: 1,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, err
	}
	return block, nil
}

func compactConsumed(records []*models.TraderInventory) []*models.TraderInventory {
	kept := records[:0]
	for _, record := range records {
		if record.TotalKilos > 0 {
			kept = append(kept, record)
		}
	}
	return kept
}

func (s *service) ListForTrader(ctx context.Context, traderID uuid.UUID) ([]models.TraderInventory, error) {
	return s.repo.ListForTrader(ctx, traderID)
}

func (s *service) ListBlocks(ctx context.Context, produceType string, limit, offset int) ([]models.TraderInventory, error) {
	return s.repo.ListBlocksInStorage(ctx, produceType, limit, offset)
}

// MarkLateDeliveries is the delivery SLA sweep run by the cron worker.
func (s *service) MarkLateDeliveries(ctx context.Context) (int64, error) {
	var marked int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		marked, err = s.repo.WithTx(tx).MarkLateDeliveries(ctx, s.now())
		return err
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark late deliveries")
	}
	return marked, nil
}
