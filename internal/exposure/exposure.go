package exposure

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
)

// Exposure is a trader's total committed value counted against their spend
// cap. It is re-derived from source rows on every call; no cached value may
// gate a spend-cap decision.
type Exposure struct {
	LockedCapitalCents     int64 `json:"locked_capital_cents"`
	LockedOrdersValueCents int64 `json:"locked_orders_value_cents"`
	InventoryValueCents    int64 `json:"inventory_value_cents"`
	TotalExposureCents     int64 `json:"total_exposure_cents"`
	SpendCapCents          int64 `json:"spend_cap_cents"`
	RemainingCapacityCents int64 `json:"remaining_capacity_cents"`
}

type settingsReader interface {
	Current(ctx context.Context, tx *gorm.DB) (*models.SystemSettings, error)
}

// Calculator computes trader exposure. Pay-to-lock calls it inside its own
// transaction so the figures and the decision see one snapshot.
type Calculator interface {
	Calculate(ctx context.Context, tx *gorm.DB, traderID uuid.UUID) (*Exposure, error)
}

type calculator struct {
	db       *gorm.DB
	settings settingsReader
}

// NewCalculator wires the exposure calculator.
func NewCalculator(db *gorm.DB, settings settingsReader) (Calculator, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings reader required")
	}
	return &calculator{db: db, settings: settings}, nil
}

func (c *calculator) Calculate(ctx context.Context, tx *gorm.DB, traderID uuid.UUID) (*Exposure, error) {
	conn := c.db
	if tx != nil {
		conn = tx
	}
	conn = conn.WithContext(ctx)

	var trader models.User
	if err := conn.First(&trader, "id = ?", traderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find trader")
	}

	lockedCapital, err := c.lockedCapital(conn, traderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum locked capital")
	}
	lockedOrders, err := c.lockedOrdersValue(conn, traderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum locked orders")
	}
	inventoryValue, err := c.inventoryValue(conn, traderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum inventory value")
	}

	spendCap, err := c.spendCap(ctx, tx, &trader)
	if err != nil {
		return nil, err
	}

	total := lockedCapital + lockedOrders + inventoryValue
	return &Exposure{
		LockedCapitalCents:     lockedCapital,
		LockedOrdersValueCents: lockedOrders,
		InventoryValueCents:    inventoryValue,
		TotalExposureCents:     total,
		SpendCapCents:          spendCap,
		RemainingCapacityCents: spendCap - total,
	}, nil
}

// lockedCapital is -sum(capital_lock) - sum(capital_unlock): lock rows are
// negative and unlock rows positive, so live locks net out to a positive
// figure and settled ones to zero.
func (c *calculator) lockedCapital(conn *gorm.DB, traderID uuid.UUID) (int64, error) {
	var total int64
	err := conn.Model(&models.WalletLedgerEntry{}).
		Where("user_id = ? AND type IN ?", traderID, []enums.LedgerEntryType{
			enums.LedgerEntryTypeCapitalLock,
			enums.LedgerEntryTypeCapitalUnlock,
		}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	return -total, err
}

func (c *calculator) lockedOrdersValue(conn *gorm.DB, traderID uuid.UUID) (int64, error) {
	var total int64
	err := conn.Model(&models.ListingUnit{}).
		Joins("JOIN listings ON listings.id = listing_units.listing_id").
		Where("listing_units.locked_by = ? AND listing_units.status = ?", traderID, enums.UnitStatusLocked).
		Select("COALESCE(SUM(listings.price_per_kilo_cents * listing_units.size_kilos), 0)").
		Scan(&total).Error
	return total, err
}

func (c *calculator) inventoryValue(conn *gorm.DB, traderID uuid.UUID) (int64, error) {
	var total int64
	err := conn.Model(&models.TraderInventory{}).
		Where("trader_id = ? AND status = ?", traderID, enums.InventoryStatusInStorage).
		Select("COALESCE(SUM(price_per_kilo_cents * total_kilos), 0)").
		Scan(&total).Error
	return total, err
}

func (c *calculator) spendCap(ctx context.Context, tx *gorm.DB, trader *models.User) (int64, error) {
	if trader.CustomSpendCapCents != nil {
		return *trader.CustomSpendCapCents, nil
	}
	settings, err := c.settings.Current(ctx, tx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load settings")
	}
	return settings.DefaultSpendCapCents, nil
}
