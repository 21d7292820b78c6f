package exposure

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	pkgmodels "github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
)

type stubSettings struct {
	defaultCap int64
}

func (s stubSettings) Current(ctx context.Context, tx *gorm.DB) (*pkgmodels.SystemSettings, error) {
	return &pkgmodels.SystemSettings{
		ID:                   pkgmodels.SystemSettingsID,
		DefaultSpendCapCents: s.defaultCap,
		PurchaseWindowOpen:   true,
		ServiceFeePercent:    3,
	}, nil
}

func newExposureTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:exposure_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&pkgmodels.User{},
		&pkgmodels.Listing{},
		&pkgmodels.ListingUnit{},
		&pkgmodels.WalletLedgerEntry{},
		&pkgmodels.TraderInventory{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestCalculateSumsAllComponents(t *testing.T) {
	db := newExposureTestDB(t)
	ctx := context.Background()

	trader := &pkgmodels.User{
		ID:           uuid.New(),
		Phone:        "+2348041234567",
		PasswordHash: "x",
		Role:         enums.RoleTrader,
		Alias:        "SteadyRiver7",
		IsActive:     true,
	}
	if err := db.Create(trader).Error; err != nil {
		t.Fatalf("seed trader: %v", err)
	}

	farmer := &pkgmodels.User{
		ID:           uuid.New(),
		Phone:        "+2348041234568",
		PasswordHash: "x",
		Role:         enums.RoleFarmer,
		Alias:        "GreenValley4",
		IsActive:     true,
	}
	if err := db.Create(farmer).Error; err != nil {
		t.Fatalf("seed farmer: %v", err)
	}

	listing := &pkgmodels.Listing{
		ID:                uuid.New(),
		FarmerID:          farmer.ID,
		ProduceType:       "maize",
		QualityGrade:      "A",
		TotalKilos:        30,
		PricePerKiloCents: 2000,
		UnitSizeKilos:     10,
		TotalUnits:        3,
		Status:            enums.ListingStatusPartiallyLocked,
		CreationUTID:      "FRM-test",
	}
	if err := db.Create(listing).Error; err != nil {
		t.Fatalf("seed listing: %v", err)
	}

	now := time.Now().UTC()
	lockedUnit := &pkgmodels.ListingUnit{
		ID:             uuid.New(),
		ListingID:      listing.ID,
		UnitNumber:     1,
		SizeKilos:      10,
		Status:         enums.UnitStatusLocked,
		LockedBy:       &trader.ID,
		LockedAt:       &now,
		DeliveryStatus: enums.DeliveryStatusPending,
	}
	freeUnit := &pkgmodels.ListingUnit{
		ID:             uuid.New(),
		ListingID:      listing.ID,
		UnitNumber:     2,
		SizeKilos:      10,
		Status:         enums.UnitStatusAvailable,
		DeliveryStatus: enums.DeliveryStatusPending,
	}
	if err := db.Create(lockedUnit).Error; err != nil {
		t.Fatalf("seed locked unit: %v", err)
	}
	if err := db.Create(freeUnit).Error; err != nil {
		t.Fatalf("seed free unit: %v", err)
	}

	// One live 20000 lock: a -20000 lock row with no matching unlock.
	entries := []pkgmodels.WalletLedgerEntry{
		{ID: uuid.New(), UserID: trader.ID, UTID: "TRD-1", Type: enums.LedgerEntryTypeCapitalDeposit, AmountCents: 100_000, BalanceAfterCents: 100_000},
		{ID: uuid.New(), UserID: trader.ID, UTID: "TRD-2", Type: enums.LedgerEntryTypeCapitalLock, AmountCents: -20_000, BalanceAfterCents: 80_000},
	}
	for i := range entries {
		if err := db.Create(&entries[i]).Error; err != nil {
			t.Fatalf("seed ledger: %v", err)
		}
	}

	inventory := &pkgmodels.TraderInventory{
		ID:                uuid.New(),
		TraderID:          trader.ID,
		ProduceType:       "maize",
		QualityGrade:      "A",
		TotalKilos:        50,
		PricePerKiloCents: 1800,
		StorageLocation:   "lagos-depot",
		Status:            enums.InventoryStatusInStorage,
		UTID:              "TRD-3",
		AcquiredAt:        now,
	}
	if err := db.Create(inventory).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	calc, err := NewCalculator(db, stubSettings{defaultCap: 500_000})
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}

	exposure, err := calc.Calculate(ctx, nil, trader.ID)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if exposure.LockedCapitalCents != 20_000 {
		t.Fatalf("locked capital: want 20000 got %d", exposure.LockedCapitalCents)
	}
	if exposure.LockedOrdersValueCents != 20_000 {
		t.Fatalf("locked orders: want 20000 got %d", exposure.LockedOrdersValueCents)
	}
	if exposure.InventoryValueCents != 90_000 {
		t.Fatalf("inventory value: want 90000 got %d", exposure.InventoryValueCents)
	}
	if exposure.TotalExposureCents != 130_000 {
		t.Fatalf("total: want 130000 got %d", exposure.TotalExposureCents)
	}
	if exposure.SpendCapCents != 500_000 || exposure.RemainingCapacityCents != 370_000 {
		t.Fatalf("cap figures wrong: %+v", exposure)
	}
}

func TestCalculateHonorsCustomSpendCap(t *testing.T) {
	db := newExposureTestDB(t)
	customCap := int64(75_000)
	trader := &pkgmodels.User{
		ID:                  uuid.New(),
		Phone:               "+2348041234569",
		PasswordHash:        "x",
		Role:                enums.RoleTrader,
		Alias:               "QuietHill9",
		CustomSpendCapCents: &customCap,
		IsActive:            true,
	}
	if err := db.Create(trader).Error; err != nil {
		t.Fatalf("seed trader: %v", err)
	}

	calc, err := NewCalculator(db, stubSettings{defaultCap: 500_000})
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}

	exposure, err := calc.Calculate(context.Background(), nil, trader.ID)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if exposure.SpendCapCents != customCap {
		t.Fatalf("custom cap should win: want %d got %d", customCap, exposure.SpendCapCents)
	}
	if exposure.TotalExposureCents != 0 || exposure.RemainingCapacityCents != customCap {
		t.Fatalf("empty trader should have zero exposure: %+v", exposure)
	}
}

func TestUnlockedCapitalCarriesNoExposure(t *testing.T) {
	db := newExposureTestDB(t)
	trader := &pkgmodels.User{
		ID:           uuid.New(),
		Phone:        "+2348041234570",
		PasswordHash: "x",
		Role:         enums.RoleTrader,
		Alias:        "BrightField2",
		IsActive:     true,
	}
	if err := db.Create(trader).Error; err != nil {
		t.Fatalf("seed trader: %v", err)
	}

	// A settled lock: lock then unlock, netting to zero.
	entries := []pkgmodels.WalletLedgerEntry{
		{ID: uuid.New(), UserID: trader.ID, UTID: "TRD-4", Type: enums.LedgerEntryTypeCapitalLock, AmountCents: -30_000, BalanceAfterCents: -30_000},
		{ID: uuid.New(), UserID: trader.ID, UTID: "TRD-5", Type: enums.LedgerEntryTypeCapitalUnlock, AmountCents: 30_000, BalanceAfterCents: 0},
	}
	for i := range entries {
		if err := db.Create(&entries[i]).Error; err != nil {
			t.Fatalf("seed ledger: %v", err)
		}
	}

	calc, err := NewCalculator(db, stubSettings{defaultCap: 500_000})
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}

	exposure, err := calc.Calculate(context.Background(), nil, trader.ID)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if exposure.LockedCapitalCents != 0 {
		t.Fatalf("settled lock should net to zero, got %d", exposure.LockedCapitalCents)
	}
}
