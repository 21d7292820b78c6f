package trading

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/agrilink/agrilink-backend/internal/exposure"
	"github.com/agrilink/agrilink-backend/internal/listings"
	"github.com/agrilink/agrilink-backend/internal/wallet"
	pkgmodels "github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/outbox"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (g gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return g.db.WithContext(ctx).Transaction(fn)
}

type stubGate struct {
	pilot bool
}

func (s stubGate) Check(ctx context.Context, tx *gorm.DB) error {
	if s.pilot {
		return pkgerrors.New(pkgerrors.CodePilotModeActive, "system is in pilot mode")
	}
	return nil
}

type stubLimiter struct {
	deny bool
}

func (s stubLimiter) CheckAndRecord(ctx context.Context, tx *gorm.DB, user *pkgmodels.User, action enums.RateLimitAction) error {
	if s.deny {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "limit reached")
	}
	return nil
}

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

type dbUserFinder struct {
	db *gorm.DB
}

func (f dbUserFinder) FindByID(ctx context.Context, id uuid.UUID) (*pkgmodels.User, error) {
	var user pkgmodels.User
	if err := f.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type lockFixture struct {
	db      *gorm.DB
	svc     Service
	sink    *recordingOutbox
	farmer  *pkgmodels.User
	trader  *pkgmodels.User
	listing *pkgmodels.Listing
	unit    *pkgmodels.ListingUnit
	units   []*pkgmodels.ListingUnit
}

func newLockFixture(t *testing.T, spendCap int64) *lockFixture {
	t.Helper()
	dsn := "file:trading_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&pkgmodels.User{},
		&pkgmodels.Listing{},
		&pkgmodels.ListingUnit{},
		&pkgmodels.Negotiation{},
		&pkgmodels.WalletLedgerEntry{},
		&pkgmodels.TraderInventory{},
		&pkgmodels.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	seedUser := func(role enums.Role) *pkgmodels.User {
		user := &pkgmodels.User{
			ID:           uuid.New(),
			Phone:        "+234805" + uuid.NewString()[:7],
			PasswordHash: "x",
			Role:         role,
			Alias:        "Alias" + uuid.NewString()[:8],
			IsActive:     true,
		}
		if err := db.Create(user).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
		return user
	}
	farmer := seedUser(enums.RoleFarmer)
	trader := seedUser(enums.RoleTrader)

	listing := &pkgmodels.Listing{
		ID:                uuid.New(),
		FarmerID:          farmer.ID,
		ProduceType:       "maize",
		QualityGrade:      "A",
		TotalKilos:        50,
		PricePerKiloCents: 2000,
		UnitSizeKilos:     10,
		TotalUnits:        5,
		Status:            enums.ListingStatusActive,
		CreationUTID:      "FRM-test",
	}
	if err := db.Create(listing).Error; err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	var units []*pkgmodels.ListingUnit
	for i := 1; i <= 5; i++ {
		unit := &pkgmodels.ListingUnit{
			ID:             uuid.New(),
			ListingID:      listing.ID,
			UnitNumber:     i,
			SizeKilos:      10,
			Status:         enums.UnitStatusAvailable,
			DeliveryStatus: enums.DeliveryStatusPending,
		}
		if err := db.Create(unit).Error; err != nil {
			t.Fatalf("seed unit: %v", err)
		}
		units = append(units, unit)
	}

	sink := &recordingOutbox{}
	walletSvc, err := wallet.NewService(wallet.ServiceParams{
		Tx:      gormTxRunner{db: db},
		Repo:    wallet.NewRepository(db),
		Gate:    stubGate{},
		Limiter: stubLimiter{},
		Outbox:  sink,
	})
	if err != nil {
		t.Fatalf("wallet service: %v", err)
	}
	calc, err := exposure.NewCalculator(db, stubSettings{defaultCap: spendCap})
	if err != nil {
		t.Fatalf("exposure calculator: %v", err)
	}
	listingSvc, err := listings.NewService(listings.ServiceParams{
		Tx:      gormTxRunner{db: db},
		Repo:    listings.NewRepository(db),
		Gate:    stubGate{},
		Limiter: stubLimiter{},
		Users:   dbUserFinder{db: db},
	})
	if err != nil {
		t.Fatalf("listings service: %v", err)
	}

	svc, err := NewService(ServiceParams{
		Tx:       gormTxRunner{db: db},
		Repo:     NewRepository(db),
		Gate:     stubGate{},
		Limiter:  stubLimiter{},
		Wallet:   walletSvc,
		Exposure: calc,
		Listings: listingSvc,
		Outbox:   sink,
	})
	if err != nil {
		t.Fatalf("trading service: %v", err)
	}

	return &lockFixture{
		db:      db,
		svc:     svc,
		sink:    sink,
		farmer:  farmer,
		trader:  trader,
		listing: listing,
		unit:    units[0],
		units:   units,
	}
}

func (f *lockFixture) deposit(t *testing.T, userID uuid.UUID, amount int64) {
	t.Helper()
	entry := &pkgmodels.WalletLedgerEntry{
		ID:                uuid.New(),
		UserID:            userID,
		UTID:              "SYS-" + uuid.NewString()[:8],
		Type:              enums.LedgerEntryTypeCapitalDeposit,
		AmountCents:       amount,
		BalanceAfterCents: amount,
	}
	if err := f.db.Create(entry).Error; err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
}

func (f *lockFixture) acceptNegotiation(t *testing.T, unit *pkgmodels.ListingUnit, priceCents int64) *pkgmodels.Negotiation {
	t.Helper()
	accepted := "FRM-accept-" + uuid.NewString()[:8]
	negotiation := &pkgmodels.Negotiation{
		ID:                       uuid.New(),
		UnitID:                   unit.ID,
		ListingID:                f.listing.ID,
		FarmerID:                 f.farmer.ID,
		TraderID:                 f.trader.ID,
		Status:                   enums.NegotiationStatusAccepted,
		CurrentPricePerKiloCents: priceCents,
		AcceptedUTID:             &accepted,
		ExpiresAt:                time.Now().UTC().Add(12 * time.Hour),
	}
	if err := f.db.Create(negotiation).Error; err != nil {
		t.Fatalf("seed negotiation: %v", err)
	}
	err := f.db.Model(&pkgmodels.ListingUnit{}).
		Where("id = ?", unit.ID).
		Update("active_negotiation_id", negotiation.ID).Error
	if err != nil {
		t.Fatalf("bind negotiation: %v", err)
	}
	return negotiation
}

func TestLockUnitHappyPath(t *testing.T) {
	f := newLockFixture(t, 500_000)
	ctx := context.Background()

	f.deposit(t, f.trader.ID, 100_000)
	f.acceptNegotiation(t, f.unit, 1800)

	before := time.Now().UTC()
	result, err := f.svc.LockUnit(ctx, f.trader.ID, f.unit.ID)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if result.UnitPriceCents != 18_000 {
		t.Fatalf("unit price: want 18000 got %d", result.UnitPriceCents)
	}
	if result.DeliveryDeadline.Before(before.Add(deliveryWindow - time.Minute)) {
		t.Fatalf("deadline should be six hours out, got %s", result.DeliveryDeadline)
	}

	var unit pkgmodels.ListingUnit
	if err := f.db.First(&unit, "id = ?", f.unit.ID).Error; err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	if unit.Status != enums.UnitStatusLocked {
		t.Fatalf("unit should be locked, got %s", unit.Status)
	}
	if unit.LockedBy == nil || *unit.LockedBy != f.trader.ID {
		t.Fatalf("unit should record the locking trader")
	}
	if unit.ActiveNegotiationID != nil {
		t.Fatalf("lock must clear the negotiation ref")
	}

	var entry pkgmodels.WalletLedgerEntry
	err = f.db.Where("user_id = ? AND type = ?", f.trader.ID, enums.LedgerEntryTypeCapitalLock).
		First(&entry).Error
	if err != nil {
		t.Fatalf("load lock entry: %v", err)
	}
	if entry.AmountCents != -18_000 {
		t.Fatalf("lock entry: want -18000 got %d", entry.AmountCents)
	}

	var reloaded pkgmodels.Listing
	if err := f.db.First(&reloaded, "id = ?", f.listing.ID).Error; err != nil {
		t.Fatalf("reload listing: %v", err)
	}
	if reloaded.Status != enums.ListingStatusPartiallyLocked {
		t.Fatalf("listing should be partially_locked, got %s", reloaded.Status)
	}

	if len(f.sink.events) != 1 || f.sink.events[0].EventType != enums.EventUnitLocked {
		t.Fatalf("expected a unit_locked event")
	}
}

func TestLockUnitSecondAttemptLoses(t *testing.T) {
	f := newLockFixture(t, 500_000)
	ctx := context.Background()

	f.deposit(t, f.trader.ID, 100_000)
	f.acceptNegotiation(t, f.unit, 1800)

	if _, err := f.svc.LockUnit(ctx, f.trader.ID, f.unit.ID); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	_, err := f.svc.LockUnit(ctx, f.trader.ID, f.unit.ID)
	if pkgerrors.As(err).Code() != pkgerrors.CodeUnitNotAvailable {
		t.Fatalf("loser must fail with UNIT_NOT_AVAILABLE, got %v", err)
	}

	var count int64
	err = f.db.Model(&pkgmodels.WalletLedgerEntry{}).
		Where("type = ?", enums.LedgerEntryTypeCapitalLock).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count locks: %v", err)
	}
	if count != 1 {
		t.Fatalf("exactly one capital_lock row expected, got %d", count)
	}
}

func TestLockUnitRequiresAcceptedNegotiation(t *testing.T) {
	f := newLockFixture(t, 500_000)
	ctx := context.Background()
	f.deposit(t, f.trader.ID, 100_000)

	_, err := f.svc.LockUnit(ctx, f.trader.ID, f.unit.ID)
	if pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("lock without negotiation should fail, got %v", err)
	}
}

func TestLockUnitRejectsForeignNegotiation(t *testing.T) {
	f := newLockFixture(t, 500_000)
	ctx := context.Background()
	f.deposit(t, f.trader.ID, 100_000)

	other := &pkgmodels.User{
		ID:           uuid.New(),
		Phone:        "+2348059999999",
		PasswordHash: "x",
		Role:         enums.RoleTrader,
		Alias:        "OtherTrader1",
		IsActive:     true,
	}
	if err := f.db.Create(other).Error; err != nil {
		t.Fatalf("seed other trader: %v", err)
	}
	negotiation := f.acceptNegotiation(t, f.unit, 1800)
	if err := f.db.Model(negotiation).Update("trader_id", other.ID).Error; err != nil {
		t.Fatalf("reassign negotiation: %v", err)
	}

	_, err := f.svc.LockUnit(ctx, f.trader.ID, f.unit.ID)
	if pkgerrors.As(err).Code() != pkgerrors.CodeForbidden {
		t.Fatalf("foreign negotiation should be forbidden, got %v", err)
	}
}

func TestLockUnitInsufficientCapital(t *testing.T) {
	f := newLockFixture(t, 500_000)
	ctx := context.Background()

	f.deposit(t, f.trader.ID, 10_000)
	f.acceptNegotiation(t, f.unit, 1800)

	_, err := f.svc.LockUnit(ctx, f.trader.ID, f.unit.ID)
	if pkgerrors.As(err).Code() != pkgerrors.CodeInsufficientCapital {
		t.Fatalf("expected insufficient capital, got %v", err)
	}

	var unit pkgmodels.ListingUnit
	if err := f.db.First(&unit, "id = ?", f.unit.ID).Error; err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	if unit.Status != enums.UnitStatusAvailable {
		t.Fatalf("failed lock must leave the unit available")
	}
}

func TestLockUnitSpendCapExceeded(t *testing.T) {
	f := newLockFixture(t, 10_000)
	ctx := context.Background()

	f.deposit(t, f.trader.ID, 100_000)
	f.acceptNegotiation(t, f.unit, 1800)

	_, err := f.svc.LockUnit(ctx, f.trader.ID, f.unit.ID)
	if pkgerrors.As(err).Code() != pkgerrors.CodeSpendCapExceeded {
		t.Fatalf("expected spend cap exceeded, got %v", err)
	}

	var count int64
	if err := f.db.Model(&pkgmodels.WalletLedgerEntry{}).
		Where("type = ?", enums.LedgerEntryTypeCapitalLock).
		Count(&count).Error; err != nil {
		t.Fatalf("count locks: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed lock must leave no ledger rows")
	}
}

func TestLockUnitRejectsNonTraders(t *testing.T) {
	f := newLockFixture(t, 500_000)
	_, err := f.svc.LockUnit(context.Background(), f.farmer.ID, f.unit.ID)
	if pkgerrors.As(err).Code() != pkgerrors.CodeInvalidRole {
		t.Fatalf("expected invalid role, got %v", err)
	}
}

func TestLockUnitBlockedInPilotMode(t *testing.T) {
	f := newLockFixture(t, 500_000)
	f.deposit(t, f.trader.ID, 100_000)
	f.acceptNegotiation(t, f.unit, 1800)

	pilotSvc, err := NewService(ServiceParams{
		Tx:       gormTxRunner{db: f.db},
		Repo:     NewRepository(f.db),
		Gate:     stubGate{pilot: true},
		Limiter:  stubLimiter{},
		Wallet:   mustWallet(t, f.db, f.sink),
		Exposure: mustCalculator(t, f.db),
		Listings: mustListings(t, f.db),
		Outbox:   f.sink,
	})
	if err != nil {
		t.Fatalf("pilot service: %v", err)
	}

	_, err = pilotSvc.LockUnit(context.Background(), f.trader.ID, f.unit.ID)
	if pkgerrors.As(err).Code() != pkgerrors.CodePilotModeActive {
		t.Fatalf("expected pilot mode error, got %v", err)
	}

	var unit pkgmodels.ListingUnit
	if err := f.db.First(&unit, "id = ?", f.unit.ID).Error; err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	if unit.Status != enums.UnitStatusAvailable {
		t.Fatalf("pilot mode must leave no side effects")
	}
}

func mustWallet(t *testing.T, db *gorm.DB, sink *recordingOutbox) walletLedger {
	t.Helper()
	svc, err := wallet.NewService(wallet.ServiceParams{
		Tx:      gormTxRunner{db: db},
		Repo:    wallet.NewRepository(db),
		Gate:    stubGate{},
		Limiter: stubLimiter{},
		Outbox:  sink,
	})
	if err != nil {
		t.Fatalf("wallet service: %v", err)
	}
	return svc
}

func mustCalculator(t *testing.T, db *gorm.DB) exposureCalculator {
	t.Helper()
	calc, err := exposure.NewCalculator(db, stubSettings{defaultCap: 500_000})
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	return calc
}

func mustListings(t *testing.T, db *gorm.DB) listingStatusRecomputer {
	t.Helper()
	svc, err := listings.NewService(listings.ServiceParams{
		Tx:      gormTxRunner{db: db},
		Repo:    listings.NewRepository(db),
		Gate:    stubGate{},
		Limiter: stubLimiter{},
		Users:   dbUserFinder{db: db},
	})
	if err != nil {
		t.Fatalf("listings service: %v", err)
	}
	return svc
}

func TestLockUnitExposureNeverExceedsCapUnderInterleaving(t *testing.T) {
	const spendCap = 60_000

	for _, seed := range []int64{1, 7, 42, 1999} {
		seed := seed
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			t.Parallel()
			f := newLockFixture(t, spendCap)
			ctx := context.Background()
			rng := rand.New(rand.NewSource(seed))

			calc, err := exposure.NewCalculator(f.db, stubSettings{defaultCap: spendCap})
			if err != nil {
				t.Fatalf("calculator: %v", err)
			}

			locked := 0
			nextUnit := 0
			for step := 0; step < 16; step++ {
				if rng.Intn(2) == 0 || nextUnit >= len(f.units) {
					f.deposit(t, f.trader.ID, int64(rng.Intn(4)+1)*10_000)
				} else {
					unit := f.units[nextUnit]
					nextUnit++
					f.acceptNegotiation(t, unit, int64(rng.Intn(2500)+500))

					_, err := f.svc.LockUnit(ctx, f.trader.ID, unit.ID)
					switch {
					case err == nil:
						locked++
					default:
						code := pkgerrors.As(err).Code()
						if code != pkgerrors.CodeSpendCapExceeded && code != pkgerrors.CodeInsufficientCapital {
							t.Fatalf("step %d: unexpected failure: %v", step, err)
						}
					}
				}

				exp, err := calc.Calculate(ctx, f.db, f.trader.ID)
				if err != nil {
					t.Fatalf("step %d: calculate exposure: %v", step, err)
				}
				if exp.TotalExposureCents > exp.SpendCapCents {
					t.Fatalf("step %d: exposure %d exceeds cap %d after %d locks",
						step, exp.TotalExposureCents, exp.SpendCapCents, locked)
				}
			}

			var lockRows int64
			if err := f.db.Model(&pkgmodels.WalletLedgerEntry{}).
				Where("user_id = ? AND type = ?", f.trader.ID, enums.LedgerEntryTypeCapitalLock).
				Count(&lockRows).Error; err != nil {
				t.Fatalf("count lock rows: %v", err)
			}
			if lockRows != int64(locked) {
				t.Fatalf("expected %d capital_lock rows, got %d", locked, lockRows)
			}
		})
	}
}
