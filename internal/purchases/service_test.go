package purchases

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

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

type stubSettings struct {
	pilot        bool
	windowClosed bool
	feePercent   int
}

func (s stubSettings) Check(ctx context.Context, tx *gorm.DB) error {
	if s.pilot {
		return pkgerrors.New(pkgerrors.CodePilotModeActive, "system is in pilot mode")
	}
	return nil
}

func (s stubSettings) PurchaseWindowOpen(ctx context.Context, tx *gorm.DB) (bool, error) {
	return !s.windowClosed, nil
}

func (s stubSettings) Current(ctx context.Context, tx *gorm.DB) (*pkgmodels.SystemSettings, error) {
	return &pkgmodels.SystemSettings{ServiceFeePercent: s.feePercent, PurchaseWindowOpen: !s.windowClosed}, nil
}

type stubLimiter struct {
	deny bool
}

func (s stubLimiter) CheckAndRecord(ctx context.Context, tx *gorm.DB, user *pkgmodels.User, action enums.RateLimitAction) error {
	if s.deny {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests")
	}
	return nil
}

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingOutbox) count(eventType enums.OutboxEventType) int {
	n := 0
	for _, event := range r.events {
		if event.EventType == eventType {
			n++
		}
	}
	return n
}

type purchaseFixture struct {
	db     *gorm.DB
	svc    Service
	wallet wallet.Service
	sink   *recordingOutbox
	buyer  *pkgmodels.User
	trader *pkgmodels.User
	now    time.Time
}

func newPurchaseFixture(t *testing.T, gate stubSettings, limiter stubLimiter) *purchaseFixture {
	t.Helper()
	dsn := "file:purchases_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&pkgmodels.User{},
		&pkgmodels.WalletLedgerEntry{},
		&pkgmodels.TraderInventory{},
		&pkgmodels.InventoryNegotiation{},
		&pkgmodels.BuyerPurchase{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	seedUser := func(role enums.Role) *pkgmodels.User {
		user := &pkgmodels.User{
			ID:           uuid.New(),
			Phone:        "+234806" + uuid.NewString()[:7],
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

	sink := &recordingOutbox{}
	walletSvc, err := wallet.NewService(wallet.ServiceParams{
		Tx:      gormTxRunner{db: db},
		Repo:    wallet.NewRepository(db),
		Gate:    stubSettings{},
		Limiter: stubLimiter{},
		Outbox:  sink,
	})
	if err != nil {
		t.Fatalf("wallet service: %v", err)
	}

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	svc, err := NewService(ServiceParams{
		Tx:      gormTxRunner{db: db},
		Repo:    NewRepository(db),
		Gate:    gate,
		Limiter: limiter,
		Wallet:  walletSvc,
		Outbox:  sink,
		Now:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("purchase service: %v", err)
	}

	return &purchaseFixture{
		db:     db,
		svc:    svc,
		wallet: walletSvc,
		sink:   sink,
		buyer:  seedUser(enums.RoleBuyer),
		trader: seedUser(enums.RoleTrader),
		now:    now,
	}
}

func (f *purchaseFixture) seedInventory(t *testing.T, kilos int, pricePerKilo int64) *pkgmodels.TraderInventory {
	t.Helper()
	inventory := &pkgmodels.TraderInventory{
		ID:                uuid.New(),
		TraderID:          f.trader.ID,
		ProduceType:       "maize",
		QualityGrade:      "A",
		TotalKilos:        kilos,
		PricePerKiloCents: pricePerKilo,
		StorageLocation:   "primary",
		Status:            enums.InventoryStatusInStorage,
		Is100kgBlock:      kilos == 100,
		UTID:              "SYS-test-" + uuid.NewString()[:8],
		AcquiredAt:        f.now.Add(-24 * time.Hour),
	}
	if err := f.db.Create(inventory).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	return inventory
}

func (f *purchaseFixture) fund(t *testing.T, userID uuid.UUID, amountCents int64) {
	t.Helper()
	if _, err := f.wallet.Deposit(context.Background(), userID, amountCents, "dep-"+uuid.NewString()[:8]); err != nil {
		t.Fatalf("fund user: %v", err)
	}
}

func TestPurchaseChargesFeeAndSettles(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3}, stubLimiter{})
	inventory := f.seedInventory(t, 100, 2500)
	f.fund(t, f.buyer.ID, 300_000)

	dto, err := f.svc.Purchase(context.Background(), f.buyer.ID, inventory.ID, 100)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if dto.ServiceFeeCents != 7_500 || dto.TotalCostCents != 257_500 {
		t.Fatalf("fee math off: fee=%d total=%d", dto.ServiceFeeCents, dto.TotalCostCents)
	}
	if !dto.PickupSLA.Equal(f.now.Add(48 * time.Hour)) {
		t.Fatalf("pickup SLA should be 48h out, got %v", dto.PickupSLA)
	}
	if dto.Status != enums.PurchaseStatusPendingPickup {
		t.Fatalf("expected pending_pickup, got %s", dto.Status)
	}

	buyerBal, err := f.wallet.Balance(context.Background(), f.buyer.ID)
	if err != nil {
		t.Fatalf("buyer balance: %v", err)
	}
	if buyerBal.AvailableCapitalCents != 42_500 {
		t.Fatalf("buyer should have 42500 left, got %d", buyerBal.AvailableCapitalCents)
	}

	traderBal, err := f.wallet.Balance(context.Background(), f.trader.ID)
	if err != nil {
		t.Fatalf("trader balance: %v", err)
	}
	if traderBal.ProfitCents != 250_000 {
		t.Fatalf("trader should receive the base cost only, got %d", traderBal.ProfitCents)
	}

	var reloaded pkgmodels.TraderInventory
	if err := f.db.First(&reloaded, "id = ?", inventory.ID).Error; err != nil {
		t.Fatalf("reload inventory: %v", err)
	}
	if reloaded.Status != enums.InventoryStatusSold || reloaded.SoldAt == nil {
		t.Fatalf("full purchase should sell the record in place, got %s", reloaded.Status)
	}
	if f.sink.count(enums.EventPurchaseCompleted) != 1 {
		t.Fatalf("expected one purchase_completed event")
	}
}

func TestPurchaseUsesNegotiatedPrice(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3}, stubLimiter{})
	inventory := f.seedInventory(t, 100, 2500)
	f.fund(t, f.buyer.ID, 300_000)

	negotiation := &pkgmodels.InventoryNegotiation{
		ID:                       uuid.New(),
		InventoryID:              inventory.ID,
		TraderID:                 f.trader.ID,
		BuyerID:                  f.buyer.ID,
		Status:                   enums.NegotiationStatusAccepted,
		CurrentPricePerKiloCents: 2000,
		ExpiresAt:                f.now.Add(time.Hour),
	}
	if err := f.db.Create(negotiation).Error; err != nil {
		t.Fatalf("seed negotiation: %v", err)
	}

	dto, err := f.svc.Purchase(context.Background(), f.buyer.ID, inventory.ID, 100)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if dto.TotalCostCents != 206_000 {
		t.Fatalf("accepted price should drive the cost: got total %d", dto.TotalCostCents)
	}

	traderBal, err := f.wallet.Balance(context.Background(), f.trader.ID)
	if err != nil {
		t.Fatalf("trader balance: %v", err)
	}
	if traderBal.ProfitCents != 200_000 {
		t.Fatalf("trader base should use the negotiated price, got %d", traderBal.ProfitCents)
	}
}

func TestPartialPurchaseSplitsRecord(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3}, stubLimiter{})
	inventory := f.seedInventory(t, 100, 2500)
	f.fund(t, f.buyer.ID, 300_000)

	dto, err := f.svc.Purchase(context.Background(), f.buyer.ID, inventory.ID, 40)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if dto.Kilos != 40 || dto.TotalCostCents != 103_000 {
		t.Fatalf("40kg at 2500 + 3%% should cost 103000, got %d", dto.TotalCostCents)
	}
	if dto.InventoryID == inventory.ID {
		t.Fatalf("partial purchase should reference a carved-out sold record")
	}

	var remainder pkgmodels.TraderInventory
	if err := f.db.First(&remainder, "id = ?", inventory.ID).Error; err != nil {
		t.Fatalf("reload remainder: %v", err)
	}
	if remainder.TotalKilos != 60 || remainder.Status != enums.InventoryStatusInStorage {
		t.Fatalf("remainder should stay in storage with 60kg, got %d %s", remainder.TotalKilos, remainder.Status)
	}
	if remainder.Is100kgBlock {
		t.Fatalf("remainder is no longer a 100kg block")
	}

	var sold pkgmodels.TraderInventory
	if err := f.db.First(&sold, "id = ?", dto.InventoryID).Error; err != nil {
		t.Fatalf("reload sold record: %v", err)
	}
	if sold.TotalKilos != 40 || sold.Status != enums.InventoryStatusSold || sold.SoldAt == nil {
		t.Fatalf("sold record should carry 40kg, got %d %s", sold.TotalKilos, sold.Status)
	}
}

func TestPurchaseWindowClosed(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3, windowClosed: true}, stubLimiter{})
	inventory := f.seedInventory(t, 100, 2500)
	f.fund(t, f.buyer.ID, 300_000)

	_, err := f.svc.Purchase(context.Background(), f.buyer.ID, inventory.ID, 100)
	if pkgerrors.As(err).Code() != pkgerrors.CodePurchaseWindowClosed {
		t.Fatalf("expected PURCHASE_WINDOW_CLOSED, got %v", err)
	}
}

func TestPurchaseInsufficientCapitalLeavesNoTrace(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3}, stubLimiter{})
	inventory := f.seedInventory(t, 100, 2500)
	f.fund(t, f.buyer.ID, 100_000)

	_, err := f.svc.Purchase(context.Background(), f.buyer.ID, inventory.ID, 100)
	if pkgerrors.As(err).Code() != pkgerrors.CodeInsufficientCapital {
		t.Fatalf("expected INSUFFICIENT_CAPITAL, got %v", err)
	}

	var reloaded pkgmodels.TraderInventory
	if err := f.db.First(&reloaded, "id = ?", inventory.ID).Error; err != nil {
		t.Fatalf("reload inventory: %v", err)
	}
	if reloaded.Status != enums.InventoryStatusInStorage || reloaded.TotalKilos != 100 {
		t.Fatalf("failed purchase must not touch the inventory, got %d %s", reloaded.TotalKilos, reloaded.Status)
	}

	var spends int64
	f.db.Model(&pkgmodels.WalletLedgerEntry{}).
		Where("type = ?", enums.LedgerEntryTypeCapitalSpend).
		Count(&spends)
	if spends != 0 {
		t.Fatalf("no spend rows should exist, found %d", spends)
	}
	var purchases int64
	f.db.Model(&pkgmodels.BuyerPurchase{}).Count(&purchases)
	if purchases != 0 {
		t.Fatalf("no purchase rows should exist, found %d", purchases)
	}
}

func TestPurchaseRejectsInvalidKilos(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3}, stubLimiter{})
	inventory := f.seedInventory(t, 100, 2500)
	f.fund(t, f.buyer.ID, 500_000)

	for _, kilos := range []int{0, -5, 101} {
		_, err := f.svc.Purchase(context.Background(), f.buyer.ID, inventory.ID, kilos)
		if pkgerrors.As(err).Code() != pkgerrors.CodeInvalidKilos {
			t.Fatalf("kilos=%d: expected INVALID_KILOS, got %v", kilos, err)
		}
	}
}

func TestPurchaseRequiresBuyerRole(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3}, stubLimiter{})
	inventory := f.seedInventory(t, 100, 2500)

	_, err := f.svc.Purchase(context.Background(), f.trader.ID, inventory.ID, 100)
	if pkgerrors.As(err).Code() != pkgerrors.CodeInvalidRole {
		t.Fatalf("expected INVALID_ROLE, got %v", err)
	}
}

func TestPurchaseRejectsSoldInventory(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3}, stubLimiter{})
	inventory := f.seedInventory(t, 100, 2500)
	f.fund(t, f.buyer.ID, 600_000)

	if _, err := f.svc.Purchase(context.Background(), f.buyer.ID, inventory.ID, 100); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	_, err := f.svc.Purchase(context.Background(), f.buyer.ID, inventory.ID, 100)
	if pkgerrors.As(err).Code() != pkgerrors.CodeInventoryNotAvailable {
		t.Fatalf("expected INVENTORY_NOT_AVAILABLE, got %v", err)
	}
}

func TestPurchaseBlockedInPilotMode(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3, pilot: true}, stubLimiter{})
	inventory := f.seedInventory(t, 100, 2500)

	_, err := f.svc.Purchase(context.Background(), f.buyer.ID, inventory.ID, 100)
	if pkgerrors.As(err).Code() != pkgerrors.CodePilotModeActive {
		t.Fatalf("expected PILOT_MODE_ACTIVE, got %v", err)
	}
	var purchases int64
	f.db.Model(&pkgmodels.BuyerPurchase{}).Count(&purchases)
	if purchases != 0 {
		t.Fatalf("pilot mode must block side effects, found %d rows", purchases)
	}
}

func TestPurchaseRateLimited(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3}, stubLimiter{deny: true})
	inventory := f.seedInventory(t, 100, 2500)
	f.fund(t, f.buyer.ID, 300_000)

	_, err := f.svc.Purchase(context.Background(), f.buyer.ID, inventory.ID, 100)
	if pkgerrors.As(err).Code() != pkgerrors.CodeRateLimit {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}
}

func TestConfirmPickup(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3}, stubLimiter{})
	inventory := f.seedInventory(t, 100, 2500)
	f.fund(t, f.buyer.ID, 300_000)

	dto, err := f.svc.Purchase(context.Background(), f.buyer.ID, inventory.ID, 100)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	outsider := uuid.New()
	if _, err := f.svc.ConfirmPickup(context.Background(), outsider, dto.ID); pkgerrors.As(err).Code() != pkgerrors.CodeForbidden {
		t.Fatalf("outsiders cannot confirm pickup, got %v", err)
	}

	picked, err := f.svc.ConfirmPickup(context.Background(), f.buyer.ID, dto.ID)
	if err != nil {
		t.Fatalf("confirm pickup: %v", err)
	}
	if picked.Status != enums.PurchaseStatusPickedUp {
		t.Fatalf("expected picked_up, got %s", picked.Status)
	}

	var reloaded pkgmodels.BuyerPurchase
	if err := f.db.First(&reloaded, "id = ?", dto.ID).Error; err != nil {
		t.Fatalf("reload purchase: %v", err)
	}
	if reloaded.PickedUpAt == nil {
		t.Fatalf("picked_up_at should be set")
	}

	if _, err := f.svc.ConfirmPickup(context.Background(), f.buyer.ID, dto.ID); pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("double confirm should conflict, got %v", err)
	}
}

func TestTraderCanConfirmPickup(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3}, stubLimiter{})
	inventory := f.seedInventory(t, 100, 2500)
	f.fund(t, f.buyer.ID, 300_000)

	dto, err := f.svc.Purchase(context.Background(), f.buyer.ID, inventory.ID, 100)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	picked, err := f.svc.ConfirmPickup(context.Background(), f.trader.ID, dto.ID)
	if err != nil {
		t.Fatalf("trader confirm: %v", err)
	}
	if picked.Status != enums.PurchaseStatusPickedUp {
		t.Fatalf("expected picked_up, got %s", picked.Status)
	}
}

func TestMarkOverduePickups(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3}, stubLimiter{})

	stale := &pkgmodels.BuyerPurchase{
		ID:             uuid.New(),
		BuyerID:        f.buyer.ID,
		TraderID:       f.trader.ID,
		InventoryID:    uuid.New(),
		Kilos:          100,
		BaseCostCents:  250_000,
		ServiceFeeCents: 7_500,
		TotalCostCents: 257_500,
		PickupSLA:      f.now.Add(-time.Hour),
		Status:         enums.PurchaseStatusPendingPickup,
		UTID:           "BYR-test-" + uuid.NewString()[:8],
	}
	if err := f.db.Create(stale).Error; err != nil {
		t.Fatalf("seed stale purchase: %v", err)
	}

	marked, err := f.svc.MarkOverduePickups(context.Background())
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if marked != 1 {
		t.Fatalf("expected 1 overdue purchase, got %d", marked)
	}

	var reloaded pkgmodels.BuyerPurchase
	if err := f.db.First(&reloaded, "id = ?", stale.ID).Error; err != nil {
		t.Fatalf("reload purchase: %v", err)
	}
	if reloaded.Status != enums.PurchaseStatusOverdue {
		t.Fatalf("expected overdue, got %s", reloaded.Status)
	}

	// The purchase can still be collected after going overdue.
	if _, err := f.svc.ConfirmPickup(context.Background(), f.buyer.ID, stale.ID); err != nil {
		t.Fatalf("overdue pickup should still confirm: %v", err)
	}

	again, err := f.svc.MarkOverduePickups(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again != 0 {
		t.Fatalf("sweep should be idempotent, got %d", again)
	}
}

func TestListForBuyer(t *testing.T) {
	f := newPurchaseFixture(t, stubSettings{feePercent: 3}, stubLimiter{})
	first := f.seedInventory(t, 50, 2000)
	second := f.seedInventory(t, 50, 2000)
	f.fund(t, f.buyer.ID, 500_000)

	if _, err := f.svc.Purchase(context.Background(), f.buyer.ID, first.ID, 50); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	if _, err := f.svc.Purchase(context.Background(), f.buyer.ID, second.ID, 50); err != nil {
		t.Fatalf("second purchase: %v", err)
	}

	dtos, err := f.svc.ListForBuyer(context.Background(), f.buyer.ID, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(dtos) != 2 {
		t.Fatalf("expected 2 purchases, got %d", len(dtos))
	}
	for _, dto := range dtos {
		if dto.TotalCostCents != 103_000 {
			t.Fatalf("50kg at 2000 + 3%% should cost 103000, got %d", dto.TotalCostCents)
		}
	}
}
