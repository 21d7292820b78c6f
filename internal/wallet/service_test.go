package wallet

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	pkgmodels "github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/outbox"
	"github.com/agrilink/agrilink-backend/pkg/utid"
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

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

func newWalletTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:wallet_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&pkgmodels.User{}, &pkgmodels.WalletLedgerEntry{}, &pkgmodels.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedWalletUser(t *testing.T, db *gorm.DB, role enums.Role) *pkgmodels.User {
	t.Helper()
	user := &pkgmodels.User{
		ID:           uuid.New(),
		Phone:        "+234801" + uuid.NewString()[:7],
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

func newWalletTestService(t *testing.T, db *gorm.DB, gate stubGate, limiter stubLimiter, sink *recordingOutbox) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Tx:      gormTxRunner{db: db},
		Repo:    NewRepository(db),
		Gate:    gate,
		Limiter: limiter,
		Outbox:  sink,
	})
	if err != nil {
		t.Fatalf("new wallet service: %v", err)
	}
	return svc
}

func TestDepositCreditsAndEmits(t *testing.T) {
	db := newWalletTestDB(t)
	trader := seedWalletUser(t, db, enums.RoleTrader)
	sink := &recordingOutbox{}
	svc := newWalletTestService(t, db, stubGate{}, stubLimiter{}, sink)

	entry, err := svc.Deposit(context.Background(), trader.ID, 250_000, "gw-ref-1")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if entry.AmountCents != 250_000 || entry.Type != enums.LedgerEntryTypeCapitalDeposit {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.BalanceAfterCents != 250_000 {
		t.Fatalf("expected balance snapshot 250000, got %d", entry.BalanceAfterCents)
	}
	if len(sink.events) != 1 || sink.events[0].EventType != enums.EventDepositConfirmed {
		t.Fatalf("expected deposit_confirmed event")
	}

	bal, err := svc.Balance(context.Background(), trader.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.AvailableCapitalCents != 250_000 || bal.LockedCapitalCents != 0 {
		t.Fatalf("unexpected balances %+v", bal)
	}
}

func TestDepositIdempotentOnExternalRef(t *testing.T) {
	db := newWalletTestDB(t)
	trader := seedWalletUser(t, db, enums.RoleTrader)
	sink := &recordingOutbox{}
	svc := newWalletTestService(t, db, stubGate{}, stubLimiter{}, sink)

	first, err := svc.Deposit(context.Background(), trader.ID, 100_000, "gw-ref-dup")
	if err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	second, err := svc.Deposit(context.Background(), trader.ID, 100_000, "gw-ref-dup")
	if err != nil {
		t.Fatalf("replayed deposit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay should return original entry")
	}

	var count int64
	if err := db.Model(&pkgmodels.WalletLedgerEntry{}).Count(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single ledger row, got %d", count)
	}
	if len(sink.events) != 1 {
		t.Fatalf("replay must not emit a second event")
	}
}

func TestDepositBlockedInPilotMode(t *testing.T) {
	db := newWalletTestDB(t)
	trader := seedWalletUser(t, db, enums.RoleTrader)
	svc := newWalletTestService(t, db, stubGate{pilot: true}, stubLimiter{}, &recordingOutbox{})

	_, err := svc.Deposit(context.Background(), trader.ID, 1000, "gw-ref-2")
	if pkgerrors.As(err).Code() != pkgerrors.CodePilotModeActive {
		t.Fatalf("expected pilot mode error, got %v", err)
	}
}

func TestBalanceTracksLockLifecycle(t *testing.T) {
	db := newWalletTestDB(t)
	trader := seedWalletUser(t, db, enums.RoleTrader)
	svc := newWalletTestService(t, db, stubGate{}, stubLimiter{}, &recordingOutbox{})
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, trader.ID, 500_000, "gw-ref-3"); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.AppendEntry(ctx, tx, AppendEntryInput{
			UserID:      trader.ID,
			Type:        enums.LedgerEntryTypeCapitalLock,
			AmountCents: -120_000,
			UTID:        utid.Generate(enums.RoleTrader),
		}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append lock: %v", err)
	}

	bal, err := svc.Balance(ctx, trader.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.AvailableCapitalCents != 380_000 {
		t.Fatalf("available should reflect the lock, got %d", bal.AvailableCapitalCents)
	}
	if bal.LockedCapitalCents != 120_000 {
		t.Fatalf("locked capital should be 120000, got %d", bal.LockedCapitalCents)
	}

	// Delivery settlement: unlock then spend, farmer-side credit not modeled here.
	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.AppendEntry(ctx, tx, AppendEntryInput{
			UserID:      trader.ID,
			Type:        enums.LedgerEntryTypeCapitalUnlock,
			AmountCents: 120_000,
			UTID:        utid.Generate(enums.RoleTrader),
		}); err != nil {
			return err
		}
		_, err := svc.AppendEntry(ctx, tx, AppendEntryInput{
			UserID:      trader.ID,
			Type:        enums.LedgerEntryTypeCapitalSpend,
			AmountCents: -120_000,
			UTID:        utid.Generate(enums.RoleTrader),
		})
		return err
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	bal, err = svc.Balance(ctx, trader.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.LockedCapitalCents != 0 {
		t.Fatalf("locked capital should unwind to zero, got %d", bal.LockedCapitalCents)
	}
	if bal.AvailableCapitalCents != 380_000 {
		t.Fatalf("trader should have paid exactly once, got %d", bal.AvailableCapitalCents)
	}
}

func TestWithdrawProfitInsufficient(t *testing.T) {
	db := newWalletTestDB(t)
	farmer := seedWalletUser(t, db, enums.RoleFarmer)
	svc := newWalletTestService(t, db, stubGate{}, stubLimiter{}, &recordingOutbox{})

	_, err := svc.WithdrawProfit(context.Background(), farmer.ID, 10_000)
	if pkgerrors.As(err).Code() != pkgerrors.CodeInsufficientProfit {
		t.Fatalf("expected insufficient profit, got %v", err)
	}
}

func TestWithdrawProfitDebitsProfitOnly(t *testing.T) {
	db := newWalletTestDB(t)
	farmer := seedWalletUser(t, db, enums.RoleFarmer)
	svc := newWalletTestService(t, db, stubGate{}, stubLimiter{}, &recordingOutbox{})
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.AppendEntry(ctx, tx, AppendEntryInput{
			UserID:      farmer.ID,
			Type:        enums.LedgerEntryTypeProfitCredit,
			AmountCents: 80_000,
			UTID:        utid.Generate(enums.RoleFarmer),
		})
		return err
	})
	if err != nil {
		t.Fatalf("credit profit: %v", err)
	}

	entry, err := svc.WithdrawProfit(ctx, farmer.ID, 30_000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if entry.AmountCents != -30_000 {
		t.Fatalf("withdrawal must be stored negative, got %d", entry.AmountCents)
	}

	bal, err := svc.Balance(ctx, farmer.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.ProfitCents != 50_000 {
		t.Fatalf("expected 50000 profit left, got %d", bal.ProfitCents)
	}
}

func TestWithdrawProfitRateLimited(t *testing.T) {
	db := newWalletTestDB(t)
	trader := seedWalletUser(t, db, enums.RoleTrader)
	svc := newWalletTestService(t, db, stubGate{}, stubLimiter{deny: true}, &recordingOutbox{})

	_, err := svc.WithdrawProfit(context.Background(), trader.ID, 1000)
	if pkgerrors.As(err).Code() != pkgerrors.CodeRateLimit {
		t.Fatalf("expected rate limit, got %v", err)
	}
}
