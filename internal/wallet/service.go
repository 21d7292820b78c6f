package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/agrilink/agrilink-backend/pkg/db"
	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/outbox"
	"github.com/agrilink/agrilink-backend/pkg/outbox/payloads"
	"github.com/agrilink/agrilink-backend/pkg/utid"
)

var capitalTypes = []enums.LedgerEntryType{
	enums.LedgerEntryTypeCapitalDeposit,
	enums.LedgerEntryTypeCapitalLock,
	enums.LedgerEntryTypeCapitalUnlock,
	enums.LedgerEntryTypeCapitalSpend,
}

var profitTypes = []enums.LedgerEntryType{
	enums.LedgerEntryTypeProfitCredit,
	enums.LedgerEntryTypeProfitWithdrawal,
}

// Balances is the derived wallet view. Every figure is a sum over signed
// ledger rows; nothing here is stored.
type Balances struct {
	AvailableCapitalCents int64 `json:"available_capital_cents"`
	LockedCapitalCents    int64 `json:"locked_capital_cents"`
	ProfitCents           int64 `json:"profit_cents"`
	TotalCents            int64 `json:"total_cents"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type pilotGate interface {
	Check(ctx context.Context, tx *gorm.DB) error
}

type rateLimiter interface {
	CheckAndRecord(ctx context.Context, tx *gorm.DB, user *models.User, action enums.RateLimitAction) error
}

// Service owns the wallet ledger. Deposits enter through the payment webhook,
// withdrawals leave from realized profit, and the transactional services
// append lock/unlock/spend/credit rows through AppendEntry inside their own
// transactions.
type Service interface {
	Deposit(ctx context.Context, userID uuid.UUID, amountCents int64, externalRef string) (*models.WalletLedgerEntry, error)
	Balance(ctx context.Context, userID uuid.UUID) (*Balances, error)
	WithdrawProfit(ctx context.Context, userID uuid.UUID, amountCents int64) (*models.WalletLedgerEntry, error)
	Statement(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletLedgerEntry, error)
	AppendEntry(ctx context.Context, tx *gorm.DB, input AppendEntryInput) (*models.WalletLedgerEntry, error)
	BalanceIn(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*Balances, error)
}

// AppendEntryInput describes one signed ledger row to append inside an open
// transaction. The caller owns locking and invariant checks.
type AppendEntryInput struct {
	UserID      uuid.UUID
	Type        enums.LedgerEntryType
	AmountCents int64
	UTID        string
	ExternalRef *string
	Metadata    json.RawMessage
}

type service struct {
	tx      txRunner
	repo    Repository
	gate    pilotGate
	limiter rateLimiter
	outbox  outboxPublisher
}

// ServiceParams bundles the wallet service dependencies.
type ServiceParams struct {
	Tx      txRunner
	Repo    Repository
	Gate    pilotGate
	Limiter rateLimiter
	Outbox  outboxPublisher
}

// NewService wires the wallet service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("pilot gate required")
	}
	if params.Limiter == nil {
		return nil, fmt.Errorf("rate limiter required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		tx:      params.Tx,
		repo:    params.Repo,
		gate:    params.Gate,
		limiter: params.Limiter,
		outbox:  params.Outbox,
	}, nil
}

// Deposit credits gateway-confirmed funds. ExternalRef carries the gateway's
// reference and is unique, so webhook redeliveries return the original entry.
func (s *service) Deposit(ctx context.Context, userID uuid.UUID, amountCents int64, externalRef string) (*models.WalletLedgerEntry, error) {
	ref := strings.TrimSpace(externalRef)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference required")
	}
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "deposit amount must be positive")
	}

	var result *models.WalletLedgerEntry
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.gate.Check(ctx, tx); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		if existing, err := repo.FindByExternalRef(ctx, ref); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup external ref")
		} else if existing != nil {
			result = existing
			return nil
		}

		user, err := repo.LockUser(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock user")
		}

		entry, err := s.appendLocked(ctx, repo, AppendEntryInput{
			UserID:      userID,
			Type:        enums.LedgerEntryTypeCapitalDeposit,
			AmountCents: amountCents,
			UTID:        utid.Generate(user.Role),
			ExternalRef: &ref,
		})
		if err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_wallet_entries_external_ref") {
				existing, lookupErr := repo.FindByExternalRef(ctx, ref)
				if lookupErr == nil && existing != nil {
					result = existing
					return nil
				}
			}
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventDepositConfirmed,
			AggregateType: enums.AggregateWalletEntry,
			AggregateID:   entry.ID,
			Actor:         &outbox.ActorRef{UserID: userID, Alias: user.Alias, Role: string(user.Role)},
			Data: payloads.DepositConfirmedEvent{
				EntryID:     entry.ID,
				UserAlias:   user.Alias,
				AmountCents: amountCents,
				ExternalRef: ref,
				UTID:        entry.UTID,
			},
			Version: 1,
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (*Balances, error) {
	return s.balances(ctx, s.repo, userID)
}

// BalanceIn computes balances inside an open transaction, for services that
// gate writes on wallet state.
func (s *service) BalanceIn(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*Balances, error) {
	return s.balances(ctx, s.repo.WithTx(tx), userID)
}

func (s *service) balances(ctx context.Context, repo Repository, userID uuid.UUID) (*Balances, error) {
	capital, err := repo.SumByTypes(ctx, userID, capitalTypes...)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum capital")
	}
	locks, err := repo.SumByTypes(ctx, userID, enums.LedgerEntryTypeCapitalLock)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum locks")
	}
	unlocks, err := repo.SumByTypes(ctx, userID, enums.LedgerEntryTypeCapitalUnlock)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum unlocks")
	}
	profit, err := repo.SumByTypes(ctx, userID, profitTypes...)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum profit")
	}

	return &Balances{
		AvailableCapitalCents: capital,
		LockedCapitalCents:    -locks - unlocks,
		ProfitCents:           profit,
		TotalCents:            capital + profit,
	}, nil
}

// WithdrawProfit debits realized profit. Capital (deposits and unlocked
// funds) is not withdrawable; only profit credits leave the platform.
func (s *service) WithdrawProfit(ctx context.Context, userID uuid.UUID, amountCents int64) (*models.WalletLedgerEntry, error) {
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "withdrawal amount must be positive")
	}

	var result *models.WalletLedgerEntry
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.gate.Check(ctx, tx); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		user, err := repo.LockUser(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock user")
		}
		if user.Role == enums.RoleBuyer {
			return pkgerrors.New(pkgerrors.CodeInvalidRole, "buyers hold no profit balance")
		}

		if err := s.limiter.CheckAndRecord(ctx, tx, user, enums.RateLimitActionProfitWithdrawal); err != nil {
			return err
		}

		profit, err := repo.SumByTypes(ctx, userID, profitTypes...)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum profit")
		}
		if profit < amountCents {
			return pkgerrors.New(pkgerrors.CodeInsufficientProfit, "withdrawal exceeds profit balance")
		}

		entry, err := s.appendLocked(ctx, repo, AppendEntryInput{
			UserID:      userID,
			Type:        enums.LedgerEntryTypeProfitWithdrawal,
			AmountCents: -amountCents,
			UTID:        utid.Generate(user.Role),
		})
		if err != nil {
			return err
		}
		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Statement(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletLedgerEntry, error) {
	return s.repo.List(ctx, userID, limit, offset)
}

// AppendEntry writes one signed row inside the caller's transaction. The
// caller must already hold the user row lock.
func (s *service) AppendEntry(ctx context.Context, tx *gorm.DB, input AppendEntryInput) (*models.WalletLedgerEntry, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	return s.appendLocked(ctx, s.repo.WithTx(tx), input)
}

func (s *service) appendLocked(ctx context.Context, repo Repository, input AppendEntryInput) (*models.WalletLedgerEntry, error) {
	if input.AmountCents == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "ledger entries must carry a non-zero amount")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger entry type %q", input.Type))
	}

	balance, err := repo.SumAll(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum balance")
	}

	entry := &models.WalletLedgerEntry{
		ID:                uuid.New(),
		UserID:            input.UserID,
		UTID:              input.UTID,
		Type:              input.Type,
		AmountCents:       input.AmountCents,
		BalanceAfterCents: balance + input.AmountCents,
		ExternalRef:       input.ExternalRef,
		Metadata:          input.Metadata,
		CreatedAt:         time.Now().UTC(),
	}
	if err := repo.Insert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
