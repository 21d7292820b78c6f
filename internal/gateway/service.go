package gateway

import (
	"context"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
)

// DepositEvent is the payment confirmation the external gateway posts once a
// user's transfer clears. The gateway protocol itself lives outside this
// system; only the confirmed amount and its reference matter here.
type DepositEvent struct {
	ExternalRef string    `json:"external_ref"`
	UserID      uuid.UUID `json:"user_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
}

type depositCreditor interface {
	Deposit(ctx context.Context, userID uuid.UUID, amountCents int64, externalRef string) error
}

// Service turns verified gateway events into wallet credits.
type Service struct {
	wallet depositCreditor
}

// walletAdapter narrows the wallet service to the credit call the webhook
// needs, discarding the created entry.
type walletAdapter struct {
	deposit func(ctx context.Context, userID uuid.UUID, amountCents int64, externalRef string) error
}

func (a walletAdapter) Deposit(ctx context.Context, userID uuid.UUID, amountCents int64, externalRef string) error {
	return a.deposit(ctx, userID, amountCents, externalRef)
}

// NewService wires the gateway webhook service around a deposit function.
func NewService(deposit func(ctx context.Context, userID uuid.UUID, amountCents int64, externalRef string) error) (*Service, error) {
	if deposit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "deposit function required")
	}
	return &Service{wallet: walletAdapter{deposit: deposit}}, nil
}

// HandleDeposit validates and credits one confirmed deposit.
func (s *Service) HandleDeposit(ctx context.Context, event *DepositEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}
	ref := strings.TrimSpace(event.ExternalRef)
	if ref == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "external reference required")
	}
	if event.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if event.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	if event.Currency != "" && !strings.EqualFold(event.Currency, "NGN") {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}
	return s.wallet.Deposit(ctx, event.UserID, event.AmountCents, ref)
}
