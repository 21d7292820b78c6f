package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
)

type recordedDeposit struct {
	userID      uuid.UUID
	amountCents int64
	externalRef string
}

func newRecordingService(t *testing.T) (*Service, *[]recordedDeposit) {
	t.Helper()
	var deposits []recordedDeposit
	svc, err := NewService(func(ctx context.Context, userID uuid.UUID, amountCents int64, externalRef string) error {
		deposits = append(deposits, recordedDeposit{userID: userID, amountCents: amountCents, externalRef: externalRef})
		return nil
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, &deposits
}

func TestHandleDepositCredits(t *testing.T) {
	svc, deposits := newRecordingService(t)
	userID := uuid.New()

	err := svc.HandleDeposit(context.Background(), &DepositEvent{
		ExternalRef: "gw-123",
		UserID:      userID,
		AmountCents: 50_000,
		Currency:    "ngn",
	})
	if err != nil {
		t.Fatalf("handle deposit: %v", err)
	}
	if len(*deposits) != 1 {
		t.Fatalf("expected one credit, got %d", len(*deposits))
	}
	got := (*deposits)[0]
	if got.userID != userID || got.amountCents != 50_000 || got.externalRef != "gw-123" {
		t.Fatalf("unexpected credit %+v", got)
	}
}

func TestHandleDepositRejectsBadEvents(t *testing.T) {
	svc, deposits := newRecordingService(t)

	cases := []struct {
		name  string
		event *DepositEvent
		code  pkgerrors.Code
	}{
		{"nil", nil, pkgerrors.CodeValidation},
		{"missing ref", &DepositEvent{UserID: uuid.New(), AmountCents: 100}, pkgerrors.CodeValidation},
		{"missing user", &DepositEvent{ExternalRef: "gw-1", AmountCents: 100}, pkgerrors.CodeValidation},
		{"zero amount", &DepositEvent{ExternalRef: "gw-2", UserID: uuid.New()}, pkgerrors.CodeInvalidAmount},
		{"negative amount", &DepositEvent{ExternalRef: "gw-3", UserID: uuid.New(), AmountCents: -5}, pkgerrors.CodeInvalidAmount},
		{"foreign currency", &DepositEvent{ExternalRef: "gw-4", UserID: uuid.New(), AmountCents: 100, Currency: "USD"}, pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		err := svc.HandleDeposit(context.Background(), tc.event)
		if pkgerrors.As(err).Code() != tc.code {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
	}
	if len(*deposits) != 0 {
		t.Fatalf("rejected events must not credit, got %d", len(*deposits))
	}
}

type fakeGuardStore struct {
	data map[string]string
}

func (f *fakeGuardStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeGuardStore) Get(_ context.Context, key string) (string, error) {
	return f.data[key], nil
}

func (f *fakeGuardStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeGuardStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func TestGuardMarksAndReleases(t *testing.T) {
	store := &fakeGuardStore{data: map[string]string{}}
	guard, err := NewIdempotencyGuard(store, time.Hour, "gateway")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	seen, err := guard.CheckAndMark(context.Background(), "gw-123")
	if err != nil || seen {
		t.Fatalf("first delivery should pass, seen=%v err=%v", seen, err)
	}
	seen, err = guard.CheckAndMark(context.Background(), "gw-123")
	if err != nil || !seen {
		t.Fatalf("replay should be seen, seen=%v err=%v", seen, err)
	}

	if err := guard.Delete(context.Background(), "gw-123"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	seen, err = guard.CheckAndMark(context.Background(), "gw-123")
	if err != nil || seen {
		t.Fatalf("released ref should pass again, seen=%v err=%v", seen, err)
	}
}
