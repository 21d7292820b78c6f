package users

import (
	"context"
	"testing"

	"github.com/agrilink/agrilink-backend/pkg/config"
	pkgmodels "github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/outbox"
	"github.com/agrilink/agrilink-backend/pkg/security"
	"gorm.io/driver/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type stubSessionManager struct{}

func (stubSessionManager) Generate(ctx context.Context, accessID string) (string, error) {
	return "refresh-" + accessID, nil
}

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type gormTxRunner struct {
	db *gorm.DB
}

func (g gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return g.db.WithContext(ctx).Transaction(fn)
}

func newUsersTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:users_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&pkgmodels.User{}); err != nil {
		t.Fatalf("migrate users: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, role enums.Role, phone, password string) *pkgmodels.User {
	t.Helper()
	hash, err := security.HashPassword(password, config.PasswordConfig{})
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &pkgmodels.User{
		ID:           uuid.New(),
		Phone:        phone,
		PasswordHash: hash,
		Role:         role,
		Alias:        "Alias" + uuid.NewString()[:8],
		IsActive:     true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func newUsersTestService(t *testing.T, db *gorm.DB, sink *recordingOutbox) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:           NewRepository(db),
		Tx:             gormTxRunner{db: db},
		SessionManager: stubSessionManager{},
		Outbox:         sink,
		JWTConfig: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "agrilink",
			ExpirationMinutes: 30,
		},
	})
	if err != nil {
		t.Fatalf("new users service: %v", err)
	}
	return svc
}

func TestLoginIssuesTokenPair(t *testing.T) {
	db := newUsersTestDB(t)
	user := seedUser(t, db, enums.RoleTrader, "+2348011111111", "Secret123!")
	svc := newUsersTestService(t, db, &recordingOutbox{})

	resp, err := svc.Login(context.Background(), LoginRequest{
		Phone:    "+2348011111111",
		Password: "Secret123!",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("expected token pair")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("unexpected user in response")
	}
	if resp.User.Alias != user.Alias {
		t.Fatalf("alias mismatch")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	db := newUsersTestDB(t)
	seedUser(t, db, enums.RoleFarmer, "+2348011111111", "Secret123!")
	svc := newUsersTestService(t, db, &recordingOutbox{})

	_, err := svc.Login(context.Background(), LoginRequest{
		Phone:    "+2348011111111",
		Password: "wrong",
	})
	if pkgerrors.As(err).Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestRequireRoleMismatch(t *testing.T) {
	db := newUsersTestDB(t)
	user := seedUser(t, db, enums.RoleBuyer, "+2348011111111", "Secret123!")
	svc := newUsersTestService(t, db, &recordingOutbox{})

	if err := svc.RequireRole(context.Background(), user.ID, enums.RoleBuyer); err != nil {
		t.Fatalf("expected role check to pass: %v", err)
	}
	err := svc.RequireRole(context.Background(), user.ID, enums.RoleAdmin)
	if pkgerrors.As(err).Code() != pkgerrors.CodeInvalidRole {
		t.Fatalf("expected invalid role, got %v", err)
	}
}

func TestSetSpendCapEmitsOverrideEvent(t *testing.T) {
	db := newUsersTestDB(t)
	admin := seedUser(t, db, enums.RoleAdmin, "+2348010000000", "Secret123!")
	trader := seedUser(t, db, enums.RoleTrader, "+2348011111111", "Secret123!")
	sink := &recordingOutbox{}
	svc := newUsersTestService(t, db, sink)

	cap := int64(5_000_000)
	if err := svc.SetSpendCap(context.Background(), admin.ID, trader.ID, &cap); err != nil {
		t.Fatalf("set spend cap: %v", err)
	}

	var reloaded pkgmodels.User
	if err := db.First(&reloaded, "id = ?", trader.ID).Error; err != nil {
		t.Fatalf("reload trader: %v", err)
	}
	if reloaded.CustomSpendCapCents == nil || *reloaded.CustomSpendCapCents != cap {
		t.Fatalf("spend cap not persisted")
	}
	if len(sink.events) != 1 || sink.events[0].EventType != enums.EventSpendCapOverridden {
		t.Fatalf("expected spend_cap_overridden event, got %+v", sink.events)
	}
}

func TestSetSpendCapRejectsNonAdmin(t *testing.T) {
	db := newUsersTestDB(t)
	farmer := seedUser(t, db, enums.RoleFarmer, "+2348010000000", "Secret123!")
	trader := seedUser(t, db, enums.RoleTrader, "+2348011111111", "Secret123!")
	svc := newUsersTestService(t, db, &recordingOutbox{})

	cap := int64(100)
	err := svc.SetSpendCap(context.Background(), farmer.ID, trader.ID, &cap)
	if pkgerrors.As(err).Code() != pkgerrors.CodeInvalidRole {
		t.Fatalf("expected invalid role, got %v", err)
	}
}
