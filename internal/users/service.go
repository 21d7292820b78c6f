package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgAuth "github.com/agrilink/agrilink-backend/pkg/auth"
	"github.com/agrilink/agrilink-backend/pkg/auth/session"
	"github.com/agrilink/agrilink-backend/pkg/config"
	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/outbox"
	"github.com/agrilink/agrilink-backend/pkg/outbox/payloads"
	"github.com/agrilink/agrilink-backend/pkg/security"
	"github.com/agrilink/agrilink-backend/pkg/utid"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const invalidCredentialsMessage = "invalid credentials"

// LoginRequest is the credential payload for any role.
type LoginRequest struct {
	Phone    string `json:"phone" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the minted token pair and the owner view of the user.
type LoginResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	User         UserDTO `json:"user"`
}

// Service defines the account behavior needed by controllers and by other
// domain services that check roles.
type Service interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Me(ctx context.Context, userID uuid.UUID) (*UserDTO, error)
	Get(ctx context.Context, userID uuid.UUID) (*models.User, error)
	RequireRole(ctx context.Context, userID uuid.UUID, role enums.Role) error
	SetSpendCap(ctx context.Context, adminID, traderID uuid.UUID, capCents *int64) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type sessionManager interface {
	Generate(ctx context.Context, accessID string) (string, error)
}

type service struct {
	repo    *Repository
	tx      txRunner
	session sessionManager
	outbox  outboxPublisher
	jwtCfg  config.JWTConfig
}

// ServiceParams bundles the dependencies required to build a users service.
type ServiceParams struct {
	Repo           *Repository
	Tx             txRunner
	SessionManager sessionManager
	Outbox         outboxPublisher
	JWTConfig      config.JWTConfig
}

// NewService constructs the users service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner is required")
	}
	if params.SessionManager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher is required")
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		session: params.SessionManager,
		outbox:  params.Outbox,
		jwtCfg:  params.JWTConfig,
	}, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.authenticate(ctx, req.Phone, req.Password)
	if err != nil {
		return nil, err
	}

	accessID := session.NewAccessID()
	tokenPayload := pkgAuth.AccessTokenPayload{
		UserID: user.ID,
		Alias:  user.Alias,
		Role:   user.Role,
		JTI:    accessID,
	}
	accessToken, err := pkgAuth.MintAccessToken(s.jwtCfg, time.Now().UTC(), tokenPayload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	refreshToken, err := s.session.Generate(ctx, accessID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store refresh token")
	}

	return &LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         FromModel(user),
	}, nil
}

func (s *service) Me(ctx context.Context, userID uuid.UUID) (*UserDTO, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	dto := FromModel(user)
	return &dto, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}
	return user, nil
}

// RequireRole fails unless the user exists, is active and holds the role.
func (s *service) RequireRole(ctx context.Context, userID uuid.UUID, role enums.Role) error {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return pkgerrors.New(pkgerrors.CodeForbidden, "account is inactive")
	}
	if user.Role != role {
		return pkgerrors.New(pkgerrors.CodeInvalidRole, fmt.Sprintf("operation requires %s role", role))
	}
	return nil
}

// SetSpendCap records an admin override of a trader's exposure cap. Passing a
// nil cap restores the system default.
func (s *service) SetSpendCap(ctx context.Context, adminID, traderID uuid.UUID, capCents *int64) error {
	if err := s.RequireRole(ctx, adminID, enums.RoleAdmin); err != nil {
		return err
	}
	if capCents != nil && *capCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "spend cap must be positive")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		trader, err := repo.FindByID(ctx, traderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "trader not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup trader")
		}
		if trader.Role != enums.RoleTrader {
			return pkgerrors.New(pkgerrors.CodeInvalidRole, "spend caps apply to traders only")
		}
		if err := repo.UpdateSpendCap(ctx, traderID, capCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update spend cap")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSpendCapOverridden,
			AggregateType: enums.AggregateUser,
			AggregateID:   traderID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.RoleAdmin)},
			Data: payloads.SpendCapOverriddenEvent{
				TraderID:    traderID,
				NewCapCents: capCents,
				UTID:        utid.Generate(enums.RoleAdmin),
			},
			Version: 1,
		})
	})
}

func (s *service) authenticate(ctx context.Context, phone, password string) (*models.User, error) {
	input := strings.TrimSpace(phone)
	if input == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	user, err := s.repo.FindByPhone(ctx, input)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}

	valid, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid || !user.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	return user, nil
}
