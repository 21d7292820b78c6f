package users

import (
	"context"
	"errors"
	"strings"

	"github.com/agrilink/agrilink-backend/pkg/config"
	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/security"
	"gorm.io/gorm"
)

const aliasAttempts = 5

// RegisterRequest contains the payload required for onboarding a participant.
// Role is immutable after signup; admins are provisioned out of band.
type RegisterRequest struct {
	Phone    string     `json:"phone" validate:"required"`
	Password string     `json:"password" validate:"required,min=8"`
	Role     enums.Role `json:"role" validate:"required"`
}

// RegisterService handles the onboarding transaction.
type RegisterService interface {
	Register(ctx context.Context, req RegisterRequest) (*UserDTO, error)
}

type registerUserRepository interface {
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
	AliasExists(ctx context.Context, alias string) (bool, error)
	Create(ctx context.Context, dto CreateUserDTO) (*models.User, error)
}

// RegisterServiceParams packages the dependencies for the registration flow.
type RegisterServiceParams struct {
	TxRunner        txRunner
	UserRepoFactory func(tx *gorm.DB) registerUserRepository
	PasswordConfig  config.PasswordConfig
}

type registerService struct {
	tx          txRunner
	repoFor     func(tx *gorm.DB) registerUserRepository
	passwordCfg config.PasswordConfig
}

// NewRegisterService builds a registration service with the provided dependencies.
func NewRegisterService(params RegisterServiceParams) (RegisterService, error) {
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tx runner required")
	}
	repoFor := params.UserRepoFactory
	if repoFor == nil {
		repoFor = func(tx *gorm.DB) registerUserRepository {
			return NewRepository(tx)
		}
	}
	return &registerService{
		tx:          params.TxRunner,
		repoFor:     repoFor,
		passwordCfg: params.PasswordConfig,
	}, nil
}

func (s *registerService) Register(ctx context.Context, req RegisterRequest) (*UserDTO, error) {
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone is required")
	}
	if !req.Role.IsValid() || req.Role == enums.RoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRole, "role must be farmer, trader or buyer")
	}

	passwordHash, err := security.HashPassword(req.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	var created *UserDTO
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repoFor(tx)

		if _, err := repo.FindByPhone(ctx, phone); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "phone already registered")
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check phone")
		}

		alias, err := uniqueAlias(ctx, repo)
		if err != nil {
			return err
		}

		user, err := repo.Create(ctx, CreateUserDTO{
			Phone:        phone,
			PasswordHash: passwordHash,
			Role:         req.Role,
			Alias:        alias,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create user")
		}

		dto := FromModel(user)
		created = &dto
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func uniqueAlias(ctx context.Context, repo registerUserRepository) (string, error) {
	for i := 0; i < aliasAttempts; i++ {
		alias, err := newAlias()
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate alias")
		}
		taken, err := repo.AliasExists(ctx, alias)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check alias")
		}
		if !taken {
			return alias, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeInternal, "could not allocate a unique alias")
}
