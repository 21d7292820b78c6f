package settings

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/outbox"
	"github.com/agrilink/agrilink-backend/pkg/outbox/payloads"
	"github.com/agrilink/agrilink-backend/pkg/utid"
	"github.com/google/uuid"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type adminChecker interface {
	RequireRole(ctx context.Context, userID uuid.UUID, role enums.Role) error
}

// Service exposes reads and admin mutations of the system controls. The gate
// methods are consulted by every money/inventory-moving operation before any
// other read or write inside its transaction.
type Service interface {
	Get(ctx context.Context) (*models.SystemSettings, error)
	SetPilotMode(ctx context.Context, adminID uuid.UUID, enabled bool, reason string) (*models.SystemSettings, error)
	SetPurchaseWindow(ctx context.Context, adminID uuid.UUID, open bool) (*models.SystemSettings, error)
	Gate
}

// Gate is the narrow surface transactional services depend on. Check fails
// with PilotModeActive while the kill-switch is on; both methods re-read the
// settings row inside the caller's transaction so a flag flip can never race
// a partially applied mutation.
type Gate interface {
	Check(ctx context.Context, tx *gorm.DB) error
	PurchaseWindowOpen(ctx context.Context, tx *gorm.DB) (bool, error)
	Current(ctx context.Context, tx *gorm.DB) (*models.SystemSettings, error)
}

type service struct {
	tx     txRunner
	repo   Repository
	admins adminChecker
	outbox outboxPublisher
}

// NewService wires the settings service.
func NewService(tx txRunner, repo Repository, admins adminChecker, publisher outboxPublisher) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("settings repository required")
	}
	if admins == nil {
		return nil, fmt.Errorf("admin checker required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{tx: tx, repo: repo, admins: admins, outbox: publisher}, nil
}

func (s *service) Get(ctx context.Context) (*models.SystemSettings, error) {
	return s.repo.Get(ctx)
}

func (s *service) Check(ctx context.Context, tx *gorm.DB) error {
	row, err := s.repo.WithTx(tx).Get(ctx)
	if err != nil {
		return err
	}
	if row.PilotMode {
		return pkgerrors.New(pkgerrors.CodePilotModeActive, "system is in pilot mode")
	}
	return nil
}

func (s *service) PurchaseWindowOpen(ctx context.Context, tx *gorm.DB) (bool, error) {
	row, err := s.repo.WithTx(tx).Get(ctx)
	if err != nil {
		return false, err
	}
	return row.PurchaseWindowOpen, nil
}

func (s *service) Current(ctx context.Context, tx *gorm.DB) (*models.SystemSettings, error) {
	return s.repo.WithTx(tx).Get(ctx)
}

func (s *service) SetPilotMode(ctx context.Context, adminID uuid.UUID, enabled bool, reason string) (*models.SystemSettings, error) {
	if adminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admin id required")
	}
	if err := s.admins.RequireRole(ctx, adminID, enums.RoleAdmin); err != nil {
		return nil, err
	}

	var result *models.SystemSettings
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		row, err := repo.GetLocked(ctx)
		if err != nil {
			return err
		}

		now := time.Now()
		id := utid.Generate(enums.RoleAdmin)
		row.PilotMode = enabled
		row.PilotReason = &reason
		row.PilotSetBy = &adminID
		row.PilotSetAt = &now
		row.PilotUTID = &id
		if err := repo.Save(ctx, row); err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventPilotModeChanged,
			AggregateType: enums.AggregateSystemSettings,
			AggregateID:   uuid.Nil,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.RoleAdmin)},
			Data: payloads.PilotModeChangedEvent{
				Enabled: enabled,
				Reason:  reason,
				UTID:    id,
				SetAt:   now,
			},
			Version: 1,
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		result = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) SetPurchaseWindow(ctx context.Context, adminID uuid.UUID, open bool) (*models.SystemSettings, error) {
	if adminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admin id required")
	}
	if err := s.admins.RequireRole(ctx, adminID, enums.RoleAdmin); err != nil {
		return nil, err
	}

	var result *models.SystemSettings
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		row, err := repo.GetLocked(ctx)
		if err != nil {
			return err
		}
		row.PurchaseWindowOpen = open
		if err := repo.Save(ctx, row); err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
