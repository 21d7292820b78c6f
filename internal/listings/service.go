package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/utid"
)

// Standard tradable lot. Listings that do not divide evenly get one smaller
// remainder unit at the end.
const defaultUnitSizeKilos = 10

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type pilotGate interface {
	Check(ctx context.Context, tx *gorm.DB) error
}

type rateLimiter interface {
	CheckAndRecord(ctx context.Context, tx *gorm.DB, user *models.User, action enums.RateLimitAction) error
}

type userFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// CreateListingRequest is the farmer's offer payload.
type CreateListingRequest struct {
	ProduceType       string `json:"produce_type" validate:"required"`
	QualityGrade      string `json:"quality_grade" validate:"required"`
	TotalKilos        int    `json:"total_kilos" validate:"required,gt=0"`
	PricePerKiloCents int64  `json:"price_per_kilo_cents" validate:"required,gt=0"`
}

// Service owns the produce catalog. Creation splits the offer into lockable
// units; status is re-derived from unit states after every transition.
type Service interface {
	Create(ctx context.Context, farmerID uuid.UUID, req CreateListingRequest) (*ListingDTO, error)
	List(ctx context.Context, filter ListFilter) ([]ListingDTO, error)
	Get(ctx context.Context, id uuid.UUID) (*ListingDTO, error)
	RecomputeStatus(ctx context.Context, tx *gorm.DB, listingID uuid.UUID) (enums.ListingStatus, error)
}

type service struct {
	tx      txRunner
	repo    Repository
	gate    pilotGate
	limiter rateLimiter
	users   userFinder
}

// ServiceParams bundles the listings service dependencies.
type ServiceParams struct {
	Tx      txRunner
	Repo    Repository
	Gate    pilotGate
	Limiter rateLimiter
	Users   userFinder
}

// NewService wires the listings service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("listings repository required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("pilot gate required")
	}
	if params.Limiter == nil {
		return nil, fmt.Errorf("rate limiter required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user finder required")
	}
	return &service{
		tx:      params.Tx,
		repo:    params.Repo,
		gate:    params.Gate,
		limiter: params.Limiter,
		users:   params.Users,
	}, nil
}

func (s *service) Create(ctx context.Context, farmerID uuid.UUID, req CreateListingRequest) (*ListingDTO, error) {
	produce := strings.TrimSpace(req.ProduceType)
	quality := strings.TrimSpace(req.QualityGrade)
	if produce == "" || quality == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "produce type and quality grade are required")
	}
	if req.TotalKilos <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidKilos, "total kilos must be positive")
	}
	if req.PricePerKiloCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "price per kilo must be positive")
	}

	var result *ListingDTO
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.gate.Check(ctx, tx); err != nil {
			return err
		}

		farmer, err := s.users.FindByID(ctx, farmerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find farmer")
		}
		if farmer.Role != enums.RoleFarmer {
			return pkgerrors.New(pkgerrors.CodeInvalidRole, "only farmers create listings")
		}

		if err := s.limiter.CheckAndRecord(ctx, tx, farmer, enums.RateLimitActionCreateListing); err != nil {
			return err
		}

		units := splitUnits(req.TotalKilos)
		listing := &models.Listing{
			ID:                uuid.New(),
			FarmerID:          farmerID,
			ProduceType:       produce,
			QualityGrade:      quality,
			TotalKilos:        req.TotalKilos,
			PricePerKiloCents: req.PricePerKiloCents,
			UnitSizeKilos:     defaultUnitSizeKilos,
			TotalUnits:        len(units),
			Status:            enums.ListingStatusActive,
			CreationUTID:      utid.Generate(enums.RoleFarmer),
			Units:             units,
		}
		if err := s.repo.WithTx(tx).Create(ctx, listing); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create listing")
		}

		dto := FromModel(listing)
		result = &dto
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// splitUnits cuts totalKilos into 10kg units plus one remainder unit when the
// total does not divide evenly. An offer under 10kg is a single remainder unit.
func splitUnits(totalKilos int) []models.ListingUnit {
	full := totalKilos / defaultUnitSizeKilos
	remainder := totalKilos % defaultUnitSizeKilos

	units := make([]models.ListingUnit, 0, full+1)
	for i := 0; i < full; i++ {
		units = append(units, models.ListingUnit{
			ID:             uuid.New(),
			UnitNumber:     i + 1,
			SizeKilos:      defaultUnitSizeKilos,
			Status:         enums.UnitStatusAvailable,
			DeliveryStatus: enums.DeliveryStatusPending,
		})
	}
	if remainder > 0 {
		units = append(units, models.ListingUnit{
			ID:             uuid.New(),
			UnitNumber:     full + 1,
			SizeKilos:      remainder,
			Status:         enums.UnitStatusAvailable,
			DeliveryStatus: enums.DeliveryStatusPending,
		})
	}
	return units
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]ListingDTO, error) {
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list listings")
	}
	dtos := make([]ListingDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, FromModel(&rows[i]))
	}
	return dtos, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*ListingDTO, error) {
	listing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find listing")
	}
	dto := FromModel(listing)
	return &dto, nil
}

// RecomputeStatus re-derives the listing status from its unit states inside
// the caller's transaction. Every unit transition calls it before committing.
func (s *service) RecomputeStatus(ctx context.Context, tx *gorm.DB, listingID uuid.UUID) (enums.ListingStatus, error) {
	repo := s.repo.WithTx(tx)
	total, available, err := repo.CountUnits(ctx, listingID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count units")
	}

	status := enums.ListingStatusActive
	switch {
	case total == 0 || available == 0:
		status = enums.ListingStatusFullyLocked
	case available < total:
		status = enums.ListingStatusPartiallyLocked
	}

	if err := repo.UpdateStatus(ctx, listingID, status); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update listing status")
	}
	return status, nil
}
