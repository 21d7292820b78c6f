package settings

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agrilink/agrilink-backend/pkg/db/models"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
)

// Repository manages the singleton system settings row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context) (*models.SystemSettings, error)
	GetLocked(ctx context.Context) (*models.SystemSettings, error)
	Save(ctx context.Context, row *models.SystemSettings) error
	Ensure(ctx context.Context, defaults models.SystemSettings) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a settings repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context) (*models.SystemSettings, error) {
	var row models.SystemSettings
	err := r.db.WithContext(ctx).First(&row, "id = ?", models.SystemSettingsID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "system settings not initialized")
		}
		return nil, err
	}
	return &row, nil
}

// GetLocked reads the settings row with a row lock so admin mutations are
// serialized against each other.
func (r *repository) GetLocked(ctx context.Context) (*models.SystemSettings, error) {
	var row models.SystemSettings
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&row, "id = ?", models.SystemSettingsID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "system settings not initialized")
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) Save(ctx context.Context, row *models.SystemSettings) error {
	return r.db.WithContext(ctx).Save(row).Error
}

// Ensure seeds the singleton row when it does not exist yet.
func (r *repository) Ensure(ctx context.Context, defaults models.SystemSettings) error {
	defaults.ID = models.SystemSettingsID
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&defaults).Error
}
