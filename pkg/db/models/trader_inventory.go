package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/agrilink/agrilink-backend/pkg/db/types"
	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// TraderInventory is a physical stock aggregate owned by a trader. The
// aggregator consumes non-block rows oldest-first to form exactly-100kg
// tradeable blocks.
type TraderInventory struct {
	ID                uuid.UUID             `gorm:"type:uuid;primaryKey"`
	TraderID          uuid.UUID             `gorm:"column:trader_id;type:uuid;not null;index:idx_trader_inventory_trader_status"`
	ProduceType       string                `gorm:"column:produce_type;not null"`
	QualityGrade      string                `gorm:"column:quality_grade;not null"`
	TotalKilos        int                   `gorm:"column:total_kilos;not null"`
	UnitIDs           dbtypes.UUIDArray     `gorm:"type:text;column:unit_ids"`
	PricePerKiloCents int64                 `gorm:"column:price_per_kilo_cents;not null"`
	StorageLocation   string                `gorm:"column:storage_location;not null"`
	Status            enums.InventoryStatus `gorm:"column:status;type:inventory_status_enum;not null;default:'in_storage';index:idx_trader_inventory_trader_status"`
	Is100kgBlock      bool                  `gorm:"column:is_100kg_block;not null;default:false"`
	UTID              string                `gorm:"column:utid;not null"`
	AcquiredAt        time.Time             `gorm:"column:acquired_at;not null;index"`
	SoldAt            *time.Time            `gorm:"column:sold_at"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
