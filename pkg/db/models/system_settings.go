package models

import (
	"time"

	"github.com/google/uuid"
)

// SystemSettingsID is the primary key of the singleton settings row.
const SystemSettingsID = 1

// SystemSettings is the singleton system control row. PilotMode is the global
// kill-switch consulted first by every money/inventory-moving operation.
type SystemSettings struct {
	ID                      int        `gorm:"column:id;primaryKey"`
	PilotMode               bool       `gorm:"column:pilot_mode;not null;default:false"`
	PilotReason             *string    `gorm:"column:pilot_reason"`
	PilotSetBy              *uuid.UUID `gorm:"column:pilot_set_by;type:uuid"`
	PilotSetAt              *time.Time `gorm:"column:pilot_set_at"`
	PilotUTID               *string    `gorm:"column:pilot_utid"`
	PurchaseWindowOpen      bool       `gorm:"column:purchase_window_open;not null;default:true"`
	ServiceFeePercent       int        `gorm:"column:service_fee_percent;not null;default:3"`
	StorageFeeCentsPerKgDay int64      `gorm:"column:storage_fee_cents_per_kg_day;not null;default:0"`
	DefaultSpendCapCents    int64      `gorm:"column:default_spend_cap_cents;not null"`
	UpdatedAt               time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
