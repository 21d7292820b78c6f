package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// BuyerPurchase records a completed inventory sale and its pickup deadline.
// The buyer-facing cost fields never expose trader-side pricing.
type BuyerPurchase struct {
	ID             uuid.UUID            `gorm:"type:uuid;primaryKey"`
	BuyerID        uuid.UUID            `gorm:"column:buyer_id;type:uuid;not null;index:idx_buyer_purchases_buyer_at"`
	TraderID       uuid.UUID            `gorm:"column:trader_id;type:uuid;not null;index"`
	InventoryID    uuid.UUID            `gorm:"column:inventory_id;type:uuid;not null;index"`
	Kilos          int                  `gorm:"column:kilos;not null"`
	BaseCostCents  int64                `gorm:"column:base_cost_cents;not null"`
	ServiceFeeCents int64               `gorm:"column:service_fee_cents;not null"`
	TotalCostCents int64                `gorm:"column:total_cost_cents;not null"`
	PickupSLA      time.Time            `gorm:"column:pickup_sla;not null"`
	Status         enums.PurchaseStatus `gorm:"column:status;type:purchase_status_enum;not null;default:'pending_pickup'"`
	UTID           string               `gorm:"column:utid;not null;uniqueIndex"`
	PickedUpAt     *time.Time           `gorm:"column:picked_up_at"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime;index:idx_buyer_purchases_buyer_at"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
