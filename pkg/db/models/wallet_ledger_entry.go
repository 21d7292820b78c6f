package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/enums"
)

// WalletLedgerEntry is an immutable signed ledger row. The balance for a user
// is always the sum of the signed amounts; BalanceAfterCents is an audit
// snapshot only and is never authoritative. ExternalRef is set on deposits
// confirmed by the payment gateway and is unique, which makes repeated
// confirmations for the same reference a no-op.
type WalletLedgerEntry struct {
	ID                uuid.UUID             `gorm:"type:uuid;primaryKey"`
	UserID            uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index:idx_wallet_entries_user_type"`
	UTID              string                `gorm:"column:utid;not null;uniqueIndex"`
	Type              enums.LedgerEntryType `gorm:"column:type;type:ledger_entry_type_enum;not null;index:idx_wallet_entries_user_type"`
	AmountCents       int64                 `gorm:"column:amount_cents;not null"`
	BalanceAfterCents int64                 `gorm:"column:balance_after_cents;not null"`
	ExternalRef       *string               `gorm:"column:external_ref;uniqueIndex:ux_wallet_entries_external_ref"`
	Metadata          json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime;index"`
}
