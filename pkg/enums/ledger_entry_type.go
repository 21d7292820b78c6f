package enums

import "fmt"

// LedgerEntryType maps to the ledger_entry_type_enum enum in Postgres.
//
// Entries carry signed amounts: deposits, unlocks and profit credits are
// positive; locks, spends and profit withdrawals are negative. A wallet
// balance is always the running sum of the signed amounts.
type LedgerEntryType string

const (
	LedgerEntryTypeCapitalDeposit   LedgerEntryType = "capital_deposit"
	LedgerEntryTypeCapitalLock      LedgerEntryType = "capital_lock"
	LedgerEntryTypeCapitalUnlock    LedgerEntryType = "capital_unlock"
	LedgerEntryTypeCapitalSpend     LedgerEntryType = "capital_spend"
	LedgerEntryTypeProfitCredit     LedgerEntryType = "profit_credit"
	LedgerEntryTypeProfitWithdrawal LedgerEntryType = "profit_withdrawal"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryTypeCapitalDeposit,
	LedgerEntryTypeCapitalLock,
	LedgerEntryTypeCapitalUnlock,
	LedgerEntryTypeCapitalSpend,
	LedgerEntryTypeProfitCredit,
	LedgerEntryTypeProfitWithdrawal,
}

// IsValid reports whether the value matches the canonical ledger entry enum.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
