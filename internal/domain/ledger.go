package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryKindPayout             EntryKind = "payout"
	EntryKindPlatformFee        EntryKind = "platform_fee"
	EntryKindTax                EntryKind = "tax"
	EntryKindReferralCommission EntryKind = "referral_commission"
)

func (k EntryKind) IsValid() bool {
	switch k {
	case EntryKindPayout, EntryKindPlatformFee, EntryKindTax, EntryKindReferralCommission:
		return true
	default:
		return false
	}
}

// ledgerNamespace seeds the name-based UUIDs of ledger entries.
var ledgerNamespace = uuid.MustParse("6f1c2a4e-8b0d-5c1e-9a57-3d2f40b1c7e9")

// LedgerEntry is an immutable credit to one account produced by one
// settlement. Positive amounts credit AccountID.
type LedgerEntry struct {
	ID         uuid.UUID
	AccountID  string
	Amount     decimal.Decimal
	Kind       EntryKind
	SourceKind TransactableKind
	SourceID   string
	CreatedAt  time.Time
}

// LedgerEntryID derives the entry id from its source and kind, so a retried
// settlement run addresses the same rows as the run it repeats.
func LedgerEntryID(sourceKind TransactableKind, sourceID string, kind EntryKind) uuid.UUID {
	return uuid.NewSHA1(ledgerNamespace, []byte(string(sourceKind)+"/"+sourceID+"/"+string(kind)))
}

// NewLedgerEntry builds an entry with its deterministic id.
func NewLedgerEntry(sourceKind TransactableKind, sourceID, accountID string, kind EntryKind, amount decimal.Decimal, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:         LedgerEntryID(sourceKind, sourceID, kind),
		AccountID:  accountID,
		Amount:     amount,
		Kind:       kind,
		SourceKind: sourceKind,
		SourceID:   sourceID,
		CreatedAt:  now,
	}
}

// SumLedgerEntries totals the amounts of entries.
func SumLedgerEntries(entries []LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}
