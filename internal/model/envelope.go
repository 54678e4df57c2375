package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Envelope is a budget bucket. Balance is written only by the ledger.
type Envelope struct {
	ID             int
	UserID         string
	Name           string
	Icon           string
	CategoryID     *int
	Budgeted       decimal.Decimal
	OpeningBalance decimal.Decimal
	Balance        decimal.Decimal
	Monitored      bool
}

// EntryKind says why a ledger entry was written.
type EntryKind string

const (
	EntryAllocation EntryKind = "allocation"
	EntryReversal   EntryKind = "reversal"
	EntryTransfer   EntryKind = "transfer"
	EntryAdjustment EntryKind = "adjustment"
)

// LedgerEntry is one applied balance delta. Replaying all entries for an
// envelope on top of its opening balance yields its current balance.
type LedgerEntry struct {
	Seq           int
	EnvelopeID    int
	Delta         decimal.Decimal
	Kind          EntryKind
	TransactionID int // 0 when not tied to a transaction
	Description   string
	At            time.Time
}

// Delta is a net signed change to one envelope's balance.
type Delta struct {
	EnvelopeID int
	Amount     decimal.Decimal
}
