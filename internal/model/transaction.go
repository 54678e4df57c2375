package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// DuplicateStatus tracks where a transaction is in duplicate review.
type DuplicateStatus string

const (
	DuplicateNone      DuplicateStatus = "none"
	DuplicatePotential DuplicateStatus = "potential"
	DuplicateConfirmed DuplicateStatus = "confirmed"
	DuplicateReviewed  DuplicateStatus = "reviewed"
)

// Source records how a transaction entered the system.
type Source string

const (
	SourceManual Source = "manual"
	SourceCSV    Source = "csv"
	SourceBank   Source = "bank"
)

// State is the approval state derived from a transaction's allocations.
type State string

const (
	StateUnmatched State = "unmatched"
	StatePending   State = "pending"
	StateApproved  State = "approved"
)

// Allocation assigns part of a transaction's amount to an envelope.
type Allocation struct {
	EnvelopeID int
	Amount     decimal.Decimal
}

// Transaction is a monetary event on one account.
type Transaction struct {
	ID          int
	UserID      string
	AccountID   int
	Amount      decimal.Decimal // negative = expense, positive = income
	Merchant    string
	Description string
	Date        time.Time
	IsApproved  bool
	Source      Source
	ImportBatch string

	// Bank-origin fields.
	ExternalID  string
	Memo        string
	TranType    string
	Fingerprint string

	DuplicateStatus DuplicateStatus
	DuplicateOfID   int // 0 = none

	LabelIDs    []int
	Allocations []Allocation
	// AppliedAllocations is the set whose deltas are currently reflected in
	// envelope balances. Empty until the first approval.
	AppliedAllocations []Allocation
	Edited             bool
}

// State derives the approval state.
func (t Transaction) State() State {
	switch {
	case t.IsApproved:
		return StateApproved
	case len(t.Allocations) > 0:
		return StatePending
	default:
		return StateUnmatched
	}
}

// IsBankBacked reports whether the record carries a bank reference.
func (t Transaction) IsBankBacked() bool {
	return t.ExternalID != ""
}

// Clone returns a deep copy so callers cannot mutate stored slices.
func (t Transaction) Clone() Transaction {
	t.LabelIDs = slices.Clone(t.LabelIDs)
	t.Allocations = slices.Clone(t.Allocations)
	t.AppliedAllocations = slices.Clone(t.AppliedAllocations)
	return t
}

// Candidate is a transaction offered by a bank feed or CSV row, not yet
// persisted.
type Candidate struct {
	AccountID   int
	Date        time.Time
	Amount      decimal.Decimal
	Merchant    string
	Description string
	ExternalID  string
	Memo        string
	TranType    string
}

// Day truncates t to a UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
