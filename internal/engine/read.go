package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/envelopes-dev/envelopes/internal/model"
)

// Status is the reconciliation status shown for review.
type Status string

const (
	StatusUnmatched          Status = "unmatched"
	StatusPending            Status = "pending"
	StatusApproved           Status = "approved"
	StatusEdited             Status = "edited"
	StatusPotentialDuplicate Status = "potential_duplicate"
)

// StatusOf classifies a transaction. Unresolved duplicates take precedence
// over the approval state.
func StatusOf(t model.Transaction) Status {
	if t.DuplicateStatus == model.DuplicatePotential {
		return StatusPotentialDuplicate
	}
	switch t.State() {
	case model.StateApproved:
		if t.Edited {
			return StatusEdited
		}
		return StatusApproved
	case model.StatePending:
		return StatusPending
	}
	return StatusUnmatched
}

// TransactionView is a transaction with its derived states.
type TransactionView struct {
	model.Transaction
	State  model.State
	Status Status
}

// Summary compares bank balances with envelope balances.
type Summary struct {
	BankTotal     decimal.Decimal
	EnvelopeTotal decimal.Decimal
	Difference    decimal.Decimal
	Reconciled    bool
	Counts        map[Status]int
}

// GetEnvelopes returns a user's envelopes ordered by id.
func (e *Engine) GetEnvelopes(userID string) []model.Envelope {
	return e.ledger.List(userID)
}

// GetEnvelope returns one envelope.
func (e *Engine) GetEnvelope(envelopeID int) (model.Envelope, error) {
	return e.ledger.Get(envelopeID)
}

// GetTransactions returns a user's transactions, newest first.
func (e *Engine) GetTransactions(userID string) []TransactionView {
	var out []TransactionView
	e.ledger.View(userID, func([]model.Envelope) {
		for _, t := range e.txs.ListByUser(userID) {
			out = append(out, TransactionView{Transaction: t, State: t.State(), Status: StatusOf(t)})
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// GetTransaction returns one transaction with its derived states.
func (e *Engine) GetTransaction(txID int) (TransactionView, error) {
	t, err := e.txs.Get(txID)
	if err != nil {
		return TransactionView{}, err
	}
	return TransactionView{Transaction: t, State: t.State(), Status: StatusOf(t)}, nil
}

// GetSummary recomputes the reconciliation summary for a user.
func (e *Engine) GetSummary(userID string) Summary {
	s := Summary{
		BankTotal:     e.accounts.BankTotal(userID),
		EnvelopeTotal: decimal.Zero,
		Counts:        make(map[Status]int),
	}
	e.ledger.View(userID, func(envs []model.Envelope) {
		for _, env := range envs {
			s.EnvelopeTotal = s.EnvelopeTotal.Add(env.Balance)
		}
		for _, t := range e.txs.ListByUser(userID) {
			s.Counts[StatusOf(t)]++
		}
	})
	s.Difference = s.BankTotal.Sub(s.EnvelopeTotal)
	s.Reconciled = s.Difference.Abs().LessThan(model.Epsilon)
	return s
}

// GetAccounts returns a user's accounts.
func (e *Engine) GetAccounts(userID string) []model.Account {
	return e.accounts.List(userID)
}
