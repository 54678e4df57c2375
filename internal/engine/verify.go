package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/envelopes-dev/envelopes/internal/allocation"
	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/model"
)

// Verify checks every invariant that can be recomputed from stored state:
// each envelope balance replays from its opening balance and entries,
// each approved transaction is fully allocated, and each transaction's
// applied allocations match the ledger history. Violations are logged at
// error level and returned.
func (e *Engine) Verify() []*apperr.InvariantViolation {
	violations := e.ledger.Verify()

	e.ledger.Snapshot(func(_ []model.Envelope, entries []model.LedgerEntry) {
		recorded := make(map[int]map[int]decimal.Decimal)
		for _, entry := range entries {
			if entry.TransactionID == 0 {
				continue
			}
			if recorded[entry.TransactionID] == nil {
				recorded[entry.TransactionID] = make(map[int]decimal.Decimal)
			}
			recorded[entry.TransactionID][entry.EnvelopeID] = recorded[entry.TransactionID][entry.EnvelopeID].Add(entry.Delta)
		}

		for _, t := range e.txs.ListByUser("") {
			if t.IsApproved {
				if err := allocation.ValidateForApproval(t.Amount, t.AppliedAllocations); err != nil {
					violations = append(violations, &apperr.InvariantViolation{
						Op:     "verify",
						Detail: fmt.Sprintf("approved transaction %d: %v", t.ID, err),
					})
				}
			}
			net := recorded[t.ID]
			for envID, d := range net {
				if d.IsZero() {
					delete(net, envID)
				}
			}
			if v := compareApplied("verify", t, net); v != nil {
				violations = append(violations, v)
			}
			delete(recorded, t.ID)
		}

		// Whatever is left belongs to deleted transactions and must net to zero.
		for txID, net := range recorded {
			for envID, d := range net {
				if !d.IsZero() {
					violations = append(violations, &apperr.InvariantViolation{
						Op:         "verify",
						EnvelopeID: envID,
						Expected:   decimal.Zero,
						Actual:     d,
						Detail:     fmt.Sprintf("deleted transaction %d still has applied deltas", txID),
					})
				}
			}
		}
	})

	for _, v := range violations {
		e.log.WithFields(logrus.Fields{"op": v.Op, "envelope_id": v.EnvelopeID}).Error(v.Error())
	}
	return violations
}
