// Package allocation decides whether a set of envelope allocations is legal
// for a transaction and computes the balance deltas implied by replacing one
// set with another. Everything here is pure.
package allocation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/model"
)

// Validate checks an allocation set for a transaction of the given amount.
// An empty set is legal while the transaction stays unapproved.
func Validate(amount decimal.Decimal, allocs []model.Allocation) error {
	if len(allocs) == 0 {
		return nil
	}

	for i, a := range allocs {
		if a.EnvelopeID <= 0 {
			return apperr.Invalid(apperr.CodeInvalidEnvelopeReference,
				"allocation %d has no envelope selected", i+1)
		}
	}

	expected := amount.Abs()
	actual := AbsTotal(allocs)
	if !model.WithinEpsilon(expected, actual) {
		return apperr.AmountMismatch(expected, actual)
	}
	return nil
}

// ValidateForApproval is Validate plus the rule that an approved
// transaction must be assigned to at least one envelope.
func ValidateForApproval(amount decimal.Decimal, allocs []model.Allocation) error {
	if len(allocs) == 0 {
		return apperr.Invalid(apperr.CodeNoEnvelopeAssigned,
			"transaction of %s must be allocated to at least one envelope", amount.StringFixed(2))
	}
	return Validate(amount, allocs)
}

// AbsTotal sums the absolute allocation amounts.
func AbsTotal(allocs []model.Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount.Abs())
	}
	return total
}

// Normalize rounds amounts to cents and merges allocations to the same
// envelope, preserving first-seen order.
func Normalize(allocs []model.Allocation) []model.Allocation {
	if len(allocs) == 0 {
		return nil
	}
	idx := make(map[int]int, len(allocs))
	out := make([]model.Allocation, 0, len(allocs))
	for _, a := range allocs {
		amt := model.Money(a.Amount)
		if i, ok := idx[a.EnvelopeID]; ok {
			out[i].Amount = out[i].Amount.Add(amt)
			continue
		}
		idx[a.EnvelopeID] = len(out)
		out = append(out, model.Allocation{EnvelopeID: a.EnvelopeID, Amount: amt})
	}
	return out
}

// Deltas returns the net per-envelope balance changes implied by removing
// from and applying to. Zero deltas are dropped; the result is sorted by
// envelope id.
func Deltas(from, to []model.Allocation) []model.Delta {
	net := make(map[int]decimal.Decimal)
	for _, a := range from {
		net[a.EnvelopeID] = net[a.EnvelopeID].Sub(a.Amount)
	}
	for _, a := range to {
		net[a.EnvelopeID] = net[a.EnvelopeID].Add(a.Amount)
	}

	deltas := make([]model.Delta, 0, len(net))
	for id, amt := range net {
		if amt.IsZero() {
			continue
		}
		deltas = append(deltas, model.Delta{EnvelopeID: id, Amount: amt})
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].EnvelopeID < deltas[j].EnvelopeID })
	return deltas
}

// Equal reports whether two allocation sets apply the same per-envelope amounts.
func Equal(a, b []model.Allocation) bool {
	return len(Deltas(a, b)) == 0
}
