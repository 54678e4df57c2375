// Package matcher classifies bank-sourced candidates against the existing
// transactions of an account: new, the bank copy of a manual entry, or a
// possible duplicate for the user to review.
package matcher

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/envelopes-dev/envelopes/internal/model"
)

// Action is the outcome of classifying a candidate.
type Action string

const (
	ActionCreate Action = "create"
	ActionMerge  Action = "merge"
	ActionFlag   Action = "flag"
	// ActionSkip means the account already holds a transaction with the
	// candidate's bank reference.
	ActionSkip Action = "skip"
)

// Result says what to do with a candidate.
type Result struct {
	Action               Action
	MatchedTransactionID int
	Similarity           float64
}

// Options tune fuzzy matching.
type Options struct {
	Threshold       float64
	DateWindowDays  int
	AmountTolerance decimal.Decimal
	Similarity      Similarity
}

// DefaultOptions matches within 0.01, two days, and 0.9 similarity.
func DefaultOptions() Options {
	return Options{
		Threshold:       0.9,
		DateWindowDays:  2,
		AmountTolerance: model.Epsilon,
		Similarity:      LevenshteinSimilarity,
	}
}

// Matcher classifies candidates. It holds no state besides its options.
type Matcher struct {
	opts Options
}

// New returns a Matcher; zero-valued options fall back to the defaults.
func New(opts Options) *Matcher {
	def := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.DateWindowDays <= 0 {
		opts.DateWindowDays = def.DateWindowDays
	}
	if opts.AmountTolerance.IsZero() {
		opts.AmountTolerance = def.AmountTolerance
	}
	if opts.Similarity == nil {
		opts.Similarity = def.Similarity
	}
	return &Matcher{opts: opts}
}

// Options returns the effective options.
func (m *Matcher) Options() Options {
	return m.opts
}

// Classify decides what to do with c given the transactions already stored.
// The result depends only on its inputs.
func (m *Matcher) Classify(c model.Candidate, existing []model.Transaction) Result {
	sameAccount := make([]model.Transaction, 0, len(existing))
	for _, t := range existing {
		if t.AccountID == c.AccountID {
			sameAccount = append(sameAccount, t)
		}
	}
	sort.Slice(sameAccount, func(i, j int) bool { return sameAccount[i].ID < sameAccount[j].ID })

	if c.ExternalID != "" {
		for _, t := range sameAccount {
			if t.ExternalID == c.ExternalID {
				return Result{Action: ActionSkip, MatchedTransactionID: t.ID, Similarity: 1}
			}
		}
	}

	fp := CandidateFingerprint(c)
	for _, t := range sameAccount {
		if mergeable(t) && FingerprintOf(t) == fp {
			return Result{Action: ActionMerge, MatchedTransactionID: t.ID, Similarity: 1}
		}
	}

	var best *Result
	var bestDays int
	for _, t := range sameAccount {
		if t.DuplicateStatus == model.DuplicateReviewed {
			continue
		}
		if t.Amount.Sub(c.Amount).Abs().GreaterThan(m.opts.AmountTolerance) {
			continue
		}
		days := dayDistance(t.Date, c.Date)
		if days > m.opts.DateWindowDays {
			continue
		}
		sim := m.opts.Similarity(t.Merchant, c.Merchant)
		if sim < m.opts.Threshold {
			continue
		}
		// Ties: higher similarity, then closer date; ids ascend so the
		// lowest id wins what remains.
		if best == nil || sim > best.Similarity || (sim == best.Similarity && days < bestDays) {
			best = &Result{Action: ActionFlag, MatchedTransactionID: t.ID, Similarity: sim}
			bestDays = days
		}
	}
	if best != nil {
		return *best
	}
	return Result{Action: ActionCreate}
}

// mergeable reports whether t can absorb a bank record: it must be a manual
// entry without a bank reference that the user has not already reviewed.
func mergeable(t model.Transaction) bool {
	if t.IsBankBacked() {
		return false
	}
	switch t.DuplicateStatus {
	case model.DuplicateNone, model.DuplicatePotential, "":
		return true
	}
	return false
}

func dayDistance(a, b time.Time) int {
	d := model.Day(a).Sub(model.Day(b))
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}
