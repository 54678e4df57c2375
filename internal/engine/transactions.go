package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/envelopes-dev/envelopes/internal/allocation"
	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/ledger"
	"github.com/envelopes-dev/envelopes/internal/matcher"
	"github.com/envelopes-dev/envelopes/internal/model"
)

// NewTransaction is a manual entry.
type NewTransaction struct {
	UserID      string // defaults to the account's user
	AccountID   int
	Amount      decimal.Decimal
	Merchant    string
	Description string
	Date        time.Time // defaults to today
	LabelIDs    []int
}

// TransactionUpdate edits descriptive fields. Nil fields are left alone.
type TransactionUpdate struct {
	Merchant    *string
	Description *string
	LabelIDs    []int
}

// CreateTransaction records a manual entry. It always starts unmatched.
func (e *Engine) CreateTransaction(ctx context.Context, n NewTransaction) (model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return model.Transaction{}, err
	}
	acct, err := e.accounts.Get(n.AccountID)
	if err != nil {
		return model.Transaction{}, err
	}
	amount := model.Money(n.Amount)
	if amount.IsZero() {
		return model.Transaction{}, apperr.Invalid(apperr.CodeInvalidAmount, "transaction amount must not be zero")
	}
	merchant := strings.TrimSpace(n.Merchant)
	if merchant == "" {
		return model.Transaction{}, apperr.Invalid(apperr.CodeInvalidTransaction, "merchant is required")
	}
	date := n.Date
	if date.IsZero() {
		date = e.now()
	}
	userID := n.UserID
	if userID == "" {
		userID = acct.UserID
	}

	unlock := e.lockAccounts(acct.ID)
	defer unlock()

	tx := model.Transaction{
		UserID:          userID,
		AccountID:       acct.ID,
		Amount:          amount,
		Merchant:        merchant,
		Description:     n.Description,
		Date:            model.Day(date),
		Source:          model.SourceManual,
		DuplicateStatus: model.DuplicateNone,
		LabelIDs:        slices.Clone(n.LabelIDs),
	}
	tx.Fingerprint = matcher.FingerprintOf(tx)
	tx = e.txs.Insert(tx)

	e.log.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"account_id":     tx.AccountID,
		"amount":         tx.Amount.StringFixed(2),
	}).Info("created transaction")
	e.audit("create_transaction", tx.ID, "", "%s %s on account %d", tx.Merchant, tx.Amount.StringFixed(2), tx.AccountID)
	return tx, nil
}

// UpdateTransaction edits merchant, description or labels. Editing an
// approved transaction marks it edited without touching balances. A new
// merchant on a manual entry refreshes its fingerprint.
func (e *Engine) UpdateTransaction(ctx context.Context, txID int, u TransactionUpdate) (model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return model.Transaction{}, err
	}
	tx, err := e.txs.Get(txID)
	if err != nil {
		return model.Transaction{}, err
	}
	unlockAcct := e.lockAccounts(tx.AccountID)
	defer unlockAcct()

	unlock := e.txs.Lock(txID)
	defer unlock()

	tx, err = e.txs.Get(txID)
	if err != nil {
		return model.Transaction{}, err
	}
	updated := tx.Clone()
	if u.Merchant != nil {
		m := strings.TrimSpace(*u.Merchant)
		if m == "" {
			return model.Transaction{}, apperr.Invalid(apperr.CodeInvalidTransaction, "merchant is required")
		}
		updated.Merchant = m
	}
	if u.Description != nil {
		updated.Description = *u.Description
	}
	if u.LabelIDs != nil {
		updated.LabelIDs = slices.Clone(u.LabelIDs)
	}
	if !metaChanged(tx, updated) {
		return tx, nil
	}
	if updated.IsApproved {
		updated.Edited = true
	}
	if updated.Merchant != tx.Merchant && !updated.IsBankBacked() {
		updated.Fingerprint = matcher.Fingerprint(updated.AccountID, updated.Date, updated.Amount, updated.Merchant)
	}
	if err := e.txs.Put(updated); err != nil {
		return model.Transaction{}, err
	}
	e.audit("update_transaction", txID, "", "edited details")
	return updated, nil
}

// SetAllocations replaces a transaction's allocation set without approving
// it. Balances do not change. An approved transaction keeps its state and
// becomes edited; its new set must still be approvable.
func (e *Engine) SetAllocations(ctx context.Context, txID int, allocs []model.Allocation) (model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return model.Transaction{}, err
	}
	unlock := e.txs.Lock(txID)
	defer unlock()

	tx, err := e.txs.Get(txID)
	if err != nil {
		return model.Transaction{}, err
	}
	allocs = allocation.Normalize(allocs)
	validate := allocation.Validate
	if tx.IsApproved {
		validate = allocation.ValidateForApproval
	}
	if err := validate(tx.Amount, allocs); err != nil {
		return model.Transaction{}, err
	}
	if err := e.checkEnvelopes(tx, allocs); err != nil {
		return model.Transaction{}, err
	}

	updated := tx.Clone()
	updated.Allocations = allocs
	if tx.IsApproved && !allocation.Equal(tx.Allocations, allocs) {
		updated.Edited = true
	}
	if err := e.txs.Put(updated); err != nil {
		return model.Transaction{}, err
	}
	e.log.WithFields(logrus.Fields{
		"transaction_id": txID,
		"allocations":    len(allocs),
	}).Debug("set allocations")
	e.audit("set_allocations", txID, "", "%d allocation(s)", len(allocs))
	return updated, nil
}

// ApproveTransaction validates allocs against the transaction amount and,
// as one unit, applies the difference between the previously applied set
// and allocs to envelope balances, stores allocs, applies any description
// or label change, and marks the transaction approved. Re-approving with
// the applied set and no other change does nothing.
func (e *Engine) ApproveTransaction(ctx context.Context, txID int, allocs []model.Allocation, description *string, labelIDs []int) (model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return model.Transaction{}, err
	}
	unlock := e.txs.Lock(txID)
	defer unlock()

	tx, err := e.txs.Get(txID)
	if err != nil {
		return model.Transaction{}, err
	}
	allocs = allocation.Normalize(allocs)
	if err := allocation.ValidateForApproval(tx.Amount, allocs); err != nil {
		return model.Transaction{}, err
	}
	if err := e.checkEnvelopes(tx, allocs); err != nil {
		return model.Transaction{}, err
	}
	if err := e.checkApplied(tx, "approve"); err != nil {
		return model.Transaction{}, err
	}

	updated := tx.Clone()
	updated.Allocations = allocs
	updated.AppliedAllocations = slices.Clone(allocs)
	if description != nil {
		updated.Description = *description
	}
	if labelIDs != nil {
		updated.LabelIDs = slices.Clone(labelIDs)
	}
	updated.IsApproved = true
	updated.Edited = false

	deltas := allocation.Deltas(tx.AppliedAllocations, allocs)
	if tx.IsApproved && !tx.Edited && len(deltas) == 0 && !metaChanged(tx, updated) && allocation.Equal(tx.Allocations, allocs) {
		e.log.WithField("transaction_id", txID).Debug("approval unchanged")
		return tx, nil
	}

	posting := ledger.Posting{Kind: model.EntryAllocation, TransactionID: txID, Description: tx.Merchant}
	if _, err := e.ledger.Apply(deltas, posting, func() error { return e.txs.Put(updated) }); err != nil {
		return model.Transaction{}, e.failed("approve", txID, err)
	}

	e.log.WithFields(logrus.Fields{
		"transaction_id": txID,
		"amount":         tx.Amount.StringFixed(2),
		"envelopes":      len(deltas),
		"reapproval":     tx.IsApproved,
	}).Info("approved transaction")
	e.audit("approve_transaction", txID, "", "approved %s across %d allocation(s), %d balance change(s)",
		tx.Amount.StringFixed(2), len(allocs), len(deltas))
	return updated, nil
}

// DeleteTransaction reverses the transaction's applied allocations and then
// removes it, as one unit. Transactions flagged as its possible duplicate
// are released back to normal status. Deleting a missing transaction
// returns a NotFoundError.
func (e *Engine) DeleteTransaction(ctx context.Context, txID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := e.txs.Get(txID)
	if err != nil {
		return err
	}
	unlockAcct := e.lockAccounts(tx.AccountID)
	defer unlockAcct()

	unlock := e.txs.Lock(txID)
	tx, err = e.txs.Get(txID)
	if err != nil {
		unlock()
		return err
	}
	if err := e.checkApplied(tx, "delete"); err != nil {
		unlock()
		return err
	}
	reversal := allocation.Deltas(tx.AppliedAllocations, nil)
	posting := ledger.Posting{Kind: model.EntryReversal, TransactionID: txID, Description: tx.Merchant}
	_, err = e.ledger.Apply(reversal, posting, func() error { return e.txs.Delete(txID) })
	unlock()
	if err != nil {
		return e.failed("delete", txID, err)
	}

	released := e.releaseDuplicatesOf(tx)
	e.log.WithFields(logrus.Fields{
		"transaction_id": txID,
		"reversed":       len(reversal),
		"released":       released,
	}).Info("deleted transaction")
	e.audit("delete_transaction", txID, "", "deleted %s %s, reversed %d balance change(s)",
		tx.Merchant, tx.Amount.StringFixed(2), len(reversal))
	return nil
}

// releaseDuplicatesOf clears potential-duplicate flags pointing at a
// deleted transaction. The caller holds the account lock.
func (e *Engine) releaseDuplicatesOf(deleted model.Transaction) int {
	released := 0
	for _, t := range e.txs.ListByAccount(deleted.AccountID) {
		if t.DuplicateOfID != deleted.ID {
			continue
		}
		unlock := e.txs.Lock(t.ID)
		cur, err := e.txs.Get(t.ID)
		if err == nil && cur.DuplicateOfID == deleted.ID {
			cur.DuplicateOfID = 0
			if cur.DuplicateStatus == model.DuplicatePotential {
				cur.DuplicateStatus = model.DuplicateNone
			}
			if e.txs.Put(cur) == nil {
				released++
			}
		}
		unlock()
	}
	return released
}

// checkEnvelopes rejects allocations to envelopes that do not exist or
// belong to another user.
func (e *Engine) checkEnvelopes(tx model.Transaction, allocs []model.Allocation) error {
	for _, a := range allocs {
		env, err := e.ledger.Get(a.EnvelopeID)
		if err != nil {
			return apperr.Invalid(apperr.CodeInvalidEnvelopeReference, "envelope %d does not exist", a.EnvelopeID)
		}
		if tx.UserID != "" && env.UserID != "" && env.UserID != tx.UserID {
			return apperr.Invalid(apperr.CodeInvalidEnvelopeReference, "envelope %d belongs to another user", a.EnvelopeID)
		}
	}
	return nil
}

// checkApplied compares the deltas a transaction claims to have applied
// with what the ledger recorded for it. A mismatch means a reversal or
// re-approval would be computed from stale data.
func (e *Engine) checkApplied(tx model.Transaction, op string) error {
	recorded := e.ledger.AppliedFor(tx.ID)
	if v := compareApplied(op, tx, recorded); v != nil {
		e.log.WithFields(logrus.Fields{
			"transaction_id": tx.ID,
			"envelope_id":    v.EnvelopeID,
			"expected":       v.Expected.StringFixed(2),
			"actual":         v.Actual.StringFixed(2),
		}).Error(v.Error())
		return v
	}
	return nil
}

func compareApplied(op string, tx model.Transaction, recorded map[int]decimal.Decimal) *apperr.InvariantViolation {
	claimed := make(map[int]decimal.Decimal)
	for _, d := range allocation.Deltas(nil, tx.AppliedAllocations) {
		claimed[d.EnvelopeID] = d.Amount
	}
	ids := make([]int, 0, len(claimed)+len(recorded))
	for id := range claimed {
		ids = append(ids, id)
	}
	for id := range recorded {
		if _, ok := claimed[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		if !claimed[id].Equal(recorded[id]) {
			return &apperr.InvariantViolation{
				Op:         op,
				EnvelopeID: id,
				Expected:   claimed[id],
				Actual:     recorded[id],
				Detail:     fmt.Sprintf("transaction %d applied allocations disagree with ledger history", tx.ID),
			}
		}
	}
	return nil
}

// failed logs invariant violations at error level and passes err through.
func (e *Engine) failed(op string, txID int, err error) error {
	if apperr.IsInvariant(err) {
		e.log.WithFields(logrus.Fields{"op": op, "transaction_id": txID}).WithError(err).Error("invariant violation")
	}
	return err
}

func metaChanged(a, b model.Transaction) bool {
	return a.Merchant != b.Merchant || a.Description != b.Description || !slices.Equal(a.LabelIDs, b.LabelIDs)
}
