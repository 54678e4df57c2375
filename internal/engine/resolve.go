package engine

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/envelopes-dev/envelopes/internal/allocation"
	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/ledger"
	"github.com/envelopes-dev/envelopes/internal/model"
)

// Resolution is the user's decision about a flagged duplicate pair.
type Resolution string

const (
	// ResolveMerge deletes the bank copy and attaches its reference to the
	// manual transaction, approving it when its allocations allow.
	ResolveMerge Resolution = "merge"
	// ResolveKeepBoth marks both reviewed so they are never matched again.
	ResolveKeepBoth Resolution = "keep_both"
	// ResolveDeleteBank discards the bank copy only.
	ResolveDeleteBank Resolution = "delete_bank"
)

// ParseResolution validates a resolution name.
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case ResolveMerge, ResolveKeepBoth, ResolveDeleteBank:
		return r, nil
	}
	return "", apperr.Invalid(apperr.CodeInvalidResolution, "unknown resolution %q, want merge, keep_both or delete_bank", s)
}

// ResolveResult reports the state of the pair after resolution. Bank is nil
// when the bank copy was deleted.
type ResolveResult struct {
	Action Resolution         `json:"action"`
	Manual model.Transaction  `json:"manual"`
	Bank   *model.Transaction `json:"bank,omitempty"`
}

// ResolveDuplicate settles a pair flagged by bank sync or import. The bank
// transaction must be a potential duplicate of the manual one.
func (e *Engine) ResolveDuplicate(ctx context.Context, bankTxID, manualTxID int, action Resolution) (ResolveResult, error) {
	if err := ctx.Err(); err != nil {
		return ResolveResult{}, err
	}
	if _, err := ParseResolution(string(action)); err != nil {
		return ResolveResult{}, err
	}
	bank, err := e.txs.Get(bankTxID)
	if err != nil {
		return ResolveResult{}, err
	}
	manual, err := e.txs.Get(manualTxID)
	if err != nil {
		return ResolveResult{}, err
	}

	unlockAcct := e.lockAccounts(bank.AccountID, manual.AccountID)
	defer unlockAcct()
	unlock := e.txs.LockPair(bankTxID, manualTxID)
	defer unlock()

	if bank, err = e.txs.Get(bankTxID); err != nil {
		return ResolveResult{}, err
	}
	if manual, err = e.txs.Get(manualTxID); err != nil {
		return ResolveResult{}, err
	}
	if bankTxID == manualTxID || bank.DuplicateStatus != model.DuplicatePotential || bank.DuplicateOfID != manualTxID {
		return ResolveResult{}, apperr.Invalid(apperr.CodeNotAPotentialDuplicate,
			"transaction %d is not flagged as a duplicate of %d", bankTxID, manualTxID)
	}

	var res ResolveResult
	switch action {
	case ResolveKeepBoth:
		res, err = e.keepBoth(bank, manual)
	case ResolveDeleteBank:
		res, err = e.deleteBank(bank, manual)
	case ResolveMerge:
		res, err = e.mergePair(bank, manual)
	}
	if err != nil {
		return ResolveResult{}, e.failed("resolve", bankTxID, err)
	}
	if res.Bank == nil {
		e.releaseDuplicatesOf(bank)
	}

	e.log.WithFields(logrus.Fields{
		"bank_transaction_id":   bankTxID,
		"manual_transaction_id": manualTxID,
		"action":                action,
	}).Info("resolved duplicate")
	e.audit("resolve_duplicate", manualTxID, "", "%s bank transaction %d", action, bankTxID)
	return res, nil
}

func (e *Engine) keepBoth(bank, manual model.Transaction) (ResolveResult, error) {
	bank.DuplicateStatus = model.DuplicateReviewed
	manual.DuplicateStatus = model.DuplicateReviewed
	_, err := e.ledger.Apply(nil, ledger.Posting{}, func() error {
		if err := e.txs.Put(bank); err != nil {
			return err
		}
		return e.txs.Put(manual)
	})
	if err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{Action: ResolveKeepBoth, Manual: manual, Bank: &bank}, nil
}

func (e *Engine) deleteBank(bank, manual model.Transaction) (ResolveResult, error) {
	if err := e.checkApplied(bank, "delete_bank"); err != nil {
		return ResolveResult{}, err
	}
	reversal := allocation.Deltas(bank.AppliedAllocations, nil)
	posting := ledger.Posting{Kind: model.EntryReversal, TransactionID: bank.ID, Description: bank.Merchant}
	if _, err := e.ledger.Apply(reversal, posting, func() error { return e.txs.Delete(bank.ID) }); err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{Action: ResolveDeleteBank, Manual: manual}, nil
}

// mergePair deletes the bank copy, moves its reference onto the manual
// transaction and approves the manual one if its allocations are valid.
// Reversing the bank copy and approving the manual one land together.
func (e *Engine) mergePair(bank, manual model.Transaction) (ResolveResult, error) {
	if err := e.checkApplied(bank, "merge"); err != nil {
		return ResolveResult{}, err
	}
	if err := e.checkApplied(manual, "merge"); err != nil {
		return ResolveResult{}, err
	}

	batches := []ledger.Batch{{
		Posting: ledger.Posting{Kind: model.EntryReversal, TransactionID: bank.ID, Description: bank.Merchant},
		Deltas:  allocation.Deltas(bank.AppliedAllocations, nil),
	}}

	merged := manual.Clone()
	merged.ExternalID = bank.ExternalID
	if merged.Memo == "" {
		merged.Memo = bank.Memo
	}
	if merged.TranType == "" {
		merged.TranType = bank.TranType
	}
	merged.DuplicateStatus = model.DuplicateConfirmed
	merged.DuplicateOfID = 0

	if (!merged.IsApproved || merged.Edited) && e.approvable(merged) {
		batches = append(batches, ledger.Batch{
			Posting: ledger.Posting{Kind: model.EntryAllocation, TransactionID: merged.ID, Description: merged.Merchant},
			Deltas:  allocation.Deltas(merged.AppliedAllocations, merged.Allocations),
		})
		merged.AppliedAllocations = merged.Clone().Allocations
		merged.IsApproved = true
		merged.Edited = false
	}

	_, err := e.ledger.ApplyBatches(batches, func() error {
		if err := e.txs.Delete(bank.ID); err != nil {
			return err
		}
		return e.txs.Put(merged)
	})
	if err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{Action: ResolveMerge, Manual: merged}, nil
}

func (e *Engine) approvable(t model.Transaction) bool {
	if allocation.ValidateForApproval(t.Amount, t.Allocations) != nil {
		return false
	}
	return e.checkEnvelopes(t, t.Allocations) == nil
}
