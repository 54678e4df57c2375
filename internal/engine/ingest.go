package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/bankfeed"
	"github.com/envelopes-dev/envelopes/internal/importer"
	"github.com/envelopes-dev/envelopes/internal/matcher"
	"github.com/envelopes-dev/envelopes/internal/model"
)

// ImportResult summarises one CSV import. Imported counts rows now
// reflected in the store: created, flagged or merged. SyntheticRefs lists,
// in file order, the references derived from row content for rows the bank
// gave no id.
type ImportResult struct {
	Batch         string            `json:"batch"`
	Imported      int               `json:"imported"`
	Created       int               `json:"created"`
	Merged        int               `json:"merged"`
	Flagged       int               `json:"flagged"`
	Skipped       int               `json:"skipped"`
	SyntheticRefs []string          `json:"syntheticRefs,omitempty"`
	Errors        []apperr.RowError `json:"errors"`
}

// SyncDetail reports what happened to one bank record.
type SyncDetail struct {
	ExternalID           string         `json:"externalId"`
	Action               matcher.Action `json:"action,omitempty"`
	TransactionID        int            `json:"transactionId,omitempty"`
	MatchedTransactionID int            `json:"matchedTransactionId,omitempty"`
	Error                string         `json:"error,omitempty"`
}

// SyncResult summarises one bank sync.
type SyncResult struct {
	Batch        string       `json:"batch"`
	ConnectionID string       `json:"connectionId"`
	Created      int          `json:"created"`
	Merged       int          `json:"merged"`
	Flagged      int          `json:"flagged"`
	Skipped      int          `json:"skipped"`
	Details      []SyncDetail `json:"details"`
}

type outcome struct {
	action    matcher.Action
	txID      int
	matchedID int
}

// ImportCSV parses raw as a bank export and ingests every row into
// accountID. Rows are processed in file order so later rows see the
// duplicate state left by earlier ones. Malformed rows are reported in
// Errors and do not stop the import.
func (e *Engine) ImportCSV(ctx context.Context, raw []byte, accountID int) (ImportResult, error) {
	acct, err := e.accounts.Get(accountID)
	if err != nil {
		return ImportResult{}, err
	}
	parsed, err := importer.Parse(raw)
	if err != nil {
		return ImportResult{}, fmt.Errorf("parsing CSV: %w", err)
	}

	res := ImportResult{Batch: uuid.NewString(), Errors: parsed.Errors}
	log := e.log.WithFields(logrus.Fields{"batch": res.Batch, "account_id": accountID})

	unlock := e.lockAccounts(accountID)
	defer unlock()

	for _, row := range parsed.Rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if row.Synthetic {
			res.SyntheticRefs = append(res.SyntheticRefs, row.ExternalID)
		}
		out, err := e.ingest(row.Candidate(accountID), acct, model.SourceCSV, res.Batch)
		if err != nil {
			res.Errors = append(res.Errors, apperr.RowError{RowNumber: row.RowNumber, Reason: err.Error()})
			continue
		}
		switch out.action {
		case matcher.ActionCreate:
			res.Created++
		case matcher.ActionMerge:
			res.Merged++
		case matcher.ActionFlag:
			res.Flagged++
		case matcher.ActionSkip:
			res.Skipped++
		}
	}
	res.Imported = res.Created + res.Merged + res.Flagged

	log.WithFields(logrus.Fields{
		"imported":  res.Imported,
		"merged":    res.Merged,
		"flagged":   res.Flagged,
		"skipped":   res.Skipped,
		"synthetic": len(res.SyntheticRefs),
		"errors":    len(res.Errors),
	}).Info("imported CSV")
	e.audit("import_csv", 0, res.Batch, "account %d: %d imported (%d merged, %d flagged), %d skipped, %d error(s)",
		accountID, res.Imported, res.Merged, res.Flagged, res.Skipped, len(res.Errors))
	return res, nil
}

// SyncBankAccount fetches the connection's records from the feed and drives
// each through duplicate matching.
func (e *Engine) SyncBankAccount(ctx context.Context, connectionID string) (SyncResult, error) {
	conn, ok := e.conns[connectionID]
	if !ok {
		return SyncResult{}, &apperr.NotFoundError{Kind: apperr.KindConnection, ID: connectionID}
	}
	if e.feed == nil {
		return SyncResult{}, errors.New("no bank feed configured")
	}
	acct, err := e.accounts.Get(conn.AccountID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("connection %s: %w", connectionID, err)
	}
	records, err := e.feed.Fetch(ctx, connectionID)
	if err != nil {
		if errors.Is(err, bankfeed.ErrUnknownConnection) {
			return SyncResult{}, &apperr.NotFoundError{Kind: apperr.KindConnection, ID: connectionID}
		}
		return SyncResult{}, fmt.Errorf("fetching %s: %w", connectionID, err)
	}

	res := SyncResult{Batch: uuid.NewString(), ConnectionID: connectionID}
	unlock := e.lockAccounts(acct.ID)
	defer unlock()

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		detail := SyncDetail{ExternalID: rec.ID}
		c, err := rec.Candidate(acct.ID)
		if err != nil {
			detail.Error = err.Error()
			res.Details = append(res.Details, detail)
			continue
		}
		out, err := e.ingest(c, acct, model.SourceBank, res.Batch)
		if err != nil {
			detail.Error = err.Error()
			res.Details = append(res.Details, detail)
			continue
		}
		detail.Action = out.action
		detail.TransactionID = out.txID
		detail.MatchedTransactionID = out.matchedID
		res.Details = append(res.Details, detail)

		switch out.action {
		case matcher.ActionCreate:
			res.Created++
		case matcher.ActionMerge:
			res.Merged++
		case matcher.ActionFlag:
			res.Flagged++
		case matcher.ActionSkip:
			res.Skipped++
		}
	}

	e.log.WithFields(logrus.Fields{
		"batch":      res.Batch,
		"connection": connectionID,
		"created":    res.Created,
		"merged":     res.Merged,
		"flagged":    res.Flagged,
		"skipped":    res.Skipped,
	}).Info("synced bank account")
	e.audit("sync_bank_account", 0, res.Batch, "%s: %d created, %d merged, %d flagged, %d skipped",
		connectionID, res.Created, res.Merged, res.Flagged, res.Skipped)
	return res, nil
}

// SyncAll syncs every configured connection in id order. A failing
// connection is logged and does not stop the others.
func (e *Engine) SyncAll(ctx context.Context) ([]SyncResult, error) {
	var (
		results []SyncResult
		errs    []error
	)
	for _, c := range e.Connections() {
		res, err := e.SyncBankAccount(ctx, c.ID)
		if err != nil {
			e.log.WithError(err).WithField("connection", c.ID).Warn("bank sync failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// ingest classifies one candidate and persists the outcome. The caller
// holds the account lock, so classification and write see the same set
// of transactions.
func (e *Engine) ingest(c model.Candidate, acct model.Account, source model.Source, batch string) (outcome, error) {
	res := e.matcher.Classify(c, e.txs.ListByAccount(acct.ID))
	switch res.Action {
	case matcher.ActionSkip:
		return outcome{action: res.Action, txID: res.MatchedTransactionID, matchedID: res.MatchedTransactionID}, nil
	case matcher.ActionMerge:
		if err := e.absorb(res.MatchedTransactionID, c, batch); err != nil {
			return outcome{}, err
		}
		return outcome{action: res.Action, txID: res.MatchedTransactionID, matchedID: res.MatchedTransactionID}, nil
	}

	tx := model.Transaction{
		UserID:          acct.UserID,
		AccountID:       acct.ID,
		Amount:          model.Money(c.Amount),
		Merchant:        c.Merchant,
		Description:     c.Description,
		Date:            model.Day(c.Date),
		Source:          source,
		ImportBatch:     batch,
		ExternalID:      c.ExternalID,
		Memo:            c.Memo,
		TranType:        c.TranType,
		Fingerprint:     matcher.CandidateFingerprint(c),
		DuplicateStatus: model.DuplicateNone,
	}
	if res.Action == matcher.ActionFlag {
		tx.DuplicateStatus = model.DuplicatePotential
		tx.DuplicateOfID = res.MatchedTransactionID
	}
	tx = e.txs.Insert(tx)
	e.log.WithFields(logrus.Fields{
		"batch":          batch,
		"transaction_id": tx.ID,
		"action":         res.Action,
		"matched":        res.MatchedTransactionID,
	}).Debug("ingested candidate")
	return outcome{action: res.Action, txID: tx.ID, matchedID: res.MatchedTransactionID}, nil
}

// absorb merges a bank record into the manual transaction it duplicates:
// the bank reference is attached and allocations and approval are left
// as they are.
func (e *Engine) absorb(txID int, c model.Candidate, batch string) error {
	unlock := e.txs.Lock(txID)
	defer unlock()

	tx, err := e.txs.Get(txID)
	if err != nil {
		return err
	}
	tx.ExternalID = c.ExternalID
	if c.Memo != "" {
		tx.Memo = c.Memo
	}
	if c.TranType != "" {
		tx.TranType = c.TranType
	}
	tx.DuplicateStatus = model.DuplicateConfirmed
	tx.DuplicateOfID = 0
	if err := e.txs.Put(tx); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"batch": batch, "transaction_id": txID, "external_id": c.ExternalID}).Info("merged bank record")
	e.audit("merge_bank_record", txID, batch, "attached %s", c.ExternalID)
	return nil
}
