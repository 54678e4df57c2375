package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/envelopes-dev/envelopes/internal/engine"
	"github.com/envelopes-dev/envelopes/internal/model"
)

const dateFormat = "2006-01-02"

type envelopeJSON struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	Icon           string `json:"icon,omitempty"`
	CategoryID     *int   `json:"categoryId,omitempty"`
	Budgeted       string `json:"budgeted"`
	OpeningBalance string `json:"openingBalance"`
	Balance        string `json:"balance"`
	Monitored      bool   `json:"monitored"`
}

func toEnvelope(e model.Envelope) envelopeJSON {
	return envelopeJSON{
		ID:             e.ID,
		Name:           e.Name,
		Icon:           e.Icon,
		CategoryID:     e.CategoryID,
		Budgeted:       e.Budgeted.StringFixed(2),
		OpeningBalance: e.OpeningBalance.StringFixed(2),
		Balance:        e.Balance.StringFixed(2),
		Monitored:      e.Monitored,
	}
}

type accountJSON struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Balance string `json:"balance"`
}

func toAccount(a model.Account) accountJSON {
	return accountJSON{ID: a.ID, Name: a.Name, Type: string(a.Type), Balance: a.Balance.StringFixed(2)}
}

type allocationJSON struct {
	EnvelopeID int             `json:"envelopeId"`
	Amount     decimal.Decimal `json:"amount"`
}

func toAllocations(allocs []model.Allocation) []allocationJSON {
	out := make([]allocationJSON, len(allocs))
	for i, a := range allocs {
		out[i] = allocationJSON{EnvelopeID: a.EnvelopeID, Amount: a.Amount}
	}
	return out
}

func fromAllocations(in []allocationJSON) []model.Allocation {
	if in == nil {
		return nil
	}
	out := make([]model.Allocation, len(in))
	for i, a := range in {
		out[i] = model.Allocation{EnvelopeID: a.EnvelopeID, Amount: a.Amount}
	}
	return out
}

type transactionJSON struct {
	ID              int              `json:"id"`
	AccountID       int              `json:"accountId"`
	Amount          string           `json:"amount"`
	Merchant        string           `json:"merchant"`
	Description     string           `json:"description,omitempty"`
	Date            string           `json:"date"`
	IsApproved      bool             `json:"isApproved"`
	Edited          bool             `json:"edited"`
	Source          string           `json:"source"`
	ImportBatch     string           `json:"importBatch,omitempty"`
	ExternalID      string           `json:"externalId,omitempty"`
	DuplicateStatus string           `json:"duplicateStatus"`
	DuplicateOfID   int              `json:"duplicateOfId,omitempty"`
	LabelIDs        []int            `json:"labelIds,omitempty"`
	Allocations     []allocationJSON `json:"allocations"`
	State           string           `json:"state"`
	Status          string           `json:"status"`
}

func toTransaction(t model.Transaction) transactionJSON {
	return transactionJSON{
		ID:              t.ID,
		AccountID:       t.AccountID,
		Amount:          t.Amount.StringFixed(2),
		Merchant:        t.Merchant,
		Description:     t.Description,
		Date:            t.Date.Format(dateFormat),
		IsApproved:      t.IsApproved,
		Edited:          t.Edited,
		Source:          string(t.Source),
		ImportBatch:     t.ImportBatch,
		ExternalID:      t.ExternalID,
		DuplicateStatus: string(t.DuplicateStatus),
		DuplicateOfID:   t.DuplicateOfID,
		LabelIDs:        t.LabelIDs,
		Allocations:     toAllocations(t.Allocations),
		State:           string(t.State()),
		Status:          string(engine.StatusOf(t)),
	}
}

type summaryJSON struct {
	BankTotal     string                `json:"bankTotal"`
	EnvelopeTotal string                `json:"envelopeTotal"`
	Difference    string                `json:"difference"`
	Reconciled    bool                  `json:"reconciled"`
	Counts        map[engine.Status]int `json:"counts"`
}

func toSummary(s engine.Summary) summaryJSON {
	return summaryJSON{
		BankTotal:     s.BankTotal.StringFixed(2),
		EnvelopeTotal: s.EnvelopeTotal.StringFixed(2),
		Difference:    s.Difference.StringFixed(2),
		Reconciled:    s.Reconciled,
		Counts:        s.Counts,
	}
}

type createEnvelopeRequest struct {
	Name           string          `json:"name"`
	Icon           string          `json:"icon"`
	CategoryID     *int            `json:"categoryId"`
	Budgeted       decimal.Decimal `json:"budgeted"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	Monitored      bool            `json:"monitored"`
}

type createAccountRequest struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Balance decimal.Decimal `json:"balance"`
}

type transferRequest struct {
	From        int             `json:"from"`
	To          int             `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type createTransactionRequest struct {
	AccountID   int             `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Merchant    string          `json:"merchant"`
	Description string          `json:"description"`
	Date        string          `json:"date"`
	LabelIDs    []int           `json:"labelIds"`
}

func (r createTransactionRequest) toNew() (engine.NewTransaction, error) {
	n := engine.NewTransaction{
		AccountID:   r.AccountID,
		Amount:      r.Amount,
		Merchant:    r.Merchant,
		Description: r.Description,
		LabelIDs:    r.LabelIDs,
	}
	if r.Date != "" {
		d, err := time.Parse(dateFormat, r.Date)
		if err != nil {
			return engine.NewTransaction{}, err
		}
		n.Date = d
	}
	return n, nil
}

type updateTransactionRequest struct {
	Merchant    *string `json:"merchant"`
	Description *string `json:"description"`
	LabelIDs    []int   `json:"labelIds"`
}

type allocationsRequest struct {
	Allocations []allocationJSON `json:"allocations"`
}

type approveRequest struct {
	Allocations []allocationJSON `json:"allocations"`
	Description *string          `json:"description"`
	LabelIDs    []int            `json:"labelIds"`
}

type resolveRequest struct {
	BankTransactionID   int    `json:"bankTransactionId"`
	ManualTransactionID int    `json:"manualTransactionId"`
	Action              string `json:"action"`
}

type resolveJSON struct {
	Action string           `json:"action"`
	Manual transactionJSON  `json:"manual"`
	Bank   *transactionJSON `json:"bank,omitempty"`
}
