package engine

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/model"
)

// NewEnvelope describes an envelope to create.
type NewEnvelope struct {
	UserID         string
	Name           string
	Icon           string
	CategoryID     *int
	Budgeted       decimal.Decimal
	OpeningBalance decimal.Decimal
	Monitored      bool
}

// TransferResult holds both balances after a transfer.
type TransferResult struct {
	FromBalance decimal.Decimal `json:"fromBalance"`
	ToBalance   decimal.Decimal `json:"toBalance"`
}

// CreateEnvelope adds an envelope. Names are unique per user.
func (e *Engine) CreateEnvelope(ctx context.Context, n NewEnvelope) (model.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return model.Envelope{}, err
	}
	name := strings.TrimSpace(n.Name)
	if name == "" {
		return model.Envelope{}, apperr.Invalid(apperr.CodeInvalidEnvelope, "envelope name is required")
	}
	for _, existing := range e.ledger.List(n.UserID) {
		if existing.UserID == n.UserID && strings.EqualFold(existing.Name, name) {
			return model.Envelope{}, apperr.Invalid(apperr.CodeInvalidEnvelope, "envelope %q already exists", name)
		}
	}
	env := e.ledger.Create(model.Envelope{
		UserID:         n.UserID,
		Name:           name,
		Icon:           n.Icon,
		CategoryID:     n.CategoryID,
		Budgeted:       n.Budgeted,
		OpeningBalance: n.OpeningBalance,
		Monitored:      n.Monitored,
	})
	e.log.WithFields(logrus.Fields{"envelope_id": env.ID, "name": env.Name}).Info("created envelope")
	e.audit("create_envelope", 0, "", "envelope %d %q opening %s", env.ID, env.Name, env.OpeningBalance.StringFixed(2))
	return env, nil
}

// CreateAccount adds a bank account.
func (e *Engine) CreateAccount(ctx context.Context, a model.Account) (model.Account, error) {
	if err := ctx.Err(); err != nil {
		return model.Account{}, err
	}
	acct, err := e.accounts.Create(a)
	if err != nil {
		return model.Account{}, err
	}
	e.log.WithFields(logrus.Fields{"account_id": acct.ID, "type": acct.Type}).Info("created account")
	e.audit("create_account", 0, "", "account %d %q (%s)", acct.ID, acct.Name, acct.Type)
	return acct, nil
}

// SetAccountBalance records the balance reported by the bank.
func (e *Engine) SetAccountBalance(ctx context.Context, accountID int, balance decimal.Decimal) (model.Account, error) {
	if err := ctx.Err(); err != nil {
		return model.Account{}, err
	}
	acct, err := e.accounts.SetBalance(accountID, balance)
	if err != nil {
		return model.Account{}, err
	}
	e.audit("set_account_balance", 0, "", "account %d balance %s", acct.ID, acct.Balance.StringFixed(2))
	return acct, nil
}

// TransferBetweenEnvelopes moves money between envelopes directly. Either
// both balances change or neither does.
func (e *Engine) TransferBetweenEnvelopes(ctx context.Context, fromID, toID int, amount decimal.Decimal, description string) (TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}
	from, to, err := e.ledger.Transfer(fromID, toID, model.Money(amount), description)
	if err != nil {
		return TransferResult{}, err
	}
	e.log.WithFields(logrus.Fields{
		"from":   fromID,
		"to":     toID,
		"amount": model.Money(amount).StringFixed(2),
	}).Info("transferred between envelopes")
	e.audit("transfer", 0, "", "%s from envelope %d to %d: %s", model.Money(amount).StringFixed(2), fromID, toID, description)
	return TransferResult{FromBalance: from, ToBalance: to}, nil
}

// AdjustEnvelope applies a one-off correction to an envelope balance.
func (e *Engine) AdjustEnvelope(ctx context.Context, envelopeID int, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	bal, err := e.ledger.ApplyDelta(envelopeID, model.Money(amount), description)
	if err != nil {
		return decimal.Zero, err
	}
	e.audit("adjust_envelope", 0, "", "envelope %d by %s: %s", envelopeID, model.Money(amount).StringFixed(2), description)
	return bal, nil
}

