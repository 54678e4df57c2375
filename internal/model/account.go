package model

import "github.com/shopspring/decimal"

// AccountType classifies linked bank accounts.
type AccountType string

const (
	AccountTypeChecking AccountType = "checking"
	AccountTypeSavings  AccountType = "savings"
	AccountTypeCredit   AccountType = "credit"
	AccountTypeCash     AccountType = "cash"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeChecking, AccountTypeSavings, AccountTypeCredit, AccountTypeCash:
		return true
	}
	return false
}

// Account is a bank account whose balance envelopes must reconcile against.
type Account struct {
	ID      int
	UserID  string
	Name    string
	Type    AccountType
	Balance decimal.Decimal
}

// CountsTowardBank reports whether the account's balance is part of the
// bank total. Credit accounts are excluded.
func (a Account) CountsTowardBank() bool {
	return a.Type != AccountTypeCredit
}
