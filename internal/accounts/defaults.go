package accounts

import "github.com/envelopes-dev/envelopes/internal/model"

// DefaultAccounts returns the accounts a new project starts with.
func DefaultAccounts(userID string) []model.Account {
	return []model.Account{
		{UserID: userID, Name: "Everyday", Type: model.AccountTypeChecking},
		{UserID: userID, Name: "Savings", Type: model.AccountTypeSavings},
		{UserID: userID, Name: "Credit Card", Type: model.AccountTypeCredit},
	}
}
