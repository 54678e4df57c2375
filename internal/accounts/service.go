// Package accounts holds the bank accounts envelope balances reconcile
// against. Accounts carry no invariants of their own; the registry only
// validates references and supplies balances for the summary.
package accounts

import (
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/id"
	"github.com/envelopes-dev/envelopes/internal/model"
)

// Service provides concurrent in-memory lookup over accounts.
type Service struct {
	mu   sync.RWMutex
	byID map[int]model.Account
	ids  id.Sequence
}

// NewService creates a Service from persisted accounts.
func NewService(accounts []model.Account) *Service {
	s := &Service{}
	s.Restore(accounts)
	return s
}

// Restore replaces the registry contents.
func (s *Service) Restore(accounts []model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[int]model.Account, len(accounts))
	for _, a := range accounts {
		s.byID[a.ID] = a
		s.ids.Observe(a.ID)
	}
}

// Create validates and stores a new account, assigning its ID.
func (s *Service) Create(a model.Account) (model.Account, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return model.Account{}, apperr.Invalid(apperr.CodeInvalidAccount, "account name is required")
	}
	if !a.Type.Valid() {
		return model.Account{}, apperr.Invalid(apperr.CodeInvalidAccount, "unknown account type %q", a.Type)
	}
	a.Balance = model.Money(a.Balance)
	a.ID = s.ids.Next()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[a.ID] = a
	return a, nil
}

// All returns every account ordered by ID.
func (s *Service) All() []model.Account {
	return s.List("")
}

// List returns a user's accounts ordered by ID. An empty userID returns all.
func (s *Service) List(userID string) []model.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Account, 0, len(s.byID))
	for _, a := range s.byID {
		if userID == "" || a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns an account by ID.
func (s *Service) Get(accountID int) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[accountID]
	if !ok {
		return model.Account{}, apperr.NotFound(apperr.KindAccount, accountID)
	}
	return a, nil
}

// Exists reports whether an account ID exists.
func (s *Service) Exists(accountID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[accountID]
	return ok
}

// ByType returns all accounts of the given type.
func (s *Service) ByType(t model.AccountType) []model.Account {
	var result []model.Account
	for _, a := range s.All() {
		if a.Type == t {
			result = append(result, a)
		}
	}
	return result
}

// SetBalance records the balance the bank reports for an account.
func (s *Service) SetBalance(accountID int, balance decimal.Decimal) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return model.Account{}, apperr.NotFound(apperr.KindAccount, accountID)
	}
	a.Balance = model.Money(balance)
	s.byID[accountID] = a
	return a, nil
}

// BankTotal sums the balances of a user's non-credit accounts.
func (s *Service) BankTotal(userID string) decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.List(userID) {
		if a.CountsTowardBank() {
			total = total.Add(a.Balance)
		}
	}
	return total
}
