// Package txstore keeps transactions in memory, indexed by id, account,
// fingerprint and bank reference. Records are copied in and out so callers
// never share slices with the store.
package txstore

import (
	"sort"
	"sync"

	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/id"
	"github.com/envelopes-dev/envelopes/internal/keylock"
	"github.com/envelopes-dev/envelopes/internal/model"
)

// Store is safe for concurrent use. Writers that read-modify-write a
// record hold its lock from Lock for the whole sequence.
type Store struct {
	locks *keylock.Keyed

	mu  sync.RWMutex
	txs map[int]*model.Transaction
	ids id.Sequence
}

// New returns an empty store.
func New() *Store {
	return &Store{
		locks: keylock.New(),
		txs:   make(map[int]*model.Transaction),
	}
}

// Lock serializes mutations of one transaction and returns its release.
func (s *Store) Lock(txID int) (unlock func()) {
	return s.locks.LockAll(txID)
}

// LockPair locks two transactions in ascending id order.
func (s *Store) LockPair(a, b int) (unlock func()) {
	return s.locks.LockAll(a, b)
}

// NextID reserves an id for a record about to be inserted.
func (s *Store) NextID() int {
	return s.ids.Next()
}

// Observe keeps the sequence from reissuing txID.
func (s *Store) Observe(txID int) {
	s.ids.Observe(txID)
}

// Insert stores a new record. A zero ID is assigned from the sequence.
func (s *Store) Insert(t model.Transaction) model.Transaction {
	if t.ID == 0 {
		t.ID = s.ids.Next()
	} else {
		s.ids.Observe(t.ID)
	}
	stored := t.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[t.ID] = &stored
	return t
}

// Put replaces an existing record.
func (s *Store) Put(t model.Transaction) error {
	stored := t.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[t.ID]; !ok {
		return apperr.NotFound(apperr.KindTransaction, t.ID)
	}
	s.txs[t.ID] = &stored
	return nil
}

// Get returns a copy of one record.
func (s *Store) Get(txID int) (model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[txID]
	if !ok {
		return model.Transaction{}, apperr.NotFound(apperr.KindTransaction, txID)
	}
	return t.Clone(), nil
}

// Delete removes a record.
func (s *Store) Delete(txID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[txID]; !ok {
		return apperr.NotFound(apperr.KindTransaction, txID)
	}
	delete(s.txs, txID)
	return nil
}

// ListByAccount returns an account's records ordered by id.
func (s *Store) ListByAccount(accountID int) []model.Transaction {
	return s.filter(func(t *model.Transaction) bool { return t.AccountID == accountID })
}

// ListByUser returns a user's records ordered by id. An empty userID
// returns everything.
func (s *Store) ListByUser(userID string) []model.Transaction {
	return s.filter(func(t *model.Transaction) bool { return userID == "" || t.UserID == userID })
}

// FindByExternalID returns the record on accountID carrying ref.
func (s *Store) FindByExternalID(accountID int, ref string) (model.Transaction, bool) {
	if ref == "" {
		return model.Transaction{}, false
	}
	found := s.filter(func(t *model.Transaction) bool {
		return t.AccountID == accountID && t.ExternalID == ref
	})
	if len(found) == 0 {
		return model.Transaction{}, false
	}
	return found[0], true
}

// FindByFingerprint returns every record with fingerprint fp, ordered by id.
func (s *Store) FindByFingerprint(fp string) []model.Transaction {
	return s.filter(func(t *model.Transaction) bool { return t.Fingerprint == fp })
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}

// Restore replaces the contents with persisted records.
func (s *Store) Restore(txs []model.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = make(map[int]*model.Transaction, len(txs))
	for _, t := range txs {
		stored := t.Clone()
		s.txs[t.ID] = &stored
		s.ids.Observe(t.ID)
	}
}

func (s *Store) filter(keep func(*model.Transaction) bool) []model.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Transaction
	for _, t := range s.txs {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
