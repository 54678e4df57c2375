// Package ledger owns envelope balances. It is the only writer of
// Envelope.Balance: every change is a Delta applied under per-envelope locks
// and recorded as a LedgerEntry, so each balance can be replayed from its
// opening balance at any time.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/id"
	"github.com/envelopes-dev/envelopes/internal/keylock"
	"github.com/envelopes-dev/envelopes/internal/model"
)

// Posting describes why a batch of deltas is applied.
type Posting struct {
	Kind          model.EntryKind
	TransactionID int
	Description   string
}

// Ledger holds envelopes and their entry history.
//
// Writers take the per-envelope locks of every envelope they touch (in
// ascending id order) and publish results under mu; readers only take mu,
// so they never observe half of a multi-envelope change.
type Ledger struct {
	locks *keylock.Keyed

	mu        sync.RWMutex
	envelopes map[int]*model.Envelope
	entries   []model.LedgerEntry

	ids     id.Sequence
	entrySq id.Sequence
	now     func() time.Time
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		locks:     keylock.New(),
		envelopes: make(map[int]*model.Envelope),
		now:       time.Now,
	}
}

// SetClock overrides the entry timestamp source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Create adds an envelope. Its balance starts at its opening balance.
func (l *Ledger) Create(env model.Envelope) model.Envelope {
	env.ID = l.ids.Next()
	env.OpeningBalance = model.Money(env.OpeningBalance)
	env.Budgeted = model.Money(env.Budgeted)
	env.Balance = env.OpeningBalance

	l.mu.Lock()
	defer l.mu.Unlock()
	stored := env
	l.envelopes[env.ID] = &stored
	return env
}

// Restore replaces the ledger state with previously persisted envelopes and
// entries. Balances are taken as stored; call Verify to check them.
func (l *Ledger) Restore(envs []model.Envelope, entries []model.LedgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.envelopes = make(map[int]*model.Envelope, len(envs))
	for _, e := range envs {
		l.envelopes[e.ID] = &e
		l.ids.Observe(e.ID)
	}
	l.entries = append([]model.LedgerEntry(nil), entries...)
	for _, e := range entries {
		l.entrySq.Observe(e.Seq)
	}
}

// Get returns one envelope.
func (l *Ledger) Get(envelopeID int) (model.Envelope, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.envelopes[envelopeID]
	if !ok {
		return model.Envelope{}, apperr.EnvelopeNotFound(envelopeID)
	}
	return *e, nil
}

// Exists reports whether envelopeID is known.
func (l *Ledger) Exists(envelopeID int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.envelopes[envelopeID]
	return ok
}

// List returns the envelopes of a user ordered by id. An empty userID
// returns every envelope.
func (l *Ledger) List(userID string) []model.Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.listLocked(userID)
}

// View calls fn with a consistent copy of a user's envelopes while holding
// the read lock, so fn can read other state that is written inside Apply
// commits without seeing a half-applied change.
func (l *Ledger) View(userID string, fn func(envs []model.Envelope)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn(l.listLocked(userID))
}

func (l *Ledger) listLocked(userID string) []model.Envelope {
	out := make([]model.Envelope, 0, len(l.envelopes))
	for _, e := range l.envelopes {
		if userID != "" && e.UserID != userID {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot calls fn with copies of every envelope and the full entry
// history, taken under one read lock.
func (l *Ledger) Snapshot(fn func(envs []model.Envelope, entries []model.LedgerEntry)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn(l.listLocked(""), append([]model.LedgerEntry(nil), l.entries...))
}

// Entries returns a copy of the entry history.
func (l *Ledger) Entries() []model.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.LedgerEntry(nil), l.entries...)
}

// ApplyDelta changes one envelope's balance by signedAmount.
func (l *Ledger) ApplyDelta(envelopeID int, signedAmount decimal.Decimal, description string) (decimal.Decimal, error) {
	envs, err := l.Apply([]model.Delta{{EnvelopeID: envelopeID, Amount: signedAmount}},
		Posting{Kind: model.EntryAdjustment, Description: description}, nil)
	if err != nil {
		return decimal.Zero, err
	}
	return envs[0].Balance, nil
}

// Transfer moves amount from one envelope to another. Either both balances
// change or neither does.
func (l *Ledger) Transfer(fromID, toID int, amount decimal.Decimal, description string) (from, to decimal.Decimal, err error) {
	if fromID == toID {
		return decimal.Zero, decimal.Zero, apperr.Invalid(apperr.CodeInvalidTransfer,
			"cannot transfer from envelope %d to itself", fromID)
	}
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, apperr.Invalid(apperr.CodeInvalidAmount,
			"transfer amount must be positive, got %s", amount.StringFixed(2))
	}

	deltas := []model.Delta{
		{EnvelopeID: fromID, Amount: amount.Neg()},
		{EnvelopeID: toID, Amount: amount},
	}
	envs, err := l.Apply(deltas, Posting{Kind: model.EntryTransfer, Description: description}, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	for _, e := range envs {
		switch e.ID {
		case fromID:
			from = e.Balance
		case toID:
			to = e.Balance
		}
	}
	return from, to, nil
}

// Batch is a set of deltas posted for one reason.
type Batch struct {
	Posting Posting
	Deltas  []model.Delta
}

// Apply changes several envelope balances as one unit. Deltas for the same
// envelope are summed. commit, if non-nil, runs after every envelope has been
// checked and locked but before any balance changes; if it fails nothing is
// written. It returns the updated envelopes in ascending id order.
func (l *Ledger) Apply(deltas []model.Delta, p Posting, commit func() error) ([]model.Envelope, error) {
	return l.ApplyBatches([]Batch{{Posting: p, Deltas: deltas}}, commit)
}

// ApplyBatches is Apply for deltas posted under different postings, such
// as reversing one transaction while approving another. All batches land
// or none do.
func (l *Ledger) ApplyBatches(batches []Batch, commit func() error) ([]model.Envelope, error) {
	nets := make([]map[int]decimal.Decimal, len(batches))
	orders := make([][]int, len(batches))
	total := make(map[int]decimal.Decimal)
	for i, b := range batches {
		net, ids, err := netDeltas(b.Deltas)
		if err != nil {
			return nil, err
		}
		nets[i], orders[i] = net, ids
		for _, envID := range ids {
			total[envID] = total[envID].Add(net[envID])
		}
	}
	ids := make([]int, 0, len(total))
	for envID := range total {
		ids = append(ids, envID)
	}
	sort.Ints(ids)

	unlock := l.locks.LockAll(ids...)
	defer unlock()

	// Balances of locked envelopes cannot change under us; read them once.
	next := make(map[int]decimal.Decimal, len(ids))
	l.mu.RLock()
	for _, envID := range ids {
		e, ok := l.envelopes[envID]
		if !ok {
			l.mu.RUnlock()
			return nil, apperr.EnvelopeNotFound(envID)
		}
		next[envID] = e.Balance.Add(total[envID])
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if commit != nil {
		if err := commit(); err != nil {
			return nil, err
		}
	}

	at := l.now().UTC()
	for i, b := range batches {
		for _, envID := range orders[i] {
			l.entries = append(l.entries, model.LedgerEntry{
				Seq:           l.entrySq.Next(),
				EnvelopeID:    envID,
				Delta:         nets[i][envID],
				Kind:          b.Posting.Kind,
				TransactionID: b.Posting.TransactionID,
				Description:   b.Posting.Description,
				At:            at,
			})
		}
	}
	out := make([]model.Envelope, 0, len(ids))
	for _, envID := range ids {
		e := l.envelopes[envID]
		e.Balance = next[envID]
		out = append(out, *e)
	}
	return out, nil
}

// AppliedFor returns the net delta the entry history attributes to a
// transaction, per envelope. Zero nets are omitted.
func (l *Ledger) AppliedFor(txID int) map[int]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	net := make(map[int]decimal.Decimal)
	for _, e := range l.entries {
		if e.TransactionID == txID {
			net[e.EnvelopeID] = net[e.EnvelopeID].Add(e.Delta)
		}
	}
	for envID, d := range net {
		if d.IsZero() {
			delete(net, envID)
		}
	}
	return net
}

func netDeltas(deltas []model.Delta) (map[int]decimal.Decimal, []int, error) {
	net := make(map[int]decimal.Decimal, len(deltas))
	for _, d := range deltas {
		if d.EnvelopeID <= 0 {
			return nil, nil, apperr.Invalid(apperr.CodeInvalidEnvelopeReference,
				"envelope id %d is not valid", d.EnvelopeID)
		}
		if !d.Amount.Equal(model.Money(d.Amount)) {
			return nil, nil, apperr.Invalid(apperr.CodeInvalidAmount,
				"amount %s has more than 2 decimal places", d.Amount)
		}
		net[d.EnvelopeID] = net[d.EnvelopeID].Add(d.Amount)
	}
	ids := make([]int, 0, len(net))
	for envID := range net {
		ids = append(ids, envID)
	}
	sort.Ints(ids)
	return net, ids, nil
}

// Verify replays every envelope's entries on top of its opening balance and
// reports each envelope whose stored balance disagrees.
func (l *Ledger) Verify() []*apperr.InvariantViolation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	replayed := make(map[int]decimal.Decimal, len(l.envelopes))
	for envID, e := range l.envelopes {
		replayed[envID] = e.OpeningBalance
	}
	var violations []*apperr.InvariantViolation
	for _, entry := range l.entries {
		bal, ok := replayed[entry.EnvelopeID]
		if !ok {
			violations = append(violations, &apperr.InvariantViolation{
				Op:         "verify",
				EnvelopeID: entry.EnvelopeID,
				Detail:     "ledger entry references unknown envelope",
			})
			continue
		}
		replayed[entry.EnvelopeID] = bal.Add(entry.Delta)
	}

	for _, e := range l.listLocked("") {
		if !e.Balance.Equal(replayed[e.ID]) {
			violations = append(violations, &apperr.InvariantViolation{
				Op:         "verify",
				EnvelopeID: e.ID,
				Expected:   replayed[e.ID],
				Actual:     e.Balance,
			})
		}
	}
	return violations
}
