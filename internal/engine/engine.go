// Package engine sequences the reconciliation workflow: manual entry,
// allocation edits, approval, deletion, transfers, CSV import, bank sync
// and duplicate resolution. Envelope balances change only through the
// ledger, and every change to a transaction that moves money is committed
// inside the same ledger operation as the balance deltas it implies.
//
// Locks are taken in one order: account, transaction, envelope. Reads go
// through ledger snapshots so they never see half of an operation.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/envelopes-dev/envelopes/internal/accounts"
	"github.com/envelopes-dev/envelopes/internal/activitylog"
	"github.com/envelopes-dev/envelopes/internal/bankfeed"
	"github.com/envelopes-dev/envelopes/internal/keylock"
	"github.com/envelopes-dev/envelopes/internal/ledger"
	"github.com/envelopes-dev/envelopes/internal/logging"
	"github.com/envelopes-dev/envelopes/internal/matcher"
	"github.com/envelopes-dev/envelopes/internal/model"
	"github.com/envelopes-dev/envelopes/internal/store"
	"github.com/envelopes-dev/envelopes/internal/txstore"
)

// Recorder receives one audit entry per committed mutation.
type Recorder interface {
	Record(e activitylog.Entry) error
}

// Options configure an Engine. Zero values are usable.
type Options struct {
	Matcher     matcher.Options
	Feed        bankfeed.Feed
	Connections []bankfeed.Connection
	Recorder    Recorder
	Logger      *logrus.Logger
	Now         func() time.Time
}

// Engine is safe for concurrent use once loaded.
type Engine struct {
	ledger   *ledger.Ledger
	txs      *txstore.Store
	accounts *accounts.Service
	matcher  *matcher.Matcher

	feed  bankfeed.Feed
	conns map[string]bankfeed.Connection

	acctLocks *keylock.Keyed

	recorder Recorder
	log      *logrus.Logger
	now      func() time.Time
}

// New returns an empty engine.
func New(opts Options) *Engine {
	e := &Engine{
		ledger:    ledger.New(),
		txs:       txstore.New(),
		accounts:  accounts.NewService(nil),
		matcher:   matcher.New(opts.Matcher),
		feed:      opts.Feed,
		conns:     make(map[string]bankfeed.Connection, len(opts.Connections)),
		acctLocks: keylock.New(),
		recorder:  opts.Recorder,
		log:       opts.Logger,
		now:       opts.Now,
	}
	for _, c := range opts.Connections {
		e.conns[c.ID] = c
	}
	if e.log == nil {
		e.log = logging.Discard()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.ledger.SetClock(e.now)
	return e
}

// Restore replaces all state with a snapshot. Fingerprints missing from
// older snapshots are recomputed. It must not run concurrently with other
// operations.
func (e *Engine) Restore(snap *store.Snapshot) {
	e.accounts.Restore(snap.Accounts)
	e.ledger.Restore(snap.Envelopes, snap.Entries)

	txs := make([]model.Transaction, 0, len(snap.Transactions))
	rebuilt := 0
	for _, t := range snap.Transactions {
		if t.Fingerprint == "" {
			t.Fingerprint = matcher.FingerprintOf(t)
			rebuilt++
		}
		txs = append(txs, t)
	}
	e.txs.Restore(txs)
	// Ledger entries may name transactions deleted before the snapshot.
	for _, entry := range snap.Entries {
		e.txs.Observe(entry.TransactionID)
	}
	if rebuilt > 0 {
		e.log.WithField("count", rebuilt).Info("rebuilt transaction fingerprints")
	}
}

// Snapshot captures all state consistently.
func (e *Engine) Snapshot() *store.Snapshot {
	snap := &store.Snapshot{}
	e.ledger.Snapshot(func(envs []model.Envelope, entries []model.LedgerEntry) {
		snap.Envelopes = envs
		snap.Entries = entries
		snap.Transactions = e.txs.ListByUser("")
		snap.Accounts = e.accounts.All()
	})
	return snap
}

// Load restores state from repo and verifies it. Violations are logged
// and returned by Verify; they do not prevent loading.
func (e *Engine) Load(ctx context.Context, repo store.Repository) error {
	snap, err := repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	e.Restore(snap)
	e.Verify()
	return nil
}

// Save persists the current state to repo.
func (e *Engine) Save(ctx context.Context, repo store.Repository) error {
	if err := repo.Save(ctx, e.Snapshot()); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}

// Connections returns the configured bank connections ordered by id.
func (e *Engine) Connections() []bankfeed.Connection {
	out := make([]bankfeed.Connection, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) lockAccounts(ids ...int) (unlock func()) {
	return e.acctLocks.LockAll(ids...)
}

func (e *Engine) audit(action string, txID int, batch, format string, args ...any) {
	if e.recorder == nil {
		return
	}
	entry := activitylog.Entry{
		At:            e.now(),
		Action:        action,
		TransactionID: txID,
		Batch:         batch,
		Details:       fmt.Sprintf(format, args...),
	}
	if err := e.recorder.Record(entry); err != nil {
		e.log.WithError(err).WithField("action", action).Warn("writing activity log")
	}
}
