// Package sqlitestore persists engine state in a single SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"

	"github.com/envelopes-dev/envelopes/internal/model"
	"github.com/envelopes-dev/envelopes/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	balance TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS envelopes (
	id INTEGER PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	icon TEXT NOT NULL DEFAULT '',
	category_id INTEGER,
	budgeted TEXT NOT NULL,
	opening_balance TEXT NOT NULL,
	balance TEXT NOT NULL,
	monitored INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS ledger_entries (
	seq INTEGER PRIMARY KEY,
	envelope_id INTEGER NOT NULL,
	delta TEXT NOT NULL,
	kind TEXT NOT NULL,
	transaction_id INTEGER NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	at TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY,
	user_id TEXT NOT NULL,
	account_id INTEGER NOT NULL,
	amount TEXT NOT NULL,
	merchant TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	date TEXT NOT NULL,
	is_approved INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	import_batch TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	memo TEXT NOT NULL DEFAULT '',
	tran_type TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL DEFAULT '',
	duplicate_status TEXT NOT NULL DEFAULT 'none',
	duplicate_of_id INTEGER NOT NULL DEFAULT 0,
	edited INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE TABLE IF NOT EXISTS allocations (
	transaction_id INTEGER NOT NULL,
	applied INTEGER NOT NULL,
	position INTEGER NOT NULL,
	envelope_id INTEGER NOT NULL,
	amount TEXT NOT NULL,
	PRIMARY KEY (transaction_id, applied, position)
);
CREATE TABLE IF NOT EXISTS transaction_labels (
	transaction_id INTEGER NOT NULL,
	position INTEGER NOT NULL,
	label_id INTEGER NOT NULL,
	PRIMARY KEY (transaction_id, position)
);
`

const (
	dateFormat = "2006-01-02"
	timeFormat = time.RFC3339Nano
)

// Store is a store.Repository backed by SQLite. Amounts are stored as
// decimal strings.
type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps writes serialised.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load implements store.Repository.
func (s *Store) Load(ctx context.Context) (*store.Snapshot, error) {
	snap := &store.Snapshot{}
	var err error
	if snap.Accounts, err = s.loadAccounts(ctx); err != nil {
		return nil, err
	}
	if snap.Envelopes, err = s.loadEnvelopes(ctx); err != nil {
		return nil, err
	}
	if snap.Entries, err = s.loadEntries(ctx); err != nil {
		return nil, err
	}
	if snap.Transactions, err = s.loadTransactions(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

// Save replaces the stored state with snap in one SQL transaction.
func (s *Store) Save(ctx context.Context, snap *store.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"accounts", "envelopes", "ledger_entries", "transactions", "allocations", "transaction_labels"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	for _, a := range snap.Accounts {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO accounts (id, user_id, name, type, balance) VALUES (?, ?, ?, ?, ?)",
			a.ID, a.UserID, a.Name, string(a.Type), a.Balance.StringFixed(2))
		if err != nil {
			return fmt.Errorf("saving account %d: %w", a.ID, err)
		}
	}

	for _, e := range snap.Envelopes {
		var cat sql.NullInt64
		if e.CategoryID != nil {
			cat = sql.NullInt64{Int64: int64(*e.CategoryID), Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO envelopes (id, user_id, name, icon, category_id, budgeted, opening_balance, balance, monitored)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.UserID, e.Name, e.Icon, cat, e.Budgeted.StringFixed(2), e.OpeningBalance.StringFixed(2),
			e.Balance.StringFixed(2), e.Monitored)
		if err != nil {
			return fmt.Errorf("saving envelope %d: %w", e.ID, err)
		}
	}

	for _, le := range snap.Entries {
		at := ""
		if !le.At.IsZero() {
			at = le.At.UTC().Format(timeFormat)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (seq, envelope_id, delta, kind, transaction_id, description, at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			le.Seq, le.EnvelopeID, le.Delta.StringFixed(2), string(le.Kind), le.TransactionID, le.Description, at)
		if err != nil {
			return fmt.Errorf("saving ledger entry %d: %w", le.Seq, err)
		}
	}

	for _, t := range snap.Transactions {
		if err := saveTransaction(ctx, tx, t); err != nil {
			return fmt.Errorf("saving transaction %d: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save: %w", err)
	}
	return nil
}

func saveTransaction(ctx context.Context, tx *sql.Tx, t model.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, account_id, amount, merchant, description, date, is_approved,
			source, import_batch, external_id, memo, tran_type, fingerprint, duplicate_status, duplicate_of_id, edited)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AccountID, t.Amount.StringFixed(2), t.Merchant, t.Description, t.Date.Format(dateFormat),
		t.IsApproved, string(t.Source), t.ImportBatch, t.ExternalID, t.Memo, t.TranType, t.Fingerprint,
		string(t.DuplicateStatus), t.DuplicateOfID, t.Edited)
	if err != nil {
		return err
	}
	for applied, allocs := range [][]model.Allocation{t.Allocations, t.AppliedAllocations} {
		for i, a := range allocs {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO allocations (transaction_id, applied, position, envelope_id, amount) VALUES (?, ?, ?, ?, ?)",
				t.ID, applied, i, a.EnvelopeID, a.Amount.StringFixed(2))
			if err != nil {
				return fmt.Errorf("allocation %d: %w", i, err)
			}
		}
	}
	for i, label := range t.LabelIDs {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO transaction_labels (transaction_id, position, label_id) VALUES (?, ?, ?)",
			t.ID, i, label)
		if err != nil {
			return fmt.Errorf("label %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) loadAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, user_id, name, type, balance FROM accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var (
			a            model.Account
			typ, balance string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &typ, &balance); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		a.Type = model.AccountType(typ)
		if a.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("account %d balance %q: %w", a.ID, balance, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) loadEnvelopes(ctx context.Context) ([]model.Envelope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, icon, category_id, budgeted, opening_balance, balance, monitored
		FROM envelopes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying envelopes: %w", err)
	}
	defer rows.Close()

	var out []model.Envelope
	for rows.Next() {
		var (
			e                          model.Envelope
			cat                        sql.NullInt64
			budgeted, opening, balance string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Name, &e.Icon, &cat, &budgeted, &opening, &balance, &e.Monitored); err != nil {
			return nil, fmt.Errorf("scanning envelope: %w", err)
		}
		if cat.Valid {
			id := int(cat.Int64)
			e.CategoryID = &id
		}
		if e.Budgeted, err = decimal.NewFromString(budgeted); err != nil {
			return nil, fmt.Errorf("envelope %d budgeted: %w", e.ID, err)
		}
		if e.OpeningBalance, err = decimal.NewFromString(opening); err != nil {
			return nil, fmt.Errorf("envelope %d opening balance: %w", e.ID, err)
		}
		if e.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("envelope %d balance: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) loadEntries(ctx context.Context) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, envelope_id, delta, kind, transaction_id, description, at FROM ledger_entries ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var (
			le              model.LedgerEntry
			delta, kind, at string
		)
		if err := rows.Scan(&le.Seq, &le.EnvelopeID, &delta, &kind, &le.TransactionID, &le.Description, &at); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		le.Kind = model.EntryKind(kind)
		if le.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, fmt.Errorf("ledger entry %d delta: %w", le.Seq, err)
		}
		if at != "" {
			if le.At, err = time.Parse(timeFormat, at); err != nil {
				return nil, fmt.Errorf("ledger entry %d time: %w", le.Seq, err)
			}
		}
		out = append(out, le)
	}
	return out, rows.Err()
}

func (s *Store) loadTransactions(ctx context.Context) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, account_id, amount, merchant, description, date, is_approved, source, import_batch,
			external_id, memo, tran_type, fingerprint, duplicate_status, duplicate_of_id, edited
		FROM transactions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var (
		out   []model.Transaction
		index = map[int]int{}
	)
	for rows.Next() {
		var (
			t                          model.Transaction
			amount, date, source, dupe string
		)
		err := rows.Scan(&t.ID, &t.UserID, &t.AccountID, &amount, &t.Merchant, &t.Description, &date,
			&t.IsApproved, &source, &t.ImportBatch, &t.ExternalID, &t.Memo, &t.TranType, &t.Fingerprint,
			&dupe, &t.DuplicateOfID, &t.Edited)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %d amount: %w", t.ID, err)
		}
		if t.Date, err = time.Parse(dateFormat, date); err != nil {
			return nil, fmt.Errorf("transaction %d date: %w", t.ID, err)
		}
		t.Source = model.Source(source)
		t.DuplicateStatus = model.DuplicateStatus(dupe)
		index[t.ID] = len(out)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := s.loadAllocations(ctx, out, index); err != nil {
		return nil, err
	}
	if err := s.loadLabels(ctx, out, index); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadAllocations(ctx context.Context, txs []model.Transaction, index map[int]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT transaction_id, applied, envelope_id, amount FROM allocations ORDER BY transaction_id, applied, position")
	if err != nil {
		return fmt.Errorf("querying allocations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			txID, envID int
			applied     bool
			amount      string
		)
		if err := rows.Scan(&txID, &applied, &envID, &amount); err != nil {
			return fmt.Errorf("scanning allocation: %w", err)
		}
		i, ok := index[txID]
		if !ok {
			return fmt.Errorf("allocation for unknown transaction %d", txID)
		}
		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("transaction %d allocation amount %q: %w", txID, amount, err)
		}
		a := model.Allocation{EnvelopeID: envID, Amount: amt}
		if applied {
			txs[i].AppliedAllocations = append(txs[i].AppliedAllocations, a)
		} else {
			txs[i].Allocations = append(txs[i].Allocations, a)
		}
	}
	return rows.Err()
}

func (s *Store) loadLabels(ctx context.Context, txs []model.Transaction, index map[int]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT transaction_id, label_id FROM transaction_labels ORDER BY transaction_id, position")
	if err != nil {
		return fmt.Errorf("querying labels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var txID, label int
		if err := rows.Scan(&txID, &label); err != nil {
			return fmt.Errorf("scanning label: %w", err)
		}
		i, ok := index[txID]
		if !ok {
			return fmt.Errorf("label for unknown transaction %d", txID)
		}
		txs[i].LabelIDs = append(txs[i].LabelIDs, label)
	}
	return rows.Err()
}
