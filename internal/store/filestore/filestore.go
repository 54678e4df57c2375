// Package filestore persists engine state as a directory of CSV files, one
// per entity, so the data directory diffs cleanly under git.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/envelopes-dev/envelopes/internal/store"
)

// File names inside the data directory.
const (
	AccountsFile     = "accounts.csv"
	EnvelopesFile    = "envelopes.csv"
	LedgerFile       = "ledger.csv"
	TransactionsFile = "transactions.csv"
)

// Store is a store.Repository backed by CSV files under dir.
type Store struct {
	dir string
}

var _ store.Repository = (*Store)(nil)

// New returns a Store rooted at dir. The directory is created on Save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads every file. Missing files load as empty.
func (s *Store) Load(ctx context.Context) (*store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := &store.Snapshot{}
	var err error
	if snap.Accounts, err = readFile(s.path(AccountsFile), numAcctFields, UnmarshalAccount); err != nil {
		return nil, err
	}
	if snap.Envelopes, err = readFile(s.path(EnvelopesFile), numEnvFields, UnmarshalEnvelope); err != nil {
		return nil, err
	}
	if snap.Entries, err = readFile(s.path(LedgerFile), numEntryFields, UnmarshalEntry); err != nil {
		return nil, err
	}
	if snap.Transactions, err = readFile(s.path(TransactionsFile), numTxFields, UnmarshalTransaction); err != nil {
		return nil, err
	}
	return snap, nil
}

// Save rewrites every file. Each file is written to a temporary name and
// renamed into place.
func (s *Store) Save(ctx context.Context, snap *store.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	if err := writeFile(s.path(AccountsFile), AccountsHeader, snap.Accounts, MarshalAccount); err != nil {
		return err
	}
	if err := writeFile(s.path(EnvelopesFile), EnvelopesHeader, snap.Envelopes, MarshalEnvelope); err != nil {
		return err
	}
	if err := writeFile(s.path(LedgerFile), LedgerHeader, snap.Entries, MarshalEntry); err != nil {
		return err
	}
	return writeFile(s.path(TransactionsFile), TransactionsHeader, snap.Transactions, MarshalTransaction)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func readFile[T any](path string, fields int, unmarshal func([]string) (T, error)) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	rows, err := readRows(f, fields)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	out := make([]T, 0, len(rows))
	for i, rec := range rows {
		v, err := unmarshal(rec)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", filepath.Base(path), i+2, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func writeFile[T any](path, header string, items []T, marshal func(T) []string) error {
	rows := make([][]string, len(items))
	for i, v := range items {
		rows[i] = marshal(v)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := writeRows(tmp, header, rows); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
