// Package store defines how engine state is persisted between runs. The
// engine is constructed empty, loaded from a Repository, serves requests
// from memory, and is saved back.
package store

import (
	"context"
	"sync"

	"github.com/envelopes-dev/envelopes/internal/model"
)

// Snapshot is the complete persisted state.
type Snapshot struct {
	Accounts     []model.Account
	Envelopes    []model.Envelope
	Entries      []model.LedgerEntry
	Transactions []model.Transaction
}

// Repository loads and saves snapshots. Load on an empty repository
// returns an empty snapshot, not an error.
type Repository interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Memory is a Repository that keeps the last saved snapshot in memory.
type Memory struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{}
}

// Load implements Repository.
func (m *Memory) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone(), nil
}

// Save implements Repository.
func (m *Memory) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = *snap.Clone()
	return nil
}

// Clone deep-copies the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Accounts:  append([]model.Account(nil), s.Accounts...),
		Envelopes: append([]model.Envelope(nil), s.Envelopes...),
		Entries:   append([]model.LedgerEntry(nil), s.Entries...),
	}
	for _, t := range s.Transactions {
		out.Transactions = append(out.Transactions, t.Clone())
	}
	return out
}
