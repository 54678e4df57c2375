// Package activitylog keeps an append-only CSV audit trail of every
// mutating engine operation in <root>/logs/activity-log.csv.
package activitylog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Path is the log location relative to a data directory.
const Path = "logs/activity-log.csv"

var header = []string{"at", "actor", "action", "transaction_id", "batch", "details"}

// Entry is one audited operation. TransactionID is 0 for operations that
// touch no single transaction, and Batch is set for imports and syncs.
type Entry struct {
	At            time.Time
	Actor         string
	Action        string
	TransactionID int
	Batch         string
	Details       string
}

func (e Entry) record() []string {
	txID := ""
	if e.TransactionID != 0 {
		txID = strconv.Itoa(e.TransactionID)
	}
	return []string{e.At.UTC().Format(time.RFC3339), e.Actor, e.Action, txID, e.Batch, e.Details}
}

func parseEntry(rec []string) (Entry, error) {
	at, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing time %q: %w", rec[0], err)
	}
	e := Entry{At: at, Actor: rec[1], Action: rec[2], Batch: rec[4], Details: rec[5]}
	if rec[3] != "" {
		if e.TransactionID, err = strconv.Atoi(rec[3]); err != nil {
			return Entry{}, fmt.Errorf("parsing transaction id %q: %w", rec[3], err)
		}
	}
	return e, nil
}

// Log appends entries for one data directory. Appends from concurrent
// goroutines are serialized.
type Log struct {
	root  string
	actor string
	mu    sync.Mutex
}

// New returns a Log for the data directory root. Entries recorded without
// an actor are stamped with actor.
func New(root, actor string) *Log {
	return &Log{root: root, actor: actor}
}

// Record appends e, filling in the time and actor when unset.
func (l *Log) Record(e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if e.Actor == "" {
		e.Actor = l.actor
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.root, Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening activity log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("opening activity log: %w", err)
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		_ = w.Write(header)
	}
	_ = w.Write(e.record())
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing activity log: %w", err)
	}
	return nil
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	TransactionID int
	Batch         string
	Action        string
	Since         time.Time
}

// Match reports whether e passes every set field of f.
func (f Filter) Match(e Entry) bool {
	switch {
	case f.TransactionID != 0 && e.TransactionID != f.TransactionID:
		return false
	case f.Batch != "" && e.Batch != f.Batch:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case !f.Since.IsZero() && e.At.Before(f.Since):
		return false
	}
	return true
}

// Query returns the entries of root's log that match f, oldest first. A
// missing log yields no entries.
func Query(root string, f Filter) ([]Entry, error) {
	file, err := os.Open(filepath.Join(root, Path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening activity log: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = len(header)
	var out []Entry
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading activity log: %w", err)
		}
		if line == 1 {
			continue
		}
		e, err := parseEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("activity log line %d: %w", line, err)
		}
		if f.Match(e) {
			out = append(out, e)
		}
	}
}
