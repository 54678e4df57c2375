// Package bankfeed supplies bank transactions for sync. The engine treats a
// feed as an external producer: it asks for the records of a connection
// and classifies each one.
package bankfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/envelopes-dev/envelopes/internal/model"
)

// ErrUnknownConnection is returned when a feed has nothing for a connection.
var ErrUnknownConnection = errors.New("unknown bank connection")

// Connection links a bank feed to an account.
type Connection struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	AccountID int    `yaml:"account_id" json:"account_id"`
}

// Record is one transaction as reported by the bank.
type Record struct {
	ID          string          `json:"_id"`
	Date        string          `json:"date"` // YYYY-MM-DD or RFC 3339
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Merchant    string          `json:"merchant,omitempty"`
	Type        string          `json:"type,omitempty"`
	Memo        string          `json:"memo,omitempty"`
}

// Candidate converts r into a matcher candidate for accountID.
func (r Record) Candidate(accountID int) (model.Candidate, error) {
	date, err := parseDate(r.Date)
	if err != nil {
		return model.Candidate{}, fmt.Errorf("record %s: %w", r.ID, err)
	}
	merchant := strings.TrimSpace(r.Merchant)
	if merchant == "" {
		merchant = strings.TrimSpace(r.Description)
	}
	return model.Candidate{
		AccountID:   accountID,
		Date:        date,
		Amount:      model.Money(r.Amount),
		Merchant:    merchant,
		Description: r.Description,
		ExternalID:  r.ID,
		Memo:        r.Memo,
		TranType:    r.Type,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return model.Day(t), nil
}

// Feed produces the current records of a connection.
type Feed interface {
	Fetch(ctx context.Context, connectionID string) ([]Record, error)
}

// FileFeed reads <dir>/<connectionID>.json, a JSON array of records. It
// stands in for a live bank API.
type FileFeed struct {
	dir string
}

// NewFileFeed returns a feed rooted at dir.
func NewFileFeed(dir string) *FileFeed {
	return &FileFeed{dir: dir}
}

// Fetch implements Feed.
func (f *FileFeed) Fetch(ctx context.Context, connectionID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if connectionID == "" || strings.ContainsAny(connectionID, `/\`) || strings.Contains(connectionID, "..") {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnection, connectionID)
	}
	data, err := os.ReadFile(filepath.Join(f.dir, connectionID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownConnection, connectionID)
		}
		return nil, fmt.Errorf("reading feed: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", connectionID, err)
	}
	return records, nil
}

// Static is an in-memory feed.
type Static struct {
	mu      sync.Mutex
	records map[string][]Record
}

// NewStatic returns an empty in-memory feed.
func NewStatic() *Static {
	return &Static{records: make(map[string][]Record)}
}

// Set replaces the records served for connectionID.
func (s *Static) Set(connectionID string, records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[connectionID] = append([]Record(nil), records...)
}

// Fetch implements Feed.
func (s *Static) Fetch(ctx context.Context, connectionID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.records[connectionID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnection, connectionID)
	}
	return append([]Record(nil), records...), nil
}
