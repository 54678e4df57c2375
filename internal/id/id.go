package id

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Sequence hands out increasing integer IDs. The zero value starts at 1.
type Sequence struct {
	mu   sync.Mutex
	last int
}

// Next returns the next unused ID.
func (s *Sequence) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return s.last
}

// Observe records an existing ID so Next never reissues it.
func (s *Sequence) Observe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.last {
		s.last = id
	}
}

// Last returns the highest ID issued or observed.
func (s *Sequence) Last() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// FormatImportRef builds a stable reference for a bank row that carries no
// unique id of its own, like "csv_20241221_NEWWORLD_-45.50_1". Merchants
// longer than 12 letters and digits keep a 12-character prefix followed by
// a hash of the whole name. occurrence distinguishes identical rows in the
// same file (1-based).
func FormatImportRef(source string, date time.Time, merchant string, amount decimal.Decimal, occurrence int) string {
	return fmt.Sprintf("%s_%d", importRefBase(source, date, merchant, amount), occurrence)
}

// ImportRefKey groups rows that FormatImportRef would give the same
// reference apart from the occurrence.
func ImportRefKey(source string, date time.Time, merchant string, amount decimal.Decimal) string {
	return importRefBase(source, date, merchant, amount)
}

func importRefBase(source string, date time.Time, merchant string, amount decimal.Decimal) string {
	name := strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return -1
	}, merchant)
	if len(name) > 12 {
		sum := sha256.Sum256([]byte(name))
		name = name[:12] + "-" + hex.EncodeToString(sum[:4])
	}
	return fmt.Sprintf("%s_%s_%s_%s", source, date.Format("20060102"), name, amount.StringFixed(2))
}
