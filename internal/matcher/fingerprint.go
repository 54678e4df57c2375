package matcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/envelopes-dev/envelopes/internal/model"
)

// Fingerprint identifies the economic event behind a transaction:
// account, calendar day, amount in cents, and normalized merchant. It is
// deterministic so it can be stored and recomputed after a restart.
func Fingerprint(accountID int, date time.Time, amount decimal.Decimal, merchant string) string {
	parts := []string{
		fmt.Sprintf("account:%d", accountID),
		"date:" + model.Day(date).Format("2006-01-02"),
		"amount:" + amount.StringFixed(2),
		"merchant:" + NormalizeMerchant(merchant),
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "fp_" + hex.EncodeToString(hash[:16])
}

// FingerprintOf returns the stored fingerprint of t, computing it when absent.
func FingerprintOf(t model.Transaction) string {
	if t.Fingerprint != "" {
		return t.Fingerprint
	}
	return Fingerprint(t.AccountID, t.Date, t.Amount, t.Merchant)
}

// CandidateFingerprint fingerprints a not-yet-persisted candidate.
func CandidateFingerprint(c model.Candidate) string {
	return Fingerprint(c.AccountID, c.Date, c.Amount, c.Merchant)
}

// NormalizeMerchant lower-cases s, drops punctuation and collapses runs of
// whitespace, so "NEW WORLD  #12" and "new world 12" compare equal.
func NormalizeMerchant(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}
