package id

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSequence(t *testing.T) {
	var s Sequence
	assert.Equal(t, 1, s.Next())
	assert.Equal(t, 2, s.Next())

	s.Observe(10)
	assert.Equal(t, 11, s.Next())

	s.Observe(3)
	assert.Equal(t, 11, s.Last())
}

func TestSequence_Concurrent(t *testing.T) {
	var s Sequence
	var wg sync.WaitGroup
	seen := make(chan int, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- s.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int]bool)
	for v := range seen {
		unique[v] = true
	}
	assert.Len(t, unique, 100)
	assert.Equal(t, 100, s.Last())
}

func TestFormatImportRef(t *testing.T) {
	date := time.Date(2024, 12, 21, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		merchant   string
		amount     string
		occurrence int
		want       string
	}{
		{"New World", "-45.5", 1, "csv_20241221_NEWWORLD_-45.50_1"},
		{"countdown metro #12", "-3", 2, "csv_20241221_COUNTDOWNMET-2adc74cf_-3.00_2"},
		{"", "10", 1, "csv_20241221__10.00_1"},
	}
	for _, tt := range tests {
		got := FormatImportRef("csv", date, tt.merchant, decimal.RequireFromString(tt.amount), tt.occurrence)
		assert.Equal(t, tt.want, got)
	}
}

func TestFormatImportRef_LongMerchantsStayDistinct(t *testing.T) {
	date := time.Date(2024, 12, 21, 0, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("-20")

	a := FormatImportRef("csv", date, "Countdown Auckland", amount, 1)
	b := FormatImportRef("csv", date, "Countdown Auckland CBD", amount, 1)
	assert.Equal(t, "csv_20241221_COUNTDOWNAUC-6045d1aa_-20.00_1", a)
	assert.Equal(t, "csv_20241221_COUNTDOWNAUC-3dce4d24_-20.00_1", b)
	assert.NotEqual(t, ImportRefKey("csv", date, "Countdown Auckland", amount),
		ImportRefKey("csv", date, "Countdown Auckland CBD", amount))
}

func TestImportRefKey_IgnoresCaseAndPunctuation(t *testing.T) {
	date := time.Date(2024, 12, 21, 0, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("-45.50")
	assert.Equal(t, ImportRefKey("csv", date, "New World", amount), ImportRefKey("csv", date, "NEW WORLD!", amount))
}
