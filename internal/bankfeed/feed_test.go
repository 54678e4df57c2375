package bankfeed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedJSON = `[
  {"_id": "trans_1", "date": "2024-12-21", "amount": "-45.50", "description": "NEW WORLD PONSONBY", "merchant": "New World", "type": "EFTPOS"},
  {"_id": "trans_2", "date": "2024-12-22T03:15:00Z", "amount": -12.345, "description": "Coffee Co"}
]`

func TestFileFeed_Fetch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conn_1.json"), []byte(feedJSON), 0o644))

	records, err := NewFileFeed(dir).Fetch(context.Background(), "conn_1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "trans_1", records[0].ID)
	assert.Equal(t, "-45.5", records[0].Amount.String())

	c, err := records[0].Candidate(3)
	require.NoError(t, err)
	assert.Equal(t, 3, c.AccountID)
	assert.Equal(t, "New World", c.Merchant)
	assert.Equal(t, "trans_1", c.ExternalID)
	assert.Equal(t, "EFTPOS", c.TranType)
	assert.Equal(t, time.Date(2024, 12, 21, 0, 0, 0, 0, time.UTC), c.Date)

	c2, err := records[1].Candidate(3)
	require.NoError(t, err)
	assert.Equal(t, "Coffee Co", c2.Merchant)
	assert.Equal(t, "-12.35", c2.Amount.StringFixed(2))
	assert.Equal(t, time.Date(2024, 12, 22, 0, 0, 0, 0, time.UTC), c2.Date)
}

func TestFileFeed_Unknown(t *testing.T) {
	f := NewFileFeed(t.TempDir())
	for _, id := range []string{"missing", "", "../etc/passwd"} {
		_, err := f.Fetch(context.Background(), id)
		assert.ErrorIs(t, err, ErrUnknownConnection, id)
	}
}

func TestFileFeed_BadJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.json"), []byte("{"), 0o644))
	_, err := NewFileFeed(dir).Fetch(context.Background(), "c")
	assert.ErrorContains(t, err, "parsing feed c")
}

func TestRecord_BadDate(t *testing.T) {
	_, err := Record{ID: "x", Date: "21/12/2024"}.Candidate(1)
	assert.ErrorContains(t, err, "parsing date")
}

func TestStatic(t *testing.T) {
	s := NewStatic()
	s.Set("c1", Record{ID: "a", Date: "2024-12-21", Amount: decimal.NewFromInt(-1)})

	got, err := s.Fetch(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = s.Fetch(context.Background(), "c2")
	assert.ErrorIs(t, err, ErrUnknownConnection)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Fetch(ctx, "c1")
	assert.ErrorIs(t, err, context.Canceled)
}
