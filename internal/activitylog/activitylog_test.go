package activitylog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

func seed(t *testing.T, dir string) {
	t.Helper()
	l := New(dir, "cli")
	for _, e := range []Entry{
		{At: testTime, Action: "create_transaction", TransactionID: 12, Details: "New World -45.67 on account 1"},
		{At: testTime.Add(time.Minute), Action: "approve_transaction", TransactionID: 12, Details: "approved -45.67 across 1 envelope"},
		{At: testTime.Add(2 * time.Minute), Action: "import_csv", Batch: "3f1c", Details: "account 1: 2 imported"},
		{At: testTime.Add(3 * time.Minute), Action: "delete_transaction", TransactionID: 13, Details: "deleted Fuel -80.00"},
	} {
		require.NoError(t, l.Record(e))
	}
}

func TestRecordAndQuery(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir)

	all, err := Query(dir, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "create_transaction", all[0].Action)
	assert.Equal(t, 12, all[0].TransactionID)
	assert.Equal(t, "cli", all[0].Actor)
	assert.Equal(t, testTime, all[0].At)
	assert.Equal(t, 0, all[2].TransactionID)
	assert.Equal(t, "3f1c", all[2].Batch)

	raw, err := os.ReadFile(filepath.Join(dir, Path))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "at,actor,action,transaction_id,batch,details\n")
}

func TestQuery_Filters(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"by transaction", Filter{TransactionID: 12}, []string{"create_transaction", "approve_transaction"}},
		{"by batch", Filter{Batch: "3f1c"}, []string{"import_csv"}},
		{"by action", Filter{Action: "delete_transaction"}, []string{"delete_transaction"}},
		{"since", Filter{Since: testTime.Add(2 * time.Minute)}, []string{"import_csv", "delete_transaction"}},
		{"combined", Filter{TransactionID: 12, Action: "import_csv"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Query(dir, tt.filter)
			require.NoError(t, err)
			var got []string
			for _, e := range entries {
				got = append(got, e.Action)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecord_FillsDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, New(dir, "serve").Record(Entry{Action: "transfer", Details: "1 -> 2"}))

	entries, err := Query(dir, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "serve", entries[0].Actor)
	assert.False(t, entries[0].At.IsZero())
}

func TestRecord_Concurrent(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "cli")

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Record(Entry{Action: "approve_transaction", TransactionID: i}))
		}()
	}
	wg.Wait()

	entries, err := Query(dir, Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestQuery_MissingLog(t *testing.T) {
	entries, err := Query(t.TempDir(), Filter{})
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestQuery_BadLine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0o755))
	content := "at,actor,action,transaction_id,batch,details\n" +
		"2025-01-15T10:30:00Z,cli,approve_transaction,12,,ok\n" +
		"yesterday,cli,approve_transaction,12,,bad\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, Path), []byte(content), 0o644))

	_, err := Query(dir, Filter{})
	assert.ErrorContains(t, err, "activity log line 3")
}
