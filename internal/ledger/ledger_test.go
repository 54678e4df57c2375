package ledger

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newEnvelope(l *Ledger, name, opening string) model.Envelope {
	return l.Create(model.Envelope{UserID: "u1", Name: name, OpeningBalance: dec(opening), Budgeted: dec("800")})
}

func TestCreate(t *testing.T) {
	l := New()
	a := newEnvelope(l, "Groceries", "100")
	b := newEnvelope(l, "Rent", "0")

	assert.Equal(t, 1, a.ID)
	assert.Equal(t, 2, b.ID)
	assert.Equal(t, "100.00", a.Balance.StringFixed(2))
	assert.Len(t, l.List("u1"), 2)
	assert.Empty(t, l.List("someone-else"))
}

func TestApplyDelta(t *testing.T) {
	l := New()
	a := newEnvelope(l, "Groceries", "100.00")

	bal, err := l.ApplyDelta(a.ID, dec("-45.67"), "New World")
	require.NoError(t, err)
	assert.Equal(t, "54.33", bal.StringFixed(2))

	_, err = l.ApplyDelta(99, dec("1"), "")
	assert.True(t, apperr.IsNotFound(err))
}

func TestApplyDelta_RejectsSubCent(t *testing.T) {
	l := New()
	a := newEnvelope(l, "Groceries", "100.00")
	_, err := l.ApplyDelta(a.ID, dec("0.001"), "")
	assert.Equal(t, apperr.CodeInvalidAmount, apperr.CodeOf(err))
}

func TestTransfer(t *testing.T) {
	l := New()
	a := newEnvelope(l, "A", "100")
	b := newEnvelope(l, "B", "10")

	from, to, err := l.Transfer(a.ID, b.ID, dec("25.50"), "top up")
	require.NoError(t, err)
	assert.Equal(t, "74.50", from.StringFixed(2))
	assert.Equal(t, "35.50", to.StringFixed(2))

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, model.EntryTransfer, entries[0].Kind)
}

func TestTransfer_UnknownTargetChangesNothing(t *testing.T) {
	l := New()
	a := newEnvelope(l, "A", "100")

	_, _, err := l.Transfer(a.ID, 42, dec("10"), "")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))

	got, err := l.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", got.Balance.StringFixed(2))
	assert.Empty(t, l.Entries())
}

func TestTransfer_Invalid(t *testing.T) {
	l := New()
	a := newEnvelope(l, "A", "100")
	b := newEnvelope(l, "B", "0")

	_, _, err := l.Transfer(a.ID, a.ID, dec("1"), "")
	assert.Equal(t, apperr.CodeInvalidTransfer, apperr.CodeOf(err))

	_, _, err = l.Transfer(a.ID, b.ID, dec("0"), "")
	assert.Equal(t, apperr.CodeInvalidAmount, apperr.CodeOf(err))

	_, _, err = l.Transfer(a.ID, b.ID, dec("-5"), "")
	assert.Equal(t, apperr.CodeInvalidAmount, apperr.CodeOf(err))
}

func TestApply_CommitFailureWritesNothing(t *testing.T) {
	l := New()
	a := newEnvelope(l, "A", "100")
	b := newEnvelope(l, "B", "100")

	boom := errors.New("store unavailable")
	_, err := l.Apply([]model.Delta{
		{EnvelopeID: a.ID, Amount: dec("-10")},
		{EnvelopeID: b.ID, Amount: dec("-5")},
	}, Posting{Kind: model.EntryAllocation, TransactionID: 1}, func() error { return boom })
	require.ErrorIs(t, err, boom)

	for _, e := range l.List("") {
		assert.Equal(t, "100.00", e.Balance.StringFixed(2))
	}
	assert.Empty(t, l.Entries())
}

func TestApply_MergesDeltasPerEnvelope(t *testing.T) {
	l := New()
	a := newEnvelope(l, "A", "0")

	envs, err := l.Apply([]model.Delta{
		{EnvelopeID: a.ID, Amount: dec("-10")},
		{EnvelopeID: a.ID, Amount: dec("4")},
	}, Posting{Kind: model.EntryAllocation}, nil)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "-6.00", envs[0].Balance.StringFixed(2))
	assert.Len(t, l.Entries(), 1)
}

func TestConcurrentOppositeTransfers(t *testing.T) {
	l := New()
	a := newEnvelope(l, "A", "1000")
	b := newEnvelope(l, "B", "1000")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, err := l.Transfer(a.ID, b.ID, dec("1.01"), "")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, _, err := l.Transfer(b.ID, a.ID, dec("0.99"), "")
			assert.NoError(t, err)
		}()
	}

	// Readers must always see the pair summing to 2000.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			l.View("", func(envs []model.Envelope) {
				total := decimal.Zero
				for _, e := range envs {
					total = total.Add(e.Balance)
				}
				assert.Equal(t, "2000.00", total.StringFixed(2))
			})
		}
	}()

	wg.Wait()
	<-done

	gotA, _ := l.Get(a.ID)
	gotB, _ := l.Get(b.ID)
	assert.Equal(t, "998.00", gotA.Balance.StringFixed(2))
	assert.Equal(t, "1002.00", gotB.Balance.StringFixed(2))
	assert.Empty(t, l.Verify())
}

func TestVerify(t *testing.T) {
	l := New()
	a := newEnvelope(l, "A", "100")
	_, err := l.ApplyDelta(a.ID, dec("-45.67"), "")
	require.NoError(t, err)
	assert.Empty(t, l.Verify())

	// Simulate a corrupted persisted balance.
	envs := l.List("")
	envs[0].Balance = dec("60")
	l.Restore(envs, l.Entries())

	violations := l.Verify()
	require.Len(t, violations, 1)
	assert.Equal(t, a.ID, violations[0].EnvelopeID)
	assert.Equal(t, "54.33", violations[0].Expected.StringFixed(2))
}

func TestRestore_ContinuesSequences(t *testing.T) {
	l := New()
	l.Restore([]model.Envelope{{ID: 7, Name: "Old", Balance: dec("5"), OpeningBalance: dec("5")}},
		[]model.LedgerEntry{})
	e := newEnvelope(l, "New", "0")
	assert.Equal(t, 8, e.ID)
}

func TestApplyBatches_AttributesEntries(t *testing.T) {
	l := New()
	a := newEnvelope(l, "Groceries", "100.00")
	b := newEnvelope(l, "Fuel", "50.00")

	_, err := l.Apply([]model.Delta{{EnvelopeID: a.ID, Amount: dec("-20.00")}},
		Posting{Kind: model.EntryAllocation, TransactionID: 1}, nil)
	require.NoError(t, err)

	envs, err := l.ApplyBatches([]Batch{
		{Posting: Posting{Kind: model.EntryReversal, TransactionID: 1}, Deltas: []model.Delta{{EnvelopeID: a.ID, Amount: dec("20.00")}}},
		{Posting: Posting{Kind: model.EntryAllocation, TransactionID: 2}, Deltas: []model.Delta{
			{EnvelopeID: a.ID, Amount: dec("-15.00")},
			{EnvelopeID: b.ID, Amount: dec("-5.00")},
		}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, "85.00", envs[0].Balance.StringFixed(2))
	assert.Equal(t, "45.00", envs[1].Balance.StringFixed(2))

	assert.Empty(t, l.AppliedFor(1))
	applied := l.AppliedFor(2)
	require.Len(t, applied, 2)
	assert.Equal(t, "-15.00", applied[a.ID].StringFixed(2))
	assert.Equal(t, "-5.00", applied[b.ID].StringFixed(2))
	assert.Empty(t, l.Verify())
}

func TestApplyBatches_UnknownEnvelopeWritesNothing(t *testing.T) {
	l := New()
	a := newEnvelope(l, "Groceries", "100.00")

	_, err := l.ApplyBatches([]Batch{
		{Posting: Posting{Kind: model.EntryReversal, TransactionID: 1}, Deltas: []model.Delta{{EnvelopeID: a.ID, Amount: dec("20.00")}}},
		{Posting: Posting{Kind: model.EntryAllocation, TransactionID: 2}, Deltas: []model.Delta{{EnvelopeID: 99, Amount: dec("-1.00")}}},
	}, nil)
	assert.True(t, apperr.IsNotFound(err))

	got, err := l.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", got.Balance.StringFixed(2))
	assert.Empty(t, l.Entries())
}

func TestSnapshot(t *testing.T) {
	l := New()
	a := newEnvelope(l, "Groceries", "100.00")
	_, err := l.ApplyDelta(a.ID, dec("-1.00"), "")
	require.NoError(t, err)

	l.Snapshot(func(envs []model.Envelope, entries []model.LedgerEntry) {
		require.Len(t, envs, 1)
		require.Len(t, entries, 1)
		assert.Equal(t, "99.00", envs[0].Balance.StringFixed(2))
		assert.Equal(t, model.EntryAdjustment, entries[0].Kind)
	})
}
