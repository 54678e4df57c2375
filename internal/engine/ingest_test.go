package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/bankfeed"
	"github.com/envelopes-dev/envelopes/internal/matcher"
	"github.com/envelopes-dev/envelopes/internal/model"
)

func record(id, date, amount, merchant string) bankfeed.Record {
	return bankfeed.Record{ID: id, Date: date, Amount: dec(amount), Description: merchant, Merchant: merchant}
}

func TestImportCSV_NewWorldMerge(t *testing.T) {
	f := newFixture(t)
	manual := f.manual(t, day(2024, 12, 21), "-45.50", "New World")

	res, err := f.eng.ImportCSV(f.ctx, []byte("Date,Payee,Amount,Memo\n21/12/2024,New World,-45.50,\n"), f.acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Imported)
	assert.Empty(t, res.Errors)
	assert.NotEmpty(t, res.Batch)

	views := f.eng.GetTransactions(testUser)
	require.Len(t, views, 1)
	got := views[0]
	assert.Equal(t, manual.ID, got.ID)
	assert.Equal(t, model.DuplicateConfirmed, got.DuplicateStatus)
	assert.Equal(t, "csv_20241221_NEWWORLD_-45.50_1", got.ExternalID)
	assert.False(t, got.IsApproved)
	assert.Equal(t, model.SourceManual, got.Source)
	assert.Equal(t, []string{"csv_20241221_NEWWORLD_-45.50_1"}, res.SyntheticRefs)
}

func TestImportCSV_MergesAfterMerchantEdit(t *testing.T) {
	f := newFixture(t)
	manual := f.manual(t, day(2024, 12, 21), "-45.50", "New Wrld")
	merchant := "New World"
	_, err := f.eng.UpdateTransaction(f.ctx, manual.ID, TransactionUpdate{Merchant: &merchant})
	require.NoError(t, err)

	res, err := f.eng.ImportCSV(f.ctx, []byte("Date,Payee,Amount\n21/12/2024,New World,-45.50\n"), f.acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)
	assert.Equal(t, 0, res.Flagged)
	assert.Equal(t, 0, res.Created)

	views := f.eng.GetTransactions(testUser)
	require.Len(t, views, 1)
	assert.Equal(t, manual.ID, views[0].ID)
	assert.Equal(t, model.DuplicateConfirmed, views[0].DuplicateStatus)
}

func TestImportCSV_SharedPrefixMerchantsBothImported(t *testing.T) {
	f := newFixture(t)
	raw := []byte("Date,Payee,Amount\n21/12/2024,Countdown Auckland,-20.00\n21/12/2024,Countdown Auckland CBD,-20.00\n")

	res, err := f.eng.ImportCSV(f.ctx, raw, f.acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 0, res.Skipped)
	assert.Len(t, res.SyntheticRefs, 2)
	assert.Len(t, f.eng.GetTransactions(testUser), 2)

	again, err := f.eng.ImportCSV(f.ctx, raw, f.acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Skipped)
	assert.Len(t, f.eng.GetTransactions(testUser), 2)
}

func TestImportCSV_RowIsolationAndReimport(t *testing.T) {
	f := newFixture(t)
	raw := strings.Join([]string{
		"Bank export,,",
		"Date,Payee,Amount",
		"2024/12/01,One,-1.00",
		"2024/12/02,Two,-2.00",
		"2024/12/03,Three,not money",
		"2024/12/04,Four,-4.00",
		"2024/12/05,\"Five, Ltd\",-5.00",
	}, "\n")

	res, err := f.eng.ImportCSV(f.ctx, []byte(raw), f.acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Imported)
	assert.Equal(t, 4, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 5, res.Errors[0].RowNumber)

	for _, v := range f.eng.GetTransactions(testUser) {
		assert.False(t, v.IsApproved)
		assert.Equal(t, model.SourceCSV, v.Source)
		assert.Equal(t, res.Batch, v.ImportBatch)
	}

	again, err := f.eng.ImportCSV(f.ctx, []byte(raw), f.acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Imported)
	assert.Equal(t, 4, again.Skipped)
	assert.Len(t, f.eng.GetTransactions(testUser), 4)
}

func TestImportCSV_FlagsNearMatch(t *testing.T) {
	f := newFixture(t)
	manual := f.manual(t, day(2024, 12, 20), "-45.50", "New World")

	res, err := f.eng.ImportCSV(f.ctx, []byte("Date,Payee,Amount\n21/12/2024,New World,-45.50\n"), f.acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Flagged)

	views := f.eng.GetTransactions(testUser)
	require.Len(t, views, 2)
	bank := views[0]
	assert.Equal(t, StatusPotentialDuplicate, bank.Status)
	assert.Equal(t, manual.ID, bank.DuplicateOfID)
	assert.False(t, bank.IsApproved)

	// The manual record is left alone.
	assert.Equal(t, model.DuplicateNone, views[1].DuplicateStatus)
}

func TestImportCSV_Errors(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.ImportCSV(f.ctx, []byte("Date,Amount\n"), 99)
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.eng.ImportCSV(f.ctx, []byte("no header here\n"), f.acct.ID)
	assert.ErrorContains(t, err, "parsing CSV")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.eng.ImportCSV(ctx, []byte("Date,Amount\n2024/12/01,-1\n"), f.acct.ID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyncBankAccount(t *testing.T) {
	f := newFixture(t)
	manual := f.manual(t, day(2024, 12, 21), "-45.50", "New World")
	near := f.manual(t, day(2024, 12, 19), "-12.00", "Coffee Club")
	f.feed.Set("conn_1",
		record("trans_1", "2024-12-21", "-45.50", "New World"),
		record("trans_2", "2024-12-20", "-12.00", "Coffee Club"),
		record("trans_3", "2024-12-22", "-80.00", "Z Energy"),
		record("trans_4", "22/12/2024", "-1.00", "Bad date"),
	)

	res, err := f.eng.SyncBankAccount(f.ctx, "conn_1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)
	assert.Equal(t, 1, res.Flagged)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Details, 4)

	assert.Equal(t, matcher.ActionMerge, res.Details[0].Action)
	assert.Equal(t, manual.ID, res.Details[0].TransactionID)
	assert.Equal(t, matcher.ActionFlag, res.Details[1].Action)
	assert.Equal(t, near.ID, res.Details[1].MatchedTransactionID)
	assert.Equal(t, matcher.ActionCreate, res.Details[2].Action)
	assert.Contains(t, res.Details[3].Error, "parsing date")

	created, err := f.eng.GetTransaction(res.Details[2].TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceBank, created.Source)
	assert.Equal(t, "trans_3", created.ExternalID)
	assert.False(t, created.IsApproved)

	again, err := f.eng.SyncBankAccount(f.ctx, "conn_1")
	require.NoError(t, err)
	assert.Equal(t, 3, again.Skipped)
	assert.Zero(t, again.Created+again.Merged+again.Flagged)
}

func TestSyncBankAccount_UnknownConnection(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.SyncBankAccount(f.ctx, "nope")
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, apperr.KindConnection, nf.Kind)

	// Configured but the feed has nothing for it.
	_, err = f.eng.SyncBankAccount(f.ctx, "conn_1")
	assert.True(t, apperr.IsNotFound(err))
}

func TestSyncAll(t *testing.T) {
	f := newFixture(t)
	f.feed.Set("conn_1", record("trans_1", "2024-12-21", "-5.00", "Dairy"))

	results, err := f.eng.SyncAll(f.ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Created)
}

// flaggedPair creates a pending manual entry and a bank copy flagged
// against it.
func flaggedPair(t *testing.T, f *fixture) (manual, bank model.Transaction) {
	t.Helper()
	manual = f.manual(t, day(2024, 12, 20), "-45.50", "New World")
	_, err := f.eng.SetAllocations(f.ctx, manual.ID, []model.Allocation{alloc(f.envA.ID, "-45.50")})
	require.NoError(t, err)

	f.feed.Set("conn_1", record("trans_1", "2024-12-21", "-45.50", "NEW WORLD"))
	res, err := f.eng.SyncBankAccount(f.ctx, "conn_1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Flagged)

	bank, err = f.eng.txs.Get(res.Details[0].TransactionID)
	require.NoError(t, err)
	return manual, bank
}

func TestResolveDuplicate_Merge(t *testing.T) {
	f := newFixture(t)
	manual, bank := flaggedPair(t, f)

	res, err := f.eng.ResolveDuplicate(f.ctx, bank.ID, manual.ID, ResolveMerge)
	require.NoError(t, err)
	assert.Nil(t, res.Bank)
	assert.True(t, res.Manual.IsApproved)
	assert.Equal(t, "trans_1", res.Manual.ExternalID)
	assert.Equal(t, model.DuplicateConfirmed, res.Manual.DuplicateStatus)

	_, err = f.eng.GetTransaction(bank.ID)
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, "54.50", f.balance(t, f.envA.ID))
	assert.Empty(t, f.eng.Verify())

	// The bank reference now lives on the manual entry.
	again, err := f.eng.SyncBankAccount(f.ctx, "conn_1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped)
}

func TestResolveDuplicate_MergeReversesApprovedBankCopy(t *testing.T) {
	f := newFixture(t)
	manual, bank := flaggedPair(t, f)
	_, err := f.eng.ApproveTransaction(f.ctx, bank.ID, []model.Allocation{alloc(f.envB.ID, "-45.50")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "4.50", f.balance(t, f.envB.ID))

	_, err = f.eng.ResolveDuplicate(f.ctx, bank.ID, manual.ID, ResolveMerge)
	require.NoError(t, err)
	assert.Equal(t, "50.00", f.balance(t, f.envB.ID))
	assert.Equal(t, "54.50", f.balance(t, f.envA.ID))
	assert.Empty(t, f.eng.Verify())
}

func TestResolveDuplicate_MergeWithoutAllocationsStaysUnapproved(t *testing.T) {
	f := newFixture(t)
	manual, bank := flaggedPair(t, f)
	_, err := f.eng.SetAllocations(f.ctx, manual.ID, nil)
	require.NoError(t, err)

	res, err := f.eng.ResolveDuplicate(f.ctx, bank.ID, manual.ID, ResolveMerge)
	require.NoError(t, err)
	assert.False(t, res.Manual.IsApproved)
	assert.Equal(t, "trans_1", res.Manual.ExternalID)
	assert.Equal(t, "100.00", f.balance(t, f.envA.ID))
}

func TestResolveDuplicate_KeepBoth(t *testing.T) {
	f := newFixture(t)
	manual, bank := flaggedPair(t, f)

	res, err := f.eng.ResolveDuplicate(f.ctx, bank.ID, manual.ID, ResolveKeepBoth)
	require.NoError(t, err)
	require.NotNil(t, res.Bank)
	assert.Equal(t, model.DuplicateReviewed, res.Bank.DuplicateStatus)
	assert.Equal(t, model.DuplicateReviewed, res.Manual.DuplicateStatus)

	got, err := f.eng.GetTransaction(bank.ID)
	require.NoError(t, err)
	assert.NotEqual(t, StatusPotentialDuplicate, got.Status)

	// Reviewed records take no further part in matching.
	f.feed.Set("conn_1", record("trans_9", "2024-12-21", "-45.50", "New World"))
	again, err := f.eng.SyncBankAccount(f.ctx, "conn_1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Created)

	// A resolved pair cannot be resolved twice.
	_, err = f.eng.ResolveDuplicate(f.ctx, bank.ID, manual.ID, ResolveMerge)
	assert.Equal(t, apperr.CodeNotAPotentialDuplicate, apperr.CodeOf(err))
}

func TestResolveDuplicate_DeleteBank(t *testing.T) {
	f := newFixture(t)
	manual, bank := flaggedPair(t, f)

	res, err := f.eng.ResolveDuplicate(f.ctx, bank.ID, manual.ID, ResolveDeleteBank)
	require.NoError(t, err)
	assert.Nil(t, res.Bank)
	assert.Equal(t, manual.ID, res.Manual.ID)
	assert.False(t, res.Manual.IsApproved)
	assert.Empty(t, res.Manual.ExternalID)

	_, err = f.eng.GetTransaction(bank.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestResolveDuplicate_Rejections(t *testing.T) {
	f := newFixture(t)
	manual, bank := flaggedPair(t, f)
	other := f.manual(t, day(2024, 12, 1), "-1.00", "Other")

	_, err := f.eng.ResolveDuplicate(f.ctx, bank.ID, manual.ID, "squash")
	assert.Equal(t, apperr.CodeInvalidResolution, apperr.CodeOf(err))

	_, err = f.eng.ResolveDuplicate(f.ctx, bank.ID, other.ID, ResolveMerge)
	assert.Equal(t, apperr.CodeNotAPotentialDuplicate, apperr.CodeOf(err))

	_, err = f.eng.ResolveDuplicate(f.ctx, manual.ID, bank.ID, ResolveDeleteBank)
	assert.Equal(t, apperr.CodeNotAPotentialDuplicate, apperr.CodeOf(err))

	_, err = f.eng.ResolveDuplicate(f.ctx, 999, manual.ID, ResolveMerge)
	assert.True(t, apperr.IsNotFound(err))
}

func TestDelete_ReleasesFlaggedCopies(t *testing.T) {
	f := newFixture(t)
	manual, bank := flaggedPair(t, f)

	require.NoError(t, f.eng.DeleteTransaction(f.ctx, manual.ID))

	got, err := f.eng.GetTransaction(bank.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DuplicateNone, got.DuplicateStatus)
	assert.Zero(t, got.DuplicateOfID)
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution(" Keep_Both ")
	require.NoError(t, err)
	assert.Equal(t, ResolveKeepBoth, r)

	_, err = ParseResolution("")
	assert.True(t, apperr.IsValidation(err))
}
