package filestore

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/envelopes-dev/envelopes/internal/model"
)

const (
	dateFormat = "2006-01-02"
	timeFormat = time.RFC3339Nano
)

// Headers for each file in the data directory.
const (
	AccountsHeader     = "id,user_id,name,type,balance"
	EnvelopesHeader    = "id,user_id,name,icon,category_id,budgeted,opening_balance,balance,monitored"
	LedgerHeader       = "seq,envelope_id,delta,kind,transaction_id,description,at"
	TransactionsHeader = "id,user_id,account_id,amount,merchant,description,date,is_approved,source,import_batch," +
		"external_id,memo,tran_type,fingerprint,duplicate_status,duplicate_of_id,label_ids,allocations,applied_allocations,edited"
)

const (
	colAcctID = iota
	colAcctUser
	colAcctName
	colAcctType
	colAcctBalance
	numAcctFields
)

const (
	colEnvID = iota
	colEnvUser
	colEnvName
	colEnvIcon
	colEnvCategory
	colEnvBudgeted
	colEnvOpening
	colEnvBalance
	colEnvMonitored
	numEnvFields
)

const (
	colEntrySeq = iota
	colEntryEnv
	colEntryDelta
	colEntryKind
	colEntryTx
	colEntryDesc
	colEntryAt
	numEntryFields
)

const (
	colTxID = iota
	colTxUser
	colTxAcct
	colTxAmount
	colTxMerchant
	colTxDesc
	colTxDate
	colTxApproved
	colTxSource
	colTxBatch
	colTxExternal
	colTxMemo
	colTxTranType
	colTxFingerprint
	colTxDupStatus
	colTxDupOf
	colTxLabels
	colTxAllocs
	colTxApplied
	colTxEdited
	numTxFields
)

// readRows reads a CSV file with a header row and returns the data rows.
func readRows(r io.Reader, fields int) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = fields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[1:], nil
}

func writeRows(w io.Writer, header string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(strings.Split(header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalAccount converts an Account to a CSV row.
func MarshalAccount(a model.Account) []string {
	row := make([]string, numAcctFields)
	row[colAcctID] = strconv.Itoa(a.ID)
	row[colAcctUser] = a.UserID
	row[colAcctName] = a.Name
	row[colAcctType] = string(a.Type)
	row[colAcctBalance] = a.Balance.StringFixed(2)
	return row
}

// UnmarshalAccount converts a CSV row to an Account.
func UnmarshalAccount(record []string) (model.Account, error) {
	if len(record) != numAcctFields {
		return model.Account{}, fmt.Errorf("expected %d fields, got %d", numAcctFields, len(record))
	}
	id, err := parseInt("id", record[colAcctID])
	if err != nil {
		return model.Account{}, err
	}
	balance, err := parseDecimal("balance", record[colAcctBalance])
	if err != nil {
		return model.Account{}, err
	}
	return model.Account{
		ID:      id,
		UserID:  record[colAcctUser],
		Name:    record[colAcctName],
		Type:    model.AccountType(record[colAcctType]),
		Balance: balance,
	}, nil
}

// MarshalEnvelope converts an Envelope to a CSV row.
func MarshalEnvelope(e model.Envelope) []string {
	row := make([]string, numEnvFields)
	row[colEnvID] = strconv.Itoa(e.ID)
	row[colEnvUser] = e.UserID
	row[colEnvName] = e.Name
	row[colEnvIcon] = e.Icon
	if e.CategoryID != nil {
		row[colEnvCategory] = strconv.Itoa(*e.CategoryID)
	}
	row[colEnvBudgeted] = e.Budgeted.StringFixed(2)
	row[colEnvOpening] = e.OpeningBalance.StringFixed(2)
	row[colEnvBalance] = e.Balance.StringFixed(2)
	row[colEnvMonitored] = strconv.FormatBool(e.Monitored)
	return row
}

// UnmarshalEnvelope converts a CSV row to an Envelope.
func UnmarshalEnvelope(record []string) (model.Envelope, error) {
	if len(record) != numEnvFields {
		return model.Envelope{}, fmt.Errorf("expected %d fields, got %d", numEnvFields, len(record))
	}
	var (
		e   model.Envelope
		err error
	)
	if e.ID, err = parseInt("id", record[colEnvID]); err != nil {
		return model.Envelope{}, err
	}
	if record[colEnvCategory] != "" {
		cat, err := parseInt("category_id", record[colEnvCategory])
		if err != nil {
			return model.Envelope{}, err
		}
		e.CategoryID = &cat
	}
	if e.Budgeted, err = parseDecimal("budgeted", record[colEnvBudgeted]); err != nil {
		return model.Envelope{}, err
	}
	if e.OpeningBalance, err = parseDecimal("opening_balance", record[colEnvOpening]); err != nil {
		return model.Envelope{}, err
	}
	if e.Balance, err = parseDecimal("balance", record[colEnvBalance]); err != nil {
		return model.Envelope{}, err
	}
	if e.Monitored, err = parseBool("monitored", record[colEnvMonitored]); err != nil {
		return model.Envelope{}, err
	}
	e.UserID = record[colEnvUser]
	e.Name = record[colEnvName]
	e.Icon = record[colEnvIcon]
	return e, nil
}

// MarshalEntry converts a LedgerEntry to a CSV row.
func MarshalEntry(le model.LedgerEntry) []string {
	row := make([]string, numEntryFields)
	row[colEntrySeq] = strconv.Itoa(le.Seq)
	row[colEntryEnv] = strconv.Itoa(le.EnvelopeID)
	row[colEntryDelta] = le.Delta.StringFixed(2)
	row[colEntryKind] = string(le.Kind)
	if le.TransactionID != 0 {
		row[colEntryTx] = strconv.Itoa(le.TransactionID)
	}
	row[colEntryDesc] = le.Description
	if !le.At.IsZero() {
		row[colEntryAt] = le.At.UTC().Format(timeFormat)
	}
	return row
}

// UnmarshalEntry converts a CSV row to a LedgerEntry.
func UnmarshalEntry(record []string) (model.LedgerEntry, error) {
	if len(record) != numEntryFields {
		return model.LedgerEntry{}, fmt.Errorf("expected %d fields, got %d", numEntryFields, len(record))
	}
	var (
		le  model.LedgerEntry
		err error
	)
	if le.Seq, err = parseInt("seq", record[colEntrySeq]); err != nil {
		return model.LedgerEntry{}, err
	}
	if le.EnvelopeID, err = parseInt("envelope_id", record[colEntryEnv]); err != nil {
		return model.LedgerEntry{}, err
	}
	if le.Delta, err = parseDecimal("delta", record[colEntryDelta]); err != nil {
		return model.LedgerEntry{}, err
	}
	if record[colEntryTx] != "" {
		if le.TransactionID, err = parseInt("transaction_id", record[colEntryTx]); err != nil {
			return model.LedgerEntry{}, err
		}
	}
	if record[colEntryAt] != "" {
		if le.At, err = time.Parse(timeFormat, record[colEntryAt]); err != nil {
			return model.LedgerEntry{}, fmt.Errorf("parsing at %q: %w", record[colEntryAt], err)
		}
	}
	le.Kind = model.EntryKind(record[colEntryKind])
	le.Description = record[colEntryDesc]
	return le, nil
}

// MarshalTransaction converts a Transaction to a CSV row. Label ids and
// allocations are packed into single cells.
func MarshalTransaction(t model.Transaction) []string {
	row := make([]string, numTxFields)
	row[colTxID] = strconv.Itoa(t.ID)
	row[colTxUser] = t.UserID
	row[colTxAcct] = strconv.Itoa(t.AccountID)
	row[colTxAmount] = t.Amount.StringFixed(2)
	row[colTxMerchant] = t.Merchant
	row[colTxDesc] = t.Description
	row[colTxDate] = t.Date.Format(dateFormat)
	row[colTxApproved] = strconv.FormatBool(t.IsApproved)
	row[colTxSource] = string(t.Source)
	row[colTxBatch] = t.ImportBatch
	row[colTxExternal] = t.ExternalID
	row[colTxMemo] = t.Memo
	row[colTxTranType] = t.TranType
	row[colTxFingerprint] = t.Fingerprint
	row[colTxDupStatus] = string(t.DuplicateStatus)
	if t.DuplicateOfID != 0 {
		row[colTxDupOf] = strconv.Itoa(t.DuplicateOfID)
	}
	row[colTxLabels] = FormatLabels(t.LabelIDs)
	row[colTxAllocs] = FormatAllocations(t.Allocations)
	row[colTxApplied] = FormatAllocations(t.AppliedAllocations)
	row[colTxEdited] = strconv.FormatBool(t.Edited)
	return row
}

// UnmarshalTransaction converts a CSV row to a Transaction.
func UnmarshalTransaction(record []string) (model.Transaction, error) {
	if len(record) != numTxFields {
		return model.Transaction{}, fmt.Errorf("expected %d fields, got %d", numTxFields, len(record))
	}
	var (
		t   model.Transaction
		err error
	)
	if t.ID, err = parseInt("id", record[colTxID]); err != nil {
		return model.Transaction{}, err
	}
	if t.AccountID, err = parseInt("account_id", record[colTxAcct]); err != nil {
		return model.Transaction{}, err
	}
	if t.Amount, err = parseDecimal("amount", record[colTxAmount]); err != nil {
		return model.Transaction{}, err
	}
	if t.Date, err = time.Parse(dateFormat, record[colTxDate]); err != nil {
		return model.Transaction{}, fmt.Errorf("parsing date %q: %w", record[colTxDate], err)
	}
	if t.IsApproved, err = parseBool("is_approved", record[colTxApproved]); err != nil {
		return model.Transaction{}, err
	}
	if record[colTxDupOf] != "" {
		if t.DuplicateOfID, err = parseInt("duplicate_of_id", record[colTxDupOf]); err != nil {
			return model.Transaction{}, err
		}
	}
	if t.LabelIDs, err = ParseLabels(record[colTxLabels]); err != nil {
		return model.Transaction{}, err
	}
	if t.Allocations, err = ParseAllocations(record[colTxAllocs]); err != nil {
		return model.Transaction{}, fmt.Errorf("parsing allocations: %w", err)
	}
	if t.AppliedAllocations, err = ParseAllocations(record[colTxApplied]); err != nil {
		return model.Transaction{}, fmt.Errorf("parsing applied_allocations: %w", err)
	}
	if t.Edited, err = parseBool("edited", record[colTxEdited]); err != nil {
		return model.Transaction{}, err
	}

	t.UserID = record[colTxUser]
	t.Merchant = record[colTxMerchant]
	t.Description = record[colTxDesc]
	t.Source = model.Source(record[colTxSource])
	t.ImportBatch = record[colTxBatch]
	t.ExternalID = record[colTxExternal]
	t.Memo = record[colTxMemo]
	t.TranType = record[colTxTranType]
	t.Fingerprint = record[colTxFingerprint]
	t.DuplicateStatus = model.DuplicateStatus(record[colTxDupStatus])
	if t.DuplicateStatus == "" {
		t.DuplicateStatus = model.DuplicateNone
	}
	return t, nil
}

// FormatAllocations packs allocations as "envelope:amount;envelope:amount".
func FormatAllocations(allocs []model.Allocation) string {
	parts := make([]string, len(allocs))
	for i, a := range allocs {
		parts[i] = strconv.Itoa(a.EnvelopeID) + ":" + a.Amount.StringFixed(2)
	}
	return strings.Join(parts, ";")
}

// ParseAllocations reverses FormatAllocations.
func ParseAllocations(s string) ([]model.Allocation, error) {
	if s == "" {
		return nil, nil
	}
	var out []model.Allocation
	for _, part := range strings.Split(s, ";") {
		envStr, amtStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("malformed allocation %q", part)
		}
		envID, err := parseInt("envelope id", envStr)
		if err != nil {
			return nil, err
		}
		amt, err := parseDecimal("allocation amount", amtStr)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Allocation{EnvelopeID: envID, Amount: amt})
	}
	return out, nil
}

// FormatLabels packs label ids as "1;2;3".
func FormatLabels(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ";")
}

// ParseLabels reverses FormatLabels.
func ParseLabels(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ";") {
		id, err := parseInt("label id", part)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func parseInt(field, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", field, s, err)
	}
	return n, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing %s %q: %w", field, s, err)
	}
	return d, nil
}

func parseBool(field, s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("parsing %s %q: %w", field, s, err)
	}
	return b, nil
}
