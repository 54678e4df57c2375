package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/id"
	"github.com/envelopes-dev/envelopes/internal/model"
)

// headerScanLines bounds how far into a file the header row may appear.
const headerScanLines = 10

// refSource prefixes synthetic references for rows without a bank id.
const refSource = "csv"

// Row is one normalized CSV line.
type Row struct {
	RowNumber   int // 1-based line in the file
	Date        time.Time
	Amount      decimal.Decimal
	Merchant    string
	Description string
	ExternalID  string
	TranType    string
	// Synthetic is set when ExternalID was derived from the row content
	// because the file has no unique id column or the cell was empty.
	Synthetic bool
}

// Candidate converts the row into a matcher candidate for accountID.
func (r Row) Candidate(accountID int) model.Candidate {
	return model.Candidate{
		AccountID:   accountID,
		Date:        r.Date,
		Amount:      r.Amount,
		Merchant:    r.Merchant,
		Description: r.Description,
		ExternalID:  r.ExternalID,
		Memo:        r.Description,
		TranType:    r.TranType,
	}
}

// Result is the outcome of Parse. Rows and Errors are both in file order.
type Result struct {
	Rows   []Row
	Errors []apperr.RowError
}

// columns maps header names to field indexes; -1 means absent.
type columns struct {
	date     int
	amount   int
	merchant int
	memo     int
	uniqueID int
	tranType int
}

func (c columns) required() int {
	return max(c.date, c.amount) + 1
}

// Parse reads a bank CSV export. Banner lines before the header are
// skipped, and each data line is parsed on its own so one malformed row
// yields one RowError without affecting its neighbours. Parse only fails
// when no header row can be found.
func Parse(raw []byte) (Result, error) {
	lines := splitLines(raw)

	headerAt := -1
	var cols columns
	for i := 0; i < len(lines) && i < headerScanLines; i++ {
		fields, err := splitFields(lines[i])
		if err != nil {
			continue
		}
		if c, ok := detectColumns(fields); ok {
			headerAt, cols = i, c
			break
		}
	}
	if headerAt < 0 {
		return Result{}, fmt.Errorf("no header with date and amount columns in the first %d lines", headerScanLines)
	}

	var res Result
	seen := make(map[string]int)
	for i := headerAt + 1; i < len(lines); i++ {
		rowNum := i + 1
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		row, err := parseRow(lines[i], cols)
		if err != nil {
			res.Errors = append(res.Errors, apperr.RowError{RowNumber: rowNum, Reason: err.Error()})
			continue
		}
		row.RowNumber = rowNum
		if row.ExternalID == "" {
			key := id.ImportRefKey(refSource, row.Date, row.Merchant, row.Amount)
			seen[key]++
			row.ExternalID = id.FormatImportRef(refSource, row.Date, row.Merchant, row.Amount, seen[key])
			row.Synthetic = true
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

func splitLines(raw []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	return lines
}

// splitFields splits one line, honouring double-quoted fields.
func splitFields(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	fields, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("splitting fields: %w", err)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}

func detectColumns(fields []string) (columns, bool) {
	c := columns{date: -1, amount: -1, merchant: -1, memo: -1, uniqueID: -1, tranType: -1}
	memoRank := len(memoHeaders)
	for i, f := range fields {
		name := strings.ToLower(strings.TrimSpace(f))
		switch {
		case c.date < 0 && strings.Contains(name, "date"):
			c.date = i
		case c.amount < 0 && strings.Contains(name, "amount"):
			c.amount = i
		case c.merchant < 0 && (name == "payee" || name == "merchant"):
			c.merchant = i
		case c.uniqueID < 0 && (name == "unique id" || name == "uniqueid" || name == "transaction id"):
			c.uniqueID = i
		case c.tranType < 0 && (name == "tran type" || name == "transaction type" || name == "type"):
			c.tranType = i
		default:
			for rank, h := range memoHeaders {
				if name == h && rank < memoRank {
					c.memo, memoRank = i, rank
				}
			}
		}
	}
	return c, c.date >= 0 && c.amount >= 0
}

// memoHeaders in order of preference.
var memoHeaders = []string{"memo", "description", "reference", "particulars", "details"}

func parseRow(line string, cols columns) (Row, error) {
	fields, err := splitFields(line)
	if err != nil {
		return Row{}, err
	}
	if len(fields) < cols.required() {
		return Row{}, fmt.Errorf("expected at least %d fields, got %d", cols.required(), len(fields))
	}

	date, err := ParseDate(fields[cols.date])
	if err != nil {
		return Row{}, err
	}
	amount, err := ParseAmount(fields[cols.amount])
	if err != nil {
		return Row{}, err
	}

	row := Row{
		Date:        date,
		Amount:      amount,
		Merchant:    field(fields, cols.merchant),
		Description: field(fields, cols.memo),
		ExternalID:  field(fields, cols.uniqueID),
		TranType:    field(fields, cols.tranType),
	}
	if row.Merchant == "" {
		row.Merchant = row.Description
	}
	return row, nil
}

func field(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

// ParseDate accepts YYYY/MM/DD and DD/MM/YYYY, with "/" or "-" separators.
// A four-digit first group selects the year-first dialect.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' })
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("parsing date %q: expected three parts", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
		}
		nums[i] = n
	}

	var y, m, d int
	switch {
	case len(parts[0]) == 4:
		y, m, d = nums[0], nums[1], nums[2]
	case len(parts[2]) == 4:
		d, m, y = nums[0], nums[1], nums[2]
	default:
		return time.Time{}, fmt.Errorf("parsing date %q: year must have four digits", s)
	}

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, fmt.Errorf("parsing date %q: no such day", s)
	}
	return t, nil
}

// ParseAmount parses a signed amount, ignoring currency symbols and
// thousands separators. "(12.50)" is read as -12.50.
func ParseAmount(s string) (decimal.Decimal, error) {
	orig := s
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', '£', '€', ',', ' ':
			return -1
		}
		return r
	}, s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "NZ"), "AU")
	if s == "" {
		return decimal.Zero, fmt.Errorf("parsing amount %q: empty", orig)
	}
	d, err := model.ParseMoney(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", orig, err)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}
