package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envelopes-dev/envelopes/internal/bankfeed"
	"github.com/envelopes-dev/envelopes/internal/engine"
	"github.com/envelopes-dev/envelopes/internal/logging"
)

const testUser = "u1"

type persistLog struct {
	mu       sync.Mutex
	messages []string
	fail     bool
}

func (p *persistLog) persist(_ context.Context, msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("disk full")
	}
	p.messages = append(p.messages, msg)
	return nil
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	feed    *bankfeed.Static
	saved   *persistLog
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	feed := bankfeed.NewStatic()
	eng := engine.New(engine.Options{
		Feed:        feed,
		Connections: []bankfeed.Connection{{ID: "conn_1", Name: "Everyday", AccountID: 1}},
		Logger:      logging.Discard(),
		Now:         func() time.Time { return time.Date(2024, 12, 28, 0, 0, 0, 0, time.UTC) },
	})
	saved := &persistLog{}
	srv := New(eng, testUser, logging.Discard(), saved.persist)
	ts := &testServer{t: t, handler: srv.Handler(), feed: feed, saved: saved}

	ts.do("POST", "/accounts", `{"name":"Everyday","type":"checking","balance":"150.00"}`, http.StatusCreated, nil)
	ts.do("POST", "/envelopes", `{"name":"Groceries","budgeted":"800","openingBalance":"100.00"}`, http.StatusCreated, nil)
	ts.do("POST", "/envelopes", `{"name":"Fuel","budgeted":200,"openingBalance":50}`, http.StatusCreated, nil)
	return ts
}

func (ts *testServer) do(method, path, body string, wantStatus int, out any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(ts.t, wantStatus, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	if out != nil {
		require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestApproveAndDeleteFlow(t *testing.T) {
	ts := newTestServer(t)

	var tx transactionJSON
	ts.do("POST", "/transactions", `{"accountId":1,"amount":"-45.67","merchant":"Countdown","date":"2024-12-21"}`, http.StatusCreated, &tx)
	assert.Equal(t, "unmatched", tx.Status)
	assert.Equal(t, "2024-12-21", tx.Date)

	ts.do("POST", "/transactions/1/approve", `{"allocations":[{"envelopeId":1,"amount":"-45.67"}]}`, http.StatusOK, &tx)
	assert.True(t, tx.IsApproved)
	assert.Equal(t, "approved", tx.Status)

	var env envelopeJSON
	ts.do("GET", "/envelopes/1", "", http.StatusOK, &env)
	assert.Equal(t, "54.33", env.Balance)

	ts.do("DELETE", "/transactions/1", "", http.StatusNoContent, nil)
	ts.do("GET", "/envelopes/1", "", http.StatusOK, &env)
	assert.Equal(t, "100.00", env.Balance)
	ts.do("DELETE", "/transactions/1", "", http.StatusNotFound, nil)

	assert.Contains(t, ts.saved.messages, "approve: transaction 1")
	assert.Contains(t, ts.saved.messages, "tx: delete 1")
}

func TestApprove_AmountMismatch(t *testing.T) {
	ts := newTestServer(t)
	ts.do("POST", "/transactions", `{"accountId":1,"amount":"-45.67","merchant":"Countdown"}`, http.StatusCreated, nil)

	var body errorJSON
	ts.do("POST", "/transactions/1/approve", `{"allocations":[{"envelopeId":1,"amount":"-40.00"}]}`, http.StatusUnprocessableEntity, &body)
	assert.Equal(t, "AmountMismatch", body.Code)
	assert.Equal(t, "45.67", body.Expected)
	assert.Equal(t, "40.00", body.Actual)
}

func TestApprove_UsesStagedAllocations(t *testing.T) {
	ts := newTestServer(t)
	ts.do("POST", "/transactions", `{"accountId":1,"amount":"-20","merchant":"Caltex"}`, http.StatusCreated, nil)

	var tx transactionJSON
	ts.do("PUT", "/transactions/1/allocations", `{"allocations":[{"envelopeId":2,"amount":"-20"}]}`, http.StatusOK, &tx)
	assert.Equal(t, "pending", tx.Status)

	ts.do("POST", "/transactions/1/approve", `{}`, http.StatusOK, &tx)
	assert.True(t, tx.IsApproved)

	var env envelopeJSON
	ts.do("GET", "/envelopes/2", "", http.StatusOK, &env)
	assert.Equal(t, "30.00", env.Balance)
}

func TestTransferAndSummary(t *testing.T) {
	ts := newTestServer(t)

	var res map[string]string
	ts.do("POST", "/envelopes/transfer", `{"from":1,"to":2,"amount":"25.50"}`, http.StatusOK, &res)
	assert.Equal(t, "74.50", res["fromBalance"])
	assert.Equal(t, "75.50", res["toBalance"])

	ts.do("POST", "/envelopes/transfer", `{"from":1,"to":1,"amount":"1"}`, http.StatusUnprocessableEntity, nil)

	var sum summaryJSON
	ts.do("GET", "/summary", "", http.StatusOK, &sum)
	assert.Equal(t, "150.00", sum.BankTotal)
	assert.Equal(t, "150.00", sum.EnvelopeTotal)
	assert.True(t, sum.Reconciled)
}

func TestImportAndResolve(t *testing.T) {
	ts := newTestServer(t)
	ts.do("POST", "/transactions", `{"accountId":1,"amount":"-45.50","merchant":"New World","date":"2024-12-20"}`, http.StatusCreated, nil)

	var imp engine.ImportResult
	ts.do("POST", "/accounts/1/import", "Date,Payee,Amount\n21/12/2024,New World,-45.50\n", http.StatusOK, &imp)
	assert.Equal(t, 1, imp.Flagged)

	var flagged []transactionJSON
	ts.do("GET", "/transactions?status=potential_duplicate", "", http.StatusOK, &flagged)
	require.Len(t, flagged, 1)
	assert.Equal(t, 1, flagged[0].DuplicateOfID)

	var res resolveJSON
	ts.do("POST", "/duplicates/resolve", `{"bankTransactionId":2,"manualTransactionId":1,"action":"keep_both"}`, http.StatusOK, &res)
	require.NotNil(t, res.Bank)
	assert.Equal(t, "reviewed", res.Bank.DuplicateStatus)

	var body errorJSON
	ts.do("POST", "/duplicates/resolve", `{"bankTransactionId":2,"manualTransactionId":1,"action":"nope"}`, http.StatusUnprocessableEntity, &body)
	assert.Equal(t, "InvalidResolution", body.Code)
}

func TestSync(t *testing.T) {
	ts := newTestServer(t)
	ts.feed.Set("conn_1", bankfeed.Record{ID: "trans_1", Date: "2024-12-22", Amount: mustDec("-80"), Description: "Z Energy"})

	var res engine.SyncResult
	ts.do("POST", "/connections/conn_1/sync", "", http.StatusOK, &res)
	assert.Equal(t, 1, res.Created)

	ts.do("POST", "/connections/missing/sync", "", http.StatusNotFound, nil)
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)
	ts.do("POST", "/transactions", `{"accountId":1,`, http.StatusBadRequest, nil)
	ts.do("POST", "/transactions", `{"accountId":1,"amount":"-1","merchant":"x","date":"21/12/2024"}`, http.StatusBadRequest, nil)
	ts.do("POST", "/envelopes", `{"name":"x","unknown":true}`, http.StatusBadRequest, nil)
	ts.do("GET", "/transactions/abc", "", http.StatusNotFound, nil)
	ts.do("GET", "/transactions/42", "", http.StatusNotFound, nil)
}

func TestPersistFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.saved.fail = true
	rec := ts.do("POST", "/envelopes", `{"name":"Rent","budgeted":"400"}`, http.StatusInternalServerError, nil)
	assert.True(t, strings.Contains(rec.Body.String(), "disk full"))
}

func TestVerify(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]any
	ts.do("GET", "/verify", "", http.StatusOK, &body)
	assert.Equal(t, true, body["ok"])
}
