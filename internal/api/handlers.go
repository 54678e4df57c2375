package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/envelopes-dev/envelopes/internal/engine"
	"github.com/envelopes-dev/envelopes/internal/model"
)

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accts := s.eng.GetAccounts(s.userID)
	out := make([]accountJSON, len(accts))
	for i, a := range accts {
		out[i] = toAccount(a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.eng.CreateAccount(r.Context(), model.Account{
		UserID:  s.userID,
		Name:    req.Name,
		Type:    model.AccountType(req.Type),
		Balance: req.Balance,
	})
	if err == nil {
		err = s.changed(r, fmt.Sprintf("account: create %s", a.Name))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccount(a))
}

func (s *Server) importCSV(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := limitBody(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.eng.ImportCSV(r.Context(), body, id)
	if err == nil {
		err = s.changed(r, fmt.Sprintf("import: %d transaction(s) into account %d", res.Imported, id))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listEnvelopes(w http.ResponseWriter, r *http.Request) {
	envs := s.eng.GetEnvelopes(s.userID)
	out := make([]envelopeJSON, len(envs))
	for i, e := range envs {
		out[i] = toEnvelope(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getEnvelope(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	env, err := s.eng.GetEnvelope(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvelope(env))
}

func (s *Server) createEnvelope(w http.ResponseWriter, r *http.Request) {
	var req createEnvelopeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	env, err := s.eng.CreateEnvelope(r.Context(), engine.NewEnvelope{
		UserID:         s.userID,
		Name:           req.Name,
		Icon:           req.Icon,
		CategoryID:     req.CategoryID,
		Budgeted:       req.Budgeted,
		OpeningBalance: req.OpeningBalance,
		Monitored:      req.Monitored,
	})
	if err == nil {
		err = s.changed(r, fmt.Sprintf("envelope: create %s", env.Name))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEnvelope(env))
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.eng.TransferBetweenEnvelopes(r.Context(), req.From, req.To, req.Amount, req.Description)
	if err == nil {
		err = s.changed(r, fmt.Sprintf("transfer: %s from envelope %d to %d", req.Amount.StringFixed(2), req.From, req.To))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"fromBalance": res.FromBalance.StringFixed(2),
		"toBalance":   res.ToBalance.StringFixed(2),
	})
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	views := s.eng.GetTransactions(s.userID)
	status := r.URL.Query().Get("status")
	out := make([]transactionJSON, 0, len(views))
	for _, v := range views {
		if status != "" && string(v.Status) != status {
			continue
		}
		out = append(out, toTransaction(v.Transaction))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.eng.GetTransaction(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransaction(v.Transaction))
}

func (s *Server) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	n, err := req.toNew()
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: date: %v", errBadRequest, err))
		return
	}
	tx, err := s.eng.CreateTransaction(r.Context(), n)
	if err == nil {
		err = s.changed(r, fmt.Sprintf("tx: create %d %s", tx.ID, tx.Merchant))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransaction(tx))
}

func (s *Server) updateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req updateTransactionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	tx, err := s.eng.UpdateTransaction(r.Context(), id, engine.TransactionUpdate{
		Merchant:    req.Merchant,
		Description: req.Description,
		LabelIDs:    req.LabelIDs,
	})
	if err == nil {
		err = s.changed(r, fmt.Sprintf("tx: update %d", id))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransaction(tx))
}

func (s *Server) setAllocations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req allocationsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	tx, err := s.eng.SetAllocations(r.Context(), id, fromAllocations(req.Allocations))
	if err == nil {
		err = s.changed(r, fmt.Sprintf("tx: allocate %d", id))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransaction(tx))
}

func (s *Server) approveTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req approveRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	allocs := fromAllocations(req.Allocations)
	if allocs == nil {
		// Approve what is already staged.
		cur, err := s.eng.GetTransaction(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		allocs = cur.Allocations
	}
	tx, err := s.eng.ApproveTransaction(r.Context(), id, allocs, req.Description, req.LabelIDs)
	if err == nil {
		err = s.changed(r, fmt.Sprintf("approve: transaction %d", id))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransaction(tx))
}

func (s *Server) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	err = s.eng.DeleteTransaction(r.Context(), id)
	if err == nil {
		err = s.changed(r, fmt.Sprintf("tx: delete %d", id))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) syncConnection(w http.ResponseWriter, r *http.Request) {
	connID := mux.Vars(r)["id"]
	res, err := s.eng.SyncBankAccount(r.Context(), connID)
	if err == nil {
		err = s.changed(r, fmt.Sprintf("sync: %s", connID))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) resolveDuplicate(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.eng.ResolveDuplicate(r.Context(), req.BankTransactionID, req.ManualTransactionID, engine.Resolution(req.Action))
	if err == nil {
		err = s.changed(r, fmt.Sprintf("resolve: %s %d/%d", req.Action, req.BankTransactionID, req.ManualTransactionID))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := resolveJSON{Action: string(res.Action), Manual: toTransaction(res.Manual)}
	if res.Bank != nil {
		b := toTransaction(*res.Bank)
		out.Bank = &b
	}
	writeJSON(w, http.StatusOK, out)
}
