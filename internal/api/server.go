// Package api exposes the engine over HTTP as JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/envelopes-dev/envelopes/internal/apperr"
	"github.com/envelopes-dev/envelopes/internal/engine"
)

// maxImportBytes caps the size of an uploaded CSV.
const maxImportBytes = 10 << 20

// PersistFunc is called after every successful mutation with a short
// description of what changed.
type PersistFunc func(ctx context.Context, message string) error

// Server routes HTTP requests to an engine on behalf of one user.
type Server struct {
	eng     *engine.Engine
	userID  string
	log     *logrus.Logger
	persist PersistFunc
	router  *mux.Router
}

// New builds a Server. persist may be nil.
func New(eng *engine.Engine, userID string, log *logrus.Logger, persist PersistFunc) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{eng: eng, userID: userID, log: log, persist: persist, router: mux.NewRouter()}
	s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	r.HandleFunc("/summary", s.getSummary).Methods("GET")
	r.HandleFunc("/verify", s.verify).Methods("GET")

	r.HandleFunc("/accounts", s.listAccounts).Methods("GET")
	r.HandleFunc("/accounts", s.createAccount).Methods("POST")
	r.HandleFunc("/accounts/{id:[0-9]+}/import", s.importCSV).Methods("POST")

	r.HandleFunc("/envelopes", s.listEnvelopes).Methods("GET")
	r.HandleFunc("/envelopes", s.createEnvelope).Methods("POST")
	r.HandleFunc("/envelopes/transfer", s.transfer).Methods("POST")
	r.HandleFunc("/envelopes/{id:[0-9]+}", s.getEnvelope).Methods("GET")

	r.HandleFunc("/transactions", s.listTransactions).Methods("GET")
	r.HandleFunc("/transactions", s.createTransaction).Methods("POST")
	r.HandleFunc("/transactions/{id:[0-9]+}", s.getTransaction).Methods("GET")
	r.HandleFunc("/transactions/{id:[0-9]+}", s.updateTransaction).Methods("PATCH")
	r.HandleFunc("/transactions/{id:[0-9]+}", s.deleteTransaction).Methods("DELETE")
	r.HandleFunc("/transactions/{id:[0-9]+}/allocations", s.setAllocations).Methods("PUT")
	r.HandleFunc("/transactions/{id:[0-9]+}/approve", s.approveTransaction).Methods("POST")

	r.HandleFunc("/connections/{id}/sync", s.syncConnection).Methods("POST")
	r.HandleFunc("/duplicates/resolve", s.resolveDuplicate).Methods("POST")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}

type errorJSON struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors to HTTP statuses: validation 422, not
// found 404, invariant 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		ve *apperr.ValidationError
		nf *apperr.NotFoundError
		iv *apperr.InvariantViolation
	)
	switch {
	case errors.As(err, &ve):
		body := errorJSON{Error: ve.Message, Code: string(ve.Code)}
		if ve.Expected != nil {
			body.Expected = ve.Expected.StringFixed(2)
		}
		if ve.Actual != nil {
			body.Actual = ve.Actual.StringFixed(2)
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errorJSON{Error: nf.Error(), Code: "NotFound"})
	case errors.As(err, &iv):
		s.log.WithError(err).Error("invariant violation")
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: iv.Error(), Code: "InvariantViolation"})
	case errors.Is(err, errBadRequest):
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: err.Error()})
	default:
		s.log.WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: err.Error()})
	}
}

var errBadRequest = errors.New("bad request")

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id", errBadRequest)
	}
	return id, nil
}

// changed persists after a mutation. A persistence failure is reported to
// the client since memory and storage have diverged.
func (s *Server) changed(r *http.Request, message string) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist(r.Context(), message); err != nil {
		return fmt.Errorf("persisting %q: %w", message, err)
	}
	return nil
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSummary(s.eng.GetSummary(s.userID)))
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	violations := s.eng.Verify()
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.Error()
	}
	status := http.StatusOK
	if len(msgs) > 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{"ok": len(msgs) == 0, "violations": msgs})
}

// limitBody caps request bodies for handlers that read them whole.
func limitBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return body, nil
}
