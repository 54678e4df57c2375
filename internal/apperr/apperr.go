// Package apperr defines the error taxonomy shared by the reconciliation engine.
//
// Validation errors are user-actionable and carry the offending numbers.
// Not-found errors map to 404. Invariant violations abort an operation
// before any write and must be logged. Row errors are collected, not raised.
package apperr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Code identifies a validation failure.
type Code string

const (
	CodeAmountMismatch           Code = "AmountMismatch"
	CodeNoEnvelopeAssigned       Code = "NoEnvelopeAssigned"
	CodeInvalidEnvelopeReference Code = "InvalidEnvelopeReference"
	CodeInvalidAmount            Code = "InvalidAmount"
	CodeInvalidTransfer          Code = "InvalidTransfer"
	CodeNotAPotentialDuplicate   Code = "NotAPotentialDuplicate"
	CodeInvalidResolution        Code = "InvalidResolution"
	CodeInvalidAccount           Code = "InvalidAccount"
	CodeInvalidEnvelope          Code = "InvalidEnvelope"
	CodeInvalidTransaction       Code = "InvalidTransaction"
)

// ValidationError is a recoverable, user-facing rejection.
type ValidationError struct {
	Code     Code
	Message  string
	Expected *decimal.Decimal
	Actual   *decimal.Decimal
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AmountMismatch reports allocations whose absolute sum differs from the
// transaction amount.
func AmountMismatch(expected, actual decimal.Decimal) *ValidationError {
	return &ValidationError{
		Code:     CodeAmountMismatch,
		Message:  fmt.Sprintf("allocations total %s but transaction amount is %s", actual.StringFixed(2), expected.StringFixed(2)),
		Expected: &expected,
		Actual:   &actual,
	}
}

// Invalid builds a ValidationError with a formatted message.
func Invalid(code Code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Kind names the entity a NotFoundError refers to.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindEnvelope    Kind = "envelope"
	KindAccount     Kind = "account"
	KindConnection  Kind = "connection"
)

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError for an integer id.
func NotFound(kind Kind, id int) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// EnvelopeNotFound is the ledger's missing-envelope error.
func EnvelopeNotFound(id int) *NotFoundError {
	return NotFound(KindEnvelope, id)
}

// InvariantViolation means a write would leave balances inconsistent.
type InvariantViolation struct {
	Op         string
	EnvelopeID int
	Expected   decimal.Decimal
	Actual     decimal.Decimal
	Detail     string
}

func (e *InvariantViolation) Error() string {
	msg := "invariant violation in " + e.Op
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.EnvelopeID != 0 {
		msg += fmt.Sprintf(" (envelope %d: balance %s, expected %s)",
			e.EnvelopeID, e.Actual.StringFixed(2), e.Expected.StringFixed(2))
	}
	return msg
}

// RowError describes one rejected CSV row.
type RowError struct {
	RowNumber int    `json:"rowNumber"`
	Reason    string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.RowNumber, e.Reason)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsInvariant reports whether err wraps an InvariantViolation.
func IsInvariant(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}

// CodeOf returns the validation code of err, or "".
func CodeOf(err error) Code {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}
