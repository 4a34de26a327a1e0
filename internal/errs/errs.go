// Package errs holds the error taxonomy shared by the ledger services.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrLockTimeout         = errors.New("lock wait timeout")
	ErrAlreadySettled      = errors.New("transaction already settled")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
)

type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

// ValidationError is a malformed request. It never changes state.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	for i, f := range e.Fields {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Field + " " + f.Msg)
	}
	return b.String()
}

func Invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Msg: msg}}}
}

// SettlementFailedError is a transient infrastructure fault during a
// settlement attempt. Nothing was persisted, so the attempt may be retried.
type SettlementFailedError struct {
	TxID string
	Err  error
}

func (e *SettlementFailedError) Error() string {
	return fmt.Sprintf("settlement of %s failed: %v", e.TxID, e.Err)
}

func (e *SettlementFailedError) Unwrap() error { return e.Err }

func (e *SettlementFailedError) Retryable() bool { return true }

func SettlementFailed(txID string, err error) error {
	return &SettlementFailedError{TxID: txID, Err: err}
}

// IsRetryable reports whether err came from an attempt that may be repeated.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
