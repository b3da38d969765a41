// Package apperr defines the error taxonomy shared by the ledger packages.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrLimitExceeded       = errors.New("annual limit exceeded")
	ErrProvider            = errors.New("quote provider failure")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrPartialFailure      = errors.New("partial failure")
	// ErrInsufficientBalance is validation-class: it rejects a new debit, never a reversal.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a single-field validation error.
func Invalid(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// LimitExceededError carries the remaining headroom so callers can display it.
type LimitExceededError struct {
	Limit     decimal.Decimal
	Usage     decimal.Decimal
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("annual limit exceeded: requested %s, available %s", e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

type InsufficientBalanceError struct {
	Wallet    string
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance in %s: balance %s, requested %s", e.Wallet, e.Balance.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() []error {
	return []error{ErrInsufficientBalance, ErrValidation}
}

type ProviderError struct {
	Op     string
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{ErrProvider, e.Err} }

// PartialFailureError reports a multi-leg effect that failed midway. Compensated lists the
// legs that were rolled back; CompensationErr is set when the rollback itself failed and the
// operation needs manual reconciliation.
type PartialFailureError struct {
	OperationID     string
	Cause           error
	Applied         int
	Compensated     int
	CompensationErr error
}

func (e *PartialFailureError) Error() string {
	msg := fmt.Sprintf("operation %s: %d leg(s) applied before failure, %d compensated: %v", e.OperationID, e.Applied, e.Compensated, e.Cause)
	if e.CompensationErr != nil {
		msg += fmt.Sprintf(" (compensation failed: %v)", e.CompensationErr)
	}
	return msg
}

func (e *PartialFailureError) Unwrap() []error { return []error{ErrPartialFailure, e.Cause} }

// NeedsReconciliation reports whether balances may be inconsistent after the failure.
func (e *PartialFailureError) NeedsReconciliation() bool {
	return e.CompensationErr != nil || e.Compensated < e.Applied
}
