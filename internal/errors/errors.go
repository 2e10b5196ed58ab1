// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors
var (
	ErrInvalidOrderParameters = errors.New("invalid order parameters")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrOrderNotFound          = errors.New("order not found")
	ErrOrderNotCancellable    = errors.New("order not cancellable")
	ErrPriceUnavailable       = errors.New("price unavailable")
	ErrRiskViolation          = errors.New("risk violation")
	ErrAccountNotFound        = errors.New("account not found")
	ErrInvalidTransition      = errors.New("invalid order state transition")
	ErrConfigInvalid          = errors.New("invalid configuration")
)

// ValidationError represents a rejected order field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidOrderParameters
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// RiskViolationError carries every reason the risk gate refused an order.
type RiskViolationError struct {
	Reasons  []string
	Warnings []string
	// SuggestedAmount and SuggestedStopPrice are decimal strings, empty when absent.
	SuggestedAmount    string
	SuggestedStopPrice string
}

func (e *RiskViolationError) Error() string {
	return fmt.Sprintf("risk violation: %s", strings.Join(e.Reasons, "; "))
}

func (e *RiskViolationError) Unwrap() error {
	return ErrRiskViolation
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		Symbol:  symbol,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// InsufficientFundsError reports a lock that exceeded the available balance.
type InsufficientFundsError struct {
	AccountID string
	Asset     string
	Required  string
	Available string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s needs %s %s, has %s available",
		e.AccountID, e.Required, e.Asset, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// PriceError represents a failed price lookup for a symbol.
type PriceError struct {
	Symbol string
	Err    error
}

func (e *PriceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("price unavailable for %s: %v", e.Symbol, e.Err)
	}
	return fmt.Sprintf("price unavailable for %s", e.Symbol)
}

// Is lets errors.Is match ErrPriceUnavailable while Unwrap exposes the cause.
func (e *PriceError) Is(target error) bool {
	return target == ErrPriceUnavailable
}

func (e *PriceError) Unwrap() error {
	return e.Err
}

// NewPriceError creates a new PriceError.
func NewPriceError(symbol string, err error) *PriceError {
	return &PriceError{Symbol: symbol, Err: err}
}

// InvariantError is raised (as a panic) when ledger state breaks its invariants.
type InvariantError struct {
	AccountID string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger invariant violated for account %s: %s", e.AccountID, e.Detail)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
