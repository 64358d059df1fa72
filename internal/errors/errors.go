// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrHoldingNotFound  = errors.New("holding not found")
	ErrPositionNotFound = errors.New("position not found")
	ErrSymbolNotFound   = errors.New("symbol not found")
	ErrNothingToRestore = errors.New("no recently deleted holding to restore")
	ErrAllFetchesFailed = errors.New("all fetches failed")
	ErrRateLimited      = errors.New("rate limited")
	ErrConnectionFailed = errors.New("connection failed")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrDatabaseError    = errors.New("database error")
)

// FetchError represents a failure fetching one leg of market data.
type FetchError struct {
	Leg     string // "quotes" or "charts"
	Symbols int
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error [%s] %d symbols: %v", e.Leg, e.Symbols, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(leg string, symbols int, err error) *FetchError {
	return &FetchError{
		Leg:     leg,
		Symbols: symbols,
		Err:     err,
	}
}

// StoreError represents a failure in a local store operation.
type StoreError struct {
	Entity    string
	Operation string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [%s] %s: %v", e.Entity, e.Operation, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(entity, operation string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Err:       err,
	}
}

// ProviderError represents an error response from the market data provider.
type ProviderError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error [%d] %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// NewProviderError creates a new ProviderError.
func NewProviderError(statusCode int, endpoint, message string) *ProviderError {
	return &ProviderError{
		StatusCode: statusCode,
		Endpoint:   endpoint,
		Message:    message,
	}
}

// IsCancellation reports whether err unwinds from a cancelled or expired
// context. Cancellations are never logged as errors and never surfaced to
// the user.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
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
