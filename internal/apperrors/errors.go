package apperrors

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrFraudRejected       = errors.New("fraud rejected")
	ErrAmountExceedsLimit  = errors.New("amount exceeds limit")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrDuplicateRequest    = errors.New("duplicate request is in progress")
	ErrPersistence         = errors.New("persistence error")

	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrTransactionNotFound       = errors.New("transaction not found")
	ErrTransactionAlreadySettled = errors.New("transaction already settled")
)

// ValidationError describes a rejected request with per-field messages.
// errors.Is(err, ErrValidation) holds for it.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "Request validation failed"
	}

	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}

	return "Request validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError is a shortcut for the single field case
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// PolicyError is returned when a safety policy denies the request.
// Matches both ErrFraudRejected and the concrete cause.
type PolicyError struct {
	Reason string
	Cause  error
}

func (e *PolicyError) Error() string {
	return e.Reason
}

func (e *PolicyError) Unwrap() []error {
	return []error{ErrFraudRejected, e.Cause}
}
