package apperrors

import "errors"

// Machine readable error codes returned to API clients
const (
	CodeValidation          = "ValidationError"
	CodeFraudRejected       = "FraudRejected"
	CodeAmountExceedsLimit  = "AmountExceedsLimit"
	CodeRateLimitExceeded   = "RateLimitExceeded"
	CodeProviderUnavailable = "ProviderUnavailable"
	CodeDuplicateRequest    = "DuplicateRequest"
	CodeWalletNotFound      = "WalletNotFound"
	CodeInsufficientBalance = "InsufficientBalance"
	CodePersistence         = "PersistenceError"
)

// Order matters: concrete fraud causes go before ErrFraudRejected
var codes = []struct {
	err  error
	code string
}{
	{ErrValidation, CodeValidation},
	{ErrAmountExceedsLimit, CodeAmountExceedsLimit},
	{ErrRateLimitExceeded, CodeRateLimitExceeded},
	{ErrFraudRejected, CodeFraudRejected},
	{ErrProviderUnavailable, CodeProviderUnavailable},
	{ErrDuplicateRequest, CodeDuplicateRequest},
	{ErrWalletNotFound, CodeWalletNotFound},
	{ErrInsufficientBalance, CodeInsufficientBalance},
	{ErrPersistence, CodePersistence},
}

// Code returns error code or empty string for unknown errors
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// FromCode returns sentinel error for the code, nil for unknown codes
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
