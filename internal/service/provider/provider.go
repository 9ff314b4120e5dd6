package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/billpay/internal/models"
)

// Adapter names, also stored in transactions.provider
const (
	NameFlutterwave = "flutterwave"
	NameVTPass      = "vtpass"
	NameBaxi        = "baxi"
	NameMock        = "mock"
)

const DefaultTimeout = 15 * time.Second

// Error codes
const (
	CodeUnavailable = "unavailable"  // network error, timeout or 5xx
	CodeBadResponse = "bad-response" // body can't be understood
	CodeRetryAfter  = "retry-after"  // provider throttles us
)

// Error is a transport failure: the payment outcome is unknown or the call never reached the provider
// Declines are not errors, they are Result{Success: false}
type Error struct {
	Provider string
	Code     string

	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s, code: %s, retry_after: %s, error: %v", e.Provider, e.Code, e.RetryAfter, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(provider string, code string, retryAfter int, err error) *Error {
	return &Error{
		Provider:   provider,
		Code:       code,
		RetryAfter: time.Duration(retryAfter) * time.Second,
		Err:        err,
	}
}

// Request is one bill payment attempt
type Request struct {
	BillType      models.BillType
	Biller        Biller
	AccountNumber string
	CustomerName  string
	Amount        decimal.Decimal
	Currency      string

	// Unique per bill payment, adapters derive their request reference from it
	Reference string
}

// Result is the provider answer normalized
type Result struct {
	Success bool
	Status  models.TransactionStatus // completed or pending when Success, failed otherwise

	TransactionID string // provider side id
	Reference     string // reference accepted by VerifyPayment
	Message       string
	Raw           json.RawMessage
}

func (r Result) IsPending() bool {
	return r.Success && r.Status == models.TransactionStatusPending
}

type Adapter interface {
	Name() string

	// Adapter without credentials must be skipped
	Configured() bool

	AttemptPayment(ctx context.Context, req Request) (Result, error)
}

// Verifier re-queries outcome of an earlier attempt
type Verifier interface {
	VerifyPayment(ctx context.Context, reference string) (Result, error)
}

func declined(message string, raw json.RawMessage) Result {
	return Result{
		Status:  models.TransactionStatusFailed,
		Message: message,
		Raw:     raw,
	}
}
