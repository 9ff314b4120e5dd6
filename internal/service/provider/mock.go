package provider

import (
	"context"
	"encoding/json"

	"github.com/nkiryanov/billpay/internal/models"
)

// Mock always succeeds
// Used for local development only: when no real provider is configured
type Mock struct{}

func (Mock) Name() string {
	return NameMock
}

func (Mock) Configured() bool {
	return true
}

func (Mock) AttemptPayment(_ context.Context, req Request) (Result, error) {
	return Mock{}.completed(req.Reference), nil
}

func (Mock) VerifyPayment(_ context.Context, reference string) (Result, error) {
	return Mock{}.completed(reference), nil
}

func (Mock) completed(reference string) Result {
	raw, _ := json.Marshal(map[string]any{"mock": true, "reference": reference})

	return Result{
		Success:       true,
		Status:        models.TransactionStatusCompleted,
		TransactionID: "MOCK-" + reference,
		Reference:     reference,
		Message:       "Mock payment successful",
		Raw:           raw,
	}
}
