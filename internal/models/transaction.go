package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeBillPayment TransactionType = "bill_payment"
	TransactionTypeDeposit     TransactionType = "deposit"
	TransactionTypeWithdrawal  TransactionType = "withdrawal"
	TransactionTypeTransfer    TransactionType = "transfer"
	TransactionTypeRefund      TransactionType = "refund"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Terminal statuses are never changed by the service
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

type Transaction struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	WalletID         uuid.NullUUID // not set for failed attempts recorded before a wallet was resolved
	Type             TransactionType
	Amount           decimal.Decimal
	Currency         string
	Status           TransactionStatus
	Description      string
	Provider         string // adapter that produced the outcome
	Reference        string // provider side reference
	ProviderResponse json.RawMessage
	IdempotencyKey   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
