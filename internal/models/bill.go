package models

import (
	"github.com/shopspring/decimal"
)

type BillType string

const (
	BillTypeAirtime     BillType = "airtime"
	BillTypeData        BillType = "data"
	BillTypeElectricity BillType = "electricity"
	BillTypeCable       BillType = "cable"
	BillTypeInternet    BillType = "internet"
)

// BillPayment is a normalized bill payment request
type BillPayment struct {
	BillType       BillType        `json:"billType" validate:"required,oneof=airtime data electricity cable internet"`
	Provider       string          `json:"provider" validate:"required,max=64"`
	Amount         decimal.Decimal `json:"amount"`
	AccountNumber  string          `json:"accountNumber" validate:"required"`
	CustomerName   string          `json:"customerName,omitempty" validate:"omitempty,max=128"`
	UserID         string          `json:"userId" validate:"required,uuid"`
	Currency       string          `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty" validate:"omitempty,max=64"`
}

// BillResult is what the caller gets back for a bill payment
type BillResult struct {
	Success       bool              `json:"success"`
	TransactionID string            `json:"transactionId,omitempty"`
	Reference     string            `json:"reference,omitempty"`
	Status        TransactionStatus `json:"status,omitempty"`
	Error         string            `json:"error,omitempty"`
}
