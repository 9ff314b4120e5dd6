package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency used when a request does not name one
const DefaultCurrency = "NGN"

type Wallet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Currency  string
	Balance   decimal.Decimal
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
