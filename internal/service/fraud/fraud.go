package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/metrics"
	"github.com/nkiryanov/billpay/internal/models"
	"github.com/nkiryanov/billpay/internal/repository"
)

const (
	DefaultMaxAmount    = 500_000
	DefaultMaxPerWindow = 3
	DefaultWindow       = 60 * time.Second
)

// Machine readable codes of denied outcomes
const (
	CodeAmountExceedsLimit = "AmountExceedsLimit"
	CodeRateLimitExceeded  = "RateLimitExceeded"
)

type Outcome struct {
	Allowed bool
	Code    string
	Reason  string
}

// Err returns *apperrors.PolicyError for denied outcomes and nil otherwise
func (o Outcome) Err() error {
	switch {
	case o.Allowed:
		return nil
	case o.Code == CodeAmountExceedsLimit:
		return &apperrors.PolicyError{Reason: o.Reason, Cause: apperrors.ErrAmountExceedsLimit}
	default:
		return &apperrors.PolicyError{Reason: o.Reason, Cause: apperrors.ErrRateLimitExceeded}
	}
}

type Config struct {
	MaxAmount    decimal.Decimal
	MaxPerWindow int
	Window       time.Duration
	Currency     string // used in messages only
}

// Guard evaluates per-request safety rules
// It never writes anything
type Guard struct {
	transactions repository.TransactionRepo
	cfg          Config
	logger       logger.Logger
	metrics      *metrics.Metrics
}

func NewGuard(transactions repository.TransactionRepo, cfg Config, l logger.Logger, m *metrics.Metrics) *Guard {
	if cfg.MaxAmount.IsZero() {
		cfg.MaxAmount = decimal.NewFromInt(DefaultMaxAmount)
	}
	if cfg.MaxPerWindow == 0 {
		cfg.MaxPerWindow = DefaultMaxPerWindow
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Currency == "" {
		cfg.Currency = models.DefaultCurrency
	}

	return &Guard{
		transactions: transactions,
		cfg:          cfg,
		logger:       l,
		metrics:      m,
	}
}

// Check the amount ceiling first: it needs no database round trip
// Store errors are returned as is, caller must not treat them as allowed
func (g *Guard) Check(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, at time.Time, txType models.TransactionType) (Outcome, error) {
	if amount.GreaterThan(g.cfg.MaxAmount) {
		return g.deny(userID, CodeAmountExceedsLimit,
			fmt.Sprintf("Bill payment amount exceeds allowed limit of %s %s", g.cfg.MaxAmount.String(), g.cfg.Currency),
		), nil
	}

	count, err := g.transactions.CountRecentTransactions(ctx, userID, txType, at.Add(-g.cfg.Window))
	if err != nil {
		return Outcome{}, fmt.Errorf("count recent transactions: %w", err)
	}

	if count > g.cfg.MaxPerWindow {
		return g.deny(userID, CodeRateLimitExceeded,
			fmt.Sprintf("Too many requests: more than %d transactions within %s", g.cfg.MaxPerWindow, g.cfg.Window),
		), nil
	}

	return Outcome{Allowed: true}, nil
}

func (g *Guard) deny(userID uuid.UUID, code string, reason string) Outcome {
	g.logger.Warn("Request denied by fraud rules", "user_id", userID, "code", code)
	g.metrics.FraudRejection(code)

	return Outcome{Code: code, Reason: reason}
}
