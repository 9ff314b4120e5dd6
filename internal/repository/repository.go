package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/billpay/internal/models"
)

// Storage gives access to all repositories
// Repositories returned from the storage passed to InTx share one database transaction
type Storage interface {
	Wallet() WalletRepo
	Transaction() TransactionRepo
	Notification() NotificationRepo

	// Run fn in transaction: commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}

type WalletRepo interface {
	// Create wallet for user in currency
	// Wallets are created on user signup, outside this service; used to seed data
	CreateWallet(ctx context.Context, userID uuid.UUID, currency string, balance decimal.Decimal) (models.Wallet, error)

	// Get wallet by owner and currency
	// If wallet not found must return apperrors.ErrWalletNotFound
	GetWallet(ctx context.Context, userID uuid.UUID, currency string) (models.Wallet, error)
	GetWalletByID(ctx context.Context, walletID uuid.UUID) (models.Wallet, error)

	// Atomically decrease balance of active wallet
	// The write must be rejected if balance would become negative
	// Returns apperrors.ErrWalletNotFound or apperrors.ErrInsufficientBalance on rejection
	Debit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (newBalance decimal.Decimal, err error)
}

type ListTransactionsOpts struct {
	Types []models.TransactionType // all types if empty
	Limit int                      // no limit if zero
}

type ListPendingOpts struct {
	Types      []models.TransactionType
	CreatedTil time.Time // only rows created before
	Limit      int
}

type TransactionRepo interface {
	// Insert transaction as is, ID and timestamps are set if empty
	CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error)

	// If transaction not found must return apperrors.ErrTransactionNotFound
	GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error)

	// Count user transactions of the type created after 'since'
	CountRecentTransactions(ctx context.Context, userID uuid.UUID, txType models.TransactionType, since time.Time) (int, error)

	// List user transactions, most recent first
	ListTransactions(ctx context.Context, userID uuid.UUID, opts ListTransactionsOpts) ([]models.Transaction, error)

	// List pending transactions, oldest first
	ListPending(ctx context.Context, opts ListPendingOpts) ([]models.Transaction, error)

	// Move pending transaction to the new status, raw provider response is kept if nil
	// Terminal transactions are never touched: must return apperrors.ErrTransactionAlreadySettled
	MarkSettled(ctx context.Context, id uuid.UUID, status models.TransactionStatus, raw json.RawMessage) (models.Transaction, error)
}

type NotificationRepo interface {
	CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error)
}
