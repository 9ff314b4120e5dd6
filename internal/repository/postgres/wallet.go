package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/models"
)

type WalletRepo struct {
	DB DBTX
}

const walletColumns = `id, user_id, currency, balance, is_active, created_at, updated_at`

func (r *WalletRepo) CreateWallet(ctx context.Context, userID uuid.UUID, currency string, balance decimal.Decimal) (models.Wallet, error) {
	const createWallet = `
	INSERT INTO wallets (id, user_id, currency, balance)
	VALUES ($1, $2, $3, $4)
	RETURNING ` + walletColumns

	rows, _ := r.DB.Query(ctx, createWallet, uuid.New(), userID, currency, balance)
	wallet, err := pgx.CollectOneRow(rows, rowToWallet)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return wallet, fmt.Errorf("user wallet in %s already exists: %w", currency, err)
		}

		return wallet, fmt.Errorf("db error: %w", err)
	}

	return wallet, nil
}

func (r *WalletRepo) GetWallet(ctx context.Context, userID uuid.UUID, currency string) (models.Wallet, error) {
	const getWallet = `
	SELECT ` + walletColumns + ` FROM wallets
	WHERE user_id = $1 AND currency = $2
	`

	rows, _ := r.DB.Query(ctx, getWallet, userID, currency)
	return collectWallet(rows)
}

func (r *WalletRepo) GetWalletByID(ctx context.Context, walletID uuid.UUID) (models.Wallet, error) {
	const getWalletByID = `
	SELECT ` + walletColumns + ` FROM wallets
	WHERE id = $1
	`

	rows, _ := r.DB.Query(ctx, getWalletByID, walletID)
	return collectWallet(rows)
}

// Debit balance in one statement, so concurrent debits never read the same stale balance
func (r *WalletRepo) Debit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	const debit = `
	UPDATE wallets
	SET balance = balance - $2, updated_at = now()
	WHERE id = $1 AND is_active AND balance >= $2
	RETURNING balance
	`

	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("debit amount must be positive, got %s", amount)
	}

	rows, _ := r.DB.Query(ctx, debit, walletID, amount)
	balance, err := pgx.CollectOneRow(rows, pgx.RowTo[decimal.Decimal])

	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Find out why the update was rejected
		wallet, err := r.GetWalletByID(ctx, walletID)
		switch {
		case err != nil:
			return decimal.Zero, err
		case !wallet.IsActive:
			return decimal.Zero, apperrors.ErrWalletNotFound
		default:
			return decimal.Zero, apperrors.ErrInsufficientBalance
		}
	default:
		return decimal.Zero, fmt.Errorf("db error: %w", err)
	}
}

func collectWallet(rows pgx.Rows) (models.Wallet, error) {
	wallet, err := pgx.CollectOneRow(rows, rowToWallet)

	switch {
	case err == nil:
		return wallet, nil
	case errors.Is(err, pgx.ErrNoRows):
		return wallet, apperrors.ErrWalletNotFound
	default:
		return wallet, fmt.Errorf("db error: %w", err)
	}
}

func rowToWallet(row pgx.CollectableRow) (models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Currency, &w.Balance, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}
