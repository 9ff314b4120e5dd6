package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/models"
	"github.com/nkiryanov/billpay/internal/repository"
)

type TransactionRepo struct {
	DB DBTX
}

const transactionColumns = `id, user_id, wallet_id, type, amount, currency, status, description,
	provider, reference, provider_response, idempotency_key, created_at, updated_at`

// Transactions are append only: the only update allowed is MarkSettled
func (r *TransactionRepo) CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	const createTransaction = `
	INSERT INTO transactions (id, user_id, wallet_id, type, amount, currency, status, description,
		provider, reference, provider_response, idempotency_key, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING ` + transactionColumns

	now := time.Now()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	rows, _ := r.DB.Query(ctx, createTransaction,
		t.ID, t.UserID, t.WalletID, string(t.Type), t.Amount, t.Currency, string(t.Status), t.Description,
		t.Provider, t.Reference, rawOrNil(t.ProviderResponse), textOrNil(t.IdempotencyKey), t.CreatedAt, t.UpdatedAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToTransaction)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return created, apperrors.ErrWalletNotFound
		}

		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

func (r *TransactionRepo) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	const getTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	rows, _ := r.DB.Query(ctx, getTransaction, id)
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransactionNotFound
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

func (r *TransactionRepo) CountRecentTransactions(ctx context.Context, userID uuid.UUID, txType models.TransactionType, since time.Time) (int, error) {
	const countRecent = `
	SELECT count(*) FROM transactions
	WHERE user_id = $1 AND type = $2 AND created_at > $3
	`

	var count int
	err := r.DB.QueryRow(ctx, countRecent, userID, string(txType), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return count, nil
}

func (r *TransactionRepo) ListTransactions(ctx context.Context, userID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	const listTransactions = `
	SELECT ` + transactionColumns + ` FROM transactions
	WHERE user_id = $1 AND ($2::text[] IS NULL OR type = ANY($2))
	ORDER BY created_at DESC
	LIMIT NULLIF($3::int, 0)
	`

	rows, _ := r.DB.Query(ctx, listTransactions, userID, typesOrNil(opts.Types), opts.Limit)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

func (r *TransactionRepo) ListPending(ctx context.Context, opts repository.ListPendingOpts) ([]models.Transaction, error) {
	const listPending = `
	SELECT ` + transactionColumns + ` FROM transactions
	WHERE status = 'pending' AND created_at < $1 AND ($2::text[] IS NULL OR type = ANY($2))
	ORDER BY created_at ASC
	LIMIT NULLIF($3::int, 0)
	`

	createdTil := opts.CreatedTil
	if createdTil.IsZero() {
		createdTil = time.Now()
	}

	rows, _ := r.DB.Query(ctx, listPending, createdTil, typesOrNil(opts.Types), opts.Limit)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

func (r *TransactionRepo) MarkSettled(ctx context.Context, id uuid.UUID, status models.TransactionStatus, raw json.RawMessage) (models.Transaction, error) {
	const markSettled = `
	UPDATE transactions
	SET status = $2, provider_response = COALESCE($3::jsonb, provider_response), updated_at = now()
	WHERE id = $1 AND status = 'pending'
	RETURNING ` + transactionColumns

	rows, _ := r.DB.Query(ctx, markSettled, id, string(status), rawOrNil(raw))
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Either there is no such row or it is terminal already
		if _, err := r.GetTransaction(ctx, id); err != nil {
			return t, err
		}
		return t, apperrors.ErrTransactionAlreadySettled
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var (
		t              models.Transaction
		txType, status string
		raw            []byte
		idempotencyKey *string
	)

	err := row.Scan(
		&t.ID, &t.UserID, &t.WalletID, &txType, &t.Amount, &t.Currency, &status, &t.Description,
		&t.Provider, &t.Reference, &raw, &idempotencyKey, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}

	t.Type = models.TransactionType(txType)
	t.Status = models.TransactionStatus(status)
	if len(raw) > 0 {
		t.ProviderResponse = json.RawMessage(raw)
	}
	if idempotencyKey != nil {
		t.IdempotencyKey = *idempotencyKey
	}

	return t, nil
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func textOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func typesOrNil(types []models.TransactionType) []string {
	if len(types) == 0 {
		return nil
	}

	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
