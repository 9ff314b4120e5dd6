package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/billpay/internal/handlers/render"
	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/models"
	"github.com/nkiryanov/billpay/internal/repository"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type transactionService interface {
	ListTransactions(ctx context.Context, userID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error)
}

func handleListTransactions(transactionService transactionService, l logger.Logger) http.Handler {
	type transaction struct {
		ID          uuid.UUID                `json:"id"`
		Type        models.TransactionType   `json:"type"`
		Amount      decimal.Decimal          `json:"amount"`
		Currency    string                   `json:"currency"`
		Status      models.TransactionStatus `json:"status"`
		Description string                   `json:"description"`
		Provider    string                   `json:"provider,omitempty"`
		Reference   string                   `json:"reference,omitempty"`
		CreatedAt   time.Time                `json:"createdAt"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("userID"))
		if err != nil {
			render.ServiceError(w, "Invalid user id", http.StatusBadRequest)
			return
		}

		opts := repository.ListTransactionsOpts{Limit: defaultHistoryLimit}
		query := r.URL.Query()

		if v := query.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit <= 0 {
				render.ServiceError(w, "Limit must be a positive number", http.StatusBadRequest)
				return
			}
			opts.Limit = min(limit, maxHistoryLimit)
		}
		if v := query.Get("type"); v != "" {
			opts.Types = []models.TransactionType{models.TransactionType(v)}
		}

		tr, err := transactionService.ListTransactions(r.Context(), userID, opts)
		if err != nil {
			l.Error("Failed to list transactions", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		out := make([]transaction, 0, len(tr))
		for _, t := range tr {
			out = append(out, transaction{
				ID:          t.ID,
				Type:        t.Type,
				Amount:      t.Amount,
				Currency:    t.Currency,
				Status:      t.Status,
				Description: t.Description,
				Provider:    t.Provider,
				Reference:   t.Reference,
				CreatedAt:   t.CreatedAt,
			})
		}
		render.JSON(w, out)
	})
}
