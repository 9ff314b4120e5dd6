package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/handlers/render"
	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/models"
)

type walletService interface {
	// Has to return apperrors.ErrWalletNotFound if user has no wallet in currency
	GetWallet(ctx context.Context, userID uuid.UUID, currency string) (models.Wallet, error)
}

func handleGetWallet(walletService walletService, l logger.Logger) http.Handler {
	type response struct {
		ID        uuid.UUID       `json:"id"`
		UserID    uuid.UUID       `json:"userId"`
		Currency  string          `json:"currency"`
		Balance   decimal.Decimal `json:"balance"`
		IsActive  bool            `json:"isActive"`
		UpdatedAt time.Time       `json:"updatedAt"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("userID"))
		if err != nil {
			render.ServiceError(w, "Invalid user id", http.StatusBadRequest)
			return
		}
		currency := strings.ToUpper(r.PathValue("currency"))

		wallet, err := walletService.GetWallet(r.Context(), userID, currency)

		switch {
		case err == nil:
			render.JSON(w, response{
				ID:        wallet.ID,
				UserID:    wallet.UserID,
				Currency:  wallet.Currency,
				Balance:   wallet.Balance,
				IsActive:  wallet.IsActive,
				UpdatedAt: wallet.UpdatedAt,
			})
		case errors.Is(err, apperrors.ErrWalletNotFound):
			render.ServiceError(w, "Wallet not found", http.StatusNotFound)
		default:
			l.Error("Failed to get wallet", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
