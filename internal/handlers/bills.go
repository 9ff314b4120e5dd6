package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/handlers/render"
	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/models"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type billService interface {
	// Pay returns result with user facing error message on failure
	// The error kind is matched with apperrors sentinels
	Pay(ctx context.Context, p models.BillPayment) (models.BillResult, error)
}

func handleBillPayment(billService billService, l logger.Logger) http.Handler {
	type response struct {
		models.BillResult
		Code   string            `json:"code,omitempty"`
		Fields map[string]string `json:"fields,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payment, err := render.Bind[models.BillPayment](w, r)
		if err != nil {
			return
		}

		if payment.IdempotencyKey == "" {
			payment.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)
		}

		result, err := billService.Pay(r.Context(), payment)
		if err == nil {
			render.JSON(w, response{BillResult: result})
			return
		}

		code := apperrors.Code(err)
		if code == "" || code == apperrors.CodePersistence {
			l.Error("Bill payment failed", "user_id", payment.UserID, "error", err)
			render.JSONWithStatus(w, models.BillResult{Error: "Internal server error"}, http.StatusInternalServerError)
			return
		}

		res := response{BillResult: result, Code: code}
		var validationErr *apperrors.ValidationError
		if errors.As(err, &validationErr) {
			res.Fields = validationErr.Fields
		}

		render.JSON(w, res)
	})
}
