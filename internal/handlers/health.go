package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nkiryanov/billpay/internal/handlers/render"
	"github.com/nkiryanov/billpay/internal/logger"
)

const pingTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

func handleHealth(db pinger, l logger.Logger) http.Handler {
	type response struct {
		Status string `json:"status"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			l.Warn("Health check failed", "error", err)
			render.JSONWithStatus(w, response{"unavailable"}, http.StatusServiceUnavailable)
			return
		}

		render.JSON(w, response{"ok"})
	})
}
