package handlers

import (
	"net/http"

	"github.com/nkiryanov/billpay/internal/handlers/middleware"
	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/repository"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type Deps struct {
	Bills   billService
	Storage repository.Storage
	DB      pinger
	Metrics http.Handler // not mounted if nil
}

func NewRouter(deps Deps, logger logger.Logger) http.Handler {
	api := http.NewServeMux()

	api.Handle("POST /bills/pay", handleBillPayment(deps.Bills, logger))
	api.Handle("GET /users/{userID}/wallets/{currency}", handleGetWallet(deps.Storage.Wallet(), logger))
	api.Handle("GET /users/{userID}/transactions", handleListTransactions(deps.Storage.Transaction(), logger))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))
	root.Handle("GET /healthz", handleHealth(deps.DB, logger))
	if deps.Metrics != nil {
		root.Handle("GET /metrics", deps.Metrics)
	}

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
		middleware.RecoverMiddleware(logger),
	)

	return handler
}
