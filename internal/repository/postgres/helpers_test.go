package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/billpay/internal/repository"
	"github.com/nkiryanov/billpay/internal/testutil"
)

// Run fn against storage bound to a transaction rolled back at the end
func inTx(t *testing.T, outer DBTX, fn func(pgx.Tx, repository.Storage)) {
	testutil.InTx(outer, t, func(tx pgx.Tx) {
		fn(tx, NewStorage(tx))
	})
}
