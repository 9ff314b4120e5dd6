package idempotency

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/models"
	"github.com/nkiryanov/billpay/internal/testutil"
)

func TestStore(t *testing.T) {
	rc := testutil.StartRedisContainer(t)
	t.Cleanup(rc.Terminate)

	store := NewStore(rc.Client)

	t.Run("fresh key reserved", func(t *testing.T) {
		rec, err := store.Reserve(t.Context(), uuid.NewString())

		require.NoError(t, err)
		require.Nil(t, rec)
	})

	t.Run("in flight key is duplicate", func(t *testing.T) {
		key := uuid.NewString()
		_, err := store.Reserve(t.Context(), key)
		require.NoError(t, err)

		_, err = store.Reserve(t.Context(), key)

		require.ErrorIs(t, err, apperrors.ErrDuplicateRequest)
	})

	t.Run("completed key replays record", func(t *testing.T) {
		key := uuid.NewString()
		_, err := store.Reserve(t.Context(), key)
		require.NoError(t, err)
		result := models.BillResult{
			Success:       true,
			TransactionID: uuid.NewString(),
			Reference:     "BP1",
			Status:        models.TransactionStatusCompleted,
		}
		require.NoError(t, store.Complete(t.Context(), key, Record{Result: result}))

		rec, err := store.Reserve(t.Context(), key)

		require.NoError(t, err)
		require.NotNil(t, rec)
		require.Equal(t, result, rec.Result)
		require.Empty(t, rec.Code)
	})

	t.Run("failure code kept", func(t *testing.T) {
		key := uuid.NewString()
		_, err := store.Reserve(t.Context(), key)
		require.NoError(t, err)
		require.NoError(t, store.Complete(t.Context(), key, Record{
			Result: models.BillResult{Error: "ledger write failed"},
			Code:   apperrors.CodePersistence,
		}))

		rec, err := store.Reserve(t.Context(), key)

		require.NoError(t, err)
		require.Equal(t, apperrors.CodePersistence, rec.Code)
	})

	t.Run("released key may be reserved again", func(t *testing.T) {
		key := uuid.NewString()
		_, err := store.Reserve(t.Context(), key)
		require.NoError(t, err)

		require.NoError(t, store.Release(t.Context(), key))
		rec, err := store.Reserve(t.Context(), key)

		require.NoError(t, err)
		require.Nil(t, rec)
	})

	t.Run("in flight marker expires", func(t *testing.T) {
		short := NewStore(rc.Client)
		short.inFlightTTL = 100 * time.Millisecond
		key := uuid.NewString()
		_, err := short.Reserve(t.Context(), key)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			rec, err := short.Reserve(t.Context(), key)
			return err == nil && rec == nil
		}, 5*time.Second, 50*time.Millisecond)
	})
}
