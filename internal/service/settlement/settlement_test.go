package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/metrics"
	"github.com/nkiryanov/billpay/internal/models"
	"github.com/nkiryanov/billpay/internal/service/fraud"
	"github.com/nkiryanov/billpay/internal/service/idempotency"
	"github.com/nkiryanov/billpay/internal/service/notify"
	"github.com/nkiryanov/billpay/internal/service/provider"
	"github.com/nkiryanov/billpay/internal/testutil"
)

type fakeAdapter struct {
	name         string
	unconfigured bool
	result       provider.Result
	err          error
	onAttempt    func()

	calls atomic.Int32
}

func (a *fakeAdapter) Name() string     { return a.name }
func (a *fakeAdapter) Configured() bool { return !a.unconfigured }

func (a *fakeAdapter) AttemptPayment(_ context.Context, req provider.Request) (provider.Result, error) {
	a.calls.Add(1)
	if a.onAttempt != nil {
		a.onAttempt()
	}
	if a.err != nil {
		return provider.Result{}, a.err
	}
	res := a.result
	if res.Reference == "" {
		res.Reference = req.Reference
	}
	return res, nil
}

func succeeds(name string, reference string) *fakeAdapter {
	return &fakeAdapter{
		name: name,
		result: provider.Result{
			Success:       true,
			Status:        models.TransactionStatusCompleted,
			TransactionID: name + "-tx",
			Reference:     reference,
			Raw:           json.RawMessage(`{"status":"success"}`),
		},
	}
}

func fails(name string) *fakeAdapter {
	return &fakeAdapter{name: name, err: provider.NewError(name, provider.CodeUnavailable, 0, errors.New("connection refused"))}
}

func declines(name string) *fakeAdapter {
	return &fakeAdapter{name: name, result: provider.Result{Status: models.TransactionStatusFailed, Message: "declined", Raw: json.RawMessage(`{"status":"error"}`)}}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, notification models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification)
	return nil
}

func (n *fakeNotifier) Sent() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notification(nil), n.sent...)
}

type fakeIdempotency struct {
	mu      sync.Mutex
	records map[string]*idempotency.Record // nil value means in flight
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{records: make(map[string]*idempotency.Record)}
}

func (s *fakeIdempotency) Reserve(_ context.Context, key string) (*idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	switch {
	case !ok:
		s.records[key] = nil
		return nil, nil
	case rec == nil:
		return nil, apperrors.ErrDuplicateRequest
	default:
		return rec, nil
	}
}

func (s *fakeIdempotency) Complete(_ context.Context, key string, rec idempotency.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = &rec
	return nil
}

func (s *fakeIdempotency) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

type testEnv struct {
	storage  *testutil.MemStorage
	wallet   models.Wallet
	notifier *fakeNotifier
	metrics  *metrics.Metrics

	flutterwave *fakeAdapter
	vtpass      *fakeAdapter
	baxi        *fakeAdapter
}

func newTestEnv(t *testing.T, balance int64) *testEnv {
	storage := testutil.NewMemStorage()
	wallet, err := storage.Wallet().CreateWallet(t.Context(), uuid.New(), "NGN", decimal.NewFromInt(balance))
	require.NoError(t, err)

	return &testEnv{
		storage:     storage,
		wallet:      wallet,
		notifier:    &fakeNotifier{},
		metrics:     metrics.New(prometheus.NewRegistry()),
		flutterwave: succeeds(provider.NameFlutterwave, "FLW-REF"),
		vtpass:      succeeds(provider.NameVTPass, "VTP-REF"),
		baxi:        succeeds(provider.NameBaxi, "BAXI-REF"),
	}
}

func (e *testEnv) orchestrator(opts ...func(*Options)) *Orchestrator {
	l := logger.NewNoOpLogger()
	o := Options{
		Storage:  e.storage,
		Guard:    fraud.NewGuard(e.storage.Transaction(), fraud.Config{}, l, e.metrics),
		Catalog:  provider.NewCatalog(false, l, e.metrics),
		Notifier: e.notifier,
		Adapters: []provider.Adapter{e.flutterwave, e.vtpass, e.baxi},
		Fallback: provider.Mock{},
		Logger:   l,
		Metrics:  e.metrics,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return New(o)
}

func (e *testEnv) airtime(amount int64) models.BillPayment {
	return models.BillPayment{
		BillType:      models.BillTypeAirtime,
		Provider:      "MTN",
		Amount:        decimal.NewFromInt(amount),
		AccountNumber: "08012345678",
		UserID:        e.wallet.UserID.String(),
	}
}

func (e *testEnv) balance(t *testing.T) decimal.Decimal {
	w, err := e.storage.Wallet().GetWalletByID(t.Context(), e.wallet.ID)
	require.NoError(t, err)
	return w.Balance
}

func (e *testEnv) adapterCalls() int32 {
	return e.flutterwave.calls.Load() + e.vtpass.calls.Load() + e.baxi.calls.Load()
}

func TestOrchestrator_Pay(t *testing.T) {
	t.Run("airtime paid with primary provider", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(200))
		o.Close()

		require.NoError(t, err)
		require.True(t, result.Success)
		require.NotEmpty(t, result.TransactionID)
		require.Equal(t, "FLW-REF", result.Reference)
		require.Equal(t, models.TransactionStatusCompleted, result.Status)
		require.True(t, env.balance(t).Equal(decimal.NewFromInt(800)), "balance should be 800, got %s", env.balance(t))

		transactions := env.storage.Transactions()
		require.Len(t, transactions, 1)
		tx := transactions[0]
		require.Equal(t, result.TransactionID, tx.ID.String())
		require.Equal(t, models.TransactionTypeBillPayment, tx.Type)
		require.True(t, tx.Amount.Equal(decimal.NewFromInt(200)))
		require.Equal(t, models.TransactionStatusCompleted, tx.Status)
		require.Equal(t, provider.NameFlutterwave, tx.Provider)
		require.Equal(t, env.wallet.ID, tx.WalletID.UUID)
		require.JSONEq(t, `{"status":"success"}`, string(tx.ProviderResponse))

		require.Zero(t, env.vtpass.calls.Load())
		require.Zero(t, env.baxi.calls.Load())

		sent := env.notifier.Sent()
		require.Len(t, sent, 1)
		require.Equal(t, env.wallet.UserID, sent[0].UserID)
		require.Equal(t, "Bill Payment Successful", sent[0].Title)
		require.Equal(t, "Your airtime payment of NGN 200.00 to MTN was successful", sent[0].Message)
	})

	t.Run("amount over ceiling rejected before providers", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(600_000))
		o.Close()

		require.ErrorIs(t, err, apperrors.ErrFraudRejected)
		require.ErrorIs(t, err, apperrors.ErrAmountExceedsLimit)
		require.False(t, result.Success)
		require.Equal(t, "Bill payment amount exceeds allowed limit of 500000 NGN", result.Error)
		require.True(t, env.balance(t).Equal(decimal.NewFromInt(1000)))
		require.Empty(t, env.storage.Transactions())
		require.Zero(t, env.adapterCalls())
	})

	t.Run("amount under floor is validation error", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(5))

		var vErr *apperrors.ValidationError
		require.ErrorAs(t, err, &vErr)
		require.Contains(t, vErr.Fields, "amount")
		require.False(t, result.Success)
		require.NotEmpty(t, result.Error)
		require.Zero(t, env.adapterCalls())
		require.Empty(t, env.storage.Transactions())
	})

	t.Run("fifth request in a minute rejected", func(t *testing.T) {
		env := newTestEnv(t, 100_000)
		for range 4 {
			_, err := env.storage.Transaction().CreateTransaction(t.Context(), models.Transaction{
				UserID:   env.wallet.UserID,
				Type:     models.TransactionTypeBillPayment,
				Amount:   decimal.NewFromInt(100),
				Currency: "NGN",
				Status:   models.TransactionStatusCompleted,
			})
			require.NoError(t, err)
		}
		o := env.orchestrator()

		_, err := o.Pay(t.Context(), env.airtime(100))

		require.ErrorIs(t, err, apperrors.ErrRateLimitExceeded)
		require.Zero(t, env.adapterCalls())
		require.Len(t, env.storage.Transactions(), 4)
	})

	t.Run("fallback to next provider", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.flutterwave = fails(provider.NameFlutterwave)
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(200))
		o.Close()

		require.NoError(t, err)
		require.Equal(t, "VTP-REF", result.Reference)
		require.Equal(t, int32(1), env.flutterwave.calls.Load())
		require.Equal(t, int32(1), env.vtpass.calls.Load())
		require.Zero(t, env.baxi.calls.Load(), "providers after the winner are never called")

		transactions := env.storage.Transactions()
		require.Len(t, transactions, 1)
		require.Equal(t, "VTP-REF", transactions[0].Reference)
		require.Equal(t, provider.NameVTPass, transactions[0].Provider)
		require.True(t, env.balance(t).Equal(decimal.NewFromInt(800)), "wallet is debited exactly once")
	})

	t.Run("decline falls back too", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.flutterwave = declines(provider.NameFlutterwave)
		env.vtpass = declines(provider.NameVTPass)
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(200))
		o.Close()

		require.NoError(t, err)
		require.Equal(t, "BAXI-REF", result.Reference)
	})

	t.Run("unconfigured providers skipped", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.flutterwave.unconfigured = true
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(200))
		o.Close()

		require.NoError(t, err)
		require.Equal(t, "VTP-REF", result.Reference)
		require.Zero(t, env.flutterwave.calls.Load())
	})

	t.Run("all providers failed", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.flutterwave = fails(provider.NameFlutterwave)
		env.vtpass = declines(provider.NameVTPass)
		env.baxi = fails(provider.NameBaxi)
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(200))
		o.Close()

		require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
		require.False(t, result.Success)
		require.Equal(t, "All payment providers failed. Please try again later", result.Error)
		require.True(t, env.balance(t).Equal(decimal.NewFromInt(1000)))
		require.Empty(t, env.notifier.Sent())

		transactions := env.storage.Transactions()
		require.Len(t, transactions, 1, "failed attempt is kept for audit")
		require.Equal(t, models.TransactionStatusFailed, transactions[0].Status)
		require.Equal(t, provider.NameBaxi, transactions[0].Provider)
	})

	t.Run("mock used only when nothing configured", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.flutterwave.unconfigured = true
		env.vtpass.unconfigured = true
		env.baxi.unconfigured = true
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(200))
		o.Close()

		require.NoError(t, err)
		require.True(t, result.Success)
		require.Equal(t, provider.NameMock, env.storage.Transactions()[0].Provider)
		require.Zero(t, env.adapterCalls())
	})

	t.Run("mock not used after real failures", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.flutterwave = fails(provider.NameFlutterwave)
		env.vtpass.unconfigured = true
		env.baxi.unconfigured = true
		o := env.orchestrator()

		_, err := o.Pay(t.Context(), env.airtime(200))

		require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
	})

	t.Run("pending is not debited", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.flutterwave.result.Status = models.TransactionStatusPending
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(200))
		o.Close()

		require.NoError(t, err)
		require.True(t, result.Success)
		require.Equal(t, models.TransactionStatusPending, result.Status)
		require.True(t, env.balance(t).Equal(decimal.NewFromInt(1000)), "pending payment must not be debited")
		require.Equal(t, models.TransactionStatusPending, env.storage.Transactions()[0].Status)
		require.Equal(t, "Bill Payment Processing", env.notifier.Sent()[0].Title)
	})

	t.Run("no wallet", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		o := env.orchestrator()
		p := env.airtime(200)
		p.UserID = uuid.NewString()

		_, err := o.Pay(t.Context(), p)

		require.ErrorIs(t, err, apperrors.ErrWalletNotFound)
		require.Zero(t, env.adapterCalls())
	})

	t.Run("inactive wallet", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.storage.SetActive(env.wallet.ID, false)
		o := env.orchestrator()

		_, err := o.Pay(t.Context(), env.airtime(200))

		require.ErrorIs(t, err, apperrors.ErrWalletNotFound)
		require.Zero(t, env.adapterCalls())
	})

	t.Run("insufficient balance checked before providers", func(t *testing.T) {
		env := newTestEnv(t, 100)
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(200))

		require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)
		require.Equal(t, "Insufficient wallet balance", result.Error)
		require.Zero(t, env.adapterCalls())
		require.Empty(t, env.storage.Transactions())
	})

	t.Run("balance spent while provider was paying", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.flutterwave.onAttempt = func() {
			_, err := env.storage.Wallet().Debit(context.Background(), env.wallet.ID, decimal.NewFromInt(900))
			require.NoError(t, err)
		}
		o := env.orchestrator()

		_, err := o.Pay(t.Context(), env.airtime(200))
		o.Close()

		require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)
		require.True(t, env.balance(t).Equal(decimal.NewFromInt(100)), "balance never goes negative")
		require.Empty(t, env.storage.Transactions())
		require.Empty(t, env.notifier.Sent())
	})

	t.Run("ledger write failure rolls back debit", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.storage.CreateTransactionErr = errors.New("connection reset")
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(200))
		o.Close()

		require.ErrorIs(t, err, apperrors.ErrPersistence)
		require.False(t, result.Success)
		require.True(t, env.balance(t).Equal(decimal.NewFromInt(1000)), "debit must be rolled back with the insert")
		require.Empty(t, env.notifier.Sent())
	})

	t.Run("notification failure does not fail payment", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.notifier.err = errors.New("kafka is down")
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(200))
		o.Close()

		require.NoError(t, err)
		require.True(t, result.Success)
	})

	t.Run("unknown biller falls back to default", func(t *testing.T) {
		env := newTestEnv(t, 10_000)
		o := env.orchestrator()
		p := env.airtime(5000)
		p.BillType = models.BillTypeElectricity
		p.Provider = "Unknown Disco"
		p.AccountNumber = "45063003501"

		_, err := o.Pay(t.Context(), p)
		o.Close()

		require.NoError(t, err)
		require.Equal(t, "Your electricity payment of NGN 5000.00 to Eko Electricity was successful", env.notifier.Sent()[0].Message)
	})

	t.Run("strict catalog rejects unknown biller", func(t *testing.T) {
		env := newTestEnv(t, 10_000)
		o := env.orchestrator(func(opts *Options) {
			opts.Catalog = provider.NewCatalog(true, logger.NewNoOpLogger(), nil)
		})
		p := env.airtime(500)
		p.Provider = "Unknown Telco"

		_, err := o.Pay(t.Context(), p)

		require.ErrorIs(t, err, apperrors.ErrValidation)
		require.Zero(t, env.adapterCalls())
	})
}

func TestOrchestrator_Pay_Idempotency(t *testing.T) {
	t.Run("replay returns first result", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		o := env.orchestrator(func(opts *Options) { opts.Idempotency = newFakeIdempotency() })
		p := env.airtime(200)
		p.IdempotencyKey = "key-1"

		first, err := o.Pay(t.Context(), p)
		require.NoError(t, err)
		second, err := o.Pay(t.Context(), p)
		require.NoError(t, err)
		o.Close()

		require.Equal(t, first, second)
		require.Equal(t, int32(1), env.flutterwave.calls.Load(), "provider must be called once")
		require.True(t, env.balance(t).Equal(decimal.NewFromInt(800)))
		require.Len(t, env.storage.Transactions(), 1)
	})

	t.Run("key is per user", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		store := newFakeIdempotency()
		o := env.orchestrator(func(opts *Options) { opts.Idempotency = store })
		p := env.airtime(200)
		p.IdempotencyKey = "key-1"

		_, err := o.Pay(t.Context(), p)
		require.NoError(t, err)
		o.Close()

		require.Contains(t, store.records, env.wallet.UserID.String()+":key-1")
	})

	t.Run("in flight duplicate rejected", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		store := newFakeIdempotency()
		o := env.orchestrator(func(opts *Options) { opts.Idempotency = store })
		p := env.airtime(200)
		p.IdempotencyKey = "key-1"
		_, err := store.Reserve(t.Context(), env.wallet.UserID.String()+":key-1")
		require.NoError(t, err)

		_, err = o.Pay(t.Context(), p)

		require.ErrorIs(t, err, apperrors.ErrDuplicateRequest)
		require.Zero(t, env.adapterCalls())
	})

	t.Run("failure without charge released", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.flutterwave = fails(provider.NameFlutterwave)
		env.vtpass = fails(provider.NameVTPass)
		env.baxi = fails(provider.NameBaxi)
		store := newFakeIdempotency()
		o := env.orchestrator(func(opts *Options) { opts.Idempotency = store })
		p := env.airtime(200)
		p.IdempotencyKey = "key-1"

		_, err := o.Pay(t.Context(), p)

		require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
		require.Empty(t, store.records, "request may be retried with the same key")
	})

	t.Run("ledger failure after charge is replayed", func(t *testing.T) {
		env := newTestEnv(t, 1000)
		env.storage.CreateTransactionErr = errors.New("connection reset")
		o := env.orchestrator(func(opts *Options) { opts.Idempotency = newFakeIdempotency() })
		p := env.airtime(200)
		p.IdempotencyKey = "key-1"

		_, err := o.Pay(t.Context(), p)
		require.ErrorIs(t, err, apperrors.ErrPersistence)

		env.storage.CreateTransactionErr = nil
		result, err := o.Pay(t.Context(), p)
		o.Close()

		require.ErrorIs(t, err, apperrors.ErrPersistence, "retry must not charge again")
		require.False(t, result.Success)
		require.Equal(t, int32(1), env.flutterwave.calls.Load())
	})
}

func TestOrchestrator_SettlePending(t *testing.T) {
	setup := func(t *testing.T, balance int64) (*testEnv, *Orchestrator, models.Transaction) {
		env := newTestEnv(t, balance)
		env.flutterwave.result.Status = models.TransactionStatusPending
		o := env.orchestrator()

		result, err := o.Pay(t.Context(), env.airtime(200))
		require.NoError(t, err)
		require.Equal(t, models.TransactionStatusPending, result.Status)
		o.Close() // flush the pending payment notification

		tx, err := env.storage.Transaction().GetTransaction(t.Context(), uuid.MustParse(result.TransactionID))
		require.NoError(t, err)
		return env, o, tx
	}

	t.Run("completed is debited", func(t *testing.T) {
		env, o, tx := setup(t, 1000)

		err := o.SettlePending(t.Context(), tx, provider.Result{Success: true, Status: models.TransactionStatusCompleted, Raw: json.RawMessage(`{"status":"delivered"}`)})
		o.Close()

		require.NoError(t, err)
		require.True(t, env.balance(t).Equal(decimal.NewFromInt(800)))
		got, err := env.storage.Transaction().GetTransaction(t.Context(), tx.ID)
		require.NoError(t, err)
		require.Equal(t, models.TransactionStatusCompleted, got.Status)
		require.JSONEq(t, `{"status":"delivered"}`, string(got.ProviderResponse))
	})

	t.Run("failed is not debited", func(t *testing.T) {
		env, o, tx := setup(t, 1000)

		err := o.SettlePending(t.Context(), tx, provider.Result{Status: models.TransactionStatusFailed})
		o.Close()

		require.NoError(t, err)
		require.True(t, env.balance(t).Equal(decimal.NewFromInt(1000)))
		got, err := env.storage.Transaction().GetTransaction(t.Context(), tx.ID)
		require.NoError(t, err)
		require.Equal(t, models.TransactionStatusFailed, got.Status)
		require.Equal(t, "Bill Payment Failed", env.notifier.Sent()[1].Title)
	})

	t.Run("still pending is no-op", func(t *testing.T) {
		env, o, tx := setup(t, 1000)

		err := o.SettlePending(t.Context(), tx, provider.Result{Success: true, Status: models.TransactionStatusPending})
		o.Close()

		require.NoError(t, err)
		got, err := env.storage.Transaction().GetTransaction(t.Context(), tx.ID)
		require.NoError(t, err)
		require.Equal(t, models.TransactionStatusPending, got.Status)
	})

	t.Run("terminal is never settled twice", func(t *testing.T) {
		env, o, tx := setup(t, 1000)
		completed := provider.Result{Success: true, Status: models.TransactionStatusCompleted}

		require.NoError(t, o.SettlePending(t.Context(), tx, completed))
		require.NoError(t, o.SettlePending(t.Context(), tx, completed))
		require.NoError(t, o.SettlePending(t.Context(), tx, provider.Result{Status: models.TransactionStatusFailed}))
		o.Close()

		require.True(t, env.balance(t).Equal(decimal.NewFromInt(800)), "wallet is debited once")
		got, err := env.storage.Transaction().GetTransaction(t.Context(), tx.ID)
		require.NoError(t, err)
		require.Equal(t, models.TransactionStatusCompleted, got.Status)
	})

	t.Run("wallet can't cover anymore", func(t *testing.T) {
		env, o, tx := setup(t, 1000)
		_, err := env.storage.Wallet().Debit(t.Context(), env.wallet.ID, decimal.NewFromInt(900))
		require.NoError(t, err)

		err = o.SettlePending(t.Context(), tx, provider.Result{Success: true, Status: models.TransactionStatusCompleted})
		o.Close()

		require.NoError(t, err)
		require.True(t, env.balance(t).Equal(decimal.NewFromInt(100)))
		got, err := env.storage.Transaction().GetTransaction(t.Context(), tx.ID)
		require.NoError(t, err)
		require.Equal(t, models.TransactionStatusFailed, got.Status)
	})
}

func TestOrchestrator_Close(t *testing.T) {
	env := newTestEnv(t, 1000)
	release := make(chan struct{})
	blocking := &blockingNotifier{release: release}
	o := env.orchestrator(func(opts *Options) { opts.Notifier = blocking })

	_, err := o.Pay(t.Context(), env.airtime(200))
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close must wait for notifications in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.Eventually(t, func() bool {
		select {
		case <-closed:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

type blockingNotifier struct {
	release chan struct{}
}

func (n *blockingNotifier) Send(ctx context.Context, _ models.Notification) error {
	select {
	case <-n.release:
	case <-ctx.Done():
	}
	return nil
}

type kafkaWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (w *kafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *kafkaWriter) Close() error { return nil }

func TestOrchestrator_Notifications(t *testing.T) {
	env := newTestEnv(t, 5000)
	writer := &kafkaWriter{}
	l := logger.NewNoOpLogger()
	o := env.orchestrator(func(opts *Options) {
		opts.Notifier = notify.NewFanout(l,
			notify.NewInbox(env.storage.Notification()),
			notify.NewKafka(writer, l),
		)
	})

	for range 2 {
		_, err := o.Pay(t.Context(), env.airtime(100))
		require.NoError(t, err)
	}
	o.Close()

	stored := env.storage.Notifications()
	require.Len(t, stored, 2)
	require.Len(t, writer.messages, 2)

	inboxIDs := make(map[string]bool)
	for _, n := range stored {
		require.NotEqual(t, uuid.Nil, n.ID)
		inboxIDs[n.ID.String()] = true
	}
	require.Len(t, inboxIDs, 2, "every notification gets its own id")

	for _, msg := range writer.messages {
		var event struct {
			ID        string    `json:"id"`
			CreatedAt time.Time `json:"createdAt"`
		}
		require.NoError(t, json.Unmarshal(msg.Value, &event))
		require.NotEqual(t, uuid.Nil.String(), event.ID)
		require.True(t, inboxIDs[event.ID], "published event must carry the inbox row id")
		require.False(t, event.CreatedAt.IsZero(), "created at must be set")
	}
}
