package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/metrics"
	"github.com/nkiryanov/billpay/internal/models"
	"github.com/nkiryanov/billpay/internal/repository"
	"github.com/nkiryanov/billpay/internal/service/fraud"
	"github.com/nkiryanov/billpay/internal/service/idempotency"
	"github.com/nkiryanov/billpay/internal/service/notify"
	"github.com/nkiryanov/billpay/internal/service/provider"
	"github.com/nkiryanov/billpay/internal/service/validate"
)

const (
	DefaultMinAmount           = 10
	DefaultNotificationTimeout = 10 * time.Second
)

type fraudGuard interface {
	Check(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, at time.Time, txType models.TransactionType) (fraud.Outcome, error)
}

type billerCatalog interface {
	Resolve(billType models.BillType, name string) (provider.Biller, error)
}

type idempotencyStore interface {
	Reserve(ctx context.Context, key string) (*idempotency.Record, error)
	Complete(ctx context.Context, key string, rec idempotency.Record) error
	Release(ctx context.Context, key string) error
}

type Config struct {
	MinAmount           decimal.Decimal
	NotificationTimeout time.Duration
}

type Options struct {
	Storage  repository.Storage
	Guard    fraudGuard
	Catalog  billerCatalog
	Notifier notify.Dispatcher

	// Tried in order, unconfigured ones are skipped
	Adapters []provider.Adapter

	// Used only if no adapter from Adapters is configured
	Fallback provider.Adapter

	// Optional: requests are not de-duplicated without it
	Idempotency idempotencyStore

	Config  Config
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// Orchestrator settles bill payments: provider call, wallet debit, ledger record and user notification
type Orchestrator struct {
	storage     repository.Storage
	guard       fraudGuard
	catalog     billerCatalog
	notifier    notify.Dispatcher
	adapters    []provider.Adapter
	fallback    provider.Adapter
	idempotency idempotencyStore

	cfg     Config
	logger  logger.Logger
	metrics *metrics.Metrics

	now          func() time.Time
	newReference func() string

	// Tracks detached notifications
	wg sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg.MinAmount.IsZero() {
		cfg.MinAmount = decimal.NewFromInt(DefaultMinAmount)
	}
	if cfg.NotificationTimeout == 0 {
		cfg.NotificationTimeout = DefaultNotificationTimeout
	}

	return &Orchestrator{
		storage:      opts.Storage,
		guard:        opts.Guard,
		catalog:      opts.Catalog,
		notifier:     opts.Notifier,
		adapters:     opts.Adapters,
		fallback:     opts.Fallback,
		idempotency:  opts.Idempotency,
		cfg:          cfg,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          time.Now,
		newReference: newReference,
	}
}

func newReference() string {
	return "BP" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Pay settles one bill payment
// On failure the returned result carries user facing error message, the error tells the kind
func (o *Orchestrator) Pay(ctx context.Context, p models.BillPayment) (models.BillResult, error) {
	result, err := o.pay(ctx, p)
	if err != nil {
		result.Success = false
		if result.Error == "" {
			result.Error = errorMessage(err)
		}
		code := apperrors.Code(err)
		if code == "" {
			code = "InternalError"
		}
		o.metrics.SettlementRequest(code)
	} else {
		o.metrics.SettlementRequest(string(result.Status))
	}

	return result, err
}

func (o *Orchestrator) pay(ctx context.Context, p models.BillPayment) (models.BillResult, error) {
	err := validate.BillPayment(p, o.cfg.MinAmount)
	if err != nil {
		return models.BillResult{}, err
	}

	userID := uuid.MustParse(p.UserID) // validated already
	if p.Currency == "" {
		p.Currency = models.DefaultCurrency
	}

	biller, err := o.catalog.Resolve(p.BillType, p.Provider)
	if err != nil {
		return models.BillResult{}, err
	}

	if p.IdempotencyKey == "" || o.idempotency == nil {
		result, _, err := o.settle(ctx, userID, biller, p)
		return result, err
	}

	key := userID.String() + ":" + p.IdempotencyKey
	rec, err := o.idempotency.Reserve(ctx, key)
	switch {
	case errors.Is(err, apperrors.ErrDuplicateRequest):
		return models.BillResult{}, err
	case err != nil:
		return models.BillResult{}, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	case rec != nil:
		o.logger.Info("Replaying finished bill payment", "user_id", userID, "idempotency_key", p.IdempotencyKey)
		if sentinel := apperrors.FromCode(rec.Code); sentinel != nil {
			return rec.Result, fmt.Errorf("%w: replayed result", sentinel)
		}
		return rec.Result, nil
	}

	result, charged, err := o.settle(ctx, userID, biller, p)

	// Detached: the outcome must be kept even if the client went away
	storeCtx := context.WithoutCancel(ctx)
	if err != nil && !charged {
		if relErr := o.idempotency.Release(storeCtx, key); relErr != nil {
			o.logger.Warn("Failed to release idempotency key", "key", key, "error", relErr)
		}
		return result, err
	}

	stored := result
	if err != nil {
		stored.Success = false
		stored.Error = errorMessage(err)
	}
	if recErr := o.idempotency.Complete(storeCtx, key, idempotency.Record{Result: stored, Code: apperrors.Code(err)}); recErr != nil {
		o.logger.Error("Failed to store idempotency record", "key", key, "error", recErr)
	}

	return result, err
}

// settle runs the payment after request checks
// charged reports the provider accepted the payment: from this point the request changed the world
func (o *Orchestrator) settle(ctx context.Context, userID uuid.UUID, biller provider.Biller, p models.BillPayment) (result models.BillResult, charged bool, err error) {
	outcome, err := o.guard.Check(ctx, userID, p.Amount, o.now(), models.TransactionTypeBillPayment)
	if err != nil {
		return result, false, fmt.Errorf("%w: fraud check: %v", apperrors.ErrPersistence, err)
	}
	if err := outcome.Err(); err != nil {
		return result, false, err
	}

	// Pre-flight: don't charge with provider what the wallet can't cover
	wallet, err := o.activeWallet(ctx, o.storage, userID, p.Currency)
	if err != nil {
		return result, false, err
	}
	if wallet.Balance.LessThan(p.Amount) {
		return result, false, apperrors.ErrInsufficientBalance
	}

	req := provider.Request{
		BillType:      p.BillType,
		Biller:        biller,
		AccountNumber: p.AccountNumber,
		CustomerName:  p.CustomerName,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Reference:     o.newReference(),
	}

	res, adapter, err := o.attempt(ctx, req)
	if err != nil {
		o.recordFailedAttempt(ctx, userID, wallet.ID, p, req.Reference, adapter, res)
		return result, false, err
	}

	tx, err := o.record(ctx, userID, p, adapter, res)
	if err != nil {
		o.logger.Error("Provider accepted payment but ledger write failed, reconciliation needed",
			"user_id", userID, "provider", adapter, "reference", res.Reference, "amount", p.Amount, "error", err)
		return result, true, err
	}

	o.logger.Info("Bill payment settled",
		"transaction_id", tx.ID, "user_id", userID, "provider", adapter, "status", tx.Status, "amount", p.Amount)

	o.notifyAsync(billNotification(tx, p, biller))

	return models.BillResult{
		Success:       true,
		TransactionID: tx.ID.String(),
		Reference:     tx.Reference,
		Status:        tx.Status,
	}, true, nil
}

func (o *Orchestrator) activeWallet(ctx context.Context, s repository.Storage, userID uuid.UUID, currency string) (models.Wallet, error) {
	wallet, err := s.Wallet().GetWallet(ctx, userID, currency)
	switch {
	case errors.Is(err, apperrors.ErrWalletNotFound):
		return wallet, err
	case err != nil:
		return wallet, fmt.Errorf("%w: get wallet: %v", apperrors.ErrPersistence, err)
	case !wallet.IsActive:
		return wallet, apperrors.ErrWalletNotFound
	}
	return wallet, nil
}

// attempt tries adapters in order and stops on the first accepted payment
// Returns name of the adapter that produced the result
func (o *Orchestrator) attempt(ctx context.Context, req provider.Request) (provider.Result, string, error) {
	var (
		last      provider.Result
		lastName  string
		attempted bool
	)

	for _, a := range o.adapters {
		if !a.Configured() {
			continue
		}
		attempted = true

		res, err := o.attemptOne(ctx, a, req)
		if err == nil && res.Success {
			return res, a.Name(), nil
		}
		last, lastName = res, a.Name()
	}

	if !attempted && o.fallback != nil {
		o.logger.Warn("No payment provider configured, using fallback", "provider", o.fallback.Name())
		res, err := o.attemptOne(ctx, o.fallback, req)
		if err == nil && res.Success {
			return res, o.fallback.Name(), nil
		}
		last, lastName = res, o.fallback.Name()
	}

	return last, lastName, fmt.Errorf("%w: reference %s", apperrors.ErrProviderUnavailable, req.Reference)
}

func (o *Orchestrator) attemptOne(ctx context.Context, a provider.Adapter, req provider.Request) (provider.Result, error) {
	start := time.Now()
	res, err := a.AttemptPayment(ctx, req)
	took := time.Since(start)

	switch {
	case err != nil:
		o.logger.Warn("Payment provider failed", "provider", a.Name(), "reference", req.Reference, "error", err)
		o.metrics.ProviderAttempt(a.Name(), metrics.OutcomeError, took)
	case !res.Success:
		o.logger.Info("Payment provider declined", "provider", a.Name(), "reference", req.Reference, "message", res.Message)
		o.metrics.ProviderAttempt(a.Name(), metrics.OutcomeDeclined, took)
	case res.IsPending():
		o.metrics.ProviderAttempt(a.Name(), metrics.OutcomePending, took)
	default:
		o.metrics.ProviderAttempt(a.Name(), metrics.OutcomeSuccess, took)
	}

	return res, err
}

// record debits wallet and writes transaction in one database transaction
// Pending payments are not debited until the provider confirms them
func (o *Orchestrator) record(ctx context.Context, userID uuid.UUID, p models.BillPayment, adapter string, res provider.Result) (models.Transaction, error) {
	var tx models.Transaction

	// The provider took the money already: finish the write even if the client went away
	ctx = context.WithoutCancel(ctx)

	err := o.storage.InTx(ctx, func(s repository.Storage) error {
		wallet, err := o.activeWallet(ctx, s, userID, p.Currency)
		if err != nil {
			return err
		}
		if wallet.Balance.LessThan(p.Amount) {
			return apperrors.ErrInsufficientBalance
		}

		status := models.TransactionStatusCompleted
		if res.IsPending() {
			status = models.TransactionStatusPending
		}

		if status == models.TransactionStatusCompleted {
			_, err = s.Wallet().Debit(ctx, wallet.ID, p.Amount)
			switch {
			case errors.Is(err, apperrors.ErrInsufficientBalance), errors.Is(err, apperrors.ErrWalletNotFound):
				return err
			case err != nil:
				return fmt.Errorf("%w: debit wallet: %v", apperrors.ErrPersistence, err)
			}
		}

		tx, err = s.Transaction().CreateTransaction(ctx, models.Transaction{
			UserID:           userID,
			WalletID:         uuid.NullUUID{UUID: wallet.ID, Valid: true},
			Type:             models.TransactionTypeBillPayment,
			Amount:           p.Amount,
			Currency:         p.Currency,
			Status:           status,
			Description:      description(p),
			Provider:         adapter,
			Reference:        res.Reference,
			ProviderResponse: res.Raw,
			IdempotencyKey:   p.IdempotencyKey,
		})
		if err != nil {
			return fmt.Errorf("%w: insert transaction: %v", apperrors.ErrPersistence, err)
		}

		return nil
	})

	return tx, err
}

// Failed attempts are kept for audit, the write failure is not the caller problem
func (o *Orchestrator) recordFailedAttempt(ctx context.Context, userID uuid.UUID, walletID uuid.UUID, p models.BillPayment, reference string, adapter string, res provider.Result) {
	_, err := o.storage.Transaction().CreateTransaction(context.WithoutCancel(ctx), models.Transaction{
		UserID:           userID,
		WalletID:         uuid.NullUUID{UUID: walletID, Valid: walletID != uuid.Nil},
		Type:             models.TransactionTypeBillPayment,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Status:           models.TransactionStatusFailed,
		Description:      description(p),
		Provider:         adapter,
		Reference:        reference,
		ProviderResponse: res.Raw,
		IdempotencyKey:   p.IdempotencyKey,
	})
	if err != nil {
		o.logger.Error("Failed to record failed bill payment", "user_id", userID, "reference", reference, "error", err)
	}
}

func description(p models.BillPayment) string {
	return fmt.Sprintf("%s payment to %s for %s", p.BillType, p.Provider, p.AccountNumber)
}

// SettlePending moves pending transaction to the status the provider reports
// Completed payments are debited in the same database transaction as the status update
func (o *Orchestrator) SettlePending(ctx context.Context, tx models.Transaction, res provider.Result) error {
	if res.IsPending() {
		o.logger.Debug("Transaction is still pending", "transaction_id", tx.ID, "provider", tx.Provider)
		return nil
	}

	status := models.TransactionStatusFailed
	if res.Success {
		status = models.TransactionStatusCompleted
	}

	var settled models.Transaction
	err := o.storage.InTx(ctx, func(s repository.Storage) error {
		if status == models.TransactionStatusCompleted {
			var err error
			status, err = o.debitPending(ctx, s, tx)
			if err != nil {
				return err
			}
		}

		var err error
		settled, err = s.Transaction().MarkSettled(ctx, tx.ID, status, res.Raw)
		return err
	})

	switch {
	case errors.Is(err, apperrors.ErrTransactionAlreadySettled):
		o.logger.Debug("Transaction settled already", "transaction_id", tx.ID)
		return nil
	case err != nil:
		return fmt.Errorf("settle transaction %s: %w", tx.ID, err)
	}

	o.logger.Info("Pending transaction settled", "transaction_id", tx.ID, "status", settled.Status, "provider", tx.Provider)
	o.metrics.PendingSettled(string(settled.Status))
	o.notifyAsync(settledNotification(settled))

	return nil
}

// debitPending returns status the transaction must get
// Wallet that can't cover the payment anymore makes it failed: money has to be reconciled with the provider manually
func (o *Orchestrator) debitPending(ctx context.Context, s repository.Storage, tx models.Transaction) (models.TransactionStatus, error) {
	if !tx.WalletID.Valid {
		o.logger.Error("Pending transaction has no wallet, reconciliation needed", "transaction_id", tx.ID)
		return models.TransactionStatusFailed, nil
	}

	_, err := s.Wallet().Debit(ctx, tx.WalletID.UUID, tx.Amount)
	switch {
	case errors.Is(err, apperrors.ErrInsufficientBalance), errors.Is(err, apperrors.ErrWalletNotFound):
		o.logger.Error("Failed to debit settled transaction, reconciliation needed",
			"transaction_id", tx.ID, "wallet_id", tx.WalletID.UUID, "reference", tx.Reference, "error", err)
		return models.TransactionStatusFailed, nil
	case err != nil:
		return "", fmt.Errorf("debit wallet: %w", err)
	}

	return models.TransactionStatusCompleted, nil
}

// notifyAsync assigns notification identity before dispatch, so every channel sees the same id
func (o *Orchestrator) notifyAsync(n models.Notification) {
	if o.notifier == nil {
		return
	}

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = o.now()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("Notification dispatch panicked", "user_id", n.UserID, "panic", r)
				o.metrics.NotificationFailure()
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.NotificationTimeout)
		defer cancel()

		err := o.notifier.Send(ctx, n)
		if err != nil {
			o.logger.Warn("Failed to notify user", "user_id", n.UserID, "type", n.Type, "error", err)
			o.metrics.NotificationFailure()
		}
	}()
}

// Close waits for notifications in flight
func (o *Orchestrator) Close() {
	o.wg.Wait()
}
