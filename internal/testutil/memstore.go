package testutil

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/models"
	"github.com/nkiryanov/billpay/internal/repository"
)

// MemStorage is in-memory repository.Storage for unit tests
// It follows the same contracts as the postgres storage
type MemStorage struct {
	txMu sync.Mutex // serializes InTx
	mu   sync.Mutex

	wallets       map[uuid.UUID]models.Wallet
	transactions  map[uuid.UUID]models.Transaction
	notifications []models.Notification

	// Set to make the next writes fail
	CreateTransactionErr error
	DebitErr             error
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		wallets:      make(map[uuid.UUID]models.Wallet),
		transactions: make(map[uuid.UUID]models.Transaction),
	}
}

func (s *MemStorage) Wallet() repository.WalletRepo             { return memWallets{s} }
func (s *MemStorage) Transaction() repository.TransactionRepo   { return memTransactions{s} }
func (s *MemStorage) Notification() repository.NotificationRepo { return memNotifications{s} }

func (s *MemStorage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	wallets := maps.Clone(s.wallets)
	transactions := maps.Clone(s.transactions)
	notifications := slices.Clone(s.notifications)
	s.mu.Unlock()

	err := fn(s)
	if err != nil {
		s.mu.Lock()
		s.wallets, s.transactions, s.notifications = wallets, transactions, notifications
		s.mu.Unlock()
	}

	return err
}

// Transactions returns all stored transactions, oldest first
func (s *MemStorage) Transactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := slices.Collect(maps.Values(s.transactions))
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Notifications returns all stored notifications
func (s *MemStorage) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.notifications)
}

type memWallets struct{ s *MemStorage }

func (r memWallets) CreateWallet(_ context.Context, userID uuid.UUID, currency string, balance decimal.Decimal) (models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now()
	w := models.Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  currency,
		Balance:   balance,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.wallets[w.ID] = w
	return w, nil
}

func (r memWallets) GetWallet(_ context.Context, userID uuid.UUID, currency string) (models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, w := range r.s.wallets {
		if w.UserID == userID && w.Currency == currency {
			return w, nil
		}
	}
	return models.Wallet{}, apperrors.ErrWalletNotFound
}

func (r memWallets) GetWalletByID(_ context.Context, walletID uuid.UUID) (models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[walletID]
	if !ok {
		return w, apperrors.ErrWalletNotFound
	}
	return w, nil
}

func (r memWallets) Debit(_ context.Context, walletID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.DebitErr != nil {
		return decimal.Zero, r.s.DebitErr
	}

	w, ok := r.s.wallets[walletID]
	switch {
	case !ok || !w.IsActive:
		return decimal.Zero, apperrors.ErrWalletNotFound
	case w.Balance.LessThan(amount):
		return decimal.Zero, apperrors.ErrInsufficientBalance
	}

	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = time.Now()
	r.s.wallets[walletID] = w
	return w.Balance, nil
}

// SetActive is a test helper to deactivate wallets
func (s *MemStorage) SetActive(walletID uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.wallets[walletID]
	w.IsActive = active
	s.wallets[walletID] = w
}

type memTransactions struct{ s *MemStorage }

func (r memTransactions) CreateTransaction(_ context.Context, t models.Transaction) (models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.CreateTransactionErr != nil {
		return models.Transaction{}, r.s.CreateTransactionErr
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	r.s.transactions[t.ID] = t
	return t, nil
}

func (r memTransactions) GetTransaction(_ context.Context, id uuid.UUID) (models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transactions[id]
	if !ok {
		return t, apperrors.ErrTransactionNotFound
	}
	return t, nil
}

func (r memTransactions) CountRecentTransactions(_ context.Context, userID uuid.UUID, txType models.TransactionType, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	count := 0
	for _, t := range r.s.transactions {
		if t.UserID == userID && t.Type == txType && t.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r memTransactions) ListTransactions(_ context.Context, userID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	all := r.s.Transactions()
	slices.Reverse(all)

	out := make([]models.Transaction, 0)
	for _, t := range all {
		if t.UserID != userID || (len(opts.Types) > 0 && !slices.Contains(opts.Types, t.Type)) {
			continue
		}
		out = append(out, t)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (r memTransactions) ListPending(_ context.Context, opts repository.ListPendingOpts) ([]models.Transaction, error) {
	createdTil := opts.CreatedTil
	if createdTil.IsZero() {
		createdTil = time.Now()
	}

	out := make([]models.Transaction, 0)
	for _, t := range r.s.Transactions() {
		if t.Status != models.TransactionStatusPending || !t.CreatedAt.Before(createdTil) {
			continue
		}
		if len(opts.Types) > 0 && !slices.Contains(opts.Types, t.Type) {
			continue
		}
		out = append(out, t)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (r memTransactions) MarkSettled(_ context.Context, id uuid.UUID, status models.TransactionStatus, raw json.RawMessage) (models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transactions[id]
	switch {
	case !ok:
		return t, apperrors.ErrTransactionNotFound
	case t.Status != models.TransactionStatusPending:
		return models.Transaction{}, apperrors.ErrTransactionAlreadySettled
	}

	t.Status = status
	if len(raw) > 0 {
		t.ProviderResponse = raw
	}
	t.UpdatedAt = time.Now()
	r.s.transactions[id] = t
	return t, nil
}

type memNotifications struct{ s *MemStorage }

func (r memNotifications) CreateNotification(_ context.Context, n models.Notification) (models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	r.s.notifications = append(r.s.notifications, n)
	return n, nil
}

func (r memNotifications) ListNotifications(_ context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]models.Notification, 0)
	for i := len(r.s.notifications) - 1; i >= 0; i-- {
		if r.s.notifications[i].UserID != userID {
			continue
		}
		out = append(out, r.s.notifications[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
