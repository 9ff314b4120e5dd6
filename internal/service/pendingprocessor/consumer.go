package pendingprocessor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/models"
	"github.com/nkiryanov/billpay/internal/service/provider"
)

type Consumer struct {
	countWorkers int

	// Providers may throttle requery calls
	// When it happens all workers wait until the time is up
	waitUntil atomic.Int64

	verifiers map[string]provider.Verifier
	settler   settler
	logger    logger.Logger
}

func (c *Consumer) Consume(ctx context.Context, in <-chan models.Transaction) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for range c.countWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, in)
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan models.Transaction) {
	for {
		waitUntil := time.Unix(0, c.waitUntil.Load())
		if waitUntil.After(time.Now()) {
			c.logger.Debug("Worker is waiting for provider rate limit to reset", "wait_until", waitUntil)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(waitUntil)):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return

		case tx, ok := <-in:
			if !ok {
				c.logger.Debug("Consumer worker stopped, input channel closed")
				return
			}
			c.process(ctx, tx)
		}
	}
}

func (c *Consumer) process(ctx context.Context, tx models.Transaction) {
	verifier, ok := c.verifiers[tx.Provider]
	if !ok {
		c.logger.Error("No verifier for pending transaction provider", "transaction_id", tx.ID, "provider", tx.Provider)
		return
	}

	res, err := verifier.VerifyPayment(ctx, tx.Reference)
	var pErr *provider.Error

	switch {
	case err == nil:
		err := c.settler.SettlePending(ctx, tx, res)
		if err != nil {
			c.logger.Error("Failed to settle pending transaction", "transaction_id", tx.ID, "error", err)
		}

	case errors.As(err, &pErr) && pErr.Code == provider.CodeRetryAfter:
		c.logger.Info("Provider rate limit exceeded, waiting", "provider", tx.Provider, "retry_after", pErr.RetryAfter)
		c.waitUntil.Store(time.Now().Add(pErr.RetryAfter).UnixNano())

	default:
		// Stays pending, the next tick tries again
		c.logger.Warn("Failed to verify pending transaction", "transaction_id", tx.ID, "provider", tx.Provider, "error", err)
	}
}
