package pendingprocessor

import (
	"context"
	"time"

	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/models"
	"github.com/nkiryanov/billpay/internal/repository"
)

type Producer struct {
	interval     time.Duration
	minAge       time.Duration
	batchSize    int
	transactions pendingLister
	logger       logger.Logger

	now func() time.Time
}

func (p *Producer) Produce(ctx context.Context, out chan<- models.Transaction) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting producer", "interval", p.interval, "min_age", p.minAge, "batch_size", p.batchSize)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Producer stopped by context")
				return

			case <-ticker.C:
				transactions, err := p.transactions.ListPending(ctx, repository.ListPendingOpts{
					Types:      []models.TransactionType{models.TransactionTypeBillPayment},
					CreatedTil: p.now().Add(-p.minAge),
					Limit:      p.batchSize,
				})
				if err != nil {
					p.logger.Error("Failed to list pending transactions", "error", err)
					continue
				}
				p.logger.Debug("Producer tick", "pending", len(transactions))

				for _, tx := range transactions {
					select {
					case <-ctx.Done():
						p.logger.Debug("Producer stopped by context while sending transactions")
						return
					case out <- tx:
					}
				}
			}
		}
	}()

	return idleStopped
}
