package pendingprocessor

import (
	"context"
	"time"

	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/models"
	"github.com/nkiryanov/billpay/internal/repository"
	"github.com/nkiryanov/billpay/internal/service/provider"
)

const (
	DefaultCountWorkers    = 5                // Number of workers verifying transactions
	DefaultProduceInterval = 30 * time.Second // Interval for listing pending transactions
	DefaultMinAge          = time.Minute      // Give provider time before asking again
	DefaultBatchSize       = 100
)

type pendingLister interface {
	ListPending(ctx context.Context, opts repository.ListPendingOpts) ([]models.Transaction, error)
}

type settler interface {
	SettlePending(ctx context.Context, tx models.Transaction, res provider.Result) error
}

type Config struct {
	CountWorkers int
	Interval     time.Duration
	MinAge       time.Duration
	BatchSize    int
}

// Processor settles bill payments the providers reported as pending
type Processor struct {
	consumer *Consumer
	producer *Producer
	logger   logger.Logger
}

// New creates processor, verifiers are looked up by transaction provider name
func New(cfg Config, transactions pendingLister, settler settler, verifiers map[string]provider.Verifier, l logger.Logger) *Processor {
	if cfg.CountWorkers <= 0 {
		cfg.CountWorkers = DefaultCountWorkers
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProduceInterval
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = DefaultMinAge
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	l = l.With("component", "pendingprocessor")

	return &Processor{
		consumer: &Consumer{
			countWorkers: cfg.CountWorkers,
			verifiers:    verifiers,
			settler:      settler,
			logger:       l,
		},
		producer: &Producer{
			interval:     cfg.Interval,
			minAge:       cfg.MinAge,
			batchSize:    cfg.BatchSize,
			transactions: transactions,
			logger:       l,
			now:          time.Now,
		},
		logger: l,
	}
}

// Process runs until ctx is done, returned channel is closed when everything stopped
func (p *Processor) Process(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	txChan := make(chan models.Transaction)

	producerStopped := p.producer.Produce(ctx, txChan)
	consumerStopped := p.consumer.Consume(ctx, txChan)

	go func() {
		defer close(idleStopped)
		defer close(txChan)
		<-producerStopped
		<-consumerStopped
		p.logger.Debug("PendingProcessor stopped")
	}()

	return idleStopped
}
