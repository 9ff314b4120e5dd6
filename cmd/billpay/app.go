package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/billpay/internal/db"
	"github.com/nkiryanov/billpay/internal/handlers"
	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/metrics"
	"github.com/nkiryanov/billpay/internal/repository/postgres"
	"github.com/nkiryanov/billpay/internal/service/fraud"
	"github.com/nkiryanov/billpay/internal/service/idempotency"
	"github.com/nkiryanov/billpay/internal/service/notify"
	"github.com/nkiryanov/billpay/internal/service/pendingprocessor"
	"github.com/nkiryanov/billpay/internal/service/provider"
	"github.com/nkiryanov/billpay/internal/service/settlement"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	orchestrator *settlement.Orchestrator
	processor    *pendingprocessor.Processor
	logger       logger.Logger

	// Released in reverse order on shutdown
	closers []func() error
}

func NewServerApp(ctx context.Context, c *Config) (app *ServerApp, err error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app = &ServerApp{ListenAddr: c.ListenAddr, logger: l}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app.closers = append(app.closers, func() error { pool.Close(); return nil })

	storage := postgres.NewStorage(pool)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Notifications always land in the in-app inbox, kafka is optional
	dispatchers := []notify.Dispatcher{notify.NewInbox(storage.Notification())}
	if len(c.KafkaBrokers) > 0 {
		k := notify.NewKafka(notify.NewKafkaWriter(c.KafkaBrokers, c.NotificationTopic, l), l)
		app.closers = append(app.closers, k.Close)
		dispatchers = append(dispatchers, k)
	}

	// Provider priority is fixed
	flutterwave := provider.NewFlutterwave(provider.FlutterwaveConfig{
		BaseURL:   c.FlutterwaveBaseURL,
		SecretKey: c.FlutterwaveSecretKey,
		Timeout:   c.ProviderTimeout,
	}, l)
	vtpass := provider.NewVTPass(provider.VTPassConfig{
		BaseURL:  c.VTPassBaseURL,
		Username: c.VTPassUsername,
		Password: c.VTPassPassword,
		Timeout:  c.ProviderTimeout,
	}, l)
	baxi := provider.NewBaxi(provider.BaxiConfig{
		BaseURL: c.BaxiBaseURL,
		APIKey:  c.BaxiAPIKey,
		Timeout: c.ProviderTimeout,
	}, l)

	opts := settlement.Options{
		Storage: storage,
		Guard: fraud.NewGuard(storage.Transaction(), fraud.Config{
			MaxAmount:    c.MaxAmount,
			MaxPerWindow: c.VelocityLimit,
		}, l, m),
		Catalog:  provider.NewCatalog(c.StrictBillers, l, m),
		Notifier: notify.NewFanout(l, dispatchers...),
		Adapters: []provider.Adapter{flutterwave, vtpass, baxi},
		Fallback: provider.Mock{},
		Config:   settlement.Config{MinAmount: c.MinAmount},
		Logger:   l,
		Metrics:  m,
	}

	if c.RedisAddr != "" {
		rdb, err := connectRedis(ctx, c.RedisAddr)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, rdb.Close)
		opts.Idempotency = idempotency.NewStore(rdb)
	} else {
		l.Warn("Redis address is not set, bill payments are not de-duplicated")
	}

	app.orchestrator = settlement.New(opts)

	app.processor = pendingprocessor.New(
		pendingprocessor.Config{Interval: c.PendingInterval},
		storage.Transaction(),
		app.orchestrator,
		map[string]provider.Verifier{
			provider.NameFlutterwave: flutterwave,
			provider.NameVTPass:      vtpass,
			provider.NameBaxi:        baxi,
			provider.NameMock:        provider.Mock{},
		},
		l,
	)

	app.Handler = handlers.NewRouter(handlers.Deps{
		Bills:   app.orchestrator,
		Storage: storage,
		DB:      pool,
		Metrics: m.Handler(),
	}, l)

	return app, nil
}

func connectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis is not reachable. Err: %w", err)
	}
	return rdb, nil
}

// Run starts http server and pending processor, both stop gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting server", "address", s.ListenAddr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(timeoutCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		return nil
	})

	g.Go(func() error {
		<-s.processor.Process(gCtx)
		return nil
	})

	return g.Wait()
}

func (s *ServerApp) close() {
	// Detached notifications still use storage
	if s.orchestrator != nil {
		s.orchestrator.Close()
	}

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("Failed to release resource", "error", err)
		}
	}
	s.closers = nil
}

