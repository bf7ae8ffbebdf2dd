// Package app собирает зависимости процессов wallet-api и wallet-recovery.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/Wallet/internal/config"
	"github.com/shaiso/Wallet/internal/mq"
	"github.com/shaiso/Wallet/internal/recovery"
	"github.com/shaiso/Wallet/internal/repo"
	"github.com/shaiso/Wallet/internal/repo/memstore"
	"github.com/shaiso/Wallet/internal/saga"
	"github.com/shaiso/Wallet/internal/telemetry"
	"github.com/shaiso/Wallet/internal/transfer"
)

// Store — хранилище с проверкой доступности для /healthz.
type Store interface {
	repo.UnitOfWork
	Ping(ctx context.Context) error
}

// App — собранный граф зависимостей.
type App struct {
	Store        Store
	Orchestrator *saga.Orchestrator
	Transfers    *transfer.Workflow
	Sweeper      *recovery.Sweeper

	// Broker — nil, если RABBITMQ_URL не задан или брокер недоступен.
	Broker *mq.Connection

	closers []func() error
}

// New открывает хранилище, подключает брокер и собирает оркестратор.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}

	store, err := a.openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store

	var notifier saga.Notifier
	if cfg.RabbitMQURL != "" {
		notifier = a.connectBroker(ctx, cfg.RabbitMQURL, logger)
	}

	registry, err := transfer.NewRegistry()
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build step registry: %w", err)
	}

	a.Orchestrator = saga.New(saga.Config{
		Store:     store,
		Registry:  registry,
		Notifier:  notifier,
		RetryBase: cfg.RetryBase,
		RetryMax:  cfg.RetryMax,
		Logger:    telemetry.WithComponent(logger, "saga"),
	})

	a.Transfers = transfer.New(transfer.Config{
		Store:        store,
		Orchestrator: a.Orchestrator,
		Logger:       telemetry.WithComponent(logger, "transfer"),
	})

	a.Sweeper = recovery.New(recovery.Config{
		Store:        store,
		Orchestrator: a.Orchestrator,
		Reconcilers:  map[string]recovery.Reconciler{transfer.SagaType: a.Transfers},
		StaleAfter:   cfg.RecoveryStaleAfter,
		BatchSize:    cfg.RecoveryBatchSize,
		Logger:       telemetry.WithComponent(logger, "recovery"),
	})

	return a, nil
}

// NewRecoveryRunner создаёт cron-runner для Sweeper.
func (a *App) NewRecoveryRunner(cfg *config.Config, logger *slog.Logger) (*recovery.Runner, error) {
	return recovery.NewRunner(a.Sweeper, recovery.RunnerConfig{
		Schedule: recovery.EverySpec(cfg.RecoveryInterval),
		Timeout:  cfg.RecoveryTimeout,
		Logger:   telemetry.WithComponent(logger, "recovery"),
	})
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return memstore.New(), nil
	}

	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	logger.Info("connected to database")

	return repo.NewStore(pool, repo.StoreConfig{LockTimeout: cfg.DBLockTimeout}), nil
}

// connectBroker подключает RabbitMQ. Ошибка подключения не фатальна:
// оркестратор работает без уведомлений.
func (a *App) connectBroker(ctx context.Context, url string, logger *slog.Logger) saga.Notifier {
	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, saga notifications disabled", "error", err)
		return nil
	}

	if err := mq.SetupTopology(ctx, conn); err != nil {
		logger.Warn("failed to declare RabbitMQ topology, saga notifications disabled", "error", err)
		_ = conn.Close()
		return nil
	}

	a.Broker = conn
	a.closers = append(a.closers, conn.Close)
	logger.Info("connected to RabbitMQ", "topology", mq.TopologyInfo())

	return mq.NewNotifier(mq.NewPublisher(conn, logger))
}
