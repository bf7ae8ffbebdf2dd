package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Wallet/internal/domain"
	"github.com/shaiso/Wallet/internal/repo"
	"github.com/shaiso/Wallet/internal/telemetry"
)

// Default configuration values.
const (
	defaultRetryBase        = 50 * time.Millisecond
	defaultRetryMax         = 2 * time.Second
	defaultBookkeepRetries  = 3
	defaultDeadLetterListSz = 100
)

// Notifier получает уведомления о финале саг.
// Ошибки уведомлений логируются и не влияют на сагу.
type Notifier interface {
	SagaFinished(ctx context.Context, s *domain.SagaInstance) error
	SagaDeadLettered(ctx context.Context, d *domain.DeadLetterRecord) error
}

// Orchestrator управляет жизненным циклом саг.
//
// Orchestrator не держит состояния в памяти между вызовами:
// всё состояние саги лежит в хранилище, поэтому любой метод можно
// вызвать из другого процесса после сбоя (так работает recovery).
//
// Каждая операция выполняется в отдельных транзакциях:
//   - эффект шага + ключ идемпотентности + контекст — одна транзакция
//   - статус шага + контекст саги — другая
//
// Ошибка одного шага не откатывает уже закоммиченные шаги,
// для этого есть компенсация.
type Orchestrator struct {
	store    repo.UnitOfWork
	registry *Registry
	notifier Notifier

	retryBase time.Duration
	retryMax  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store    repo.UnitOfWork
	Registry *Registry

	// Notifier — необязательный получатель уведомлений (RabbitMQ).
	Notifier Notifier

	// Backoff для временных ошибок: RetryBase, ×2, не больше RetryMax.
	RetryBase time.Duration // default: 50ms
	RetryMax  time.Duration // default: 2s

	// Now — источник времени (default: time.Now).
	Now func() time.Time

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}

	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = defaultRetryMax
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:     cfg.Store,
		registry:  cfg.Registry,
		notifier:  cfg.Notifier,
		retryBase: retryBase,
		retryMax:  retryMax,
		now:       now,
		logger:    logger,
	}
}

// Registry возвращает реестр шагов.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// StartSaga создаёт сагу в статусе STARTED в отдельной транзакции.
//
// ID саги записывается в sc.SagaInstanceID. Если транзакция не
// закоммитилась, сага не видна и возвращается ErrPersistence.
func (o *Orchestrator) StartSaga(ctx context.Context, sc *Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := o.store.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		id, err = o.StartSagaTx(ctx, tx, sc)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUnknownSagaType) {
			return uuid.Nil, err
		}
		return uuid.Nil, fmt.Errorf("%w: start saga: %w", ErrPersistence, err)
	}
	return id, nil
}

// StartSagaTx создаёт сагу внутри чужой транзакции.
// Нужен, когда сага и бизнес-запись должны появиться атомарно.
func (o *Orchestrator) StartSagaTx(ctx context.Context, tx repo.Tx, sc *Context) (uuid.UUID, error) {
	if _, err := o.registry.StepsFor(sc.SagaType); err != nil {
		return uuid.Nil, err
	}

	inst := domain.NewSagaInstance(sc.SagaType, nil, o.now().UTC())
	sc.SagaInstanceID = inst.ID

	data, err := sc.Marshal()
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal saga context: %w", err)
	}
	inst.Context = data

	if err := tx.Sagas().Create(ctx, inst); err != nil {
		return uuid.Nil, err
	}

	telemetry.SagasStarted.WithLabelValues(inst.SagaType).Inc()
	o.logger.Info("saga started", "saga_id", inst.ID, "saga_type", inst.SagaType)
	return inst.ID, nil
}

// CompleteSaga переводит сагу в COMPLETED.
// Повторный вызов для завершённой саги — no-op.
func (o *Orchestrator) CompleteSaga(ctx context.Context, sagaID uuid.UUID) error {
	var done *domain.SagaInstance
	err := o.bookkeep(ctx, "complete", func(ctx context.Context, tx repo.Tx) error {
		inst, err := o.loadSaga(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		if inst.Status == domain.SagaStatusCompleted {
			return nil
		}
		if inst.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrSagaTerminal, sagaID, inst.Status)
		}

		if err := inst.Transition(domain.SagaStatusCompleted); err != nil {
			return err
		}
		now := o.now().UTC()
		inst.CompletedAt = &now
		if err := tx.Sagas().Update(ctx, inst); err != nil {
			return err
		}
		done = inst
		return nil
	})
	if err != nil {
		return err
	}

	if done != nil {
		o.finished(ctx, done)
	}
	return nil
}

// GetSagaInstance возвращает сагу по ID.
func (o *Orchestrator) GetSagaInstance(ctx context.Context, sagaID uuid.UUID) (*domain.SagaInstance, error) {
	var inst *domain.SagaInstance
	err := o.store.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		inst, err = o.loadSaga(ctx, tx, sagaID)
		return err
	})
	return inst, err
}

// GetSagaContext возвращает десериализованный контекст саги.
func (o *Orchestrator) GetSagaContext(ctx context.Context, sagaID uuid.UUID) (*Context, error) {
	inst, err := o.GetSagaInstance(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	return UnmarshalContext(inst.Context)
}

// ListSteps возвращает записи шагов саги по возрастанию порядка.
func (o *Orchestrator) ListSteps(ctx context.Context, sagaID uuid.UUID) ([]domain.StepRecord, error) {
	var steps []domain.StepRecord
	err := o.store.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		if _, err := o.loadSaga(ctx, tx, sagaID); err != nil {
			return err
		}
		var err error
		steps, err = tx.Steps().ListBySaga(ctx, sagaID)
		return err
	})
	return steps, err
}

// ListDeadLetters возвращает записи dead-letter, новые первыми.
func (o *Orchestrator) ListDeadLetters(ctx context.Context, limit, offset int) ([]domain.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = defaultDeadLetterListSz
	}
	var records []domain.DeadLetterRecord
	err := o.store.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		records, err = tx.DeadLetters().List(ctx, limit, offset)
		return err
	})
	return records, err
}

// --- Helpers ---

// loadSaga читает сагу и переводит ErrNotFound в ErrSagaNotFound.
func (o *Orchestrator) loadSaga(ctx context.Context, tx repo.Tx, sagaID uuid.UUID) (*domain.SagaInstance, error) {
	inst, err := tx.Sagas().Get(ctx, sagaID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSagaNotFound, sagaID)
	}
	return inst, err
}

// finished публикует уведомление о финале саги.
func (o *Orchestrator) finished(ctx context.Context, inst *domain.SagaInstance) {
	telemetry.SagasFinished.WithLabelValues(inst.SagaType, string(inst.Status)).Inc()
	o.logger.Info("saga finished",
		"saga_id", inst.ID,
		"saga_type", inst.SagaType,
		"status", inst.Status,
	)

	if o.notifier == nil {
		return
	}
	if err := o.notifier.SagaFinished(ctx, inst); err != nil {
		o.logger.Warn("failed to publish saga finished event",
			"saga_id", inst.ID,
			"error", err,
		)
	}
}
