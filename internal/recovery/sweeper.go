package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Wallet/internal/domain"
	"github.com/shaiso/Wallet/internal/repo"
	"github.com/shaiso/Wallet/internal/saga"
	"github.com/shaiso/Wallet/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultStaleAfter = 10 * time.Minute
	DefaultBatchSize  = 100
)

// Действия recovery для метрик и логов.
const (
	ActionCompensated = "compensated"
	ActionFailed      = "failed"
	ActionSkipped     = "skipped"
	ActionError       = "error"
)

// stalledStatuses — нефинальные статусы, в которых сага может зависнуть.
var stalledStatuses = []domain.SagaStatus{
	domain.SagaStatusStarted,
	domain.SagaStatusRunning,
	domain.SagaStatusCompensating,
}

// Reconciler переносит итог саги в бизнес-запись.
type Reconciler interface {
	Reconcile(ctx context.Context, inst *domain.SagaInstance) error
}

// Sweeper находит зависшие саги и доводит их до финала.
type Sweeper struct {
	store       repo.UnitOfWork
	orch        *saga.Orchestrator
	reconcilers map[string]Reconciler
	staleAfter  time.Duration
	batchSize   int
	now         func() time.Time
	logger      *slog.Logger
}

// Config — конфигурация Sweeper.
type Config struct {
	Store        repo.UnitOfWork
	Orchestrator *saga.Orchestrator

	// Reconcilers — по типу саги (необязательно).
	Reconcilers map[string]Reconciler

	StaleAfter time.Duration // default: 10m
	BatchSize  int           // саг за один проход (default: 100)

	Now    func() time.Time
	Logger *slog.Logger
}

// Result — итог одного прохода.
type Result struct {
	Found       int
	Compensated int
	Failed      int
	Skipped     int
	Errors      int
}

// New создаёт Sweeper.
func New(cfg Config) *Sweeper {
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		store:       cfg.Store,
		orch:        cfg.Orchestrator,
		reconcilers: cfg.Reconcilers,
		staleAfter:  staleAfter,
		batchSize:   batchSize,
		now:         now,
		logger:      logger,
	}
}

// Sweep выполняет один проход recovery.
//
// 1. Находит саги в STARTED/RUNNING/COMPENSATING, не обновлявшиеся
// дольше staleAfter
// 2. Для каждой перечитывает статус и откатывает её (CompensateSaga)
// 3. Если откат вернул ошибку — переводит в FAILED (FailSaga)
// 4. Переносит итог в бизнес-запись через Reconciler
//
// Ошибка одной саги не блокирует обработку остальных. Параллельные
// проходы безопасны: оркестратор проверяет статус и версию саги.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	telemetry.RecoverySweeps.Inc()

	threshold := s.now().UTC().Add(-s.staleAfter)

	// 1. Находим зависшие саги
	var stalled []domain.SagaInstance
	err := s.store.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		stalled, err = tx.Sagas().ListStalled(ctx, stalledStatuses, threshold, s.batchSize)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("list stalled sagas: %w", err)
	}

	res := Result{Found: len(stalled)}
	if len(stalled) == 0 {
		return res, nil
	}

	s.logger.Info("found stalled sagas", "count", len(stalled), "threshold", threshold)

	// 2. Обрабатываем каждую сагу
	for i := range stalled {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		action, err := s.recover(ctx, stalled[i].ID, threshold)
		telemetry.RecoveryActions.WithLabelValues(action).Inc()

		switch action {
		case ActionCompensated:
			res.Compensated++
		case ActionFailed:
			res.Failed++
		case ActionSkipped:
			res.Skipped++
		default:
			res.Errors++
		}

		if err != nil {
			s.logger.Error("failed to recover saga",
				"saga_id", stalled[i].ID,
				"error", err,
			)
		}
	}

	s.logger.Info("recovery sweep completed",
		"found", res.Found,
		"compensated", res.Compensated,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"errors", res.Errors,
	)
	return res, nil
}

// recover доводит одну сагу до финального статуса.
func (s *Sweeper) recover(ctx context.Context, id uuid.UUID, threshold time.Time) (string, error) {
	logger := telemetry.WithSagaID(s.logger, id.String())

	// Статус мог измениться после выборки
	inst, err := s.orch.GetSagaInstance(ctx, id)
	if err != nil {
		return ActionError, err
	}
	if inst.Status.IsTerminal() || !inst.UpdatedAt.Before(threshold) {
		logger.Debug("saga no longer stalled, skipping", "status", inst.Status)
		return ActionSkipped, nil
	}

	switch inst.Status {
	case domain.SagaStatusStarted, domain.SagaStatusRunning, domain.SagaStatusCompensating:
		logger.Warn("compensating stalled saga",
			"status", inst.Status,
			"current_step", inst.CurrentStep,
			"updated_at", inst.UpdatedAt,
		)
		err = s.orch.CompensateSaga(ctx, id)
	default:
		err = s.orch.FailSaga(ctx, id)
	}

	if errors.Is(err, saga.ErrSagaBusy) {
		logger.Info("saga is being processed elsewhere, skipping")
		return ActionSkipped, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ActionError, err
		}
		logger.Error("compensation failed, failing saga", "error", err)
		if ferr := s.orch.FailSaga(ctx, id); ferr != nil {
			return ActionError, errors.Join(err, ferr)
		}
	}

	final, err := s.orch.GetSagaInstance(ctx, id)
	if err != nil {
		return ActionError, err
	}

	if r, ok := s.reconcilers[final.SagaType]; ok && final.Status.IsTerminal() {
		if err := r.Reconcile(ctx, final); err != nil {
			return actionFor(final.Status), fmt.Errorf("reconcile: %w", err)
		}
	}

	return actionFor(final.Status), nil
}

func actionFor(s domain.SagaStatus) string {
	switch s {
	case domain.SagaStatusCompensated:
		return ActionCompensated
	case domain.SagaStatusFailed:
		return ActionFailed
	default:
		return ActionSkipped
	}
}
