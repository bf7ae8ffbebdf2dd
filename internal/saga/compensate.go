package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Wallet/internal/domain"
	"github.com/shaiso/Wallet/internal/repo"
	"github.com/shaiso/Wallet/internal/telemetry"
)

// CompensateStep откатывает эффект одного шага.
//
// Уже откаченный шаг — true без повторного отката. Если эффект
// шага не был применён (нет ключа exec), откат пропускается и шаг
// помечается COMPENSATED. Ошибка отката сохраняется в записи шага
// с префиксом domain.CompensationErrorPrefix, метод возвращает false.
func (o *Orchestrator) CompensateStep(ctx context.Context, sagaID uuid.UUID, name StepName) (bool, error) {
	step, err := o.registry.Get(name)
	if err != nil {
		return false, err
	}
	logger := telemetry.WithStep(telemetry.WithSagaID(o.logger, sagaID.String()), name.String())

	// 1. Захватываем запись: COMPLETED → RUNNING
	proceed, done, err := o.claimCompensation(ctx, sagaID, name)
	if err != nil {
		return false, err
	}
	if !proceed {
		return done, nil
	}

	// 2. Откат, каждая попытка — своя транзакция
	started := time.Now()
	var result *Context
	retries, compErr := o.runStep(ctx, step, telemetry.PhaseCompensate, func(ctx context.Context) error {
		var err error
		result, err = o.attemptCompensate(ctx, sagaID, step)
		return err
	})
	telemetry.StepDuration.WithLabelValues(name.String(), telemetry.PhaseCompensate).Observe(time.Since(started).Seconds())

	if compErr != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		telemetry.StepOutcomes.WithLabelValues(name.String(), telemetry.PhaseCompensate, "failed").Inc()
		logger.Error("step compensation failed", "retries", retries, "error", compErr)

		msg := domain.CompensationErrorPrefix + compErr.Error()
		if err := o.finishStep(ctx, sagaID, name, domain.StepStatusFailed, retries, msg, nil); err != nil {
			return false, err
		}
		return false, nil
	}

	// 3. COMPENSATED + контекст
	telemetry.StepOutcomes.WithLabelValues(name.String(), telemetry.PhaseCompensate, "compensated").Inc()
	if err := o.finishStep(ctx, sagaID, name, domain.StepStatusCompensated, retries, "", result); err != nil {
		return false, err
	}

	logger.Info("step compensated", "retries", retries)
	return true, nil
}

// claimCompensation готовит запись шага к откату.
// proceed=false — откатывать нечего, done — итог для вызывающего.
func (o *Orchestrator) claimCompensation(ctx context.Context, sagaID uuid.UUID, name StepName) (proceed, done bool, err error) {
	err = o.bookkeep(ctx, "claim compensation", func(ctx context.Context, tx repo.Tx) error {
		proceed, done = false, false

		inst, err := o.loadSaga(ctx, tx, sagaID)
		if err != nil {
			return err
		}

		rec, err := tx.Steps().GetByName(ctx, sagaID, name.String())
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrStepRecordNotFound, sagaID, name)
		}
		if err != nil {
			return err
		}

		// Откаченный или не запускавшийся шаг — успех даже для финальной саги
		switch rec.Status {
		case domain.StepStatusCompensated, domain.StepStatusPending:
			done = true
			return nil
		}
		if inst.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrSagaTerminal, sagaID, inst.Status)
		}

		switch rec.Status {
		case domain.StepStatusFailed:
			return nil
		case domain.StepStatusCompleted:
			if err := rec.Transition(domain.StepStatusRunning); err != nil {
				return err
			}
			if err := tx.Steps().Update(ctx, rec); err != nil {
				return err
			}
		case domain.StepStatusRunning:
			// Прерванное выполнение или прерванный откат
		}
		proceed = true
		return nil
	})
	return proceed, done, err
}

// attemptCompensate — одна попытка отката в собственной транзакции.
func (o *Orchestrator) attemptCompensate(ctx context.Context, sagaID uuid.UUID, step Step) (*Context, error) {
	var out *Context
	err := o.store.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		inst, err := o.loadSaga(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrSagaTerminal, sagaID, inst.Status)
		}

		sc, err := UnmarshalContext(inst.Context)
		if err != nil {
			return err
		}

		keys := tx.IdempotencyKeys()
		compensated, err := keys.Exists(ctx, compKey(sagaID, step.Name()))
		if err != nil {
			return err
		}
		applied, err := keys.Exists(ctx, execKey(sagaID, step.Name()))
		if err != nil {
			return err
		}
		if compensated || !applied {
			out = sc
			return nil
		}

		if err := o.claimKey(ctx, tx, sagaID, step.Name(), compKey(sagaID, step.Name())); err != nil {
			return err
		}

		sc.Compensating = true
		if err := step.Compensate(ctx, tx, sc); err != nil {
			return err
		}

		if err := saveContext(ctx, tx, inst, sc); err != nil {
			return err
		}
		out = sc
		return nil
	})
	if errors.Is(err, errEffectApplied) {
		return o.currentContext(ctx, sagaID)
	}
	return out, err
}

// CompensateSaga откатывает выполненные шаги саги в обратном порядке.
//
// Финальная сага — no-op. Если выполненных шагов нет, сага сразу
// становится COMPENSATED. Первая неудачная компенсация останавливает
// откат и переводит сагу в FAILED (FailSaga). Если сагу параллельно
// меняет другой процесс, возвращается ErrSagaBusy и сага не трогается.
func (o *Orchestrator) CompensateSaga(ctx context.Context, sagaID uuid.UUID) error {
	logger := telemetry.WithSagaID(o.logger, sagaID.String())

	// 1. Переводим в COMPENSATING и собираем шаги для отката
	var candidates []domain.StepRecord
	var finished *domain.SagaInstance
	var terminal, failed bool
	err := o.bookkeep(ctx, "begin compensation", func(ctx context.Context, tx repo.Tx) error {
		candidates, finished, terminal, failed = nil, nil, false, false

		inst, err := o.loadSaga(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			terminal = true
			return nil
		}

		steps, err := tx.Steps().ListBySaga(ctx, sagaID)
		if err != nil {
			return err
		}
		for i := len(steps) - 1; i >= 0; i-- {
			if steps[i].CompensationFailed() {
				// Откат уже падал до сбоя процесса
				failed = true
				return nil
			}
			if steps[i].IsCompensationCandidate() {
				candidates = append(candidates, steps[i])
			}
		}

		target := domain.SagaStatusCompensating
		if len(candidates) == 0 {
			target = domain.SagaStatusCompensated
		}
		if err := inst.Transition(target); err != nil {
			return err
		}
		if target == domain.SagaStatusCompensated {
			now := o.now().UTC()
			inst.CompensatedAt = &now
		}
		if err := tx.Sagas().Update(ctx, inst); err != nil {
			if errors.Is(err, repo.ErrVersionConflict) {
				return fmt.Errorf("%w: %s", ErrSagaBusy, sagaID)
			}
			return err
		}
		if target == domain.SagaStatusCompensated {
			finished = inst
		}
		return nil
	})
	if err != nil {
		return err
	}
	if terminal {
		return nil
	}
	if failed {
		return o.FailSaga(ctx, sagaID)
	}
	if finished != nil {
		logger.Info("nothing to compensate")
		o.finished(ctx, finished)
		return nil
	}

	logger.Info("compensating saga", "steps", len(candidates))

	// 2. LIFO: последний выполненный шаг откатывается первым
	for _, rec := range candidates {
		name, ok := ParseStepName(rec.StepName)
		if !ok {
			logger.Error("unknown step in saga, cannot compensate", "step", rec.StepName)
			return o.FailSaga(ctx, sagaID)
		}

		ok, err := o.CompensateStep(ctx, sagaID, name)
		if errors.Is(err, ErrSagaTerminal) {
			return nil
		}
		if err != nil {
			// Сага остаётся COMPENSATING, recovery продолжит откат
			return err
		}
		if !ok {
			return o.FailSaga(ctx, sagaID)
		}
	}

	// 3. Все шаги откачены
	err = o.bookkeep(ctx, "finish compensation", func(ctx context.Context, tx repo.Tx) error {
		finished = nil

		inst, err := o.loadSaga(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		if inst.Status != domain.SagaStatusCompensating {
			return nil
		}
		if err := inst.Transition(domain.SagaStatusCompensated); err != nil {
			return err
		}
		now := o.now().UTC()
		inst.CompensatedAt = &now
		if err := tx.Sagas().Update(ctx, inst); err != nil {
			return err
		}
		finished = inst
		return nil
	})
	if err != nil {
		return err
	}
	if finished != nil {
		o.finished(ctx, finished)
	}
	return nil
}

// FailSaga переводит сагу в FAILED и пишет её в dead-letter.
//
// Финальная сага — no-op, поэтому dead-letter запись появляется
// не больше одного раза. Ошибки dead-letter и уведомлений только
// логируются.
func (o *Orchestrator) FailSaga(ctx context.Context, sagaID uuid.UUID) error {
	var failed *domain.SagaInstance
	var lastStatus domain.SagaStatus
	err := o.bookkeep(ctx, "fail saga", func(ctx context.Context, tx repo.Tx) error {
		failed = nil

		inst, err := o.loadSaga(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return nil
		}

		steps, err := tx.Steps().ListBySaga(ctx, sagaID)
		if err != nil {
			return err
		}

		lastStatus = inst.Status
		if err := inst.Transition(domain.SagaStatusFailed); err != nil {
			return err
		}
		inst.ErrorDetails = errorDetails(steps)
		if err := tx.Sagas().Update(ctx, inst); err != nil {
			return err
		}
		failed = inst
		return nil
	})
	if err != nil {
		return err
	}
	if failed == nil {
		return nil
	}

	o.logger.Error("saga failed",
		"saga_id", sagaID,
		"last_status", lastStatus,
		"error_details", failed.ErrorDetails,
	)
	o.finished(ctx, failed)
	o.deadLetter(ctx, failed, lastStatus)
	return nil
}

// errorDetails собирает ошибки шагов в одну строку.
func errorDetails(steps []domain.StepRecord) string {
	var parts []string
	for _, s := range steps {
		if s.ErrorMessage != "" {
			parts = append(parts, s.StepName+": "+s.ErrorMessage)
		}
	}
	return strings.Join(parts, "; ")
}

// deadLetter сохраняет снимок саги. Best-effort.
func (o *Orchestrator) deadLetter(ctx context.Context, inst *domain.SagaInstance, lastStatus domain.SagaStatus) {
	rec := &domain.DeadLetterRecord{
		ID:              uuid.New(),
		SagaInstanceID:  inst.ID,
		SagaType:        inst.SagaType,
		LastStatus:      lastStatus,
		ContextSnapshot: inst.Context,
		ErrorDetails:    inst.ErrorDetails,
		CreatedAt:       o.now().UTC(),
	}

	err := o.store.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		return tx.DeadLetters().Create(ctx, rec)
	})
	switch {
	case errors.Is(err, repo.ErrAlreadyExists):
		o.logger.Debug("dead letter already recorded", "saga_id", inst.ID)
		return
	case err != nil:
		o.logger.Error("failed to record dead letter", "saga_id", inst.ID, "error", err)
		return
	}

	telemetry.DeadLetters.WithLabelValues(inst.SagaType).Inc()

	if o.notifier == nil {
		return
	}
	if err := o.notifier.SagaDeadLettered(ctx, rec); err != nil {
		o.logger.Warn("failed to publish dead letter event", "saga_id", inst.ID, "error", err)
	}
}
