package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Wallet/internal/domain"
	"github.com/shaiso/Wallet/internal/repo"
	"github.com/shaiso/Wallet/internal/telemetry"
)

// Ключи идемпотентности эффектов шага.
func execKey(sagaID uuid.UUID, name StepName) string {
	return fmt.Sprintf("exec:%s:%s", sagaID, name)
}

func compKey(sagaID uuid.UUID, name StepName) string {
	return fmt.Sprintf("comp:%s:%s", sagaID, name)
}

// errEffectApplied — ключ эффекта уже записан параллельной попыткой.
var errEffectApplied = errors.New("step effect already applied")

// claimKey записывает ключ эффекта до самого эффекта. Уникальный индекс
// ключей упорядочивает параллельные попытки: вторая ждёт коммита первой
// и получает errEffectApplied, не применяя эффект повторно.
func (o *Orchestrator) claimKey(ctx context.Context, tx repo.Tx, sagaID uuid.UUID, name StepName, key string) error {
	err := tx.IdempotencyKeys().Insert(ctx, &domain.IdempotencyKey{
		Key:            key,
		SagaInstanceID: sagaID,
		StepName:       name.String(),
		CreatedAt:      o.now().UTC(),
	})
	if errors.Is(err, repo.ErrAlreadyExists) {
		return errEffectApplied
	}
	return err
}

// currentContext читает контекст, сохранённый победившей попыткой.
func (o *Orchestrator) currentContext(ctx context.Context, sagaID uuid.UUID) (*Context, error) {
	var sc *Context
	err := o.store.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		inst, err := o.loadSaga(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		sc, err = UnmarshalContext(inst.Context)
		return err
	})
	return sc, err
}

// claimOutcome — результат захвата шага перед выполнением.
type claimOutcome int

const (
	claimRun claimOutcome = iota
	claimAlreadyCompleted
	claimAlreadyFailed
)

// ExecuteStep выполняет шаг саги.
//
// Возвращает true, если шаг выполнен (в том числе раньше, при повторном
// вызове), и false, если шаг завершился ошибкой. Ошибка шага не
// возвращается: она сохраняется в записи шага. Ненулевая ошибка
// означает, что не удалось сохранить состояние саги, либо сагу
// нельзя продолжать (ErrSagaTerminal, ErrSagaCompensating).
func (o *Orchestrator) ExecuteStep(ctx context.Context, sagaID uuid.UUID, name StepName, order int) (bool, error) {
	step, err := o.registry.Get(name)
	if err != nil {
		return false, err
	}
	logger := telemetry.WithStep(telemetry.WithSagaID(o.logger, sagaID.String()), name.String())

	// 1. Захватываем шаг: запись RUNNING, сага RUNNING
	outcome, err := o.claimStep(ctx, sagaID, step, order)
	if err != nil {
		return false, err
	}
	switch outcome {
	case claimAlreadyCompleted:
		logger.Debug("step already completed")
		return true, nil
	case claimAlreadyFailed:
		logger.Debug("step already failed")
		return false, nil
	}

	// 2. Выполняем бизнес-логику, каждая попытка — своя транзакция
	started := time.Now()
	var result *Context
	retries, stepErr := o.runStep(ctx, step, telemetry.PhaseExecute, func(ctx context.Context) error {
		var err error
		result, err = o.attemptExecute(ctx, sagaID, step)
		return err
	})
	telemetry.StepDuration.WithLabelValues(name.String(), telemetry.PhaseExecute).Observe(time.Since(started).Seconds())

	if stepErr != nil {
		// Отмена контекста: шаг остаётся RUNNING, его подберёт recovery
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		telemetry.StepOutcomes.WithLabelValues(name.String(), telemetry.PhaseExecute, "failed").Inc()
		logger.Warn("step failed", "retries", retries, "error", stepErr)

		// 3a. Сохраняем ошибку шага
		if err := o.finishStep(ctx, sagaID, name, domain.StepStatusFailed, retries, stepErr.Error(), nil); err != nil {
			return false, err
		}
		return false, nil
	}

	// 3b. Статус шага и контекст саги — одной транзакцией
	telemetry.StepOutcomes.WithLabelValues(name.String(), telemetry.PhaseExecute, "completed").Inc()
	if err := o.finishStep(ctx, sagaID, name, domain.StepStatusCompleted, retries, "", result); err != nil {
		return false, err
	}

	logger.Info("step completed", "retries", retries)
	return true, nil
}

// claimStep находит или создаёт запись шага и переводит шаг и сагу в RUNNING.
func (o *Orchestrator) claimStep(ctx context.Context, sagaID uuid.UUID, step Step, order int) (claimOutcome, error) {
	var outcome claimOutcome
	err := o.bookkeep(ctx, "claim step", func(ctx context.Context, tx repo.Tx) error {
		outcome = claimRun

		inst, err := o.loadSaga(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrSagaTerminal, sagaID, inst.Status)
		}
		if inst.Status == domain.SagaStatusCompensating {
			return fmt.Errorf("%w: %s", ErrSagaCompensating, sagaID)
		}

		now := o.now().UTC()
		rec, err := tx.Steps().GetByName(ctx, sagaID, step.Name().String())
		switch {
		case errors.Is(err, repo.ErrNotFound):
			rec = domain.NewStepRecord(sagaID, step.Name().String(), order, step.MaxRetries(), now)
			if d, ok := step.(CompensationDescriber); ok {
				rec.CompensationAction = d.CompensationAction()
			}
			if err := rec.Transition(domain.StepStatusRunning); err != nil {
				return err
			}
			rec.StartedAt = &now
			if err := tx.Steps().Create(ctx, rec); err != nil {
				if errors.Is(err, repo.ErrAlreadyExists) {
					return fmt.Errorf("%w: step order %d already taken", ErrSagaBusy, order)
				}
				return err
			}
		case err != nil:
			return err
		default:
			switch rec.Status {
			case domain.StepStatusCompleted:
				outcome = claimAlreadyCompleted
				return nil
			case domain.StepStatusFailed:
				outcome = claimAlreadyFailed
				return nil
			case domain.StepStatusCompensated:
				return fmt.Errorf("%w: step %s already compensated", ErrSagaCompensating, step.Name())
			case domain.StepStatusPending:
				if err := rec.Transition(domain.StepStatusRunning); err != nil {
					return err
				}
				rec.StartedAt = &now
				if err := tx.Steps().Update(ctx, rec); err != nil {
					return err
				}
			case domain.StepStatusRunning:
				// Предыдущая попытка прервалась; эффект защищён ключом идемпотентности
			}
		}

		if err := inst.Transition(domain.SagaStatusRunning); err != nil {
			return err
		}
		inst.CurrentStep = step.Name().String()
		return tx.Sagas().Update(ctx, inst)
	})
	return outcome, err
}

// attemptExecute — одна попытка шага в собственной транзакции.
//
// Контекст каждый раз читается из саги заново, поэтому изменения
// неудачной попытки не видны следующей. Ключ идемпотентности, эффект
// шага и новый контекст коммитятся вместе.
func (o *Orchestrator) attemptExecute(ctx context.Context, sagaID uuid.UUID, step Step) (*Context, error) {
	var out *Context
	err := o.store.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		inst, err := o.loadSaga(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		switch {
		case inst.Status.IsTerminal():
			return fmt.Errorf("%w: %s is %s", ErrSagaTerminal, sagaID, inst.Status)
		case inst.Status == domain.SagaStatusCompensating:
			return fmt.Errorf("%w: %s", ErrSagaCompensating, sagaID)
		}

		sc, err := UnmarshalContext(inst.Context)
		if err != nil {
			return err
		}

		key := execKey(sagaID, step.Name())
		applied, err := tx.IdempotencyKeys().Exists(ctx, key)
		if err != nil {
			return err
		}
		if applied {
			out = sc
			return nil
		}

		if err := o.claimKey(ctx, tx, sagaID, step.Name(), key); err != nil {
			return err
		}

		sc.Compensating = false
		if err := step.Execute(ctx, tx, sc); err != nil {
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

// finishStep записывает итог фазы шага.
//
// Если запись уже не RUNNING (шаг параллельно откатил recovery),
// запись не трогается. Контекст сохраняется только при успехе
// и только пока сага не в финальном статусе.
func (o *Orchestrator) finishStep(ctx context.Context, sagaID uuid.UUID, name StepName, status domain.StepStatus, retries int, errMsg string, sc *Context) error {
	return o.bookkeep(ctx, "finish step", func(ctx context.Context, tx repo.Tx) error {
		rec, err := tx.Steps().GetByName(ctx, sagaID, name.String())
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrStepRecordNotFound, sagaID, name)
		}
		if err != nil {
			return err
		}
		if rec.Status != domain.StepStatusRunning || !domain.CanTransitionStep(rec.Status, status) {
			return nil
		}

		now := o.now().UTC()
		rec.Status = status
		rec.RetryCount = retries
		rec.ErrorMessage = errMsg
		if status == domain.StepStatusCompleted {
			rec.CompletedAt = &now
		}
		if err := tx.Steps().Update(ctx, rec); err != nil {
			return err
		}

		if sc == nil {
			return nil
		}
		inst, err := o.loadSaga(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return nil
		}
		return saveContext(ctx, tx, inst, sc)
	})
}

// saveContext сериализует контекст в сагу и сохраняет её.
func saveContext(ctx context.Context, tx repo.Tx, inst *domain.SagaInstance, sc *Context) error {
	data, err := sc.Marshal()
	if err != nil {
		return fmt.Errorf("marshal saga context: %w", err)
	}
	inst.Context = data
	return tx.Sagas().Update(ctx, inst)
}
