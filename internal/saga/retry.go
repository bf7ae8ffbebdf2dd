package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"
	"github.com/shaiso/Wallet/internal/repo"
	"github.com/shaiso/Wallet/internal/telemetry"
)

// backoff строит политику повторов: base, ×2, с потолком retryMax,
// не больше maxRetries повторов после первой попытки.
func (o *Orchestrator) backoff(maxRetries int) retry.Backoff {
	b := retry.NewExponential(o.retryBase)
	b = retry.WithCappedDuration(o.retryMax, b)
	return retry.WithMaxRetries(uint64(maxRetries), b)
}

// withRetry выполняет fn, повторяя только временные ошибки хранилища.
// Возвращает число повторов и последнюю ошибку.
func (o *Orchestrator) withRetry(ctx context.Context, maxRetries int, onRetry func(err error), fn func(ctx context.Context) error) (int, error) {
	attempts := 0
	err := retry.Do(ctx, o.backoff(maxRetries), func(ctx context.Context) error {
		attempts++
		err := fn(ctx)
		if err != nil && repo.IsTransient(err) {
			if onRetry != nil && attempts <= maxRetries {
				onRetry(err)
			}
			return retry.RetryableError(err)
		}
		return err
	})
	return attempts - 1, err
}

// runStep выполняет одну фазу шага с повторами.
// Каждая попытка — новая транзакция (её открывает attempt).
func (o *Orchestrator) runStep(ctx context.Context, step Step, phase string, attempt func(ctx context.Context) error) (int, error) {
	onRetry := func(err error) {
		telemetry.StepRetries.WithLabelValues(string(step.Name()), phase).Inc()
		o.logger.Warn("transient step error, retrying",
			"step", step.Name(),
			"phase", phase,
			"error", err,
		)
	}
	return o.withRetry(ctx, step.MaxRetries(), onRetry, attempt)
}

// bookkeep выполняет служебную транзакцию с повторами временных ошибок.
//
// Бизнес-ошибки оркестратора (ErrSagaNotFound, ErrSagaTerminal, ...)
// возвращаются как есть, остальные оборачиваются в ErrPersistence.
func (o *Orchestrator) bookkeep(ctx context.Context, op string, fn func(ctx context.Context, tx repo.Tx) error) error {
	onRetry := func(err error) {
		o.logger.Warn("transient bookkeeping error, retrying", "op", op, "error", err)
	}
	_, err := o.withRetry(ctx, defaultBookkeepRetries, onRetry, func(ctx context.Context) error {
		return o.store.Within(ctx, fn)
	})
	if err == nil || isOrchestratorError(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

func isOrchestratorError(err error) bool {
	for _, target := range []error{
		ErrSagaNotFound, ErrSagaTerminal, ErrSagaCompensating, ErrSagaBusy,
		ErrInvalidStep, ErrUnknownSagaType, ErrStepRecordNotFound,
		context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
