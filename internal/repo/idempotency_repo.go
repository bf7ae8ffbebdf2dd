package repo

import (
	"context"
	"fmt"

	"github.com/shaiso/Wallet/internal/domain"
)

// IdempotencyKeyRepo — репозиторий для работы с saga_idempotency_keys.
type IdempotencyKeyRepo struct {
	q Querier
}

// NewIdempotencyKeyRepo создаёт IdempotencyKeyRepo.
func NewIdempotencyKeyRepo(q Querier) *IdempotencyKeyRepo {
	return &IdempotencyKeyRepo{q: q}
}

// Insert записывает ключ. Повтор — ErrAlreadyExists.
func (r *IdempotencyKeyRepo) Insert(ctx context.Context, k *domain.IdempotencyKey) error {
	query := `
		INSERT INTO saga_idempotency_keys (idempotency_key, saga_instance_id, step_name, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.q.Exec(ctx, query, k.Key, k.SagaInstanceID, k.StepName, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", mapError(err))
	}
	return nil
}

// Exists проверяет наличие ключа.
func (r *IdempotencyKeyRepo) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM saga_idempotency_keys WHERE idempotency_key = $1)`
	if err := r.q.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("check idempotency key: %w", mapError(err))
	}
	return exists, nil
}
