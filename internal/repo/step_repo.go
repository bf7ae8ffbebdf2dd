package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shaiso/Wallet/internal/domain"
)

// StepRepo — репозиторий для работы с saga_steps.
type StepRepo struct {
	q Querier
}

// NewStepRepo создаёт StepRepo.
func NewStepRepo(q Querier) *StepRepo {
	return &StepRepo{q: q}
}

const stepColumns = `
	id, saga_instance_id, step_name, step_order, status, compensation_action,
	retry_count, max_retries, error_message, created_at, started_at,
	completed_at, version`

// Create создаёт запись шага.
// Уникальность (saga_instance_id, step_order) гарантирует индекс.
func (r *StepRepo) Create(ctx context.Context, rec *domain.StepRecord) error {
	query := `
		INSERT INTO saga_steps (` + stepColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.q.Exec(ctx, query,
		rec.ID,
		rec.SagaInstanceID,
		rec.StepName,
		rec.StepOrder,
		rec.Status,
		nullString(rec.CompensationAction),
		rec.RetryCount,
		rec.MaxRetries,
		nullString(rec.ErrorMessage),
		rec.CreatedAt,
		rec.StartedAt,
		rec.CompletedAt,
		rec.Version,
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", mapError(err))
	}
	return nil
}

// GetByName возвращает шаг саги по имени.
func (r *StepRepo) GetByName(ctx context.Context, sagaID uuid.UUID, name string) (*domain.StepRecord, error) {
	query := `SELECT ` + stepColumns + ` FROM saga_steps WHERE saga_instance_id = $1 AND step_name = $2`
	return scanStep(r.q.QueryRow(ctx, query, sagaID, name))
}

// GetByOrder возвращает шаг саги по порядковому номеру.
func (r *StepRepo) GetByOrder(ctx context.Context, sagaID uuid.UUID, order int) (*domain.StepRecord, error) {
	query := `SELECT ` + stepColumns + ` FROM saga_steps WHERE saga_instance_id = $1 AND step_order = $2`
	return scanStep(r.q.QueryRow(ctx, query, sagaID, order))
}

// ListBySaga возвращает все шаги саги по возрастанию порядка.
func (r *StepRepo) ListBySaga(ctx context.Context, sagaID uuid.UUID) ([]domain.StepRecord, error) {
	query := `SELECT ` + stepColumns + ` FROM saga_steps WHERE saga_instance_id = $1 ORDER BY step_order ASC`
	rows, err := r.q.Query(ctx, query, sagaID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", mapError(err))
	}
	defer rows.Close()

	var steps []domain.StepRecord
	for rows.Next() {
		rec, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *rec)
	}
	return steps, mapError(rows.Err())
}

// Update обновляет шаг с проверкой версии.
func (r *StepRepo) Update(ctx context.Context, rec *domain.StepRecord) error {
	query := `
		UPDATE saga_steps
		SET status = $3, compensation_action = $4, retry_count = $5, error_message = $6,
		    started_at = $7, completed_at = $8, version = version + 1
		WHERE id = $1 AND version = $2
	`
	tag, err := r.q.Exec(ctx, query,
		rec.ID,
		rec.Version,
		rec.Status,
		nullString(rec.CompensationAction),
		rec.RetryCount,
		nullString(rec.ErrorMessage),
		rec.StartedAt,
		rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update step: %w", mapError(err))
	}
	if err := checkUpdated(ctx, r.q, tag, "saga_steps", rec.ID); err != nil {
		return err
	}
	rec.Version++
	return nil
}

// scanStep сканирует одну строку в StepRecord.
func scanStep(row pgx.Row) (*domain.StepRecord, error) {
	var rec domain.StepRecord
	var compensationAction, errorMessage *string

	err := row.Scan(
		&rec.ID,
		&rec.SagaInstanceID,
		&rec.StepName,
		&rec.StepOrder,
		&rec.Status,
		&compensationAction,
		&rec.RetryCount,
		&rec.MaxRetries,
		&errorMessage,
		&rec.CreatedAt,
		&rec.StartedAt,
		&rec.CompletedAt,
		&rec.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step: %w", mapError(err))
	}

	rec.CompensationAction = derefString(compensationAction)
	rec.ErrorMessage = derefString(errorMessage)
	return &rec, nil
}
