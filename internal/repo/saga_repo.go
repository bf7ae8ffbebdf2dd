package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shaiso/Wallet/internal/domain"
)

// SagaRepo — репозиторий для работы с saga_instances.
type SagaRepo struct {
	q Querier
}

// NewSagaRepo создаёт SagaRepo поверх пула или транзакции.
func NewSagaRepo(q Querier) *SagaRepo {
	return &SagaRepo{q: q}
}

const sagaColumns = `
	id, saga_type, status, context, current_step, error_details,
	retry_count, max_retries, timeout_minutes, expiry_time,
	completed_at, compensated_at, version, created_at, updated_at`

// Create создаёт новый экземпляр саги.
func (r *SagaRepo) Create(ctx context.Context, s *domain.SagaInstance) error {
	query := `
		INSERT INTO saga_instances (` + sagaColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.q.Exec(ctx, query,
		s.ID,
		s.SagaType,
		s.Status,
		s.Context,
		nullString(s.CurrentStep),
		nullString(s.ErrorDetails),
		s.RetryCount,
		s.MaxRetries,
		s.TimeoutMinutes,
		s.ExpiryTime,
		s.CompletedAt,
		s.CompensatedAt,
		s.Version,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert saga: %w", mapError(err))
	}
	return nil
}

// Get возвращает сагу по ID.
func (r *SagaRepo) Get(ctx context.Context, id uuid.UUID) (*domain.SagaInstance, error) {
	query := `SELECT ` + sagaColumns + ` FROM saga_instances WHERE id = $1`
	return scanSaga(r.q.QueryRow(ctx, query, id))
}

// Update обновляет сагу с проверкой версии.
func (r *SagaRepo) Update(ctx context.Context, s *domain.SagaInstance) error {
	now := time.Now().UTC()
	query := `
		UPDATE saga_instances
		SET status = $3, context = $4, current_step = $5, error_details = $6,
		    retry_count = $7, completed_at = $8, compensated_at = $9,
		    version = version + 1, updated_at = $10
		WHERE id = $1 AND version = $2
	`
	tag, err := r.q.Exec(ctx, query,
		s.ID,
		s.Version,
		s.Status,
		s.Context,
		nullString(s.CurrentStep),
		nullString(s.ErrorDetails),
		s.RetryCount,
		s.CompletedAt,
		s.CompensatedAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("update saga: %w", mapError(err))
	}
	if err := checkUpdated(ctx, r.q, tag, "saga_instances", s.ID); err != nil {
		return err
	}
	s.Version++
	s.UpdatedAt = now
	return nil
}

// List возвращает саги с фильтрацией.
func (r *SagaRepo) List(ctx context.Context, filter SagaFilter) ([]domain.SagaInstance, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + sagaColumns + `
		FROM saga_instances
		WHERE ($1::text IS NULL OR saga_type = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.q.Query(ctx, query,
		nullString(filter.SagaType),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list sagas: %w", mapError(err))
	}
	return collectSagas(rows)
}

// ListStalled возвращает зависшие саги в указанных статусах.
func (r *SagaRepo) ListStalled(ctx context.Context, statuses []domain.SagaStatus, before time.Time, limit int) ([]domain.SagaInstance, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	query := `
		SELECT ` + sagaColumns + `
		FROM saga_instances
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	rows, err := r.q.Query(ctx, query, names, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled sagas: %w", mapError(err))
	}
	return collectSagas(rows)
}

// --- Helpers ---

func collectSagas(rows pgx.Rows) ([]domain.SagaInstance, error) {
	defer rows.Close()

	var sagas []domain.SagaInstance
	for rows.Next() {
		s, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, *s)
	}
	return sagas, mapError(rows.Err())
}

// scanSaga сканирует одну строку в SagaInstance.
// pgx.Rows тоже реализует pgx.Row, поэтому функция общая.
func scanSaga(row pgx.Row) (*domain.SagaInstance, error) {
	var s domain.SagaInstance
	var currentStep, errorDetails *string

	err := row.Scan(
		&s.ID,
		&s.SagaType,
		&s.Status,
		&s.Context,
		&currentStep,
		&errorDetails,
		&s.RetryCount,
		&s.MaxRetries,
		&s.TimeoutMinutes,
		&s.ExpiryTime,
		&s.CompletedAt,
		&s.CompensatedAt,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan saga: %w", mapError(err))
	}

	s.CurrentStep = derefString(currentStep)
	s.ErrorDetails = derefString(errorDetails)
	return &s, nil
}
