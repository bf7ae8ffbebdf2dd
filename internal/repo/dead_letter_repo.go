package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shaiso/Wallet/internal/domain"
)

// DeadLetterRepo — репозиторий для работы с dead_letter_sagas.
type DeadLetterRepo struct {
	q Querier
}

// NewDeadLetterRepo создаёт DeadLetterRepo.
func NewDeadLetterRepo(q Querier) *DeadLetterRepo {
	return &DeadLetterRepo{q: q}
}

const deadLetterColumns = `id, saga_instance_id, saga_type, last_status, context_snapshot, error_details, created_at`

// Create вставляет запись. Повторная вставка для той же саги — ErrAlreadyExists.
func (r *DeadLetterRepo) Create(ctx context.Context, d *domain.DeadLetterRecord) error {
	query := `
		INSERT INTO dead_letter_sagas (` + deadLetterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.Exec(ctx, query,
		d.ID,
		d.SagaInstanceID,
		d.SagaType,
		d.LastStatus,
		d.ContextSnapshot,
		nullString(d.ErrorDetails),
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", mapError(err))
	}
	return nil
}

// GetBySaga возвращает запись по ID саги.
func (r *DeadLetterRepo) GetBySaga(ctx context.Context, sagaID uuid.UUID) (*domain.DeadLetterRecord, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_sagas WHERE saga_instance_id = $1`
	return scanDeadLetter(r.q.QueryRow(ctx, query, sagaID))
}

// List возвращает записи, новые первыми.
func (r *DeadLetterRepo) List(ctx context.Context, limit, offset int) ([]domain.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + deadLetterColumns + `
		FROM dead_letter_sagas
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", mapError(err))
	}
	defer rows.Close()

	var records []domain.DeadLetterRecord
	for rows.Next() {
		d, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *d)
	}
	return records, mapError(rows.Err())
}

func scanDeadLetter(row pgx.Row) (*domain.DeadLetterRecord, error) {
	var d domain.DeadLetterRecord
	var errorDetails *string

	err := row.Scan(
		&d.ID,
		&d.SagaInstanceID,
		&d.SagaType,
		&d.LastStatus,
		&d.ContextSnapshot,
		&errorDetails,
		&d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dead letter: %w", mapError(err))
	}
	d.ErrorDetails = derefString(errorDetails)
	return &d, nil
}
