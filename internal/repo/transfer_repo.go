package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shaiso/Wallet/internal/domain"
	"github.com/shopspring/decimal"
)

// TransferRepo — репозиторий для работы с transfers.
type TransferRepo struct {
	q Querier
}

// NewTransferRepo создаёт TransferRepo.
func NewTransferRepo(q Querier) *TransferRepo {
	return &TransferRepo{q: q}
}

const transferColumns = `
	id, source_account_id, destination_account_id, amount::text, description,
	type, status, saga_instance_id, idempotency_key, version, created_at, updated_at`

// Create создаёт перевод.
func (r *TransferRepo) Create(ctx context.Context, t *domain.Transfer) error {
	query := `
		INSERT INTO transfers (id, source_account_id, destination_account_id, amount, description,
		                       type, status, saga_instance_id, idempotency_key, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.q.Exec(ctx, query,
		t.ID,
		t.SourceAccountID,
		t.DestinationAccountID,
		t.Amount.String(),
		nullString(t.Description),
		t.Type,
		t.Status,
		t.SagaInstanceID,
		nullString(t.IdempotencyKey),
		t.Version,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", mapError(err))
	}
	return nil
}

// Get возвращает перевод по ID.
func (r *TransferRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`
	return scanTransfer(r.q.QueryRow(ctx, query, id))
}

// GetBySaga возвращает перевод, который исполняет сага.
func (r *TransferRepo) GetBySaga(ctx context.Context, sagaID uuid.UUID) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE saga_instance_id = $1`
	return scanTransfer(r.q.QueryRow(ctx, query, sagaID))
}

// GetByIdempotencyKey возвращает перевод по ключу идемпотентности клиента.
func (r *TransferRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE idempotency_key = $1`
	return scanTransfer(r.q.QueryRow(ctx, query, key))
}

// Update обновляет статус перевода с проверкой версии.
func (r *TransferRepo) Update(ctx context.Context, t *domain.Transfer) error {
	now := time.Now().UTC()
	query := `
		UPDATE transfers
		SET status = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $2
	`
	tag, err := r.q.Exec(ctx, query, t.ID, t.Version, t.Status, now)
	if err != nil {
		return fmt.Errorf("update transfer: %w", mapError(err))
	}
	if err := checkUpdated(ctx, r.q, tag, "transfers", t.ID); err != nil {
		return err
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

// List возвращает переводы по фильтру.
func (r *TransferRepo) List(ctx context.Context, filter TransferFilter) ([]domain.Transfer, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE ($1::uuid IS NULL OR source_account_id = $1 OR destination_account_id = $1)
		  AND ($2::uuid IS NULL OR source_account_id = $2)
		  AND ($3::uuid IS NULL OR destination_account_id = $3)
		  AND ($4::uuid IS NULL OR saga_instance_id = $4)
		  AND ($5::text IS NULL OR status = $5)
		ORDER BY created_at DESC
		LIMIT $6 OFFSET $7
	`
	rows, err := r.q.Query(ctx, query,
		nullUUID(filter.AccountID),
		nullUUID(filter.SourceID),
		nullUUID(filter.DestinationID),
		nullUUID(filter.SagaID),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", mapError(err))
	}
	defer rows.Close()

	var transfers []domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *t)
	}
	return transfers, mapError(rows.Err())
}

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var t domain.Transfer
	var amount string
	var description, idempotencyKey *string

	err := row.Scan(
		&t.ID,
		&t.SourceAccountID,
		&t.DestinationAccountID,
		&amount,
		&description,
		&t.Type,
		&t.Status,
		&t.SagaInstanceID,
		&idempotencyKey,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transfer: %w", mapError(err))
	}

	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	t.Description = derefString(description)
	t.IdempotencyKey = derefString(idempotencyKey)
	return &t, nil
}
