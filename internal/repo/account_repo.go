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

// AccountRepo — репозиторий для работы с accounts.
//
// Денежные суммы передаются в БД строкой и кастуются в numeric,
// чтобы не терять точность на float.
type AccountRepo struct {
	q Querier
}

// NewAccountRepo создаёт AccountRepo.
func NewAccountRepo(q Querier) *AccountRepo {
	return &AccountRepo{q: q}
}

const accountColumns = `id, user_id, currency, balance::text, is_active, version, created_at, updated_at`

// Create создаёт счёт.
func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) error {
	query := `
		INSERT INTO accounts (id, user_id, currency, balance, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
	`
	_, err := r.q.Exec(ctx, query,
		a.ID,
		a.UserID,
		a.Currency,
		a.Balance.String(),
		a.Active,
		a.Version,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", mapError(err))
	}
	return nil
}

// Get возвращает счёт без блокировки.
func (r *AccountRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.q.QueryRow(ctx, query, id))
}

// GetForUpdate возвращает счёт и блокирует строку до конца транзакции.
func (r *AccountRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return scanAccount(r.q.QueryRow(ctx, query, id))
}

// Save сохраняет баланс и флаг активности с проверкой версии.
func (r *AccountRepo) Save(ctx context.Context, a *domain.Account) error {
	now := time.Now().UTC()
	query := `
		UPDATE accounts
		SET balance = $3::numeric, is_active = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $2
	`
	tag, err := r.q.Exec(ctx, query, a.ID, a.Version, a.Balance.String(), a.Active, now)
	if err != nil {
		return fmt.Errorf("update account: %w", mapError(err))
	}
	if err := checkUpdated(ctx, r.q, tag, "accounts", a.ID); err != nil {
		return err
	}
	a.Version++
	a.UpdatedAt = now
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var balance string

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Currency,
		&balance,
		&a.Active,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", mapError(err))
	}

	a.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return &a, nil
}
