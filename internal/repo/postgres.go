package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultLockTimeout = 5 * time.Second

// Querier — общий интерфейс pgx.Tx и *pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store — реализация UnitOfWork поверх PostgreSQL.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// StoreConfig — конфигурация Store.
type StoreConfig struct {
	// LockTimeout — сколько ждать блокировку строки (default: 5s).
	LockTimeout time.Duration
}

// NewStore создаёт новый Store.
func NewStore(pool *pgxpool.Pool, cfg StoreConfig) *Store {
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

// Within выполняет fn в отдельной транзакции READ COMMITTED.
//
// lock_timeout выставляется на уровне транзакции, поэтому
// GetForUpdate не ждёт блокировку бесконечно.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// View выполняет fn в транзакции только для чтения.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		lockSQL := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, lockSQL); err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
		return fn(ctx, &pgTx{q: tx})
	})
	if err == nil {
		return nil
	}
	// Ошибки репозитория уже размечены, остальные размечаем здесь
	// (ошибки BEGIN/COMMIT, обрыв соединения).
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) || IsTransient(err) {
		return err
	}
	return mapError(err)
}

// Ping проверяет доступность БД.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// pgTx реализует Tx поверх одной транзакции pgx.
type pgTx struct {
	q Querier
}

func (t *pgTx) Sagas() SagaStore                     { return &SagaRepo{q: t.q} }
func (t *pgTx) Steps() StepStore                     { return &StepRepo{q: t.q} }
func (t *pgTx) DeadLetters() DeadLetterStore         { return &DeadLetterRepo{q: t.q} }
func (t *pgTx) Accounts() AccountStore               { return &AccountRepo{q: t.q} }
func (t *pgTx) Transfers() TransferStore             { return &TransferRepo{q: t.q} }
func (t *pgTx) IdempotencyKeys() IdempotencyKeyStore { return &IdempotencyKeyRepo{q: t.q} }

// checkUpdated различает «записи нет» и «версия устарела»
// после UPDATE ... WHERE version = $n, затронувшего 0 строк.
func checkUpdated(ctx context.Context, q Querier, tag pgconn.CommandTag, table string, id any) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", table)
	if err := q.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return mapError(err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID превращает uuid.Nil в NULL.
func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// derefString возвращает "" для NULL.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
