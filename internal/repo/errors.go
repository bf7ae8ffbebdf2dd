package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — операция невозможна в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")
)

// Временные ошибки. Операцию можно повторить в новой транзакции.
var (
	// ErrVersionConflict — запись изменена другой транзакцией (optimistic lock).
	ErrVersionConflict = errors.New("version conflict")

	// ErrLockTimeout — не удалось получить блокировку строки за lock_timeout.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrUnavailable — хранилище временно недоступно.
	ErrUnavailable = errors.New("storage unavailable")
)

// IsTransient возвращает true для ошибок, которые имеет смысл повторить.
func IsTransient(err error) bool {
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrUnavailable)
}

// Коды ошибок PostgreSQL, которые мы различаем.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgAdminShutdown        = "57P01"
	pgCannotConnectNow     = "57P03"
)

// mapError переводит ошибку драйвера в ошибку репозитория.
// Исходная ошибка остаётся в цепочке.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation:
			return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
		case pgErr.Code == pgSerializationFailure:
			return fmt.Errorf("%w: %w", ErrVersionConflict, err)
		case pgErr.Code == pgDeadlockDetected, pgErr.Code == pgLockNotAvailable:
			return fmt.Errorf("%w: %w", ErrLockTimeout, err)
		case pgErr.Code == pgAdminShutdown, pgErr.Code == pgCannotConnectNow,
			len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}

	// Сетевые ошибки и обрывы соединения
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
