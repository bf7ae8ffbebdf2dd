// Package memstore — хранилище в памяти на hashicorp/go-memdb.
//
// Реализует те же контракты, что и PostgreSQL-хранилище из пакета repo.
// Пишущие транзакции memdb выполняются строго по одной, поэтому
// блокировка строк (GetForUpdate) сводится к обычному чтению внутри транзакции.
//
// Используется для локального запуска без БД и в тестах.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/shaiso/Wallet/internal/repo"
)

// Store — реализация repo.UnitOfWork в памяти.
type Store struct {
	db *memdb.MemDB

	mu         sync.Mutex
	now        func() time.Time
	commitHook func() error
}

// Option настраивает Store.
type Option func(*Store)

// WithClock подменяет источник времени для UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New создаёт пустое хранилище.
func New(opts ...Option) *Store {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		// Схема статическая, ошибка здесь — ошибка программиста.
		panic(fmt.Sprintf("memstore: invalid schema: %v", err))
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCommitHook задаёт функцию, вызываемую перед каждым коммитом.
// Ошибка хука откатывает транзакцию. nil снимает хук.
func (s *Store) SetCommitHook(hook func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = hook
}

func (s *Store) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().UTC()
}

// Within выполняет fn в пишущей транзакции.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx repo.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := fn(ctx, &memTx{txn: txn, store: s}); err != nil {
		return err
	}

	s.mu.Lock()
	hook := s.commitHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(); err != nil {
			return err
		}
	}

	txn.Commit()
	return nil
}

// View выполняет fn на снимке данных.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx repo.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(ctx, &memTx{txn: txn, store: s})
}

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error {
	return nil
}

// memTx реализует repo.Tx поверх транзакции memdb.
type memTx struct {
	txn   *memdb.Txn
	store *Store
}

func (t *memTx) Sagas() repo.SagaStore                     { return &sagaStore{t} }
func (t *memTx) Steps() repo.StepStore                     { return &stepStore{t} }
func (t *memTx) DeadLetters() repo.DeadLetterStore         { return &deadLetterStore{t} }
func (t *memTx) Accounts() repo.AccountStore               { return &accountStore{t} }
func (t *memTx) Transfers() repo.TransferStore             { return &transferStore{t} }
func (t *memTx) IdempotencyKeys() repo.IdempotencyKeyStore { return &idemKeyStore{t} }

// first возвращает объект по индексу или repo.ErrNotFound.
func (t *memTx) first(table, index string, args ...any) (any, error) {
	raw, err := t.txn.First(table, index, args...)
	if err != nil {
		return nil, fmt.Errorf("memdb %s.%s: %w", table, index, err)
	}
	if raw == nil {
		return nil, repo.ErrNotFound
	}
	return raw, nil
}

// all собирает все объекты по индексу.
func (t *memTx) all(table, index string, args ...any) ([]any, error) {
	it, err := t.txn.Get(table, index, args...)
	if err != nil {
		return nil, fmt.Errorf("memdb %s.%s: %w", table, index, err)
	}
	var out []any
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw)
	}
	return out, nil
}

func (t *memTx) insert(table string, obj any) error {
	if err := t.txn.Insert(table, obj); err != nil {
		return fmt.Errorf("memdb insert %s: %w", table, err)
	}
	return nil
}

// page применяет limit/offset к уже отсортированному срезу.
func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 100
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
