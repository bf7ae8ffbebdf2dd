package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Wallet/internal/domain"
)

// UnitOfWork открывает изолированные транзакции.
//
// Within выполняет fn в пишущей транзакции: коммит при nil, откат при ошибке.
// View выполняет fn в транзакции только для чтения.
// Каждый вызов — независимая единица работы, вложенные вызовы не
// присоединяются к внешней транзакции.
type UnitOfWork interface {
	Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx — открытая транзакция с доступом к хранилищам.
type Tx interface {
	Sagas() SagaStore
	Steps() StepStore
	DeadLetters() DeadLetterStore
	Accounts() AccountStore
	Transfers() TransferStore
	IdempotencyKeys() IdempotencyKeyStore
}

// SagaStore — хранилище экземпляров саг.
//
// Update проверяет версию: при несовпадении возвращает ErrVersionConflict,
// при успехе увеличивает Version и обновляет UpdatedAt.
type SagaStore interface {
	Create(ctx context.Context, s *domain.SagaInstance) error
	Get(ctx context.Context, id uuid.UUID) (*domain.SagaInstance, error)
	Update(ctx context.Context, s *domain.SagaInstance) error
	List(ctx context.Context, filter SagaFilter) ([]domain.SagaInstance, error)

	// ListStalled возвращает саги в указанных статусах, не обновлявшиеся с before.
	ListStalled(ctx context.Context, statuses []domain.SagaStatus, before time.Time, limit int) ([]domain.SagaInstance, error)
}

// StepStore — хранилище записей шагов.
type StepStore interface {
	// Create возвращает ErrAlreadyExists, если шаг с таким порядком уже есть.
	Create(ctx context.Context, r *domain.StepRecord) error
	GetByName(ctx context.Context, sagaID uuid.UUID, name string) (*domain.StepRecord, error)
	GetByOrder(ctx context.Context, sagaID uuid.UUID, order int) (*domain.StepRecord, error)

	// ListBySaga возвращает шаги по возрастанию StepOrder.
	ListBySaga(ctx context.Context, sagaID uuid.UUID) ([]domain.StepRecord, error)
	Update(ctx context.Context, r *domain.StepRecord) error
}

// DeadLetterStore — хранилище «мёртвых» саг. Только вставка.
type DeadLetterStore interface {
	// Create возвращает ErrAlreadyExists, если для саги запись уже есть.
	Create(ctx context.Context, d *domain.DeadLetterRecord) error
	GetBySaga(ctx context.Context, sagaID uuid.UUID) (*domain.DeadLetterRecord, error)
	List(ctx context.Context, limit, offset int) ([]domain.DeadLetterRecord, error)
}

// AccountStore — доступ к счетам внешнего леджера.
type AccountStore interface {
	Create(ctx context.Context, a *domain.Account) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// GetForUpdate читает счёт с блокировкой строки до конца транзакции.
	// Если блокировку не удалось взять за lock_timeout — ErrLockTimeout.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	Save(ctx context.Context, a *domain.Account) error
}

// TransferStore — хранилище переводов.
type TransferStore interface {
	Create(ctx context.Context, t *domain.Transfer) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	GetBySaga(ctx context.Context, sagaID uuid.UUID) (*domain.Transfer, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transfer, error)
	Update(ctx context.Context, t *domain.Transfer) error

	// List возвращает переводы по фильтру, новые первыми.
	List(ctx context.Context, filter TransferFilter) ([]domain.Transfer, error)
}

// IdempotencyKeyStore — отметки о применённых эффектах шагов.
type IdempotencyKeyStore interface {
	// Insert возвращает ErrAlreadyExists, если ключ уже записан.
	Insert(ctx context.Context, k *domain.IdempotencyKey) error
	Exists(ctx context.Context, key string) (bool, error)
}

// TransferFilter — параметры фильтрации переводов. Нулевые поля не фильтруют.
type TransferFilter struct {
	// AccountID — счёт в роли источника или получателя.
	AccountID     uuid.UUID
	SourceID      uuid.UUID
	DestinationID uuid.UUID
	SagaID        uuid.UUID
	Status        domain.TransferStatus
	Limit         int
	Offset        int
}

// Matches проверяет перевод по фильтру без учёта Limit/Offset.
func (f TransferFilter) Matches(t *domain.Transfer) bool {
	switch {
	case f.AccountID != uuid.Nil && t.SourceAccountID != f.AccountID && t.DestinationAccountID != f.AccountID:
		return false
	case f.SourceID != uuid.Nil && t.SourceAccountID != f.SourceID:
		return false
	case f.DestinationID != uuid.Nil && t.DestinationAccountID != f.DestinationID:
		return false
	case f.SagaID != uuid.Nil && t.SagaInstanceID != f.SagaID:
		return false
	case f.Status != "" && t.Status != f.Status:
		return false
	}
	return true
}

// SagaFilter — параметры фильтрации саг.
type SagaFilter struct {
	SagaType string
	Status   domain.SagaStatus
	Limit    int
	Offset   int
}
