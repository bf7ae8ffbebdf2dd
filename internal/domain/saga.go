package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Значения по умолчанию для новых саг.
const (
	DefaultSagaMaxRetries     = 3
	DefaultSagaTimeoutMinutes = 60
)

// SagaInstance — персистентный экземпляр саги.
//
// Создаётся в статусе STARTED, дальше статус меняет только оркестратор.
// После финального статуса шаги не выполняются.
type SagaInstance struct {
	// ID — уникальный идентификатор саги.
	ID uuid.UUID `json:"id"`

	// SagaType — тип саги, определяет набор и порядок шагов.
	SagaType string `json:"saga_type"`

	// Status — текущий статус.
	Status SagaStatus `json:"status"`

	// Context — сериализованный контекст саги (JSON).
	Context []byte `json:"-"`

	// CurrentStep — имя шага, который выполнялся последним.
	CurrentStep string `json:"current_step,omitempty"`

	// ErrorDetails — сводка ошибок, если сага завершилась FAILED.
	ErrorDetails string `json:"error_details,omitempty"`

	// RetryCount/MaxRetries — счётчик повторов на уровне саги.
	// Не связан с бюджетом повторов отдельного шага.
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// TimeoutMinutes — допустимая длительность саги.
	// ExpiryTime = CreatedAt + TimeoutMinutes.
	TimeoutMinutes int        `json:"timeout_minutes"`
	ExpiryTime     *time.Time `json:"expiry_time,omitempty"`

	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CompensatedAt *time.Time `json:"compensated_at,omitempty"`

	// Version — версия для optimistic locking.
	// Каждое обновление увеличивает версию на 1.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSagaInstance создаёт сагу в статусе STARTED.
func NewSagaInstance(sagaType string, sagaContext []byte, now time.Time) *SagaInstance {
	expiry := now.Add(DefaultSagaTimeoutMinutes * time.Minute)
	return &SagaInstance{
		ID:             uuid.New(),
		SagaType:       sagaType,
		Status:         SagaStatusStarted,
		Context:        sagaContext,
		MaxRetries:     DefaultSagaMaxRetries,
		TimeoutMinutes: DefaultSagaTimeoutMinutes,
		ExpiryTime:     &expiry,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsExpired возвращает true, если время саги истекло.
func (s *SagaInstance) IsExpired(now time.Time) bool {
	return s.ExpiryTime != nil && now.After(*s.ExpiryTime)
}

// StepRecord — запись о выполнении одного шага саги.
//
// Пара (SagaInstanceID, StepOrder) уникальна.
type StepRecord struct {
	ID             uuid.UUID  `json:"id"`
	SagaInstanceID uuid.UUID  `json:"saga_instance_id"`
	StepName       string     `json:"step_name"`
	StepOrder      int        `json:"step_order"`
	Status         StepStatus `json:"status"`

	// CompensationAction — описание отката (для аудита).
	CompensationAction string `json:"compensation_action,omitempty"`

	// RetryCount — сколько повторов понадобилось шагу.
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// ErrorMessage — ошибка последнего выполнения или компенсации.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Version int64 `json:"version"`
}

// NewStepRecord создаёт запись шага в статусе PENDING.
func NewStepRecord(sagaID uuid.UUID, name string, order, maxRetries int, now time.Time) *StepRecord {
	return &StepRecord{
		ID:             uuid.New(),
		SagaInstanceID: sagaID,
		StepName:       name,
		StepOrder:      order,
		Status:         StepStatusPending,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
	}
}

// IsCompensationCandidate возвращает true, если эффект шага мог быть применён
// и ещё не откачен: шаг выполнен или завис в RUNNING.
func (r *StepRecord) IsCompensationCandidate() bool {
	return r.Status == StepStatusCompleted || r.Status == StepStatusRunning
}

// CompensationErrorPrefix помечает ErrorMessage шага, откат которого упал.
const CompensationErrorPrefix = "compensation: "

// CompensationFailed возвращает true, если откат шага завершился ошибкой.
// Признак не зависит от CompletedAt: шаг, прерванный в RUNNING после
// эффекта, тоже мог дойти до неудачного отката.
func (r *StepRecord) CompensationFailed() bool {
	return r.Status == StepStatusFailed && strings.HasPrefix(r.ErrorMessage, CompensationErrorPrefix)
}

// DeadLetterRecord — снимок саги, которую не удалось ни выполнить, ни откатить.
// Только вставка, одна запись на сагу.
type DeadLetterRecord struct {
	ID              uuid.UUID  `json:"id"`
	SagaInstanceID  uuid.UUID  `json:"saga_instance_id"`
	SagaType        string     `json:"saga_type"`
	LastStatus      SagaStatus `json:"last_status"`
	ContextSnapshot []byte     `json:"-"`
	ErrorDetails    string     `json:"error_details,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// IdempotencyKey — отметка о том, что эффект шага уже применён.
// Записывается в той же транзакции, что и сам эффект.
type IdempotencyKey struct {
	Key            string    `json:"key"`
	SagaInstanceID uuid.UUID `json:"saga_instance_id"`
	StepName       string    `json:"step_name"`
	CreatedAt      time.Time `json:"created_at"`
}
