package domain

// SagaStatus — статус экземпляра саги.
//
// Жизненный цикл:
//
//	STARTED → RUNNING → COMPLETED
//	        ↘         ↘ COMPENSATING → COMPENSATED
//	                                 ↘ FAILED
//
// Допустимые переходы описаны в lifecycle.go.
type SagaStatus string

const (
	// SagaStatusStarted — сага создана, ни один шаг ещё не запускался.
	SagaStatusStarted SagaStatus = "STARTED"

	// SagaStatusRunning — выполняется один из шагов.
	SagaStatusRunning SagaStatus = "RUNNING"

	// SagaStatusCompensating — идёт откат выполненных шагов.
	SagaStatusCompensating SagaStatus = "COMPENSATING"

	// SagaStatusCompensated — все выполненные шаги откачены.
	SagaStatusCompensated SagaStatus = "COMPENSATED"

	// SagaStatusCompleted — все шаги выполнены.
	SagaStatusCompleted SagaStatus = "COMPLETED"

	// SagaStatusFailed — откат не удался, нужна ручная обработка.
	SagaStatusFailed SagaStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s SagaStatus) IsTerminal() bool {
	switch s {
	case SagaStatusCompleted, SagaStatusCompensated, SagaStatusFailed:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление SagaStatus.
func (s SagaStatus) String() string {
	return string(s)
}

// ParseSagaStatus парсит строку в SagaStatus.
// Второе значение false, если строка не является известным статусом.
func ParseSagaStatus(s string) (SagaStatus, bool) {
	switch st := SagaStatus(s); st {
	case SagaStatusStarted, SagaStatusRunning, SagaStatusCompensating,
		SagaStatusCompensated, SagaStatusCompleted, SagaStatusFailed:
		return st, true
	default:
		return "", false
	}
}

// StepStatus — статус записи шага саги.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED → RUNNING → COMPENSATED
//	                  ↘ FAILED              ↘ FAILED
//
// Второй RUNNING — это компенсация в процессе (CompletedAt уже заполнен).
type StepStatus string

const (
	// StepStatusPending — запись создана, шаг не запускался.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusRunning — шаг (или его компенсация) выполняется.
	StepStatusRunning StepStatus = "RUNNING"

	// StepStatusCompleted — шаг успешно выполнен.
	StepStatusCompleted StepStatus = "COMPLETED"

	// StepStatusFailed — шаг или компенсация завершились ошибкой.
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusCompensated — эффект шага откачен.
	StepStatusCompensated StepStatus = "COMPENSATED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusFailed, StepStatusCompensated:
		return true
	default:
		return false
	}
}

// TransferStatus — статус перевода.
type TransferStatus string

const (
	TransferStatusPending TransferStatus = "PENDING"
	TransferStatusSuccess TransferStatus = "SUCCESS"
	TransferStatusFailed  TransferStatus = "FAILED"
)

// ParseTransferStatus парсит строку в TransferStatus.
func ParseTransferStatus(s string) (TransferStatus, bool) {
	switch st := TransferStatus(s); st {
	case TransferStatusPending, TransferStatusSuccess, TransferStatusFailed:
		return st, true
	default:
		return "", false
	}
}
