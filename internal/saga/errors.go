package saga

import "errors"

// Ошибки оркестратора.
var (
	// ErrSagaNotFound — сага не найдена.
	ErrSagaNotFound = errors.New("saga not found")

	// ErrSagaTerminal — сага уже в финальном статусе.
	ErrSagaTerminal = errors.New("saga is in a terminal status")

	// ErrSagaCompensating — сага откатывается, новые шаги не выполняются.
	ErrSagaCompensating = errors.New("saga is compensating")

	// ErrSagaBusy — сагу параллельно обрабатывает другой процесс.
	ErrSagaBusy = errors.New("saga is being processed concurrently")

	// ErrInvalidStep — шаг с таким именем не зарегистрирован.
	ErrInvalidStep = errors.New("invalid step")

	// ErrUnknownSagaType — тип саги не описан в реестре.
	ErrUnknownSagaType = errors.New("unknown saga type")

	// ErrStepRecordNotFound — у саги нет записи для шага.
	ErrStepRecordNotFound = errors.New("step record not found")

	// ErrPersistence — не удалось сохранить служебное состояние саги.
	ErrPersistence = errors.New("saga persistence failed")
)
