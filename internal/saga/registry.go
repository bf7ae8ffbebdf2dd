package saga

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — реестр шагов и типов саг.
//
// Тип саги — упорядоченный список имён шагов. Порядок выполнения
// задаётся Order() шагов, компенсация идёт в обратном порядке.
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	steps map[StepName]Step
	sagas map[string][]StepName
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[StepName]Step),
		sagas: make(map[string][]StepName),
	}
}

// Register регистрирует шаг в реестре.
// Если шаг с таким именем уже существует, он будет перезаписан.
func (r *Registry) Register(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.Name()] = step
}

// Get возвращает шаг по имени.
// Возвращает ErrInvalidStep, если шаг не найден.
func (r *Registry) Get(name StepName) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, exists := r.steps[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStep, name)
	}
	return step, nil
}

// Lookup разрешает сохранённое строковое имя шага.
func (r *Registry) Lookup(name string) (Step, error) {
	n, ok := ParseStepName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStep, name)
	}
	return r.Get(n)
}

// Has проверяет, зарегистрирован ли шаг.
func (r *Registry) Has(name StepName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.steps[name]
	return exists
}

// Define описывает тип саги списком шагов.
// Все шаги должны быть зарегистрированы, порядковые номера — уникальны.
func (r *Registry) Define(sagaType string, names ...StepName) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(names) == 0 {
		return fmt.Errorf("%w: saga %s has no steps", ErrInvalidStep, sagaType)
	}

	orders := make(map[int]StepName, len(names))
	for _, n := range names {
		step, ok := r.steps[n]
		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidStep, n)
		}
		if prev, dup := orders[step.Order()]; dup {
			return fmt.Errorf("%w: %s and %s share order %d", ErrInvalidStep, prev, n, step.Order())
		}
		orders[step.Order()] = n
	}

	r.sagas[sagaType] = append([]StepName(nil), names...)
	return nil
}

// StepsFor возвращает шаги саги по возрастанию Order().
func (r *Registry) StepsFor(sagaType string) ([]Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names, ok := r.sagas[sagaType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSagaType, sagaType)
	}

	steps := make([]Step, 0, len(names))
	for _, n := range names {
		steps = append(steps, r.steps[n])
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Order() < steps[j].Order()
	})
	return steps, nil
}

// Names возвращает отсортированный список зарегистрированных шагов.
func (r *Registry) Names() []StepName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]StepName, 0, len(r.steps))
	for n := range r.steps {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
