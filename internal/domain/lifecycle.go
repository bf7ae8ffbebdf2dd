package domain

import (
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"
)

// ErrInvalidTransition — переход между статусами запрещён.
var ErrInvalidTransition = errors.New("invalid status transition")

// Триггером перехода служит целевой статус: Fire(COMPENSATING) переводит
// сагу в COMPENSATING, если это разрешено из текущего состояния.

func sagaMachine(from SagaStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(from)

	sm.Configure(SagaStatusStarted).
		Permit(SagaStatusRunning, SagaStatusRunning).
		Permit(SagaStatusCompensating, SagaStatusCompensating).
		Permit(SagaStatusCompensated, SagaStatusCompensated).
		Permit(SagaStatusCompleted, SagaStatusCompleted).
		Permit(SagaStatusFailed, SagaStatusFailed)

	// RUNNING → RUNNING: переход к следующему шагу
	sm.Configure(SagaStatusRunning).
		PermitReentry(SagaStatusRunning).
		Permit(SagaStatusCompensating, SagaStatusCompensating).
		Permit(SagaStatusCompensated, SagaStatusCompensated).
		Permit(SagaStatusCompleted, SagaStatusCompleted).
		Permit(SagaStatusFailed, SagaStatusFailed)

	// COMPENSATING → COMPENSATING: возобновление отката после сбоя
	sm.Configure(SagaStatusCompensating).
		PermitReentry(SagaStatusCompensating).
		Permit(SagaStatusCompensated, SagaStatusCompensated).
		Permit(SagaStatusFailed, SagaStatusFailed)

	sm.Configure(SagaStatusCompensated)
	sm.Configure(SagaStatusCompleted)
	sm.Configure(SagaStatusFailed)

	return sm
}

func stepMachine(from StepStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(from)

	sm.Configure(StepStatusPending).
		Permit(StepStatusRunning, StepStatusRunning)

	sm.Configure(StepStatusRunning).
		Permit(StepStatusCompleted, StepStatusCompleted).
		Permit(StepStatusCompensated, StepStatusCompensated).
		Permit(StepStatusFailed, StepStatusFailed)

	// COMPLETED → RUNNING: начало компенсации
	sm.Configure(StepStatusCompleted).
		Permit(StepStatusRunning, StepStatusRunning)

	sm.Configure(StepStatusFailed)
	sm.Configure(StepStatusCompensated)

	return sm
}

// CanTransitionSaga проверяет, допустим ли переход саги from → to.
func CanTransitionSaga(from, to SagaStatus) bool {
	ok, err := sagaMachine(from).CanFire(to)
	return err == nil && ok
}

// CanTransitionStep проверяет, допустим ли переход шага from → to.
func CanTransitionStep(from, to StepStatus) bool {
	ok, err := stepMachine(from).CanFire(to)
	return err == nil && ok
}

// Transition переводит сагу в новый статус.
// Возвращает ErrInvalidTransition, если переход запрещён.
func (s *SagaInstance) Transition(to SagaStatus) error {
	if !CanTransitionSaga(s.Status, to) {
		return fmt.Errorf("%w: saga %s → %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}

// Transition переводит запись шага в новый статус.
// Возвращает ErrInvalidTransition, если переход запрещён.
func (r *StepRecord) Transition(to StepStatus) error {
	if !CanTransitionStep(r.Status, to) {
		return fmt.Errorf("%w: step %s → %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return nil
}
