package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Lifecycle Tests

func TestCanTransitionSaga(t *testing.T) {
	tests := []struct {
		from, to SagaStatus
		want     bool
	}{
		{SagaStatusStarted, SagaStatusRunning, true},
		{SagaStatusStarted, SagaStatusCompensated, true},
		{SagaStatusRunning, SagaStatusRunning, true},
		{SagaStatusRunning, SagaStatusCompleted, true},
		{SagaStatusRunning, SagaStatusCompensating, true},
		{SagaStatusCompensating, SagaStatusCompensating, true},
		{SagaStatusCompensating, SagaStatusCompensated, true},
		{SagaStatusCompensating, SagaStatusFailed, true},
		{SagaStatusCompensating, SagaStatusRunning, false},
		{SagaStatusCompensating, SagaStatusCompleted, false},
		{SagaStatusCompleted, SagaStatusRunning, false},
		{SagaStatusCompensated, SagaStatusCompensating, false},
		{SagaStatusFailed, SagaStatusFailed, false},
		{SagaStatusFailed, SagaStatusCompensated, false},
	}

	for _, tt := range tests {
		if got := CanTransitionSaga(tt.from, tt.to); got != tt.want {
			t.Errorf("%s → %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestCanTransitionStep(t *testing.T) {
	tests := []struct {
		from, to StepStatus
		want     bool
	}{
		{StepStatusPending, StepStatusRunning, true},
		{StepStatusRunning, StepStatusCompleted, true},
		{StepStatusRunning, StepStatusFailed, true},
		{StepStatusCompleted, StepStatusRunning, true},
		{StepStatusRunning, StepStatusCompensated, true},
		{StepStatusPending, StepStatusCompleted, false},
		{StepStatusCompleted, StepStatusPending, false},
		{StepStatusCompensated, StepStatusRunning, false},
		{StepStatusFailed, StepStatusRunning, false},
	}

	for _, tt := range tests {
		if got := CanTransitionStep(tt.from, tt.to); got != tt.want {
			t.Errorf("%s → %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestSagaInstance_Transition(t *testing.T) {
	s := NewSagaInstance("TRANSFER", nil, time.Now())

	if err := s.Transition(SagaStatusRunning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Transition(SagaStatusCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Из финального статуса выхода нет
	err := s.Transition(SagaStatusCompensating)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if s.Status != SagaStatusCompleted {
		t.Errorf("status must not change, got %s", s.Status)
	}
}

func TestNewSagaInstance_Defaults(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewSagaInstance("TRANSFER", []byte(`{}`), now)

	if s.Status != SagaStatusStarted {
		t.Errorf("expected STARTED, got %s", s.Status)
	}
	if s.MaxRetries != DefaultSagaMaxRetries {
		t.Errorf("expected max retries %d, got %d", DefaultSagaMaxRetries, s.MaxRetries)
	}
	if s.IsExpired(now.Add(59 * time.Minute)) {
		t.Error("should not be expired before timeout")
	}
	if !s.IsExpired(now.Add(61 * time.Minute)) {
		t.Error("should be expired after timeout")
	}
}

func TestStepRecord_CompensationFailed(t *testing.T) {
	tests := []struct {
		name string
		rec  StepRecord
		want bool
	}{
		{"forward failure", StepRecord{Status: StepStatusFailed, ErrorMessage: "insufficient funds"}, false},
		{"compensation failed after completion", StepRecord{Status: StepStatusFailed, ErrorMessage: CompensationErrorPrefix + "account closed", CompletedAt: &time.Time{}}, true},
		// Шаг прервался в RUNNING, CompletedAt не выставлен
		{"compensation failed after interrupted run", StepRecord{Status: StepStatusFailed, ErrorMessage: CompensationErrorPrefix + "account closed"}, true},
		{"compensated", StepRecord{Status: StepStatusCompensated}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.CompensationFailed(); got != tt.want {
				t.Errorf("CompensationFailed() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Account Tests

func TestAccount_Debit(t *testing.T) {
	a := NewAccount(uuid.New(), decimal.RequireFromString("100.00"), time.Now())

	if err := a.Debit(decimal.RequireFromString("30.50")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Balance.Equal(decimal.RequireFromString("69.50")) {
		t.Errorf("expected 69.50, got %s", a.Balance)
	}

	// Недостаточно средств — баланс не меняется
	err := a.Debit(decimal.RequireFromString("69.51"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	if !a.Balance.Equal(decimal.RequireFromString("69.50")) {
		t.Errorf("balance changed on failed debit: %s", a.Balance)
	}
}

func TestAccount_Credit(t *testing.T) {
	a := NewAccount(uuid.New(), decimal.Zero, time.Now())

	if err := a.Credit(decimal.RequireFromString("0.01")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Balance.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("expected 0.01, got %s", a.Balance)
	}

	if err := a.Credit(decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if err := a.Credit(decimal.NewFromInt(-5)); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestAccount_Inactive(t *testing.T) {
	a := NewAccount(uuid.New(), decimal.NewFromInt(10), time.Now())
	a.Active = false

	if err := a.Debit(decimal.NewFromInt(1)); !errors.Is(err, ErrAccountInactive) {
		t.Errorf("expected ErrAccountInactive on debit, got %v", err)
	}
	if err := a.Credit(decimal.NewFromInt(1)); !errors.Is(err, ErrAccountInactive) {
		t.Errorf("expected ErrAccountInactive on credit, got %v", err)
	}
}
