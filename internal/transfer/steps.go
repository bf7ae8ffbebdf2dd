package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Wallet/internal/domain"
	"github.com/shaiso/Wallet/internal/repo"
	"github.com/shaiso/Wallet/internal/saga"
	"github.com/shopspring/decimal"
)

// SagaType — тип саги перевода.
const SagaType = "TRANSFER"

// Ключи контекста саги перевода.
const (
	KeySourceAccountID      = "sourceAccountId"
	KeyDestinationAccountID = "destinationAccountId"
	KeyAmount               = "amount"
	KeyDescription          = "description"
	KeyTransactionType      = "transactionType"
	KeyTransferID           = "transferId"
	KeyNewStatus            = "newStatus"

	KeySourceBalanceBefore      = "sourceBalanceBeforeDebit"
	KeySourceBalanceAfter       = "sourceBalanceAfterDebit"
	KeyDestinationBalanceBefore = "destinationBalanceBeforeCredit"
	KeyDestinationBalanceAfter  = "destinationBalanceAfterCredit"
	KeyTransferStatusBefore     = "transferStatusBefore"
	KeyTransferStatusAfter      = "transferStatusAfter"
)

// ErrMissingContext — в контексте саги нет обязательного значения.
var ErrMissingContext = errors.New("missing saga context value")

// NewRegistry создаёт реестр с шагами перевода и описанием саги TRANSFER.
func NewRegistry() (*saga.Registry, error) {
	r := saga.NewRegistry()
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Register добавляет шаги перевода в реестр.
func Register(r *saga.Registry) error {
	r.Register(NewDebitSourceStep())
	r.Register(NewCreditDestinationStep())
	r.Register(NewUpdateTransferStatusStep())
	return r.Define(SagaType,
		saga.StepDebitSourceAccount,
		saga.StepCreditDestinationAccount,
		saga.StepUpdateTransferStatus,
	)
}

// --- DEBIT_SOURCE_ACCOUNT ---

// DebitSourceStep списывает сумму со счёта-источника.
type DebitSourceStep struct {
	saga.BaseStep
}

// NewDebitSourceStep создаёт шаг списания.
func NewDebitSourceStep() *DebitSourceStep {
	return &DebitSourceStep{BaseStep: saga.BaseStep{
		StepName:     saga.StepDebitSourceAccount,
		StepOrder:    1,
		Compensation: "credit amount back to source account",
	}}
}

// Execute блокирует счёт и списывает сумму.
func (s *DebitSourceStep) Execute(ctx context.Context, tx repo.Tx, sc *saga.Context) error {
	accountID, amount, err := accountAndAmount(sc, KeySourceAccountID)
	if err != nil {
		return err
	}

	acc, err := lockAccount(ctx, tx, accountID, "source")
	if err != nil {
		return err
	}

	before := acc.Balance
	if err := acc.Debit(amount); err != nil {
		return err
	}
	if err := tx.Accounts().Save(ctx, acc); err != nil {
		return fmt.Errorf("save source account: %w", err)
	}

	saga.Put(sc, KeySourceBalanceBefore, before)
	saga.Put(sc, KeySourceBalanceAfter, acc.Balance)
	return nil
}

// Compensate возвращает сумму на счёт-источник.
func (s *DebitSourceStep) Compensate(ctx context.Context, tx repo.Tx, sc *saga.Context) error {
	accountID, amount, err := accountAndAmount(sc, KeySourceAccountID)
	if err != nil {
		return err
	}

	acc, err := lockAccount(ctx, tx, accountID, "source")
	if err != nil {
		return err
	}
	if err := acc.Credit(amount); err != nil {
		return err
	}
	if err := tx.Accounts().Save(ctx, acc); err != nil {
		return fmt.Errorf("save source account: %w", err)
	}

	saga.Put(sc, KeySourceBalanceAfter, acc.Balance)
	return nil
}

// --- CREDIT_DESTINATION_ACCOUNT ---

// CreditDestinationStep зачисляет сумму на счёт-получатель.
type CreditDestinationStep struct {
	saga.BaseStep
}

// NewCreditDestinationStep создаёт шаг зачисления.
func NewCreditDestinationStep() *CreditDestinationStep {
	return &CreditDestinationStep{BaseStep: saga.BaseStep{
		StepName:     saga.StepCreditDestinationAccount,
		StepOrder:    2,
		Compensation: "debit amount from destination account",
	}}
}

// Execute блокирует счёт-получатель и зачисляет сумму.
func (s *CreditDestinationStep) Execute(ctx context.Context, tx repo.Tx, sc *saga.Context) error {
	accountID, amount, err := accountAndAmount(sc, KeyDestinationAccountID)
	if err != nil {
		return err
	}

	acc, err := lockAccount(ctx, tx, accountID, "destination")
	if err != nil {
		return err
	}

	before := acc.Balance
	if err := acc.Credit(amount); err != nil {
		return err
	}
	if err := tx.Accounts().Save(ctx, acc); err != nil {
		return fmt.Errorf("save destination account: %w", err)
	}

	saga.Put(sc, KeyDestinationBalanceBefore, before)
	saga.Put(sc, KeyDestinationBalanceAfter, acc.Balance)
	return nil
}

// Compensate списывает зачисленную сумму обратно.
func (s *CreditDestinationStep) Compensate(ctx context.Context, tx repo.Tx, sc *saga.Context) error {
	accountID, amount, err := accountAndAmount(sc, KeyDestinationAccountID)
	if err != nil {
		return err
	}

	acc, err := lockAccount(ctx, tx, accountID, "destination")
	if err != nil {
		return err
	}
	if err := acc.Debit(amount); err != nil {
		return err
	}
	if err := tx.Accounts().Save(ctx, acc); err != nil {
		return fmt.Errorf("save destination account: %w", err)
	}

	saga.Put(sc, KeyDestinationBalanceAfter, acc.Balance)
	return nil
}

// --- UPDATE_TRANSFER_STATUS ---

// UpdateTransferStatusStep переводит бизнес-запись в newStatus.
type UpdateTransferStatusStep struct {
	saga.BaseStep
}

// NewUpdateTransferStatusStep создаёт шаг обновления статуса.
func NewUpdateTransferStatusStep() *UpdateTransferStatusStep {
	return &UpdateTransferStatusStep{BaseStep: saga.BaseStep{
		StepName:     saga.StepUpdateTransferStatus,
		StepOrder:    3,
		Compensation: "restore previous transfer status",
	}}
}

// Execute выставляет статус перевода.
func (s *UpdateTransferStatusStep) Execute(ctx context.Context, tx repo.Tx, sc *saga.Context) error {
	t, err := loadTransfer(ctx, tx, sc)
	if err != nil {
		return err
	}

	next := domain.TransferStatusSuccess
	if raw, ok := saga.Get[string](sc, KeyNewStatus); ok {
		parsed, ok := domain.ParseTransferStatus(raw)
		if !ok {
			return fmt.Errorf("%w: invalid %s %q", ErrMissingContext, KeyNewStatus, raw)
		}
		next = parsed
	}

	before := t.Status
	t.Status = next
	if err := tx.Transfers().Update(ctx, t); err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}

	saga.Put(sc, KeyTransferStatusBefore, string(before))
	saga.Put(sc, KeyTransferStatusAfter, string(next))
	return nil
}

// Compensate восстанавливает статус, который был до шага.
func (s *UpdateTransferStatusStep) Compensate(ctx context.Context, tx repo.Tx, sc *saga.Context) error {
	t, err := loadTransfer(ctx, tx, sc)
	if err != nil {
		return err
	}

	prev := domain.TransferStatusPending
	if raw, ok := saga.Get[string](sc, KeyTransferStatusBefore); ok {
		if parsed, ok := domain.ParseTransferStatus(raw); ok {
			prev = parsed
		}
	}

	t.Status = prev
	if err := tx.Transfers().Update(ctx, t); err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}

	saga.Put(sc, KeyTransferStatusAfter, string(prev))
	return nil
}

// --- Helpers ---

func accountAndAmount(sc *saga.Context, key string) (uuid.UUID, decimal.Decimal, error) {
	id, ok := saga.Get[uuid.UUID](sc, key)
	if !ok {
		return uuid.Nil, decimal.Zero, fmt.Errorf("%w: %s", ErrMissingContext, key)
	}
	amount, ok := saga.Get[decimal.Decimal](sc, KeyAmount)
	if !ok {
		return uuid.Nil, decimal.Zero, fmt.Errorf("%w: %s", ErrMissingContext, KeyAmount)
	}
	return id, amount, nil
}

// lockAccount берёт блокировку строки счёта до конца транзакции.
// Отсутствие счёта — ErrAccountNotFound, который оборачивает repo.ErrNotFound.
func lockAccount(ctx context.Context, tx repo.Tx, id uuid.UUID, role string) (*domain.Account, error) {
	acc, err := tx.Accounts().GetForUpdate(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrAccountNotFound, role, id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s account: %w", role, err)
	}
	return acc, nil
}

func loadTransfer(ctx context.Context, tx repo.Tx, sc *saga.Context) (*domain.Transfer, error) {
	id, ok := saga.Get[uuid.UUID](sc, KeyTransferID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingContext, KeyTransferID)
	}
	t, err := tx.Transfers().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transfer %s: %w", id, err)
	}
	return t, nil
}
