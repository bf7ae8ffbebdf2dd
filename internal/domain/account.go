package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency — валюта счёта по умолчанию.
const DefaultCurrency = "USD"

// Бизнес-ошибки счетов. Повтор таких ошибок бессмысленен.
var (
	// ErrInsufficientFunds — на счёте недостаточно средств.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountInactive — счёт деактивирован.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrAccountNotFound — счёт не существует.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAmount — сумма должна быть положительной.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Account — счёт (кошелёк) пользователя во внешнем леджере.
//
// Баланс меняется только под блокировкой строки (SELECT ... FOR UPDATE).
type Account struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Active    bool            `json:"active"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewAccount создаёт активный счёт с начальным балансом.
func NewAccount(userID uuid.UUID, balance decimal.Decimal, now time.Time) *Account {
	return &Account{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  DefaultCurrency,
		Balance:   balance,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Debit списывает сумму со счёта.
func (a *Account) Debit(amount decimal.Decimal) error {
	if err := a.checkMutation(amount); err != nil {
		return err
	}
	if a.Balance.LessThan(amount) {
		return fmt.Errorf("%w: account %s has %s, needs %s",
			ErrInsufficientFunds, a.ID, a.Balance.String(), amount.String())
	}
	a.Balance = a.Balance.Sub(amount)
	return nil
}

// Credit зачисляет сумму на счёт.
func (a *Account) Credit(amount decimal.Decimal) error {
	if err := a.checkMutation(amount); err != nil {
		return err
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

func (a *Account) checkMutation(amount decimal.Decimal) error {
	if !a.Active {
		return fmt.Errorf("%w: %s", ErrAccountInactive, a.ID)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}
	return nil
}
