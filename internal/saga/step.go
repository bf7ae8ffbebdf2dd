package saga

import (
	"context"

	"github.com/shaiso/Wallet/internal/repo"
)

// DefaultStepMaxRetries — число повторов шага после временных ошибок.
const DefaultStepMaxRetries = 3

// StepName — имя шага. Множество имён закрыто: персистентные имена
// разрешаются только через ParseStepName.
type StepName string

const (
	StepDebitSourceAccount       StepName = "DEBIT_SOURCE_ACCOUNT"
	StepCreditDestinationAccount StepName = "CREDIT_DESTINATION_ACCOUNT"
	StepUpdateTransferStatus     StepName = "UPDATE_TRANSFER_STATUS"
)

// String возвращает строковое представление StepName.
func (n StepName) String() string {
	return string(n)
}

// ParseStepName разрешает сохранённое имя шага.
func ParseStepName(s string) (StepName, bool) {
	switch n := StepName(s); n {
	case StepDebitSourceAccount, StepCreditDestinationAccount, StepUpdateTransferStatus:
		return n, true
	default:
		return "", false
	}
}

// Step — шаг саги с компенсирующим действием.
//
// Execute и Compensate выполняются внутри транзакции tx, которую
// открыл оркестратор; все изменения леджера идут через tx.
// Контекст sc можно менять: при успехе изменения сохраняются
// вместе со статусом шага, при ошибке отбрасываются.
//
// Ошибка, для которой repo.IsTransient возвращает true, повторяется
// с backoff. Любая другая ошибка — бизнес-отказ, шаг сразу FAILED.
type Step interface {
	Name() StepName
	Order() int
	MaxRetries() int
	Execute(ctx context.Context, tx repo.Tx, sc *Context) error
	Compensate(ctx context.Context, tx repo.Tx, sc *Context) error
}

// CompensationDescriber — необязательный интерфейс шага
// с человекочитаемым описанием отката.
type CompensationDescriber interface {
	CompensationAction() string
}

// BaseStep содержит общие поля шагов.
// Встраивается в конкретные шаги.
type BaseStep struct {
	StepName     StepName
	StepOrder    int
	Retries      int
	Compensation string
}

// Name возвращает имя шага.
func (b BaseStep) Name() StepName { return b.StepName }

// Order возвращает порядковый номер шага.
func (b BaseStep) Order() int { return b.StepOrder }

// MaxRetries возвращает лимит повторов (по умолчанию 3).
func (b BaseStep) MaxRetries() int {
	if b.Retries <= 0 {
		return DefaultStepMaxRetries
	}
	return b.Retries
}

// CompensationAction возвращает описание отката.
func (b BaseStep) CompensationAction() string { return b.Compensation }
