package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferTypeTransfer — перевод между счетами.
const TransferTypeTransfer = "TRANSFER"

// Transfer — бизнес-запись о переводе.
//
// Создаётся в статусе PENDING в одной транзакции с сагой и
// переводится в SUCCESS или FAILED по итогам саги.
type Transfer struct {
	ID                   uuid.UUID       `json:"id"`
	SourceAccountID      uuid.UUID       `json:"source_account_id"`
	DestinationAccountID uuid.UUID       `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Description          string          `json:"description,omitempty"`
	Type                 string          `json:"type"`
	Status               TransferStatus  `json:"status"`

	// SagaInstanceID — сага, которая исполняет перевод.
	SagaInstanceID uuid.UUID `json:"saga_instance_id"`

	// IdempotencyKey — ключ клиента для защиты от повторной отправки.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
