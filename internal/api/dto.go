package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Wallet/internal/domain"
	"github.com/shopspring/decimal"
)

// Transfer DTOs

// CreateTransferRequest — запрос на перевод.
// Amount принимается и строкой, и числом.
type CreateTransferRequest struct {
	SourceAccountID      uuid.UUID       `json:"source_account_id"`
	DestinationAccountID uuid.UUID       `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Description          string          `json:"description,omitempty"`
	IdempotencyKey       string          `json:"idempotency_key,omitempty"`
}

// TransferResponse — ответ с переводом.
type TransferResponse struct {
	ID                   uuid.UUID `json:"id"`
	SourceAccountID      uuid.UUID `json:"source_account_id"`
	DestinationAccountID uuid.UUID `json:"destination_account_id"`
	Amount               string    `json:"amount"`
	Description          string    `json:"description,omitempty"`
	Type                 string    `json:"type"`
	Status               string    `json:"status"`
	SagaID               uuid.UUID `json:"saga_id"`
	IdempotencyKey       string    `json:"idempotency_key,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TransferFromDomain конвертирует domain.Transfer в TransferResponse.
func TransferFromDomain(t *domain.Transfer) TransferResponse {
	return TransferResponse{
		ID:                   t.ID,
		SourceAccountID:      t.SourceAccountID,
		DestinationAccountID: t.DestinationAccountID,
		Amount:               t.Amount.StringFixed(2),
		Description:          t.Description,
		Type:                 t.Type,
		Status:               string(t.Status),
		SagaID:               t.SagaInstanceID,
		IdempotencyKey:       t.IdempotencyKey,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

// Saga DTOs

// SagaResponse — ответ с сагой.
type SagaResponse struct {
	ID             uuid.UUID       `json:"id"`
	SagaType       string          `json:"saga_type"`
	Status         string          `json:"status"`
	CurrentStep    string          `json:"current_step,omitempty"`
	ErrorDetails   string          `json:"error_details,omitempty"`
	Context        json.RawMessage `json:"context,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	TimeoutMinutes int             `json:"timeout_minutes"`
	ExpiryTime     *time.Time      `json:"expiry_time,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CompensatedAt  *time.Time      `json:"compensated_at,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SagaFromDomain конвертирует domain.SagaInstance в SagaResponse.
func SagaFromDomain(s *domain.SagaInstance) SagaResponse {
	resp := SagaResponse{
		ID:             s.ID,
		SagaType:       s.SagaType,
		Status:         string(s.Status),
		CurrentStep:    s.CurrentStep,
		ErrorDetails:   s.ErrorDetails,
		RetryCount:     s.RetryCount,
		MaxRetries:     s.MaxRetries,
		TimeoutMinutes: s.TimeoutMinutes,
		ExpiryTime:     s.ExpiryTime,
		CompletedAt:    s.CompletedAt,
		CompensatedAt:  s.CompensatedAt,
		Version:        s.Version,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if json.Valid(s.Context) {
		resp.Context = json.RawMessage(s.Context)
	}
	return resp
}

// StepResponse — ответ с записью шага.
type StepResponse struct {
	ID                 uuid.UUID  `json:"id"`
	StepName           string     `json:"step_name"`
	StepOrder          int        `json:"step_order"`
	Status             string     `json:"status"`
	CompensationAction string     `json:"compensation_action,omitempty"`
	RetryCount         int        `json:"retry_count"`
	MaxRetries         int        `json:"max_retries"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// StepFromDomain конвертирует domain.StepRecord в StepResponse.
func StepFromDomain(r domain.StepRecord) StepResponse {
	return StepResponse{
		ID:                 r.ID,
		StepName:           r.StepName,
		StepOrder:          r.StepOrder,
		Status:             string(r.Status),
		CompensationAction: r.CompensationAction,
		RetryCount:         r.RetryCount,
		MaxRetries:         r.MaxRetries,
		ErrorMessage:       r.ErrorMessage,
		StartedAt:          r.StartedAt,
		CompletedAt:        r.CompletedAt,
		CreatedAt:          r.CreatedAt,
	}
}

// DeadLetterResponse — ответ с записью dead-letter.
type DeadLetterResponse struct {
	ID           uuid.UUID `json:"id"`
	SagaID       uuid.UUID `json:"saga_id"`
	SagaType     string    `json:"saga_type"`
	LastStatus   string    `json:"last_status"`
	ErrorDetails string    `json:"error_details,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DeadLetterFromDomain конвертирует domain.DeadLetterRecord в DeadLetterResponse.
func DeadLetterFromDomain(d domain.DeadLetterRecord) DeadLetterResponse {
	return DeadLetterResponse{
		ID:           d.ID,
		SagaID:       d.SagaInstanceID,
		SagaType:     d.SagaType,
		LastStatus:   string(d.LastStatus),
		ErrorDetails: d.ErrorDetails,
		CreatedAt:    d.CreatedAt,
	}
}

// Account DTOs

// OpenAccountRequest — запрос на открытие счёта.
type OpenAccountRequest struct {
	UserID         uuid.UUID       `json:"user_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// AccountResponse — ответ со счётом.
type AccountResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Currency  string    `json:"currency"`
	Balance   string    `json:"balance"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountFromDomain конвертирует domain.Account в AccountResponse.
func AccountFromDomain(a *domain.Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID,
		UserID:    a.UserID,
		Currency:  a.Currency,
		Balance:   a.Balance.StringFixed(2),
		Active:    a.Active,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
