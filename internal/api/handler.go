package api

import (
	"log/slog"

	"github.com/shaiso/Wallet/internal/saga"
	"github.com/shaiso/Wallet/internal/transfer"
)

// Handler — обработчик API с зависимостями.
type Handler struct {
	transfers *transfer.Workflow
	sagas     *saga.Orchestrator
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Transfers    *transfer.Workflow
	Orchestrator *saga.Orchestrator
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		transfers: cfg.Transfers,
		sagas:     cfg.Orchestrator,
		logger:    logger,
	}
}
