package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shaiso/Wallet/internal/domain"
	"github.com/shaiso/Wallet/internal/repo"
	"github.com/shaiso/Wallet/internal/saga"
	"github.com/shaiso/Wallet/internal/telemetry"
	"github.com/shopspring/decimal"
)

// MaxAmountScale — максимальное число знаков после запятой в сумме.
const MaxAmountScale = 2

// metaIdempotencyKey — ключ клиента в метаданных контекста саги.
const metaIdempotencyKey = "idempotencyKey"

var (
	// ErrValidation — некорректный запрос на перевод.
	ErrValidation = errors.New("invalid transfer request")

	// ErrTransferNotFound — перевод не найден.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrIdempotencyMismatch — ключ уже использован для другого перевода.
	ErrIdempotencyMismatch = fmt.Errorf("%w: idempotency key reused with different parameters", repo.ErrAlreadyExists)
)

// Request — запрос на перевод между счетами.
type Request struct {
	SourceAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	Amount               decimal.Decimal
	Description          string

	// IdempotencyKey — необязательный ключ клиента.
	// Повторный запрос с тем же ключом возвращает существующий перевод.
	IdempotencyKey string
}

// Validate проверяет запрос до создания саги.
func (r Request) Validate() error {
	switch {
	case r.SourceAccountID == uuid.Nil:
		return fmt.Errorf("%w: source account id is required", ErrValidation)
	case r.DestinationAccountID == uuid.Nil:
		return fmt.Errorf("%w: destination account id is required", ErrValidation)
	case r.SourceAccountID == r.DestinationAccountID:
		return fmt.Errorf("%w: source and destination accounts must differ", ErrValidation)
	case !r.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	case !r.Amount.Equal(r.Amount.Truncate(MaxAmountScale)):
		return fmt.Errorf("%w: amount has more than %d decimal places", ErrValidation, MaxAmountScale)
	}
	return nil
}

// sameTransfer проверяет, что повтор запроса описывает тот же перевод.
func (r Request) sameTransfer(t *domain.Transfer) bool {
	return r.SourceAccountID == t.SourceAccountID &&
		r.DestinationAccountID == t.DestinationAccountID &&
		r.Amount.Equal(t.Amount)
}

// Workflow проводит перевод через сагу TRANSFER.
//
// Перевод и сага создаются в одной транзакции, затем шаги
// выполняются по порядку. Первый неудачный шаг запускает
// компенсацию. Итог саги переносится в статус перевода.
type Workflow struct {
	store  repo.UnitOfWork
	orch   *saga.Orchestrator
	now    func() time.Time
	logger *slog.Logger
}

// Config — конфигурация Workflow.
type Config struct {
	Store        repo.UnitOfWork
	Orchestrator *saga.Orchestrator
	Now          func() time.Time
	Logger       *slog.Logger
}

// New создаёт Workflow.
func New(cfg Config) *Workflow {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		store:  cfg.Store,
		orch:   cfg.Orchestrator,
		now:    now,
		logger: logger,
	}
}

// InitiateTransfer создаёт перевод и проводит его сагу до финала.
//
// Бизнес-отказ (нет средств, нет счёта) не считается ошибкой:
// перевод возвращается со статусом FAILED. Ошибка возвращается,
// если не удалось сохранить состояние; тогда вместе с ней
// возвращается перевод (если он успел появиться), а сагу
// доведёт recovery.
func (w *Workflow) InitiateTransfer(ctx context.Context, req Request) (*domain.Transfer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := w.findByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return w.replay(req, existing)
		}
	}

	t, err := w.begin(ctx, req)
	if errors.Is(err, repo.ErrAlreadyExists) && req.IdempotencyKey != "" {
		// Параллельный запрос с тем же ключом успел первым
		existing, ferr := w.findByIdempotencyKey(ctx, req.IdempotencyKey)
		if ferr != nil {
			return nil, ferr
		}
		if existing != nil {
			return w.replay(req, existing)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: start transfer: %w", saga.ErrPersistence, err)
	}

	logger := telemetry.WithTransferID(telemetry.WithSagaID(w.logger, t.SagaInstanceID.String()), t.ID.String())
	logger.Info("transfer started",
		"source_account_id", t.SourceAccountID,
		"destination_account_id", t.DestinationAccountID,
		"amount", t.Amount.String(),
	)

	runErr := w.drive(ctx, t.SagaInstanceID)
	if runErr != nil {
		logger.Error("transfer saga interrupted", "error", runErr)
	}

	inst, err := w.orch.GetSagaInstance(ctx, t.SagaInstanceID)
	if err != nil {
		return t, errors.Join(runErr, err)
	}
	if err := w.Reconcile(ctx, inst); err != nil {
		return t, errors.Join(runErr, err)
	}

	final, err := w.GetTransfer(ctx, t.ID)
	if err != nil {
		return t, errors.Join(runErr, err)
	}
	logger.Info("transfer finished", "status", final.Status, "saga_status", inst.Status)
	return final, runErr
}

// replay возвращает перевод, созданный раньше с тем же ключом.
func (w *Workflow) replay(req Request, existing *domain.Transfer) (*domain.Transfer, error) {
	if !req.sameTransfer(existing) {
		w.logger.Warn("idempotency key reused with different parameters",
			"transfer_id", existing.ID,
			"idempotency_key", req.IdempotencyKey,
		)
		return nil, fmt.Errorf("%w: key %q belongs to transfer %s", ErrIdempotencyMismatch, req.IdempotencyKey, existing.ID)
	}
	w.logger.Info("transfer replayed by idempotency key",
		"transfer_id", existing.ID,
		"idempotency_key", req.IdempotencyKey,
	)
	return existing, nil
}

// begin атомарно создаёт сагу и бизнес-запись PENDING.
func (w *Workflow) begin(ctx context.Context, req Request) (*domain.Transfer, error) {
	now := w.now().UTC()
	t := &domain.Transfer{
		ID:                   uuid.New(),
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		Description:          req.Description,
		Type:                 domain.TransferTypeTransfer,
		Status:               domain.TransferStatusPending,
		IdempotencyKey:       req.IdempotencyKey,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	sc := saga.NewContext(SagaType)
	saga.Put(sc, KeySourceAccountID, req.SourceAccountID)
	saga.Put(sc, KeyDestinationAccountID, req.DestinationAccountID)
	saga.Put(sc, KeyAmount, req.Amount)
	saga.Put(sc, KeyDescription, req.Description)
	saga.Put(sc, KeyTransactionType, domain.TransferTypeTransfer)
	saga.Put(sc, KeyTransferID, t.ID)
	saga.Put(sc, KeyNewStatus, string(domain.TransferStatusSuccess))
	if req.IdempotencyKey != "" {
		saga.PutMeta(sc, metaIdempotencyKey, req.IdempotencyKey)
	}

	err := w.store.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		sagaID, err := w.orch.StartSagaTx(ctx, tx, sc)
		if err != nil {
			return err
		}
		t.SagaInstanceID = sagaID
		return tx.Transfers().Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// drive выполняет шаги саги по порядку и завершает или откатывает её.
func (w *Workflow) drive(ctx context.Context, sagaID uuid.UUID) error {
	steps, err := w.orch.Registry().StepsFor(SagaType)
	if err != nil {
		return err
	}

	for _, step := range steps {
		ok, err := w.orch.ExecuteStep(ctx, sagaID, step.Name(), step.Order())
		switch {
		case errors.Is(err, saga.ErrSagaTerminal), errors.Is(err, saga.ErrSagaCompensating):
			// Сагу уже ведёт recovery
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return err
			}
			if cerr := w.orch.CompensateSaga(ctx, sagaID); cerr != nil {
				return errors.Join(err, cerr)
			}
			return err
		case !ok:
			return w.orch.CompensateSaga(ctx, sagaID)
		}
	}

	return w.orch.CompleteSaga(ctx, sagaID)
}

// Reconcile переносит финальный статус саги в статус перевода.
// Нефинальные саги и саги без перевода пропускаются.
func (w *Workflow) Reconcile(ctx context.Context, inst *domain.SagaInstance) error {
	if inst.SagaType != SagaType {
		return nil
	}
	target, ok := transferStatusFor(inst.Status)
	if !ok {
		return nil
	}

	b := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := w.store.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
			t, err := tx.Transfers().GetBySaga(ctx, inst.ID)
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if t.Status == target {
				return nil
			}

			prev := t.Status
			t.Status = target
			if err := tx.Transfers().Update(ctx, t); err != nil {
				return err
			}
			w.logger.Info("transfer status reconciled",
				"transfer_id", t.ID,
				"saga_id", inst.ID,
				"from", prev,
				"to", target,
			)
			return nil
		})
		if err != nil && repo.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func transferStatusFor(s domain.SagaStatus) (domain.TransferStatus, bool) {
	switch s {
	case domain.SagaStatusCompleted:
		return domain.TransferStatusSuccess, true
	case domain.SagaStatusCompensated, domain.SagaStatusFailed:
		return domain.TransferStatusFailed, true
	default:
		return "", false
	}
}

// GetTransfer возвращает перевод по ID.
func (w *Workflow) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	var t *domain.Transfer
	err := w.store.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		t, err = tx.Transfers().Get(ctx, id)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTransferNotFound, id)
	}
	return t, err
}

// GetTransferBySaga возвращает перевод, который исполняет сага.
func (w *Workflow) GetTransferBySaga(ctx context.Context, sagaID uuid.UUID) (*domain.Transfer, error) {
	var t *domain.Transfer
	err := w.store.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		t, err = tx.Transfers().GetBySaga(ctx, sagaID)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: saga %s", ErrTransferNotFound, sagaID)
	}
	return t, err
}

// ListTransfers возвращает переводы по фильтру.
// Неизвестный статус в фильтре — ErrValidation.
func (w *Workflow) ListTransfers(ctx context.Context, filter repo.TransferFilter) ([]domain.Transfer, error) {
	if _, ok := domain.ParseTransferStatus(string(filter.Status)); filter.Status != "" && !ok {
		return nil, fmt.Errorf("%w: unknown transfer status %q", ErrValidation, filter.Status)
	}
	var transfers []domain.Transfer
	err := w.store.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		transfers, err = tx.Transfers().List(ctx, filter)
		return err
	})
	return transfers, err
}

func (w *Workflow) findByIdempotencyKey(ctx context.Context, key string) (*domain.Transfer, error) {
	var t *domain.Transfer
	err := w.store.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		t, err = tx.Transfers().GetByIdempotencyKey(ctx, key)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return t, err
}

// GetAccount возвращает счёт по ID.
func (w *Workflow) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var acc *domain.Account
	err := w.store.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		acc, err = tx.Accounts().Get(ctx, id)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	return acc, err
}

// OpenAccount создаёт активный счёт с начальным балансом.
func (w *Workflow) OpenAccount(ctx context.Context, userID uuid.UUID, initial decimal.Decimal) (*domain.Account, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if initial.IsNegative() {
		return nil, fmt.Errorf("%w: initial balance must not be negative", ErrValidation)
	}

	acc := domain.NewAccount(userID, initial, w.now().UTC())
	err := w.store.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		return tx.Accounts().Create(ctx, acc)
	})
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	w.logger.Info("account opened", "account_id", acc.ID, "user_id", userID)
	return acc, nil
}
