package saga

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Wallet/internal/domain"
	"github.com/shaiso/Wallet/internal/repo"
	"github.com/shaiso/Wallet/internal/repo/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// --- Test helpers ---

const testSagaType = "TRANSFER"

// journal записывает порядок вызовов шагов.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type stepFunc func(ctx context.Context, tx repo.Tx, sc *Context) error

type fakeStep struct {
	BaseStep
	journal *journal
	exec    stepFunc
	comp    stepFunc

	mu        sync.Mutex
	execCalls int
	compCalls int
}

func (s *fakeStep) Execute(ctx context.Context, tx repo.Tx, sc *Context) error {
	s.mu.Lock()
	s.execCalls++
	s.mu.Unlock()
	if s.journal != nil {
		s.journal.add("exec:" + s.StepName.String())
	}
	if s.exec != nil {
		return s.exec(ctx, tx, sc)
	}
	return nil
}

func (s *fakeStep) Compensate(ctx context.Context, tx repo.Tx, sc *Context) error {
	s.mu.Lock()
	s.compCalls++
	s.mu.Unlock()
	if s.journal != nil {
		s.journal.add("comp:" + s.StepName.String())
	}
	if s.comp != nil {
		return s.comp(ctx, tx, sc)
	}
	return nil
}

func (s *fakeStep) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execCalls, s.compCalls
}

type harness struct {
	orch    *Orchestrator
	store   *memstore.Store
	journal *journal
	steps   []*fakeStep
}

// newHarness собирает оркестратор с тремя шагами на memstore.
func newHarness(t *testing.T) *harness {
	t.Helper()

	j := &journal{}
	steps := []*fakeStep{
		{BaseStep: BaseStep{StepName: StepDebitSourceAccount, StepOrder: 1, Compensation: "refund"}, journal: j},
		{BaseStep: BaseStep{StepName: StepCreditDestinationAccount, StepOrder: 2}, journal: j},
		{BaseStep: BaseStep{StepName: StepUpdateTransferStatus, StepOrder: 3}, journal: j},
	}

	reg := NewRegistry()
	for _, s := range steps {
		reg.Register(s)
	}
	require.NoError(t, reg.Define(testSagaType,
		StepDebitSourceAccount, StepCreditDestinationAccount, StepUpdateTransferStatus))

	store := memstore.New()
	orch := New(Config{
		Store:     store,
		Registry:  reg,
		RetryBase: time.Millisecond,
		RetryMax:  2 * time.Millisecond,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &harness{orch: orch, store: store, journal: j, steps: steps}
}

func (h *harness) start(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := h.orch.StartSaga(context.Background(), NewContext(testSagaType))
	require.NoError(t, err)
	return id
}

// run выполняет шаги по порядку до первой ошибки.
func (h *harness) run(t *testing.T, id uuid.UUID) bool {
	t.Helper()
	for _, s := range h.steps {
		ok, err := h.orch.ExecuteStep(context.Background(), id, s.Name(), s.Order())
		require.NoError(t, err)
		if !ok {
			return false
		}
	}
	return true
}

func (h *harness) saga(t *testing.T, id uuid.UUID) *domain.SagaInstance {
	t.Helper()
	inst, err := h.orch.GetSagaInstance(context.Background(), id)
	require.NoError(t, err)
	return inst
}

func (h *harness) stepRecord(t *testing.T, id uuid.UUID, name StepName) *domain.StepRecord {
	t.Helper()
	var rec *domain.StepRecord
	require.NoError(t, h.store.View(context.Background(), func(ctx context.Context, tx repo.Tx) error {
		var err error
		rec, err = tx.Steps().GetByName(ctx, id, name.String())
		return err
	}))
	return rec
}

func (h *harness) forceSagaStatus(t *testing.T, id uuid.UUID, status domain.SagaStatus) {
	t.Helper()
	require.NoError(t, h.store.Within(context.Background(), func(ctx context.Context, tx repo.Tx) error {
		inst, err := tx.Sagas().Get(ctx, id)
		if err != nil {
			return err
		}
		inst.Status = status
		return tx.Sagas().Update(ctx, inst)
	}))
}

// --- StartSaga ---

func TestStartSaga(t *testing.T) {
	h := newHarness(t)

	sc := NewContext(testSagaType)
	Put(sc, "description", "rent")

	id, err := h.orch.StartSaga(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, id, sc.SagaInstanceID)

	inst := h.saga(t, id)
	assert.Equal(t, domain.SagaStatusStarted, inst.Status)
	assert.Equal(t, testSagaType, inst.SagaType)
	assert.Equal(t, domain.DefaultSagaMaxRetries, inst.MaxRetries)
	require.NotNil(t, inst.ExpiryTime)

	got, err := h.orch.GetSagaContext(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, got.SagaInstanceID)
	desc, _ := Get[string](got, "description")
	assert.Equal(t, "rent", desc)
}

func TestStartSaga_UnknownType(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.StartSaga(context.Background(), NewContext("REFUND"))
	assert.ErrorIs(t, err, ErrUnknownSagaType)
}

func TestStartSaga_PersistenceFailure(t *testing.T) {
	h := newHarness(t)
	h.store.SetCommitHook(func() error { return repo.ErrUnavailable })

	_, err := h.orch.StartSaga(context.Background(), NewContext(testSagaType))
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestGetSagaInstance_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.GetSagaInstance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSagaNotFound)

	_, err = h.orch.ListSteps(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSagaNotFound)
}

// --- ExecuteStep ---

func TestExecuteStep_HappyPath(t *testing.T) {
	h := newHarness(t)
	h.steps[0].exec = func(_ context.Context, _ repo.Tx, sc *Context) error {
		Put(sc, "debited", true)
		return nil
	}

	id := h.start(t)
	require.True(t, h.run(t, id))
	require.NoError(t, h.orch.CompleteSaga(context.Background(), id))

	inst := h.saga(t, id)
	assert.Equal(t, domain.SagaStatusCompleted, inst.Status)
	assert.NotNil(t, inst.CompletedAt)
	assert.Equal(t, StepUpdateTransferStatus.String(), inst.CurrentStep)

	assert.Equal(t, []string{
		"exec:DEBIT_SOURCE_ACCOUNT",
		"exec:CREDIT_DESTINATION_ACCOUNT",
		"exec:UPDATE_TRANSFER_STATUS",
	}, h.journal.list())

	steps, err := h.orch.ListSteps(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, rec := range steps {
		assert.Equal(t, i+1, rec.StepOrder)
		assert.Equal(t, domain.StepStatusCompleted, rec.Status)
		assert.NotNil(t, rec.StartedAt)
		assert.NotNil(t, rec.CompletedAt)
	}
	assert.Equal(t, "refund", steps[0].CompensationAction)

	sc, err := h.orch.GetSagaContext(context.Background(), id)
	require.NoError(t, err)
	debited, ok := Get[bool](sc, "debited")
	assert.True(t, ok)
	assert.True(t, debited)
}

func TestExecuteStep_TransientRetry(t *testing.T) {
	h := newHarness(t)
	failures := 2
	h.steps[0].exec = func(context.Context, repo.Tx, *Context) error {
		if failures > 0 {
			failures--
			return repo.ErrUnavailable
		}
		return nil
	}

	id := h.start(t)
	ok, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	rec := h.stepRecord(t, id, StepDebitSourceAccount)
	assert.Equal(t, domain.StepStatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)

	execs, _ := h.steps[0].calls()
	assert.Equal(t, 3, execs)
}

func TestExecuteStep_TransientExhausted(t *testing.T) {
	h := newHarness(t)
	h.steps[0].Retries = 2
	h.steps[0].exec = func(context.Context, repo.Tx, *Context) error {
		return repo.ErrLockTimeout
	}

	id := h.start(t)
	ok, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	execs, _ := h.steps[0].calls()
	assert.Equal(t, 3, execs)

	rec := h.stepRecord(t, id, StepDebitSourceAccount)
	assert.Equal(t, domain.StepStatusFailed, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Contains(t, rec.ErrorMessage, "lock timeout")
}

func TestExecuteStep_BusinessErrorNotRetried(t *testing.T) {
	h := newHarness(t)
	h.steps[0].exec = func(_ context.Context, _ repo.Tx, sc *Context) error {
		Put(sc, "partial", true)
		return domain.ErrInsufficientFunds
	}

	id := h.start(t)
	ok, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	execs, _ := h.steps[0].calls()
	assert.Equal(t, 1, execs)

	rec := h.stepRecord(t, id, StepDebitSourceAccount)
	assert.Equal(t, domain.StepStatusFailed, rec.Status)
	assert.Nil(t, rec.CompletedAt)
	assert.Contains(t, rec.ErrorMessage, "insufficient funds")

	// Изменения контекста неудачной попытки не сохраняются
	sc, err := h.orch.GetSagaContext(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, sc.Has("partial"))

	// Повторный вызов не перезапускает шаг
	ok, err = h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	execs, _ = h.steps[0].calls()
	assert.Equal(t, 1, execs)
}

func TestExecuteStep_AlreadyCompleted(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)

	for i := 0; i < 2; i++ {
		ok, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	execs, _ := h.steps[0].calls()
	assert.Equal(t, 1, execs)
}

func TestExecuteStep_InterruptedAfterEffect(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)

	ok, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	require.True(t, ok)

	// Процесс упал между эффектом и записью статуса
	require.NoError(t, h.store.Within(context.Background(), func(ctx context.Context, tx repo.Tx) error {
		rec, err := tx.Steps().GetByName(ctx, id, StepDebitSourceAccount.String())
		if err != nil {
			return err
		}
		rec.Status = domain.StepStatusRunning
		rec.CompletedAt = nil
		return tx.Steps().Update(ctx, rec)
	}))

	ok, err = h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	execs, _ := h.steps[0].calls()
	assert.Equal(t, 1, execs, "effect must not be applied twice")
	assert.Equal(t, domain.StepStatusCompleted, h.stepRecord(t, id, StepDebitSourceAccount).Status)
}

func TestExecuteStep_TerminalSaga(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)
	require.True(t, h.run(t, id))
	require.NoError(t, h.orch.CompleteSaga(context.Background(), id))

	_, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	assert.ErrorIs(t, err, ErrSagaTerminal)

	// Повторное завершение — no-op
	assert.NoError(t, h.orch.CompleteSaga(context.Background(), id))
}

func TestExecuteStep_CompensatingSaga(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)
	h.forceSagaStatus(t, id, domain.SagaStatusCompensating)

	_, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	assert.ErrorIs(t, err, ErrSagaCompensating)
	execs, _ := h.steps[0].calls()
	assert.Zero(t, execs)
}

func TestExecuteStep_Errors(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ExecuteStep(context.Background(), uuid.New(), StepDebitSourceAccount, 1)
	assert.ErrorIs(t, err, ErrSagaNotFound)

	_, err = h.orch.ExecuteStep(context.Background(), uuid.New(), StepName("NOPE"), 1)
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestExecuteStep_PersistenceFailure(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)
	h.store.SetCommitHook(func() error { return repo.ErrUnavailable })

	_, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	assert.ErrorIs(t, err, ErrPersistence)

	h.store.SetCommitHook(nil)
	execs, _ := h.steps[0].calls()
	assert.Zero(t, execs)
	assert.Equal(t, domain.SagaStatusStarted, h.saga(t, id).Status)
}

func TestExecuteStep_CancelledLeavesRunning(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.steps[0].exec = func(context.Context, repo.Tx, *Context) error {
		cancel()
		return repo.ErrUnavailable
	}

	id := h.start(t)
	_, err := h.orch.ExecuteStep(ctx, id, StepDebitSourceAccount, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StepStatusRunning, h.stepRecord(t, id, StepDebitSourceAccount).Status)
	assert.Equal(t, domain.SagaStatusRunning, h.saga(t, id).Status)
}

func TestExecuteStep_ConcurrentCallsApplyOnce(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			ok, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("step reported failure")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	execs, _ := h.steps[0].calls()
	assert.Equal(t, 1, execs)
}

// staleKeysStore прячет ключи с префиксом от Exists, как параллельная
// транзакция, ещё не увидевшая чужой коммит.
type staleKeysStore struct {
	*memstore.Store
	hide string
}

func (s *staleKeysStore) Within(ctx context.Context, fn func(ctx context.Context, tx repo.Tx) error) error {
	return s.Store.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		return fn(ctx, staleKeysTx{Tx: tx, hide: s.hide})
	})
}

type staleKeysTx struct {
	repo.Tx
	hide string
}

func (t staleKeysTx) IdempotencyKeys() repo.IdempotencyKeyStore {
	return staleKeys{IdempotencyKeyStore: t.Tx.IdempotencyKeys(), hide: t.hide}
}

type staleKeys struct {
	repo.IdempotencyKeyStore
	hide string
}

func (k staleKeys) Exists(ctx context.Context, key string) (bool, error) {
	if strings.HasPrefix(key, k.hide) {
		return false, nil
	}
	return k.IdempotencyKeyStore.Exists(ctx, key)
}

// racer — второй оркестратор над тем же хранилищем с устаревшим чтением ключей.
func (h *harness) racer(hide string) *Orchestrator {
	return New(Config{
		Store:     &staleKeysStore{Store: h.store, hide: hide},
		Registry:  h.orch.Registry(),
		RetryBase: time.Millisecond,
		RetryMax:  2 * time.Millisecond,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func (h *harness) setStepStatus(t *testing.T, id uuid.UUID, name StepName, status domain.StepStatus) {
	t.Helper()
	require.NoError(t, h.store.Within(context.Background(), func(ctx context.Context, tx repo.Tx) error {
		rec, err := tx.Steps().GetByName(ctx, id, name.String())
		if err != nil {
			return err
		}
		rec.Status = status
		return tx.Steps().Update(ctx, rec)
	}))
}

func TestExecuteStep_KeyTakenByParallelAttempt(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)

	ok, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	require.True(t, ok)

	// Вторая попытка захватила шаг до коммита первой
	h.setStepStatus(t, id, StepDebitSourceAccount, domain.StepStatusRunning)

	ok, err = h.racer("exec:").ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	execs, _ := h.steps[0].calls()
	assert.Equal(t, 1, execs)
	assert.Equal(t, domain.StepStatusCompleted, h.stepRecord(t, id, StepDebitSourceAccount).Status)
}

func TestCompensateStep_KeyTakenByParallelAttempt(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)

	ok, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	require.True(t, ok)
	h.forceSagaStatus(t, id, domain.SagaStatusCompensating)

	ok, err = h.orch.CompensateStep(context.Background(), id, StepDebitSourceAccount)
	require.NoError(t, err)
	require.True(t, ok)

	// Параллельный sweep захватил откат раньше, чем увидел ключ comp
	h.setStepStatus(t, id, StepDebitSourceAccount, domain.StepStatusRunning)

	racer := h.racer("comp:")
	ok, err = racer.CompensateStep(context.Background(), id, StepDebitSourceAccount)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, racer.CompensateSaga(context.Background(), id))
	assert.Equal(t, domain.SagaStatusCompensated, h.saga(t, id).Status)

	_, comps := h.steps[0].calls()
	assert.Equal(t, 1, comps)

	letters, err := h.orch.ListDeadLetters(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, letters)
}

// --- Compensation ---

func TestCompensateSaga_LIFO(t *testing.T) {
	h := newHarness(t)
	h.steps[2].exec = func(context.Context, repo.Tx, *Context) error {
		return errors.New("transfer record missing")
	}

	id := h.start(t)
	require.False(t, h.run(t, id))
	require.NoError(t, h.orch.CompensateSaga(context.Background(), id))

	assert.Equal(t, []string{
		"exec:DEBIT_SOURCE_ACCOUNT",
		"exec:CREDIT_DESTINATION_ACCOUNT",
		"exec:UPDATE_TRANSFER_STATUS",
		"comp:CREDIT_DESTINATION_ACCOUNT",
		"comp:DEBIT_SOURCE_ACCOUNT",
	}, h.journal.list())

	inst := h.saga(t, id)
	assert.Equal(t, domain.SagaStatusCompensated, inst.Status)
	assert.NotNil(t, inst.CompensatedAt)

	assert.Equal(t, domain.StepStatusCompensated, h.stepRecord(t, id, StepDebitSourceAccount).Status)
	assert.Equal(t, domain.StepStatusCompensated, h.stepRecord(t, id, StepCreditDestinationAccount).Status)
	assert.Equal(t, domain.StepStatusFailed, h.stepRecord(t, id, StepUpdateTransferStatus).Status)
}

func TestCompensateSaga_Idempotent(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)

	ok, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.orch.CompensateSaga(context.Background(), id))
	require.NoError(t, h.orch.CompensateSaga(context.Background(), id))

	// Повторный откат уже откаченного шага после завершения саги
	ok, err = h.orch.CompensateStep(context.Background(), id, StepDebitSourceAccount)
	require.NoError(t, err)
	assert.True(t, ok)

	_, comps := h.steps[0].calls()
	assert.Equal(t, 1, comps)
}

func TestCompensateStep_Twice(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)

	ok, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	require.True(t, ok)
	h.forceSagaStatus(t, id, domain.SagaStatusCompensating)

	for i := 0; i < 2; i++ {
		ok, err = h.orch.CompensateStep(context.Background(), id, StepDebitSourceAccount)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	_, comps := h.steps[0].calls()
	assert.Equal(t, 1, comps)
}

func TestCompensateSaga_NothingToCompensate(t *testing.T) {
	h := newHarness(t)
	h.steps[0].exec = func(context.Context, repo.Tx, *Context) error {
		return domain.ErrInsufficientFunds
	}

	id := h.start(t)
	require.False(t, h.run(t, id))
	require.NoError(t, h.orch.CompensateSaga(context.Background(), id))

	assert.Equal(t, domain.SagaStatusCompensated, h.saga(t, id).Status)
	_, comps := h.steps[0].calls()
	assert.Zero(t, comps)
}

func TestCompensateSaga_StartedWithoutSteps(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)

	require.NoError(t, h.orch.CompensateSaga(context.Background(), id))
	assert.Equal(t, domain.SagaStatusCompensated, h.saga(t, id).Status)
}

func TestCompensateSaga_SkipsUnappliedRunningStep(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)

	ok, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	require.True(t, ok)

	// Шаг 2 захвачен, но эффект не применён (процесс упал)
	ctx, cancel := context.WithCancel(context.Background())
	h.steps[1].exec = func(context.Context, repo.Tx, *Context) error {
		cancel()
		return repo.ErrUnavailable
	}
	_, err = h.orch.ExecuteStep(ctx, id, StepCreditDestinationAccount, 2)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, h.orch.CompensateSaga(context.Background(), id))

	assert.Equal(t, []string{
		"exec:DEBIT_SOURCE_ACCOUNT",
		"exec:CREDIT_DESTINATION_ACCOUNT",
		"comp:DEBIT_SOURCE_ACCOUNT",
	}, h.journal.list())
	assert.Equal(t, domain.StepStatusCompensated, h.stepRecord(t, id, StepCreditDestinationAccount).Status)
	assert.Equal(t, domain.SagaStatusCompensated, h.saga(t, id).Status)
}

func TestCompensateSaga_FailureDeadLetters(t *testing.T) {
	h := newHarness(t)
	h.steps[0].Retries = 1
	h.steps[0].comp = func(context.Context, repo.Tx, *Context) error {
		return repo.ErrUnavailable
	}
	h.steps[2].exec = func(context.Context, repo.Tx, *Context) error {
		return errors.New("boom")
	}

	id := h.start(t)
	require.False(t, h.run(t, id))
	require.NoError(t, h.orch.CompensateSaga(context.Background(), id))

	inst := h.saga(t, id)
	assert.Equal(t, domain.SagaStatusFailed, inst.Status)
	assert.Contains(t, inst.ErrorDetails, "DEBIT_SOURCE_ACCOUNT: compensation:")
	assert.Contains(t, inst.ErrorDetails, "UPDATE_TRANSFER_STATUS: boom")

	_, comps := h.steps[0].calls()
	assert.Equal(t, 2, comps)

	rec := h.stepRecord(t, id, StepDebitSourceAccount)
	assert.True(t, rec.CompensationFailed())

	// Повторные вызовы не создают вторую запись
	require.NoError(t, h.orch.FailSaga(context.Background(), id))
	require.NoError(t, h.orch.CompensateSaga(context.Background(), id))

	letters, err := h.orch.ListDeadLetters(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, id, letters[0].SagaInstanceID)
	assert.Equal(t, domain.SagaStatusCompensating, letters[0].LastStatus)
	assert.Equal(t, inst.ErrorDetails, letters[0].ErrorDetails)
	assert.NotEmpty(t, letters[0].ContextSnapshot)
}

func TestCompensateSaga_ResumeAfterFailedCompensation(t *testing.T) {
	h := newHarness(t)
	h.steps[0].comp = func(context.Context, repo.Tx, *Context) error {
		return errors.New("account closed")
	}

	id := h.start(t)
	ok, err := h.orch.ExecuteStep(context.Background(), id, StepDebitSourceAccount, 1)
	require.NoError(t, err)
	require.True(t, ok)

	// Откат упал, а процесс не успел перевести сагу в FAILED
	h.forceSagaStatus(t, id, domain.SagaStatusCompensating)
	ok, err = h.orch.CompensateStep(context.Background(), id, StepDebitSourceAccount)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, h.orch.CompensateSaga(context.Background(), id))
	assert.Equal(t, domain.SagaStatusFailed, h.saga(t, id).Status)

	_, comps := h.steps[0].calls()
	assert.Equal(t, 1, comps)
}

func TestCompensateSaga_ResumeAfterFailedCompensationOfInterruptedStep(t *testing.T) {
	h := newHarness(t)
	h.steps[1].comp = func(context.Context, repo.Tx, *Context) error {
		return errors.New("destination already spent funds")
	}

	id := h.start(t)
	for _, s := range h.steps[:2] {
		ok, err := h.orch.ExecuteStep(context.Background(), id, s.Name(), s.Order())
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Эффект кредита применён, но процесс упал до записи статуса
	require.NoError(t, h.store.Within(context.Background(), func(ctx context.Context, tx repo.Tx) error {
		rec, err := tx.Steps().GetByName(ctx, id, StepCreditDestinationAccount.String())
		if err != nil {
			return err
		}
		rec.Status = domain.StepStatusRunning
		rec.CompletedAt = nil
		return tx.Steps().Update(ctx, rec)
	}))

	// Откат кредита упал, а сага не успела перейти в FAILED
	h.forceSagaStatus(t, id, domain.SagaStatusCompensating)
	ok, err := h.orch.CompensateStep(context.Background(), id, StepCreditDestinationAccount)
	require.NoError(t, err)
	require.False(t, ok)

	rec := h.stepRecord(t, id, StepCreditDestinationAccount)
	require.Equal(t, domain.StepStatusFailed, rec.Status)
	require.Nil(t, rec.CompletedAt)
	assert.True(t, rec.CompensationFailed())

	require.NoError(t, h.orch.CompensateSaga(context.Background(), id))
	assert.Equal(t, domain.SagaStatusFailed, h.saga(t, id).Status)

	// Дебет не возвращается, пока кредит не откачен
	_, debitComps := h.steps[0].calls()
	assert.Zero(t, debitComps)

	letters, err := h.orch.ListDeadLetters(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, id, letters[0].SagaInstanceID)
}

func TestFailSaga_TerminalNoop(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)
	require.True(t, h.run(t, id))
	require.NoError(t, h.orch.CompleteSaga(context.Background(), id))

	require.NoError(t, h.orch.FailSaga(context.Background(), id))
	assert.Equal(t, domain.SagaStatusCompleted, h.saga(t, id).Status)

	letters, err := h.orch.ListDeadLetters(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, letters)
}

// --- Notifier ---

type recordingNotifier struct {
	mu       sync.Mutex
	finished []domain.SagaStatus
	dead     []uuid.UUID
}

func (n *recordingNotifier) SagaFinished(_ context.Context, s *domain.SagaInstance) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, s.Status)
	return nil
}

func (n *recordingNotifier) SagaDeadLettered(_ context.Context, d *domain.DeadLetterRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dead = append(n.dead, d.SagaInstanceID)
	return errors.New("broker down")
}

func TestNotifier(t *testing.T) {
	h := newHarness(t)
	n := &recordingNotifier{}
	h.orch.notifier = n

	completed := h.start(t)
	require.True(t, h.run(t, completed))
	require.NoError(t, h.orch.CompleteSaga(context.Background(), completed))

	failed := h.start(t)
	require.NoError(t, h.orch.FailSaga(context.Background(), failed))

	assert.Equal(t, []domain.SagaStatus{domain.SagaStatusCompleted, domain.SagaStatusFailed}, n.finished)
	assert.Equal(t, []uuid.UUID{failed}, n.dead)
	assert.Equal(t, domain.SagaStatusFailed, h.saga(t, failed).Status)
}
