package memstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Wallet/internal/domain"
	"github.com/shaiso/Wallet/internal/repo"
)

// Объекты в memdb неизменяемы: на вход и на выход всегда копии.

// --- Sagas ---

type sagaStore struct{ t *memTx }

func cloneSaga(s *domain.SagaInstance) *domain.SagaInstance {
	c := *s
	c.Context = cloneBytes(s.Context)
	c.ExpiryTime = cloneTime(s.ExpiryTime)
	c.CompletedAt = cloneTime(s.CompletedAt)
	c.CompensatedAt = cloneTime(s.CompensatedAt)
	return &c
}

func (r *sagaStore) Create(_ context.Context, s *domain.SagaInstance) error {
	if _, err := r.t.first(tableSagas, "id", s.ID); err == nil {
		return repo.ErrAlreadyExists
	}
	return r.t.insert(tableSagas, cloneSaga(s))
}

func (r *sagaStore) Get(_ context.Context, id uuid.UUID) (*domain.SagaInstance, error) {
	raw, err := r.t.first(tableSagas, "id", id)
	if err != nil {
		return nil, err
	}
	return cloneSaga(raw.(*domain.SagaInstance)), nil
}

func (r *sagaStore) Update(_ context.Context, s *domain.SagaInstance) error {
	raw, err := r.t.first(tableSagas, "id", s.ID)
	if err != nil {
		return err
	}
	if raw.(*domain.SagaInstance).Version != s.Version {
		return repo.ErrVersionConflict
	}

	next := cloneSaga(s)
	next.Version++
	next.UpdatedAt = r.t.store.clock()
	if err := r.t.insert(tableSagas, next); err != nil {
		return err
	}
	s.Version = next.Version
	s.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *sagaStore) List(_ context.Context, filter repo.SagaFilter) ([]domain.SagaInstance, error) {
	var raws []any
	var err error
	if filter.Status != "" {
		raws, err = r.t.all(tableSagas, "status", string(filter.Status))
	} else {
		raws, err = r.t.all(tableSagas, "id")
	}
	if err != nil {
		return nil, err
	}

	var sagas []domain.SagaInstance
	for _, raw := range raws {
		s := raw.(*domain.SagaInstance)
		if filter.SagaType != "" && s.SagaType != filter.SagaType {
			continue
		}
		sagas = append(sagas, *cloneSaga(s))
	}
	sort.Slice(sagas, func(i, j int) bool {
		return sagas[i].CreatedAt.After(sagas[j].CreatedAt)
	})
	return page(sagas, filter.Limit, filter.Offset), nil
}

func (r *sagaStore) ListStalled(_ context.Context, statuses []domain.SagaStatus, before time.Time, limit int) ([]domain.SagaInstance, error) {
	var sagas []domain.SagaInstance
	for _, st := range statuses {
		raws, err := r.t.all(tableSagas, "status", string(st))
		if err != nil {
			return nil, err
		}
		for _, raw := range raws {
			s := raw.(*domain.SagaInstance)
			if s.UpdatedAt.Before(before) {
				sagas = append(sagas, *cloneSaga(s))
			}
		}
	}
	sort.Slice(sagas, func(i, j int) bool {
		return sagas[i].UpdatedAt.Before(sagas[j].UpdatedAt)
	})
	return page(sagas, limit, 0), nil
}

// --- Steps ---

type stepStore struct{ t *memTx }

func cloneStep(rec *domain.StepRecord) *domain.StepRecord {
	c := *rec
	c.StartedAt = cloneTime(rec.StartedAt)
	c.CompletedAt = cloneTime(rec.CompletedAt)
	return &c
}

func (r *stepStore) Create(_ context.Context, rec *domain.StepRecord) error {
	if _, err := r.t.first(tableSteps, "saga_order", rec.SagaInstanceID, rec.StepOrder); err == nil {
		return repo.ErrAlreadyExists
	}
	return r.t.insert(tableSteps, cloneStep(rec))
}

func (r *stepStore) GetByName(_ context.Context, sagaID uuid.UUID, name string) (*domain.StepRecord, error) {
	raw, err := r.t.first(tableSteps, "saga_name", sagaID, name)
	if err != nil {
		return nil, err
	}
	return cloneStep(raw.(*domain.StepRecord)), nil
}

func (r *stepStore) GetByOrder(_ context.Context, sagaID uuid.UUID, order int) (*domain.StepRecord, error) {
	raw, err := r.t.first(tableSteps, "saga_order", sagaID, order)
	if err != nil {
		return nil, err
	}
	return cloneStep(raw.(*domain.StepRecord)), nil
}

func (r *stepStore) ListBySaga(_ context.Context, sagaID uuid.UUID) ([]domain.StepRecord, error) {
	raws, err := r.t.all(tableSteps, "saga", sagaID)
	if err != nil {
		return nil, err
	}
	steps := make([]domain.StepRecord, 0, len(raws))
	for _, raw := range raws {
		steps = append(steps, *cloneStep(raw.(*domain.StepRecord)))
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StepOrder < steps[j].StepOrder
	})
	return steps, nil
}

func (r *stepStore) Update(_ context.Context, rec *domain.StepRecord) error {
	raw, err := r.t.first(tableSteps, "id", rec.ID)
	if err != nil {
		return err
	}
	if raw.(*domain.StepRecord).Version != rec.Version {
		return repo.ErrVersionConflict
	}
	next := cloneStep(rec)
	next.Version++
	if err := r.t.insert(tableSteps, next); err != nil {
		return err
	}
	rec.Version = next.Version
	return nil
}

// --- Dead letters ---

type deadLetterStore struct{ t *memTx }

func cloneDeadLetter(d *domain.DeadLetterRecord) *domain.DeadLetterRecord {
	c := *d
	c.ContextSnapshot = cloneBytes(d.ContextSnapshot)
	return &c
}

func (r *deadLetterStore) Create(_ context.Context, d *domain.DeadLetterRecord) error {
	if _, err := r.t.first(tableDeadLetters, "saga", d.SagaInstanceID); err == nil {
		return repo.ErrAlreadyExists
	}
	return r.t.insert(tableDeadLetters, cloneDeadLetter(d))
}

func (r *deadLetterStore) GetBySaga(_ context.Context, sagaID uuid.UUID) (*domain.DeadLetterRecord, error) {
	raw, err := r.t.first(tableDeadLetters, "saga", sagaID)
	if err != nil {
		return nil, err
	}
	return cloneDeadLetter(raw.(*domain.DeadLetterRecord)), nil
}

func (r *deadLetterStore) List(_ context.Context, limit, offset int) ([]domain.DeadLetterRecord, error) {
	raws, err := r.t.all(tableDeadLetters, "id")
	if err != nil {
		return nil, err
	}
	records := make([]domain.DeadLetterRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, *cloneDeadLetter(raw.(*domain.DeadLetterRecord)))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return page(records, limit, offset), nil
}

// --- Accounts ---

type accountStore struct{ t *memTx }

func (r *accountStore) Create(_ context.Context, a *domain.Account) error {
	if _, err := r.t.first(tableAccounts, "id", a.ID); err == nil {
		return repo.ErrAlreadyExists
	}
	c := *a
	return r.t.insert(tableAccounts, &c)
}

func (r *accountStore) Get(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	raw, err := r.t.first(tableAccounts, "id", id)
	if err != nil {
		return nil, err
	}
	c := *raw.(*domain.Account)
	return &c, nil
}

// GetForUpdate не отличается от Get: пишущая транзакция memdb единственная.
func (r *accountStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.Get(ctx, id)
}

func (r *accountStore) Save(_ context.Context, a *domain.Account) error {
	raw, err := r.t.first(tableAccounts, "id", a.ID)
	if err != nil {
		return err
	}
	if raw.(*domain.Account).Version != a.Version {
		return repo.ErrVersionConflict
	}
	next := *a
	next.Version++
	next.UpdatedAt = r.t.store.clock()
	if err := r.t.insert(tableAccounts, &next); err != nil {
		return err
	}
	a.Version = next.Version
	a.UpdatedAt = next.UpdatedAt
	return nil
}

// --- Transfers ---

type transferStore struct{ t *memTx }

func (r *transferStore) Create(_ context.Context, tr *domain.Transfer) error {
	if _, err := r.t.first(tableTransfers, "id", tr.ID); err == nil {
		return repo.ErrAlreadyExists
	}
	if tr.IdempotencyKey != "" {
		if _, err := r.t.first(tableTransfers, "idempotency_key", tr.IdempotencyKey); err == nil {
			return repo.ErrAlreadyExists
		}
	}
	c := *tr
	return r.t.insert(tableTransfers, &c)
}

func (r *transferStore) get(index string, arg any) (*domain.Transfer, error) {
	raw, err := r.t.first(tableTransfers, index, arg)
	if err != nil {
		return nil, err
	}
	c := *raw.(*domain.Transfer)
	return &c, nil
}

func (r *transferStore) Get(_ context.Context, id uuid.UUID) (*domain.Transfer, error) {
	return r.get("id", id)
}

func (r *transferStore) GetBySaga(_ context.Context, sagaID uuid.UUID) (*domain.Transfer, error) {
	return r.get("saga", sagaID)
}

func (r *transferStore) GetByIdempotencyKey(_ context.Context, key string) (*domain.Transfer, error) {
	return r.get("idempotency_key", key)
}

func (r *transferStore) List(_ context.Context, filter repo.TransferFilter) ([]domain.Transfer, error) {
	raws, err := r.t.all(tableTransfers, "id")
	if err != nil {
		return nil, err
	}

	var transfers []domain.Transfer
	for _, raw := range raws {
		tr := raw.(*domain.Transfer)
		if filter.Matches(tr) {
			transfers = append(transfers, *tr)
		}
	}
	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].CreatedAt.After(transfers[j].CreatedAt)
	})
	return page(transfers, filter.Limit, filter.Offset), nil
}

func (r *transferStore) Update(_ context.Context, tr *domain.Transfer) error {
	raw, err := r.t.first(tableTransfers, "id", tr.ID)
	if err != nil {
		return err
	}
	if raw.(*domain.Transfer).Version != tr.Version {
		return repo.ErrVersionConflict
	}
	next := *tr
	next.Version++
	next.UpdatedAt = r.t.store.clock()
	if err := r.t.insert(tableTransfers, &next); err != nil {
		return err
	}
	tr.Version = next.Version
	tr.UpdatedAt = next.UpdatedAt
	return nil
}

// --- Idempotency keys ---

type idemKeyStore struct{ t *memTx }

func (r *idemKeyStore) Insert(_ context.Context, k *domain.IdempotencyKey) error {
	if _, err := r.t.first(tableIdemKeys, "id", k.Key); err == nil {
		return repo.ErrAlreadyExists
	}
	c := *k
	return r.t.insert(tableIdemKeys, &c)
}

func (r *idemKeyStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := r.t.first(tableIdemKeys, "id", key)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
