package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Wallet/internal/domain"
	"github.com/shaiso/Wallet/internal/repo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithin_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := domain.NewAccount(uuid.New(), decimal.NewFromInt(10), time.Now())

	boom := errors.New("boom")
	err := s.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		require.NoError(t, tx.Accounts().Create(ctx, a))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		_, err := tx.Accounts().Get(ctx, a.ID)
		return err
	})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestWithin_CommitHook(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetCommitHook(func() error { return repo.ErrUnavailable })

	a := domain.NewAccount(uuid.New(), decimal.NewFromInt(10), time.Now())
	err := s.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		return tx.Accounts().Create(ctx, a)
	})
	require.ErrorIs(t, err, repo.ErrUnavailable)

	s.SetCommitHook(nil)
	err = s.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		_, err := tx.Accounts().Get(ctx, a.ID)
		return err
	})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSagaStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	saga := domain.NewSagaInstance("TRANSFER", []byte(`{}`), time.Now())

	require.NoError(t, s.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		return tx.Sagas().Create(ctx, saga)
	}))

	stale := *saga
	saga.Status = domain.SagaStatusRunning
	require.NoError(t, s.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		return tx.Sagas().Update(ctx, saga)
	}))
	assert.Equal(t, int64(1), saga.Version)

	// Обновление по устаревшей версии отклоняется
	stale.Status = domain.SagaStatusCompensated
	err := s.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		return tx.Sagas().Update(ctx, &stale)
	})
	assert.ErrorIs(t, err, repo.ErrVersionConflict)
	assert.True(t, repo.IsTransient(err))
}

func TestSagaStore_ListStalled(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))

	old := domain.NewSagaInstance("TRANSFER", []byte(`{}`), now.Add(-time.Hour))
	fresh := domain.NewSagaInstance("TRANSFER", []byte(`{}`), now)
	done := domain.NewSagaInstance("TRANSFER", []byte(`{}`), now.Add(-time.Hour))
	done.Status = domain.SagaStatusCompleted

	require.NoError(t, s.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		for _, saga := range []*domain.SagaInstance{old, fresh, done} {
			if err := tx.Sagas().Create(ctx, saga); err != nil {
				return err
			}
		}
		return nil
	}))

	var stalled []domain.SagaInstance
	require.NoError(t, s.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		stalled, err = tx.Sagas().ListStalled(ctx,
			[]domain.SagaStatus{domain.SagaStatusStarted, domain.SagaStatusRunning},
			now.Add(-10*time.Minute), 100)
		return err
	}))
	require.Len(t, stalled, 1)
	assert.Equal(t, old.ID, stalled[0].ID)
}

func TestStepStore_UniqueOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	sagaID := uuid.New()

	first := domain.NewStepRecord(sagaID, "DEBIT_SOURCE_ACCOUNT", 1, 3, time.Now())
	second := domain.NewStepRecord(sagaID, "CREDIT_DESTINATION_ACCOUNT", 2, 3, time.Now())
	dup := domain.NewStepRecord(sagaID, "OTHER", 1, 3, time.Now())

	err := s.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		require.NoError(t, tx.Steps().Create(ctx, second))
		require.NoError(t, tx.Steps().Create(ctx, first))
		return tx.Steps().Create(ctx, dup)
	})
	require.ErrorIs(t, err, repo.ErrAlreadyExists)

	require.NoError(t, s.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		if err := tx.Steps().Create(ctx, second); err != nil {
			return err
		}
		return tx.Steps().Create(ctx, first)
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		steps, err := tx.Steps().ListBySaga(ctx, sagaID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, 1, steps[0].StepOrder)
		assert.Equal(t, 2, steps[1].StepOrder)

		byName, err := tx.Steps().GetByName(ctx, sagaID, "CREDIT_DESTINATION_ACCOUNT")
		require.NoError(t, err)
		assert.Equal(t, second.ID, byName.ID)
		return nil
	}))
}

func TestIdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	key := &domain.IdempotencyKey{Key: "exec:1:DEBIT", SagaInstanceID: uuid.New(), StepName: "DEBIT", CreatedAt: time.Now()}

	require.NoError(t, s.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		return tx.IdempotencyKeys().Insert(ctx, key)
	}))

	err := s.Within(ctx, func(ctx context.Context, tx repo.Tx) error {
		return tx.IdempotencyKeys().Insert(ctx, key)
	})
	assert.ErrorIs(t, err, repo.ErrAlreadyExists)

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		ok, err := tx.IdempotencyKeys().Exists(ctx, key.Key)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.IdempotencyKeys().Exists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestView_ReadOnly(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := domain.NewAccount(uuid.New(), decimal.NewFromInt(1), time.Now())

	err := s.View(ctx, func(ctx context.Context, tx repo.Tx) error {
		return tx.Accounts().Create(ctx, a)
	})
	assert.Error(t, err)
}
