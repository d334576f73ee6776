package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, id, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) Forget(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) Close() error {
	return nil
}

func TestHandle_IdempotencyStoreFailures(t *testing.T) {
	ctx := context.Background()
	down := errors.New("redis: connection refused")

	t.Run("lookup failure still applies", func(t *testing.T) {
		store := &mockStore{}
		store.On("IsProcessed", mock.Anything, "7-0").Return(false, down)
		store.On("MarkProcessed", mock.Anything, "7-0", 72*time.Hour).Return(true, nil)

		client, rmock := redismock.NewClientMock()
		rmock.ExpectXAck("orders.transitions", "cashbox", "7-0").SetVal(1)
		applier := &fakeApplier{}
		cfg := testConfig()
		cfg.IdempotencyTTL = 72 * time.Hour
		consumer := NewTransitionConsumer(client, applier, store, cfg, nil)

		assert.True(t, consumer.Handle(ctx, message("7-0", deliveredPayload)))
		assert.Equal(t, 1, applier.count())
		store.AssertExpectations(t)
		require.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("failure to record still acknowledges", func(t *testing.T) {
		store := &mockStore{}
		store.On("IsProcessed", mock.Anything, "8-0").Return(false, nil)
		store.On("MarkProcessed", mock.Anything, "8-0", mock.AnythingOfType("time.Duration")).Return(false, down)

		client, rmock := redismock.NewClientMock()
		rmock.ExpectXAck("orders.transitions", "cashbox", "8-0").SetVal(1)
		applier := &fakeApplier{}
		consumer := NewTransitionConsumer(client, applier, store, testConfig(), nil)

		assert.True(t, consumer.Handle(ctx, message("8-0", deliveredPayload)))
		assert.Equal(t, 1, applier.count())
		store.AssertExpectations(t)
		require.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("failed apply is not recorded", func(t *testing.T) {
		store := &mockStore{}
		store.On("IsProcessed", mock.Anything, "9-0").Return(false, nil)

		client, rmock := redismock.NewClientMock()
		consumer := NewTransitionConsumer(client, &fakeApplier{err: down}, store, testConfig(), nil)

		assert.False(t, consumer.Handle(ctx, message("9-0", deliveredPayload)))
		store.AssertNotCalled(t, "MarkProcessed", mock.Anything, "9-0", mock.Anything)
		require.NoError(t, rmock.ExpectationsWereMet())
	})
}
