package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	ttl := 72 * time.Hour

	t.Run("mark uses SET NX with the TTL", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		store := NewRedisIdempotencyStore(client, "")

		mock.ExpectSetNX(DefaultIdempotencyPrefix+"1-0", "1", ttl).SetVal(true)
		mock.ExpectSetNX(DefaultIdempotencyPrefix+"1-0", "1", ttl).SetVal(false)

		isNew, err := store.MarkProcessed(ctx, "1-0", ttl)
		require.NoError(t, err)
		assert.True(t, isNew)

		isNew, err = store.MarkProcessed(ctx, "1-0", ttl)
		require.NoError(t, err)
		assert.False(t, isNew)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("is processed and forget", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		store := NewRedisIdempotencyStore(client, "test:")

		mock.ExpectExists("test:2-0").SetVal(1)
		mock.ExpectDel("test:2-0").SetVal(1)
		mock.ExpectExists("test:2-0").SetVal(0)

		processed, err := store.IsProcessed(ctx, "2-0")
		require.NoError(t, err)
		assert.True(t, processed)

		require.NoError(t, store.Forget(ctx, "2-0"))

		processed, err = store.IsProcessed(ctx, "2-0")
		require.NoError(t, err)
		assert.False(t, processed)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis errors are returned", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		store := NewRedisIdempotencyStore(client, "")

		mock.ExpectSetNX(DefaultIdempotencyPrefix+"3-0", "1", ttl).SetErr(errors.New("connection refused"))

		_, err := store.MarkProcessed(ctx, "3-0", ttl)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}
