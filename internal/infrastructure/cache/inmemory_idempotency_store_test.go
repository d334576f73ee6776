package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	t.Run("first mark wins", func(t *testing.T) {
		isNew, err := store.MarkProcessed(ctx, "1700000000000-0", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew)

		isNew, err = store.MarkProcessed(ctx, "1700000000000-0", time.Hour)
		require.NoError(t, err)
		assert.False(t, isNew, "a redelivered message must be inert")
	})

	t.Run("expired record can be marked again", func(t *testing.T) {
		now := time.Now()
		store.now = func() time.Time { return now }
		defer func() { store.now = time.Now }()

		_, err := store.MarkProcessed(ctx, "expiring", time.Minute)
		require.NoError(t, err)

		now = now.Add(2 * time.Minute)
		isNew, err := store.MarkProcessed(ctx, "expiring", time.Minute)
		require.NoError(t, err)
		assert.True(t, isNew)
	})
}

func TestInMemoryIdempotencyStore_IsProcessedAndForget(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	processed, err := store.IsProcessed(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.MarkProcessed(ctx, "msg", time.Hour)
	require.NoError(t, err)
	processed, err = store.IsProcessed(ctx, "msg")
	require.NoError(t, err)
	assert.True(t, processed)

	require.NoError(t, store.Forget(ctx, "msg"))
	processed, err = store.IsProcessed(ctx, "msg")
	require.NoError(t, err)
	assert.False(t, processed)

	isNew, err := store.MarkProcessed(ctx, "msg", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew, "a forgotten message is handled again")
}

func TestInMemoryIdempotencyStore_Sweep(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	_, _ = store.MarkProcessed(ctx, "short-1", time.Millisecond)
	_, _ = store.MarkProcessed(ctx, "short-2", time.Millisecond)
	_, _ = store.MarkProcessed(ctx, "long", time.Hour)
	assert.Equal(t, 3, store.Size())

	now = now.Add(time.Second)
	store.sweep()
	assert.Equal(t, 1, store.Size())

	processed, err := store.IsProcessed(ctx, "long")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestInMemoryIdempotencyStore_ConcurrentMark(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	const workers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			isNew, err := store.MarkProcessed(ctx, "same-message", time.Hour)
			if err == nil && isNew {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestInMemoryIdempotencyStore_CloseTwice(t *testing.T) {
	store := newInMemoryIdempotencyStore(time.Millisecond)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
