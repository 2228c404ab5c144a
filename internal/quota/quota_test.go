package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConsumeUntilExhausted(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(2)

	left, err := q.Consume(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	left, err = q.Consume(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	_, err = q.Consume(ctx, "u1")
	assert.ErrorIs(t, err, ErrExhausted)

	rem, _ := q.Remaining(ctx, "u1")
	assert.Equal(t, 0, rem)

	rem, _ = q.Remaining(ctx, "u2")
	assert.Equal(t, 2, rem)
}

func TestMemoryResetsNextDay(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(1)
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	_, err := q.Consume(ctx, "u1")
	require.NoError(t, err)
	_, err = q.Consume(ctx, "u1")
	assert.ErrorIs(t, err, ErrExhausted)

	now = now.Add(2 * time.Minute)
	_, err = q.Consume(ctx, "u1")
	assert.NoError(t, err)
}

func TestMemoryConcurrentConsumeNeverOverspends(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(3)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := q.Consume(ctx, "u1"); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, ok)
}
