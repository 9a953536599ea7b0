package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_TakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "reset:abc", "user-1", time.Hour))

	v, err := s.Get(ctx, "reset:abc")
	require.NoError(t, err)
	assert.Equal(t, "user-1", v, "Get does not consume")

	v, err = s.Take(ctx, "reset:abc")
	require.NoError(t, err)
	assert.Equal(t, "user-1", v)

	_, err = s.Take(ctx, "reset:abc")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "k", "v", time.Minute))
	now = now.Add(2 * time.Minute)

	_, err := s.Take(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryStore_Incr(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "fail:bob", 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// ttl runs from the first increment
	now = now.Add(16 * time.Minute)
	n, err := s.Incr(ctx, "fail:bob", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Incr(ctx, "c", time.Minute)
	require.NoError(t, s.Delete(ctx, "c"))
	n, _ := s.Incr(ctx, "c", time.Minute)
	assert.Equal(t, int64(1), n)
}
