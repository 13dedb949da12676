package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	_, err := Get[entry](ctx, m, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, Set(ctx, m, "e:1", entry{Name: "news", Count: 3}, time.Minute))
	got, err := Get[entry](ctx, m, "e:1")
	require.NoError(t, err)
	assert.Equal(t, entry{Name: "news", Count: 3}, got)

	_, err = Get[[]int](ctx, m, "e:1")
	assert.Error(t, err)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	require.NoError(t, m.SetBytes(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	_, err := m.GetBytes(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryInvalidation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	for _, k := range []string{"lives:a", "lives:b", "live:1", "subscriptions:all"} {
		require.NoError(t, m.SetBytes(ctx, k, []byte("x"), 0))
	}

	require.NoError(t, m.DelPattern(ctx, "lives:*"))
	require.NoError(t, m.Del(ctx, "live:1"))

	for _, k := range []string{"lives:a", "lives:b", "live:1"} {
		_, err := m.GetBytes(ctx, k)
		assert.ErrorIs(t, err, ErrMiss, k)
	}
	_, err := m.GetBytes(ctx, "subscriptions:all")
	assert.NoError(t, err)
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	unlock, err := l.TryLock(ctx, "refresh:1", time.Minute)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "refresh:1", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := l.TryLock(ctx, "refresh:2", time.Minute)
	require.NoError(t, err)
	other()

	unlock()
	again, err := l.TryLock(ctx, "refresh:1", time.Minute)
	require.NoError(t, err)
	again()
}
