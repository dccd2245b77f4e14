package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLExpiresEntries(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewTTL[string](30 * time.Second)
	c.now = func() time.Time { return now }

	c.Set("p1", "working")
	v, ok := c.Get("p1")
	require.True(t, ok)
	require.Equal(t, "working", v)

	now = now.Add(30 * time.Second)
	_, ok = c.Get("p1")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestGetOrLoadCachesSuccessOnly(t *testing.T) {
	c := NewTTL[int](time.Minute)
	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("boom")
		}
		return calls, nil
	}

	_, err := c.GetOrLoad(context.Background(), "k", load)
	require.Error(t, err)

	v, err := c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	require.Equal(t, 2, v)

	v, err = c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.Equal(t, 2, calls)
}

func TestInvalidateDropsEntry(t *testing.T) {
	c := NewTTL[int](time.Minute)
	c.Set("k", 1)

	var inv Invalidator = Multi{c, NoopInvalidator{}}
	require.NoError(t, inv.Invalidate(context.Background(), "k"))

	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestGetOrLoadDropsResultInvalidatedDuringLoad(t *testing.T) {
	ctx := context.Background()
	c := NewTTL[string](time.Minute)

	v, err := c.GetOrLoad(ctx, "p1", func(ctx context.Context) (string, error) {
		require.NoError(t, c.Invalidate(ctx, "p1"))
		return "working", nil
	})
	require.NoError(t, err)
	require.Equal(t, "working", v, "the caller still gets what it loaded")

	_, ok := c.Get("p1")
	require.False(t, ok, "a snapshot read before the mutation is not cached")

	v, err = c.GetOrLoad(ctx, "p1", func(context.Context) (string, error) { return "resting", nil })
	require.NoError(t, err)
	require.Equal(t, "resting", v)

	cached, ok := c.Get("p1")
	require.True(t, ok)
	require.Equal(t, "resting", cached)
}
