package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	type payload struct {
		Name string `json:"name"`
	}

	var out payload
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrMiss)

	require.NoError(t, c.Set(ctx, "k", payload{Name: "a"}, time.Minute))
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, "a", out.Name)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrMiss)

	require.NoError(t, c.Set(ctx, "k", payload{Name: "b"}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrMiss)
}

func TestMemoryCache_EvictsClosestToExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(WithMaxEntries(2))
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "long", "l", time.Hour))
	require.NoError(t, c.Set(ctx, "short", "s", time.Minute))
	require.NoError(t, c.Set(ctx, "new", "n", time.Hour))

	assert.Equal(t, 2, c.Len())
	var out string
	assert.ErrorIs(t, c.Get(ctx, "short", &out), ErrMiss)
	require.NoError(t, c.Get(ctx, "long", &out))
	assert.Equal(t, "l", out)

	// overwriting an existing key never evicts
	require.NoError(t, c.Set(ctx, "long", "l2", time.Hour))
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", 1, 0))
	now = now.Add(24 * time.Hour)

	var out int
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, 1, out)
}
