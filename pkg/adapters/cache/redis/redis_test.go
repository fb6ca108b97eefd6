package redis

import (
	"context"
	"testing"
	"time"

	"github.com/aescanero/dagflow/pkg/ports"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ ports.ResultCache = (*ResultCache)(nil)

func newCache(t *testing.T, ttl time.Duration) (*ResultCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewResultCache(client, ttl, zap.NewNop()), mr
}

func TestResultCache_RoundTrip(t *testing.T) {
	c, mr := newCache(t, time.Hour)
	ctx := context.Background()

	_, hit, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, "k", map[string]any{"value": "Hello World", "n": 3}))
	assert.True(t, mr.Exists("dagflow:cache:k"))

	out, hit, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Hello World", out["value"])
	assert.Equal(t, 3.0, out["n"], "numbers decode as float64")

	mr.FastForward(2 * time.Hour)
	_, hit, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit, "entries expire after the ttl")
}

func TestResultCache_Errors(t *testing.T) {
	c, mr := newCache(t, 0)
	ctx := context.Background()

	require.NoError(t, mr.Set("dagflow:cache:bad", "{not json"))
	_, _, err := c.Get(ctx, "bad")
	require.Error(t, err)

	require.Error(t, c.Set(ctx, "chan", map[string]any{"c": make(chan int)}))
}
