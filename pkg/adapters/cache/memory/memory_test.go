package memory

import (
	"context"
	"testing"

	"github.com/aescanero/dagflow/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.ResultCache = (*ResultCache)(nil)

func TestResultCache(t *testing.T) {
	c := NewResultCache()
	ctx := context.Background()

	_, hit, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)

	in := map[string]any{"value": 1}
	require.NoError(t, c.Set(ctx, "k", in))
	in["value"] = 2

	out, hit, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, out["value"], "stored outputs are isolated from the caller")
	assert.Equal(t, 1, c.Len())
}
