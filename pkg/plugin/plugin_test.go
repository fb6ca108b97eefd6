package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncExecute(t *testing.T) {
	p := New(domain.PluginMetadata{ID: "test.upper"}, func(_ context.Context, in, _ map[string]any) (map[string]any, error) {
		return map[string]any{"out": in["in"]}, nil
	})

	assert.Equal(t, "test.upper", p.Metadata().ID)
	out, err := p.Execute(context.Background(), map[string]any{"in": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", out["out"])

	_, ok := Plugin(p).(Fallbacker)
	assert.False(t, ok, "plain Func must not declare a fallback")
}

func TestWithFallback(t *testing.T) {
	boom := errors.New("boom")
	base := New(domain.PluginMetadata{ID: "test.flaky"}, func(context.Context, map[string]any, map[string]any) (map[string]any, error) {
		return nil, boom
	})
	p := WithFallback(base, func(_ context.Context, _, _ map[string]any, cause error) (map[string]any, error) {
		return map[string]any{"out": cause.Error()}, nil
	})

	fb, ok := p.(Fallbacker)
	require.True(t, ok)

	_, err := p.Execute(context.Background(), nil, nil)
	require.ErrorIs(t, err, boom)

	out, err := fb.Fallback(context.Background(), nil, nil, err)
	require.NoError(t, err)
	assert.Equal(t, "boom", out["out"])
	assert.Equal(t, "test.flaky", p.Metadata().ID)
}
