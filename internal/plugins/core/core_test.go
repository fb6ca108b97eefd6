package core

import (
	"context"
	"testing"

	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlugins_Ids(t *testing.T) {
	ids := make([]string, 0)
	for _, p := range Plugins() {
		ids = append(ids, p.Metadata().ID)
	}
	assert.Equal(t, []string{BeginID, EndID, ConstantID, LoopID}, ids)
}

func TestBegin(t *testing.T) {
	b := &Begin{}
	cfg := map[string]any{
		"outputs": map[string]any{"name": "string", "count": "integer"},
		"values":  map[string]any{"count": 3},
	}

	_, outputs, err := b.ResolvePorts(cfg)
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, "count", outputs[0].ID)
	assert.Equal(t, "integer", outputs[0].Type)

	out, err := b.Execute(context.Background(), map[string]any{"name": "World"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"trigger": true, "name": "World", "count": 3}, out)

	_, _, err = b.ResolvePorts(map[string]any{"outputs": []any{"x"}})
	require.Error(t, err)
}

func TestEnd_EchoesInputs(t *testing.T) {
	e := &End{}
	inputs, outputs, err := e.ResolvePorts(map[string]any{"inputs": map[string]any{"sum": "number"}})
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.True(t, inputs[0].Trigger)
	assert.Equal(t, "sum", outputs[0].ID)

	out, err := e.Execute(context.Background(), map[string]any{"trigger": true, "sum": 3.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sum": 3.0}, out)
}

func TestConstant(t *testing.T) {
	c := &Constant{}
	_, outputs, err := c.ResolvePorts(map[string]any{"type": "string"})
	require.NoError(t, err)
	assert.Equal(t, "string", outputs[0].Type)

	_, _, err = c.ResolvePorts(map[string]any{"type": 7})
	require.Error(t, err)

	out, err := c.Execute(context.Background(), nil, map[string]any{"value": "Hello World"})
	require.NoError(t, err)
	assert.Equal(t, "Hello World", out["value"])
}

func TestLoop_Iteration(t *testing.T) {
	var l plugin.Plugin = &Loop{}
	looper, ok := l.(plugin.Looper)
	require.True(t, ok)

	out, err := looper.Iteration(context.Background(), 2, "state", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"item": "state", "index": 2, "iterate": true}, out)

	meta := l.Metadata()
	require.NotNil(t, meta.Loop)
	assert.Equal(t, domain.KindLoop, meta.Kind)
	for _, p := range meta.Loop.BodyPorts {
		_, ok := meta.Output(p)
		assert.True(t, ok, "body port %s is declared", p)
	}
	assert.True(t, meta.Loop.IsBackPort("feedback"))
	assert.False(t, meta.Loop.IsBackPort("value"))
}
