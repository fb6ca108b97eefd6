package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/aescanero/dagflow/internal/plugins/core"
	"github.com/aescanero/dagflow/internal/typesys"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	types, err := typesys.NewDefault()
	require.NoError(t, err)
	return NewRegistry(types)
}

func echoPlugin(id string) *plugin.Func {
	return plugin.New(domain.PluginMetadata{
		ID:       id,
		Name:     "Echo",
		Version:  "0.1.0",
		Category: "test",
		Inputs: []domain.Port{
			{ID: "trigger", Type: domain.TypeTrigger, Trigger: true},
			{ID: "in", Type: domain.TypeString, Required: true},
		},
		Outputs: []domain.Port{{ID: "out", Type: domain.TypeString, Required: true}},
		Config: []domain.ConfigField{
			{Name: "prefix", Type: domain.TypeString, Default: ">"},
			{Name: "times", Type: domain.TypeInteger, Required: true},
		},
	}, func(_ context.Context, in, cfg map[string]any) (map[string]any, error) {
		return map[string]any{"out": cfg["prefix"].(string) + in["in"].(string)}, nil
	})
}

func TestRegisterResolveList(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(core.Plugins()...))
	require.NoError(t, r.Add(echoPlugin("test.echo")))

	impl, err := r.Resolve("test.echo")
	require.NoError(t, err)
	assert.Equal(t, "test.echo", impl.Metadata().ID)

	meta, err := r.Metadata("test.echo")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionInput, meta.Inputs[0].Direction)
	assert.Equal(t, domain.DirectionOutput, meta.Outputs[0].Direction)
	assert.False(t, meta.Outputs[0].Required, "outputs are never required")

	ids := make([]string, 0)
	for _, m := range r.ListMetadata() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{core.BeginID, core.ConstantID, core.EndID, core.LoopID, "test.echo"}, ids)

	loopMeta, err := r.Metadata(core.LoopID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindLoop, loopMeta.Kind)
}

func TestResolve_NotFound(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Resolve("missing")
	var nf *domain.PluginNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)
}

func TestRegister_Conflicts(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(echoPlugin("test.echo")))

	tests := []struct {
		name   string
		meta   domain.PluginMetadata
		impl   plugin.Plugin
		reason string
	}{
		{
			name:   "duplicate id",
			meta:   echoPlugin("test.echo").Meta,
			reason: "already registered",
		},
		{
			name:   "missing id",
			meta:   domain.PluginMetadata{},
			reason: "id is required",
		},
		{
			name: "unknown port type",
			meta: domain.PluginMetadata{
				ID:      "test.bad",
				Outputs: []domain.Port{{ID: "out", Type: "hologram"}},
			},
			reason: "output port \"out\"",
		},
		{
			name: "duplicate port",
			meta: domain.PluginMetadata{
				ID:     "test.dup",
				Inputs: []domain.Port{{ID: "a", Type: "any"}, {ID: "a", Type: "any"}},
			},
			reason: "duplicate input port",
		},
		{
			name: "unknown config type",
			meta: domain.PluginMetadata{
				ID:     "test.cfg",
				Config: []domain.ConfigField{{Name: "x", Type: "hologram"}},
			},
			reason: "config field \"x\"",
		},
		{
			name: "default of wrong type",
			meta: domain.PluginMetadata{
				ID:     "test.default",
				Config: []domain.ConfigField{{Name: "x", Type: "number", Default: "ten"}},
			},
			reason: "default of config field",
		},
		{
			name: "loop contract without looper",
			meta: domain.PluginMetadata{
				ID:      "test.loop",
				Outputs: []domain.Port{{ID: "body", Type: "trigger"}},
				Loop:    &domain.LoopContract{BodyPorts: []string{"body"}, ExitPort: "stop"},
			},
			reason: "not a Looper",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impl := tt.impl
			if impl == nil {
				impl = plugin.New(tt.meta, nil)
			}
			err := r.Register(tt.meta, impl)
			var conflict *domain.MetadataConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}

	err := r.Register(domain.PluginMetadata{ID: "test.types", Inputs: []domain.Port{{ID: "x", Type: "ghost"}}}, plugin.New(domain.PluginMetadata{}, nil))
	var unknown *domain.UnknownTypeError
	assert.True(t, errors.As(err, &unknown), "metadata conflicts on port types unwrap to UnknownTypeError")
}

func TestAdd_CollectsAllErrors(t *testing.T) {
	r := newRegistry(t)
	err := r.Add(echoPlugin("a"), echoPlugin("a"), plugin.New(domain.PluginMetadata{}, nil))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.True(t, r.Has("a"))
}

func TestUnregister(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(echoPlugin("test.echo")))
	assert.True(t, r.Unregister("test.echo"))
	assert.False(t, r.Unregister("test.echo"))
	assert.False(t, r.Has("test.echo"))
	require.NoError(t, r.Add(echoPlugin("test.echo")), "ids can be registered again after removal")
}

func TestFallbackCapabilityDetected(t *testing.T) {
	r := newRegistry(t)
	p := plugin.WithFallback(echoPlugin("test.fb"), func(context.Context, map[string]any, map[string]any, error) (map[string]any, error) {
		return nil, nil
	})
	require.NoError(t, r.Add(p))
	meta, err := r.Metadata("test.fb")
	require.NoError(t, err)
	assert.True(t, meta.Fallback)
}

func TestResolveConfig(t *testing.T) {
	r := newRegistry(t)
	meta := echoPlugin("test.echo").Meta

	cfg, err := r.ResolveConfig(meta, map[string]any{"times": 2.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"times": 2.0, "prefix": ">"}, cfg)

	_, err = r.ResolveConfig(meta, map[string]any{"times": "two", "colour": "red"})
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, errs[0], &cfgErr)
	assert.Equal(t, "times", cfgErr.Field)
	require.ErrorAs(t, errs[1], &cfgErr)
	assert.Equal(t, "colour", cfgErr.Field)

	_, err = r.ResolveConfig(meta, nil)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "times", cfgErr.Field)
}

func TestResolvePorts(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(core.Plugins()...))

	impl, err := r.Resolve(core.EndID)
	require.NoError(t, err)
	meta := impl.Metadata()
	cfg, err := r.ResolveConfig(meta, map[string]any{"inputs": map[string]any{"sum": "number", "value": "string"}})
	require.NoError(t, err)

	inputs, outputs, err := r.ResolvePorts(meta, impl, cfg)
	require.NoError(t, err)

	byID := func(ports []domain.Port) map[string]domain.Port {
		m := make(map[string]domain.Port)
		for _, p := range ports {
			m[p.ID] = p
		}
		return m
	}
	in := byID(inputs)
	assert.Len(t, inputs, 3)
	assert.Equal(t, "string", in["value"].Type, "config ports replace declared ports with the same id")
	assert.Equal(t, domain.DirectionInput, in["sum"].Direction)
	assert.True(t, in["sum"].Trigger)
	assert.Equal(t, "number", byID(outputs)["sum"].Type)

	_, _, err = r.ResolvePorts(meta, impl, map[string]any{"inputs": map[string]any{"x": "ghost"}})
	var unknown *domain.UnknownTypeError
	require.ErrorAs(t, err, &unknown)
}
