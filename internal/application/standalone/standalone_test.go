package standalone

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aescanero/dagflow/internal/application/scheduler"
	"github.com/aescanero/dagflow/internal/application/workers"
	"github.com/aescanero/dagflow/internal/plugins/core"
	"github.com/aescanero/dagflow/internal/testutil"
	"github.com/aescanero/dagflow/pkg/adapters/cache/memory"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func upper() *testutil.Task {
	task := testutil.NewTask("test.upper")
	task.InputType = domain.TypeString
	task.OutputType = domain.TypeString
	task.RequiredInput = true
	task.Transform = func(inputs map[string]any) (map[string]any, error) {
		s, _ := inputs["in"].(string)
		out := make([]byte, len(s))
		for i := 0; i < len(s); i++ {
			c := s[i]
			if c >= 'a' && c <= 'z' {
				c -= 'a' - 'A'
			}
			out[i] = c
		}
		return map[string]any{"out": string(out)}, nil
	}
	return task
}

func newRunner(t *testing.T, opts scheduler.Options, extra ...plugin.Plugin) *Runner {
	t.Helper()
	reg := testutil.Registry(t, extra...)
	pool := workers.NewPool(2, nil, zap.NewNop(), time.Minute)
	require.NoError(t, pool.Start())
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })
	return NewRunner(reg, scheduler.New(pool, reg.Types(), zap.NewNop(), opts), nil, zap.NewNop())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, m)

	m, err = ParseMode("standalone")
	require.NoError(t, err)
	assert.Equal(t, ModeStandalone, m)

	_, err = ParseMode("remote")
	assert.Error(t, err)
}

func TestDirect(t *testing.T) {
	r := newRunner(t, scheduler.Options{}, upper())
	ctx := context.Background()

	out, err := r.Direct(ctx, "test.upper", map[string]any{"in": "hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out["out"])

	out, err = r.Direct(ctx, core.ConstantID, nil, map[string]any{"value": 7})
	require.NoError(t, err)
	assert.Equal(t, 7, out["value"])

	_, err = r.Direct(ctx, "missing", nil, nil)
	var notFound *domain.PluginNotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = r.Direct(ctx, core.ConstantID, nil, nil)
	var cfgErr *domain.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDirect_PropagatesErrorUnchanged(t *testing.T) {
	sentinel := errors.New("boom")
	boom := testutil.NewTask("test.boom")
	boom.Err = sentinel
	r := newRunner(t, scheduler.Options{}, boom)

	_, err := r.Direct(context.Background(), boom.ID, nil, nil)
	assert.Same(t, sentinel, err)
}

func TestWorkflow(t *testing.T) {
	r := newRunner(t, scheduler.Options{}, upper())

	wf, err := r.Workflow("test.upper", nil)
	require.NoError(t, err)
	require.Len(t, wf.Nodes, 3)
	assert.Equal(t, map[string]any{"outputs": map[string]any{"in": domain.TypeString}}, wf.Nodes[0].Config)
	assert.Equal(t, map[string]any{"inputs": map[string]any{"out": domain.TypeString}}, wf.Nodes[2].Config)

	var pairs []string
	for _, c := range wf.Connections {
		pairs = append(pairs, c.From.NodeID+"."+c.From.Port+">"+c.To.NodeID+"."+c.To.Port)
	}
	assert.ElementsMatch(t, []string{
		"begin.in>node.in",
		"begin.trigger>node.trigger",
		"node.out>end.out",
		"node.trigger>end.trigger",
	}, pairs)

	_, err = r.Workflow(core.LoopID, nil)
	assert.Error(t, err)
	_, err = r.Workflow(core.BeginID, nil)
	assert.Error(t, err)
}

func TestWorkflow_PluginWithoutOutputs(t *testing.T) {
	var got []any
	sink := plugin.New(domain.PluginMetadata{
		ID: "test.sink",
		Inputs: []domain.Port{
			{ID: "trigger", Type: domain.TypeTrigger, Trigger: true},
			{ID: "in", Type: domain.TypeAny},
		},
	}, func(_ context.Context, in, _ map[string]any) (map[string]any, error) {
		got = append(got, in["in"])
		return nil, nil
	})
	r := newRunner(t, scheduler.Options{}, sink)

	wf, err := r.Workflow("test.sink", nil)
	require.NoError(t, err)
	require.Len(t, wf.Nodes, 3)
	assert.Equal(t, EndNodeID, wf.Nodes[2].ID)
	assert.Equal(t, core.EndID, wf.Nodes[2].Type)

	var pairs []string
	for _, c := range wf.Connections {
		pairs = append(pairs, c.From.NodeID+"."+c.From.Port+">"+c.To.NodeID+"."+c.To.Port)
	}
	assert.ElementsMatch(t, []string{
		"begin.in>node.in",
		"begin.trigger>node.trigger",
		"begin.trigger>end.trigger",
	}, pairs)

	run, err := r.Standalone(context.Background(), "test.sink", map[string]any{"in": 7}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []any{7}, got)
	assert.Equal(t, domain.NodeStatusCompleted, run.Nodes[EndNodeID].Status)
}

func TestStandalone(t *testing.T) {
	r := newRunner(t, scheduler.Options{}, upper())

	run, err := r.Standalone(context.Background(), "test.upper", map[string]any{"in": "hello"}, nil, false)
	require.NoError(t, err)
	v, ok := run.Output(EndNodeID, "out")
	require.True(t, ok)
	assert.Equal(t, "HELLO", v)
}

func TestStandalone_MissingInput(t *testing.T) {
	r := newRunner(t, scheduler.Options{}, upper())

	_, err := r.Standalone(context.Background(), "test.upper", nil, nil, false)
	var skip *domain.SkipError
	require.ErrorAs(t, err, &skip)
	assert.Equal(t, domain.SkipMissingInput, skip.Reason)
}

func TestStandalone_ErrorContainment(t *testing.T) {
	slow := testutil.NewTask("test.slow")
	slow.Delay = time.Second
	r := newRunner(t, scheduler.Options{NodeTimeout: 20 * time.Millisecond}, slow)

	run, err := r.Standalone(context.Background(), slow.ID, nil, nil, false)
	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)
	require.NotNil(t, run)
	assert.Equal(t, domain.NodeStatusSkipped, run.Nodes[EndNodeID].Status)
}

func TestExecute_StandaloneUsesCache(t *testing.T) {
	task := upper()
	r := newRunner(t, scheduler.Options{Cache: memory.NewResultCache()}, task)
	req := Request{PluginID: task.ID, Mode: ModeStandalone, Inputs: map[string]any{"in": "hi"}, UseCache: true}

	first, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := r.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Outputs, second.Outputs)
	assert.Equal(t, "HI", second.Outputs["out"])
	assert.Equal(t, 1, task.Calls())
}

func TestExecute_ReportsError(t *testing.T) {
	boom := testutil.NewTask("test.boom")
	boom.Err = errors.New("boom")
	r := newRunner(t, scheduler.Options{}, boom)

	res, err := r.Execute(context.Background(), Request{PluginID: boom.ID})
	require.Error(t, err)
	assert.Equal(t, ModeDirect, res.Mode)
	assert.Equal(t, "boom", res.Error)

	_, err = r.Execute(context.Background(), Request{PluginID: boom.ID, Mode: "bogus"})
	assert.Error(t, err)
}

func TestBenchmark(t *testing.T) {
	calls := 0
	flaky := plugin.New(domain.PluginMetadata{
		ID:      "test.flaky",
		Name:    "flaky",
		Version: "0.0.1",
		Inputs:  []domain.Port{{ID: "trigger", Type: domain.TypeTrigger, Trigger: true}},
		Outputs: []domain.Port{{ID: "n", Type: domain.TypeInteger}},
	}, func(context.Context, map[string]any, map[string]any) (map[string]any, error) {
		calls++
		if calls%4 == 0 {
			return nil, errors.New("every fourth call fails")
		}
		return map[string]any{"n": calls}, nil
	})
	r := newRunner(t, scheduler.Options{}, flaky)

	for _, mode := range []Mode{ModeDirect, ModeStandalone} {
		calls = 0
		bench, err := r.Benchmark(context.Background(), Request{PluginID: "test.flaky", Mode: mode}, 8)
		require.NoError(t, err, mode)
		assert.Equal(t, 8, bench.Iterations)
		assert.Equal(t, 6, bench.Successes)
		assert.Equal(t, 2, bench.Failures)
		assert.Contains(t, bench.LastError, "every fourth call fails")
		assert.Equal(t, 7, bench.Outputs["n"])
		assert.LessOrEqual(t, bench.Latency.Min, bench.Latency.P95)
		assert.LessOrEqual(t, bench.Latency.P95, bench.Latency.Max)
	}

	_, err := r.Benchmark(context.Background(), Request{PluginID: "test.flaky"}, 0)
	assert.Error(t, err)
}

func TestBenchmark_StopsOnCancel(t *testing.T) {
	r := newRunner(t, scheduler.Options{}, upper())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bench, err := r.Benchmark(ctx, Request{PluginID: "test.upper", Inputs: map[string]any{"in": "x"}}, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, bench.Iterations)
}

func TestSummarize(t *testing.T) {
	var ds []time.Duration
	for i := 20; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	s := Summarize(ds)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 20*time.Millisecond, s.Max)
	assert.Equal(t, 10500*time.Microsecond, s.Mean)
	assert.Equal(t, 19*time.Millisecond, s.P95)

	assert.Equal(t, LatencyStats{}, Summarize(nil))
	assert.Equal(t, 5*time.Millisecond, Summarize([]time.Duration{5 * time.Millisecond}).P95)
}
