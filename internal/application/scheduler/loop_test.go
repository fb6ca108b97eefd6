package scheduler_test

import (
	"testing"

	"github.com/aescanero/dagflow/internal/application/scheduler"
	"github.com/aescanero/dagflow/internal/testutil"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func increment() *testutil.Task {
	inc := testutil.NewTask("test.inc")
	inc.Transform = func(inputs map[string]any) (map[string]any, error) {
		n, _ := inputs["in"].(int)
		return map[string]any{"out": n + 1}, nil
	}
	return inc
}

func below(limit int) *testutil.Task {
	check := testutil.NewTask("test.below")
	check.OutputType = domain.TypeBoolean
	check.Transform = func(inputs map[string]any) (map[string]any, error) {
		n, _ := inputs["in"].(int)
		return map[string]any{"out": n < limit}, nil
	}
	return check
}

// counter builds begin -> init(0) -> loop{inc} -> end with the loop result on
// end.value.
func counter(loopConfig map[string]any, withExit bool) *domain.Workflow {
	b := testutil.NewWorkflow("counter").
		Begin().
		Node("init", "core.constant", map[string]any{"value": 0, "type": domain.TypeInteger}).
		Node("loop", "core.loop", loopConfig).
		Node("inc", "test.inc", nil).
		Node("end", "core.end", nil).
		Trigger("begin", "init").
		Trigger("init", "loop").
		Connect("init", "value", "loop", "value").
		Connect("loop", "item", "inc", "in").
		Connect("loop", "iterate", "inc", "trigger").
		Connect("inc", "out", "loop", "feedback").
		Connect("loop", "result", "end", "value")
	if withExit {
		b.Node("check", "test.below", nil).
			Trigger("inc", "check").
			Connect("inc", "out", "check", "in").
			Connect("check", "out", "loop", "continue")
	}
	return b.Build()
}

func TestLoop_MaxIterations(t *testing.T) {
	inc := increment()
	h := newHarness(t, scheduler.Options{}, inc)

	res := h.run(t, counter(map[string]any{"max_iterations": 5}, false), scheduler.RunOptions{})
	require.True(t, res.Succeeded(), "failed: %v", res.WithStatus(domain.NodeStatusFailed))

	loop := res.Nodes["loop"]
	assert.Equal(t, 5, loop.Iterations)
	assert.Equal(t, 5, loop.Outputs["iterations"])
	assert.Equal(t, true, loop.Outputs["done"])
	v, _ := res.Output("end", "value")
	assert.Equal(t, 5, v)
	assert.Equal(t, 5, inc.Calls())

	body, ok := res.Node("inc")
	require.True(t, ok, "last iteration results are reported")
	assert.Equal(t, 5, body.Outputs["out"])
}

func TestLoop_ExitPort(t *testing.T) {
	inc := increment()
	h := newHarness(t, scheduler.Options{}, inc, below(3))

	res := h.run(t, counter(nil, true), scheduler.RunOptions{})
	require.True(t, res.Succeeded())

	assert.Equal(t, 3, res.Nodes["loop"].Iterations)
	v, _ := res.Output("end", "value")
	assert.Equal(t, 3, v)
	assert.Equal(t, 3, inc.Calls())
}

func TestLoop_MaxIterationsWinsOverExit(t *testing.T) {
	h := newHarness(t, scheduler.Options{}, increment(), below(100))

	res := h.run(t, counter(map[string]any{"max_iterations": 2}, true), scheduler.RunOptions{})
	require.True(t, res.Succeeded())
	assert.Equal(t, 2, res.Nodes["loop"].Iterations)
}

func TestLoop_IterationGuard(t *testing.T) {
	h := newHarness(t, scheduler.Options{MaxLoopIterations: 4}, increment(), below(1000))

	res := h.run(t, counter(nil, true), scheduler.RunOptions{})

	assert.Equal(t, domain.NodeStatusFailed, res.Nodes["loop"].Status)
	assert.Contains(t, res.Nodes["loop"].Error, "exceeded 4 iterations")
	assert.Equal(t, domain.NodeStatusSkipped, res.Nodes["end"].Status)
}

func TestLoop_BodyFailureFailsLoop(t *testing.T) {
	inc := increment()
	calls := 0
	inc.Transform = func(inputs map[string]any) (map[string]any, error) {
		calls++
		if calls == 2 {
			panic("second pass")
		}
		n, _ := inputs["in"].(int)
		return map[string]any{"out": n + 1}, nil
	}
	h := newHarness(t, scheduler.Options{}, inc)

	res := h.run(t, counter(map[string]any{"max_iterations": 5}, false), scheduler.RunOptions{})

	loop := res.Nodes["loop"]
	assert.Equal(t, domain.NodeStatusFailed, loop.Status)
	assert.Contains(t, loop.Error, "iteration 1")
	assert.Equal(t, domain.NodeStatusFailed, res.Nodes["inc"].Status)
	assert.Equal(t, domain.NodeStatusSkipped, res.Nodes["end"].Status)
}

func TestLoop_TargetInsideBody(t *testing.T) {
	h := newHarness(t, scheduler.Options{}, increment())

	res := h.run(t, counter(map[string]any{"max_iterations": 3}, false), scheduler.RunOptions{Targets: []string{"loop"}})
	require.True(t, res.Succeeded())
	assert.Equal(t, 3, res.Nodes["loop"].Iterations)
	_, ranEnd := res.Node("end")
	assert.False(t, ranEnd)
}
