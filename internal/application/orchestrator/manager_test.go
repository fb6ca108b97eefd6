package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/dagflow/internal/application/scheduler"
	"github.com/aescanero/dagflow/internal/application/workers"
	"github.com/aescanero/dagflow/internal/testutil"
	"github.com/aescanero/dagflow/pkg/adapters/cache/memory"
	eventsmemory "github.com/aescanero/dagflow/pkg/adapters/events/memory"
	storagememory "github.com/aescanero/dagflow/pkg/adapters/storage/memory"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventLog struct {
	mu    sync.Mutex
	types map[string][]domain.EventType
}

func (l *eventLog) handle(_ context.Context, e domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.types == nil {
		l.types = make(map[string][]domain.EventType)
	}
	l.types[e.RunID] = append(l.types[e.RunID], e.Type)
	return nil
}

func (l *eventLog) of(runID string) []domain.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.EventType(nil), l.types[runID]...)
}

func newManager(t *testing.T, opts ManagerOptions, extra ...plugin.Plugin) (*Manager, *eventsmemory.InMemoryEventBus) {
	t.Helper()
	reg := testutil.Registry(t, extra...)
	pool := workers.NewPool(4, nil, zap.NewNop(), time.Minute)
	require.NoError(t, pool.Start())
	bus := eventsmemory.NewInMemoryEventBus(zap.NewNop())

	sched := scheduler.New(pool, reg.Types(), zap.NewNop(), scheduler.Options{
		Cache:  memory.NewResultCache(),
		Events: bus,
	})
	m := NewManager(sched, NewValidator(reg), storagememory.NewInMemoryRunStorage(), bus, nil, zap.NewNop(), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
		_ = pool.Shutdown(ctx)
		_ = bus.Close()
	})
	return m, bus
}

func wait(t *testing.T, m *Manager, runID string) *domain.RunState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := m.Wait(ctx, runID)
	require.NoError(t, err)
	return state
}

func slowWorkflow(task string) *domain.Workflow {
	return testutil.NewWorkflow("slow").
		Begin().
		Node("a", task, nil).
		Trigger("begin", "a").
		Build()
}

func TestManager_SubmitAndWait(t *testing.T) {
	m, bus := newManager(t, ManagerOptions{})
	log := &eventLog{}
	require.NoError(t, bus.Subscribe(context.Background(), domain.TopicRunEvents, log.handle))

	runID, err := m.SubmitWorkflow(context.Background(), testutil.HelloWorld(), SubmitOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	state := wait(t, m, runID)
	assert.Equal(t, domain.RunStatusCompleted, state.Status)
	require.NotNil(t, state.Result)
	v, ok := state.Result.Output("end", "value")
	require.True(t, ok)
	assert.Equal(t, "Hello World", v)
	assert.NotNil(t, state.StartedAt)
	assert.NotNil(t, state.CompletedAt)
	assert.Equal(t, "hello", state.Workflow.ID)

	require.Eventually(t, func() bool { return len(log.of(runID)) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.EventType{
		domain.EventRunSubmitted,
		domain.EventRunStarted,
		domain.EventRunCompleted,
	}, log.of(runID))

	runs, err := m.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Zero(t, m.ActiveRuns())
}

func TestManager_NodeEvents(t *testing.T) {
	m, bus := newManager(t, ManagerOptions{})
	log := &eventLog{}
	require.NoError(t, bus.Subscribe(context.Background(), domain.TopicNodeEvents, log.handle))

	runID, err := m.SubmitWorkflow(context.Background(), testutil.HelloWorld(), SubmitOptions{})
	require.NoError(t, err)
	wait(t, m, runID)

	require.Eventually(t, func() bool { return len(log.of(runID)) == 6 }, time.Second, 5*time.Millisecond)
	counts := map[domain.EventType]int{}
	for _, typ := range log.of(runID) {
		counts[typ]++
	}
	assert.Equal(t, 3, counts[domain.EventNodeStarted])
	assert.Equal(t, 3, counts[domain.EventNodeCompleted])
}

func TestManager_RejectsInvalidWorkflows(t *testing.T) {
	m, _ := newManager(t, ManagerOptions{})
	ctx := context.Background()

	wf := testutil.NewWorkflow("broken").Begin().Node("x", "no.such.plugin", nil).Build()
	_, err := m.SubmitWorkflow(ctx, wf, SubmitOptions{})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has(domain.ViolationUnknownPlugin))

	_, err = m.SubmitWorkflow(ctx, testutil.HelloWorld(), SubmitOptions{Targets: []string{"ghost"}})
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has(domain.ViolationUnknownTarget))

	runs, err := m.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestManager_FailedRun(t *testing.T) {
	boom := testutil.NewTask("test.boom")
	boom.Err = errors.New("boom")
	m, _ := newManager(t, ManagerOptions{}, boom)

	runID, err := m.SubmitWorkflow(context.Background(), slowWorkflow(boom.ID), SubmitOptions{})
	require.NoError(t, err)

	state := wait(t, m, runID)
	assert.Equal(t, domain.RunStatusFailed, state.Status)
	assert.Contains(t, state.Error, "a")
	assert.Equal(t, domain.NodeStatusFailed, state.Result.Nodes["a"].Status)
}

func TestManager_Cancel(t *testing.T) {
	slow := testutil.NewTask("test.slow")
	slow.Delay = 5 * time.Second
	m, _ := newManager(t, ManagerOptions{}, slow)
	ctx := context.Background()

	runID, err := m.SubmitWorkflow(ctx, slowWorkflow(slow.ID), SubmitOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return slow.Calls() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.CancelExecution(ctx, runID))
	state := wait(t, m, runID)
	assert.Equal(t, domain.RunStatusCancelled, state.Status)
	assert.True(t, state.Result.Cancelled)
	var cancelled *domain.CancelledError
	require.ErrorAs(t, state.Result.Nodes["a"].Err, &cancelled)

	assert.ErrorIs(t, m.CancelExecution(ctx, runID), ErrRunFinished)
	assert.ErrorIs(t, m.CancelExecution(ctx, "unknown"), domain.ErrRunNotFound)
}

func TestManager_RunTimeout(t *testing.T) {
	slow := testutil.NewTask("test.slow")
	slow.Delay = 5 * time.Second
	m, _ := newManager(t, ManagerOptions{RunTimeout: 50 * time.Millisecond}, slow)

	runID, err := m.SubmitWorkflow(context.Background(), slowWorkflow(slow.ID), SubmitOptions{})
	require.NoError(t, err)

	state := wait(t, m, runID)
	assert.Equal(t, domain.RunStatusFailed, state.Status)
	assert.Contains(t, state.Error, "exceeded")
}

func TestManager_Rerun(t *testing.T) {
	echo := testutil.NewTask("test.echo")
	other := testutil.NewTask("test.other")
	m, _ := newManager(t, ManagerOptions{CacheEnabled: true}, echo, other)
	ctx := context.Background()

	wf := testutil.NewWorkflow("rerun").
		Node("begin", "core.begin", map[string]any{"outputs": map[string]any{"name": "string"}}).
		Node("echo", echo.ID, nil).
		Node("side", other.ID, nil).
		Trigger("begin", "echo").
		Trigger("begin", "side").
		Connect("begin", "name", "echo", "in").
		Build()

	first, err := m.SubmitWorkflow(ctx, wf, SubmitOptions{Inputs: map[string]any{"name": "ada"}, UseCache: true})
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, wait(t, m, first).Status)

	second, err := m.Rerun(ctx, first, []string{"echo"})
	require.NoError(t, err)
	state := wait(t, m, second)

	assert.Equal(t, domain.RunStatusCompleted, state.Status)
	assert.Equal(t, first, state.ParentRunID)
	assert.True(t, state.Result.Nodes["echo"].CacheHit)
	assert.NotContains(t, state.Result.Nodes, "side")
	assert.Equal(t, 1, echo.Calls())
	assert.Equal(t, 1, other.Calls())

	_, err = m.Rerun(ctx, "unknown", nil)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestManager_CacheDisabled(t *testing.T) {
	echo := testutil.NewTask("test.echo")
	m, _ := newManager(t, ManagerOptions{CacheEnabled: false}, echo)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		runID, err := m.SubmitWorkflow(ctx, slowWorkflow(echo.ID), SubmitOptions{UseCache: true})
		require.NoError(t, err)
		wait(t, m, runID)
	}
	assert.Equal(t, 2, echo.Calls())
}

func TestManager_Shutdown(t *testing.T) {
	slow := testutil.NewTask("test.slow")
	slow.Delay = 5 * time.Second
	m, _ := newManager(t, ManagerOptions{}, slow)
	ctx := context.Background()

	runID, err := m.SubmitWorkflow(ctx, slowWorkflow(slow.ID), SubmitOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return slow.Calls() == 1 }, time.Second, 5*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))

	state, err := m.GetStatus(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, state.Status)

	_, err = m.SubmitWorkflow(ctx, testutil.HelloWorld(), SubmitOptions{})
	assert.ErrorIs(t, err, ErrManagerClosed)
}
