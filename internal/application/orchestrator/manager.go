package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/dagflow/internal/application/scheduler"
	"github.com/aescanero/dagflow/internal/graph"
	"github.com/aescanero/dagflow/pkg/adapters/metrics/noop"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrManagerClosed is returned by SubmitWorkflow after Shutdown.
	ErrManagerClosed = errors.New("manager is shut down")
	// ErrRunFinished is returned when cancelling a run that already ended.
	ErrRunFinished = errors.New("run already finished")
	// ErrRunNotFinished is returned when rerunning a run that is still active.
	ErrRunNotFinished = errors.New("run has not finished")

	errRunTimeout = errors.New("run timed out")
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// RunTimeout bounds every run. Zero means no limit.
	RunTimeout time.Duration
	// CacheEnabled allows runs to use the result cache when they ask for it.
	CacheEnabled bool
}

// SubmitOptions selects what a submitted run executes.
type SubmitOptions struct {
	Inputs   map[string]any
	Targets  []string
	UseCache bool

	parentRunID string
}

// Manager coordinates workflow runs
type Manager struct {
	scheduler *scheduler.Scheduler
	validator *Validator
	storage   ports.RunStorage
	eventBus  ports.EventBus
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	opts      ManagerOptions

	// Track active executions
	executions sync.Map // map[string]*execution
	active     atomic.Int64
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// execution holds the in-process handle of one active run
type execution struct {
	runID  string
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// NewManager creates a new orchestrator manager. eventBus and metrics may
// be nil.
func NewManager(
	sched *scheduler.Scheduler,
	validator *Validator,
	storage ports.RunStorage,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	opts ManagerOptions,
) *Manager {
	if metrics == nil {
		metrics = noop.Collector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		scheduler: sched,
		validator: validator,
		storage:   storage,
		eventBus:  eventBus,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
	}
}

// Validator returns the validator used on submission.
func (m *Manager) Validator() *Validator {
	return m.validator
}

// SubmitWorkflow validates wf and starts running it in the background. It
// returns the id of the new run, or the validation error.
func (m *Manager) SubmitWorkflow(ctx context.Context, wf *domain.Workflow, opts SubmitOptions) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", ErrManagerClosed
	}

	g, err := m.validator.Validate(wf)
	if err == nil {
		err = checkTargets(g, opts.Targets)
	}
	if err != nil {
		m.logger.Warn("workflow validation failed", zap.String("workflow_id", workflowID(wf)), zap.Error(err))
		m.metrics.RecordRunSubmitted("rejected")
		return "", err
	}

	runID := uuid.New().String()
	state := &domain.RunState{
		RunID:       runID,
		ParentRunID: opts.parentRunID,
		Workflow:    wf.Clone(),
		Status:      domain.RunStatusSubmitted,
		Inputs:      opts.Inputs,
		Targets:     opts.Targets,
		UseCache:    opts.UseCache,
		SubmittedAt: time.Now(),
	}
	if err := m.storage.SaveRun(ctx, state); err != nil {
		m.logger.Error("failed to save initial state", zap.String("run_id", runID), zap.Error(err))
		return "", fmt.Errorf("failed to save state: %w", err)
	}

	m.publish(ctx, runID, domain.EventRunSubmitted, map[string]any{
		"workflow_id": g.ID(),
		"targets":     opts.Targets,
		"parent":      opts.parentRunID,
	})

	runCtx, cancel := context.WithCancelCause(context.Background())
	exec := &execution{runID: runID, cancel: cancel, done: make(chan struct{})}
	m.executions.Store(runID, exec)

	m.metrics.RecordRunSubmitted(string(domain.RunStatusSubmitted))
	m.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("workflow_id", g.ID()),
		zap.Strings("targets", opts.Targets))

	m.wg.Add(1)
	go m.execute(runCtx, exec, g, state)

	return runID, nil
}

func checkTargets(g *graph.Graph, targets []string) error {
	var violations []domain.Violation
	for _, id := range targets {
		if _, ok := g.Node(id); !ok {
			violations = append(violations, domain.Violation{
				Code:    domain.ViolationUnknownTarget,
				NodeID:  id,
				Message: fmt.Sprintf("unknown target node %q", id),
			})
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return &domain.ValidationError{WorkflowID: g.ID(), Violations: violations}
}

// execute runs one submitted workflow to completion and records the outcome.
func (m *Manager) execute(ctx context.Context, exec *execution, g *graph.Graph, state *domain.RunState) {
	defer m.wg.Done()
	defer close(exec.done)
	defer m.executions.Delete(exec.runID)
	defer exec.cancel(nil)

	if m.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, m.opts.RunTimeout, errRunTimeout)
		defer cancel()
	}

	bg := context.WithoutCancel(ctx)
	started := time.Now()
	state.Status = domain.RunStatusRunning
	state.StartedAt = &started
	if err := m.storage.SaveRun(bg, state); err != nil {
		m.logger.Error("failed to save state", zap.String("run_id", exec.runID), zap.Error(err))
	}
	m.publish(bg, exec.runID, domain.EventRunStarted, nil)
	m.metrics.SetActiveRuns(int(m.active.Add(1)))

	result, err := m.scheduler.Run(ctx, g, scheduler.RunOptions{
		RunID:    exec.runID,
		Inputs:   state.Inputs,
		Targets:  state.Targets,
		UseCache: state.UseCache && m.opts.CacheEnabled,
	})

	m.metrics.SetActiveRuns(int(m.active.Add(-1)))
	completed := time.Now()
	state.CompletedAt = &completed
	state.Result = result

	switch {
	case err != nil:
		state.Status = domain.RunStatusFailed
		state.Error = err.Error()
	case result.Cancelled && errors.Is(context.Cause(ctx), errRunTimeout):
		state.Status = domain.RunStatusFailed
		state.Error = fmt.Sprintf("run exceeded %s", m.opts.RunTimeout)
	case result.Cancelled:
		state.Status = domain.RunStatusCancelled
		state.Error = "run cancelled"
	default:
		if failed := result.WithStatus(domain.NodeStatusFailed); len(failed) > 0 {
			state.Status = domain.RunStatusFailed
			state.Error = fmt.Sprintf("%d node(s) failed: %s", len(failed), strings.Join(failed, ", "))
		} else {
			state.Status = domain.RunStatusCompleted
		}
	}

	if err := m.storage.SaveRun(bg, state); err != nil {
		m.logger.Error("failed to save final state", zap.String("run_id", exec.runID), zap.Error(err))
	}

	duration := completed.Sub(started)
	data := map[string]any{
		"status":      string(state.Status),
		"duration_ms": duration.Milliseconds(),
	}
	if state.Error != "" {
		data["error"] = state.Error
	}
	typ := domain.EventRunCompleted
	switch state.Status {
	case domain.RunStatusFailed:
		typ = domain.EventRunFailed
	case domain.RunStatusCancelled:
		typ = domain.EventRunCancelled
	}
	m.publish(bg, exec.runID, typ, data)
	m.metrics.RecordRunCompleted(string(state.Status), duration)

	m.logger.Info("run finished",
		zap.String("run_id", exec.runID),
		zap.String("workflow_id", g.ID()),
		zap.String("status", string(state.Status)),
		zap.Duration("duration", duration))
}

// GetStatus retrieves the current state of a run
func (m *Manager) GetStatus(ctx context.Context, runID string) (*domain.RunState, error) {
	state, err := m.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return state, nil
}

// Wait blocks until the run finishes or ctx is done and returns its state.
func (m *Manager) Wait(ctx context.Context, runID string) (*domain.RunState, error) {
	if val, ok := m.executions.Load(runID); ok {
		select {
		case <-val.(*execution).done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.GetStatus(ctx, runID)
}

// ListRuns returns every known run, most recent first.
func (m *Manager) ListRuns(ctx context.Context) ([]*domain.RunState, error) {
	runs, err := m.storage.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// CancelExecution cancels an active run. Nodes already executing finish in
// the background; everything else is skipped.
func (m *Manager) CancelExecution(ctx context.Context, runID string) error {
	val, ok := m.executions.Load(runID)
	if !ok {
		state, err := m.storage.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to get state: %w", err)
		}
		return fmt.Errorf("%w: %s", ErrRunFinished, state.Status)
	}

	val.(*execution).cancel(context.Canceled)
	m.logger.Info("run cancellation requested", zap.String("run_id", runID))
	return nil
}

// Rerun submits the workflow of a finished run again, restricted to targets
// and their ancestors, with caching enabled so unchanged nodes are served
// from the cache.
func (m *Manager) Rerun(ctx context.Context, runID string, targets []string) (string, error) {
	state, err := m.storage.GetRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("failed to get state: %w", err)
	}
	if !state.Status.Terminal() {
		return "", fmt.Errorf("%w: %s", ErrRunNotFinished, state.Status)
	}
	if state.Workflow == nil {
		return "", fmt.Errorf("run %s has no stored workflow", runID)
	}

	return m.SubmitWorkflow(ctx, state.Workflow, SubmitOptions{
		Inputs:      state.Inputs,
		Targets:     targets,
		UseCache:    true,
		parentRunID: runID,
	})
}

// ActiveRuns returns the number of runs currently executing.
func (m *Manager) ActiveRuns() int {
	return int(m.active.Load())
}

// Shutdown cancels every active run and waits for them to record their
// final state.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("shutting down orchestrator manager")

	m.executions.Range(func(_, value any) bool {
		value.(*execution).cancel(ErrManagerClosed)
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (m *Manager) publish(ctx context.Context, runID string, typ domain.EventType, data map[string]any) {
	if m.eventBus == nil {
		return
	}
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now(),
		RunID:     runID,
		Data:      data,
	}
	if err := m.eventBus.Publish(ctx, domain.TopicRunEvents, event); err != nil {
		m.logger.Error("failed to publish run event",
			zap.String("run_id", runID),
			zap.String("event_type", string(typ)),
			zap.Error(err))
	}
}

func workflowID(wf *domain.Workflow) string {
	if wf == nil {
		return ""
	}
	return wf.ID
}
