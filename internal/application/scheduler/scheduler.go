package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/dagflow/internal/application/workers"
	"github.com/aescanero/dagflow/internal/graph"
	"github.com/aescanero/dagflow/internal/typesys"
	"github.com/aescanero/dagflow/pkg/adapters/metrics/noop"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxLoopIterations bounds loops when no limit is configured.
const DefaultMaxLoopIterations = 10000

// Options holds the optional collaborators and limits of a Scheduler.
type Options struct {
	// Cache stores node outputs by content key. Nil disables caching.
	Cache ports.ResultCache
	// Events receives node progress events. Nil disables publishing.
	Events ports.EventBus
	// Metrics records node executions. Nil discards them.
	Metrics ports.MetricsCollector
	// NodeTimeout bounds every plugin call. Zero means no limit.
	NodeTimeout time.Duration
	// MaxLoopIterations fails loops that run longer.
	MaxLoopIterations int
}

// Scheduler executes validated graphs on a worker pool.
type Scheduler struct {
	pool   *workers.Pool
	types  *typesys.Registry
	logger *zap.Logger
	opts   Options
}

// RunOptions selects what a run executes.
type RunOptions struct {
	// RunID names the run in events and results. Generated when empty.
	RunID string
	// Inputs are handed to the begin node.
	Inputs map[string]any
	// Targets restricts the run to these nodes and their ancestors.
	Targets []string
	// UseCache enables result cache lookups for this run.
	UseCache bool
}

// New creates a scheduler running node jobs on pool.
func New(pool *workers.Pool, types *typesys.Registry, logger *zap.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = noop.Collector{}
	}
	if opts.MaxLoopIterations <= 0 {
		opts.MaxLoopIterations = DefaultMaxLoopIterations
	}
	return &Scheduler{
		pool:   pool,
		types:  types,
		logger: logger,
		opts:   opts,
	}
}

// Run executes g and returns the result of every node in the run. Runtime
// failures are reported per node; an error is returned only when the run
// cannot start. Cancelling ctx ends the run immediately with every
// unfinished node skipped.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph, opts RunOptions) (*domain.RunResult, error) {
	if g == nil {
		return nil, fmt.Errorf("graph is nil")
	}
	begin := g.Begin()
	if begin == "" {
		return nil, &domain.ValidationError{WorkflowID: g.ID(), Violations: []domain.Violation{{
			Code:    domain.ViolationEntry,
			Message: "workflow has no begin node",
		}}}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}

	members := make(map[string]bool)
	if len(opts.Targets) > 0 {
		set, err := g.Ancestors(opts.Targets)
		if err != nil {
			return nil, &domain.ValidationError{WorkflowID: g.ID(), Violations: []domain.Violation{{
				Code:    domain.ViolationUnknownTarget,
				Message: err.Error(),
				Err:     err,
			}}}
		}
		members = set
	} else {
		for _, id := range g.IDs() {
			members[id] = true
		}
	}
	dropLoopBodies(g, members)

	r := newRun(s, g, opts.RunID, members, opts.UseCache, 0)
	if members[begin] {
		r.trig[begin] = true
		r.external[begin] = opts.Inputs
	}

	s.logger.Info("run started",
		zap.String("run_id", opts.RunID),
		zap.String("workflow_id", g.ID()),
		zap.Int("nodes", len(members)),
		zap.Bool("use_cache", opts.UseCache))

	result := r.execute(ctx)

	s.logger.Info("run finished",
		zap.String("run_id", opts.RunID),
		zap.String("workflow_id", g.ID()),
		zap.Int("failed", len(result.WithStatus(domain.NodeStatusFailed))),
		zap.Int("skipped", len(result.WithStatus(domain.NodeStatusSkipped))),
		zap.Bool("cancelled", result.Cancelled),
		zap.Duration("duration", result.CompletedAt.Sub(result.StartedAt)))
	return result, nil
}

// dropLoopBodies removes from members every node that belongs to the body
// of a loop in members. Bodies run in their own isolated runs.
func dropLoopBodies(g *graph.Graph, members map[string]bool) {
	for _, id := range g.Loops() {
		if !members[id] {
			continue
		}
		for _, b := range g.LoopBody(id) {
			delete(members, b)
		}
	}
}

type reply struct {
	outputs map[string]any
	err     error
}

// call runs fn under the node timeout and recovers panics. It returns once
// the deadline passes even if fn keeps running; its late reply is dropped.
func (s *Scheduler) call(ctx context.Context, node *graph.Node, fn func(context.Context) (map[string]any, error)) (map[string]any, error) {
	var (
		cctx   context.Context
		cancel context.CancelFunc
	)
	if s.opts.NodeTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, s.opts.NodeTimeout)
	} else {
		cctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- reply{err: fmt.Errorf("plugin panicked: %v", rec)}
			}
		}()
		out, err := fn(cctx)
		ch <- reply{outputs: out, err: err}
	}()

	select {
	case rep := <-ch:
		if rep.err != nil {
			return nil, s.classify(ctx, cctx, node, rep.err)
		}
		return rep.outputs, nil
	case <-cctx.Done():
		return nil, s.classify(ctx, cctx, node, cctx.Err())
	}
}

// classify maps a plugin failure onto the runtime error taxonomy.
func (s *Scheduler) classify(ctx, cctx context.Context, node *graph.Node, err error) error {
	switch {
	case ctx.Err() != nil:
		return &domain.CancelledError{NodeID: node.ID, Cause: ctx.Err()}
	case s.opts.NodeTimeout > 0 && errors.Is(cctx.Err(), context.DeadlineExceeded):
		return &domain.TimeoutError{NodeID: node.ID, Timeout: s.opts.NodeTimeout}
	default:
		return &domain.NodeExecutionError{NodeID: node.ID, Err: err}
	}
}

// checkOutputs verifies outputs against the node's declared output ports.
func (s *Scheduler) checkOutputs(node *graph.Node, outputs map[string]any) error {
	for _, key := range sortedKeys(outputs) {
		port, ok := node.Output(key)
		if !ok {
			return &domain.ContractViolationError{NodeID: node.ID, Port: key, Reason: "not a declared output"}
		}
		conforms, err := s.types.Conforms(port.Type, outputs[key])
		if err != nil {
			return &domain.ContractViolationError{NodeID: node.ID, Port: key, Reason: err.Error()}
		}
		if !conforms {
			return &domain.ContractViolationError{
				NodeID: node.ID,
				Port:   key,
				Reason: fmt.Sprintf("value of type %T is not a %s", outputs[key], port.Type),
			}
		}
	}
	return nil
}

// cacheKey derives the content address of a node invocation. It reports
// false when the inputs cannot be encoded.
func cacheKey(node *graph.Node, inputs map[string]any) (string, bool) {
	payload, err := json.Marshal(struct {
		Type    string         `json:"type"`
		Version string         `json:"version"`
		Config  map[string]any `json:"config"`
		Inputs  map[string]any `json:"inputs"`
	}{node.Type, node.Meta.Version, node.Config, inputs})
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), true
}

func (s *Scheduler) publish(ctx context.Context, runID, nodeID string, typ domain.EventType, data map[string]any) {
	if s.opts.Events == nil {
		return
	}
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now(),
		RunID:     runID,
		NodeID:    nodeID,
		Data:      data,
	}
	if err := s.opts.Events.Publish(context.WithoutCancel(ctx), domain.TopicNodeEvents, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("run_id", runID),
			zap.String("event_type", string(typ)),
			zap.Error(err))
	}
}
