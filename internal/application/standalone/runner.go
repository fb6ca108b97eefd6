package standalone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/dagflow/internal/application/orchestrator"
	"github.com/aescanero/dagflow/internal/application/scheduler"
	"github.com/aescanero/dagflow/internal/plugins"
	"github.com/aescanero/dagflow/internal/plugins/core"
	"github.com/aescanero/dagflow/pkg/adapters/metrics/noop"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
	"go.uber.org/zap"
)

// Mode selects how a plugin is run.
type Mode string

const (
	ModeDirect     Mode = "direct"
	ModeStandalone Mode = "standalone"
)

// Node ids of the synthesized workflow.
const (
	BeginNodeID  = "begin"
	TargetNodeID = "node"
	EndNodeID    = "end"
)

// ParseMode converts s to a Mode. The empty string selects direct mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDirect:
		return ModeDirect, nil
	case ModeStandalone:
		return ModeStandalone, nil
	}
	return "", fmt.Errorf("unknown mode %q, expected %s or %s", s, ModeDirect, ModeStandalone)
}

// Request describes one plugin invocation.
type Request struct {
	PluginID string         `json:"plugin_id"`
	Mode     Mode           `json:"mode,omitempty"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	// UseCache lets standalone runs use the result cache.
	UseCache bool `json:"use_cache,omitempty"`
}

// Result is the outcome of one invocation.
type Result struct {
	PluginID string         `json:"plugin_id"`
	Mode     Mode           `json:"mode"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
	CacheHit bool           `json:"cache_hit,omitempty"`
	Error    string         `json:"error,omitempty"`
	// Run holds the full run result in standalone mode.
	Run *domain.RunResult `json:"run,omitempty"`
}

// Runner executes single plugins.
type Runner struct {
	plugins   *plugins.Registry
	validator *orchestrator.Validator
	scheduler *scheduler.Scheduler
	metrics   ports.MetricsCollector
	logger    *zap.Logger
}

// NewRunner creates a runner. sched is only needed for standalone mode.
func NewRunner(reg *plugins.Registry, sched *scheduler.Scheduler, metrics ports.MetricsCollector, logger *zap.Logger) *Runner {
	if metrics == nil {
		metrics = noop.Collector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		plugins:   reg,
		validator: orchestrator.NewValidator(reg),
		scheduler: sched,
		metrics:   metrics,
		logger:    logger,
	}
}

// Direct resolves the plugin, applies config defaults and calls Execute.
// Errors raised by the plugin are returned unchanged.
func (r *Runner) Direct(ctx context.Context, pluginID string, inputs, config map[string]any) (map[string]any, error) {
	impl, err := r.plugins.Resolve(pluginID)
	if err != nil {
		return nil, err
	}
	meta, err := r.plugins.Metadata(pluginID)
	if err != nil {
		return nil, err
	}
	cfg, err := r.plugins.ResolveConfig(meta, config)
	if err != nil {
		return nil, err
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	return impl.Execute(ctx, inputs, cfg)
}

// Standalone runs the plugin as the only task of a synthesized workflow and
// returns the run result. The error is the cause recorded on the plugin node
// when it did not complete.
func (r *Runner) Standalone(ctx context.Context, pluginID string, inputs, config map[string]any, useCache bool) (*domain.RunResult, error) {
	if r.scheduler == nil {
		return nil, errors.New("standalone mode needs a scheduler")
	}
	wf, err := r.Workflow(pluginID, config)
	if err != nil {
		return nil, err
	}
	g, err := r.validator.Validate(wf)
	if err != nil {
		return nil, err
	}

	result, err := r.scheduler.Run(ctx, g, scheduler.RunOptions{Inputs: inputs, UseCache: useCache})
	if err != nil {
		return nil, err
	}
	node, ok := result.Node(TargetNodeID)
	if !ok {
		return result, fmt.Errorf("plugin %s produced no result", pluginID)
	}
	if node.Status != domain.NodeStatusCompleted {
		return result, node.Err
	}
	return result, nil
}

// Workflow synthesizes begin -> plugin -> end. Every data input of the
// plugin becomes a begin output of the same name and type, every data output
// an end input; the plugin is triggered by begin and triggers end.
// Plugins without outputs leave end triggered by begin.
func (r *Runner) Workflow(pluginID string, config map[string]any) (*domain.Workflow, error) {
	impl, err := r.plugins.Resolve(pluginID)
	if err != nil {
		return nil, err
	}
	meta, err := r.plugins.Metadata(pluginID)
	if err != nil {
		return nil, err
	}
	if meta.Kind != domain.KindTask && meta.Kind != domain.KindEnd {
		return nil, fmt.Errorf("%s plugins cannot run standalone", meta.Kind)
	}
	cfg, err := r.plugins.ResolveConfig(meta, config)
	if err != nil {
		return nil, err
	}
	inputs, outputs, err := r.plugins.ResolvePorts(meta, impl, cfg)
	if err != nil {
		return nil, err
	}

	wf := &domain.Workflow{
		ID:   "standalone-" + pluginID,
		Name: meta.Name,
	}
	connect := func(from, fromPort, to, toPort string) {
		wf.Connections = append(wf.Connections, domain.Connection{
			ID:   fmt.Sprintf("c%d", len(wf.Connections)+1),
			From: domain.Endpoint{NodeID: from, Port: fromPort},
			To:   domain.Endpoint{NodeID: to, Port: toPort},
		})
	}

	beginOutputs := map[string]any{}
	trigger, control := "", false
	for _, p := range inputs {
		if !p.IsControl() {
			beginOutputs[p.ID] = p.Type
			connect(BeginNodeID, p.ID, TargetNodeID, p.ID)
		}
		if p.Trigger && (trigger == "" || (!control && p.IsControl())) {
			trigger, control = p.ID, p.IsControl()
		}
	}
	if trigger == "" {
		return nil, fmt.Errorf("plugin %s has no trigger input", pluginID)
	}
	if control {
		connect(BeginNodeID, "trigger", TargetNodeID, trigger)
	}

	endInputs := map[string]any{}
	wired := false
	for _, p := range outputs {
		if p.IsControl() {
			connect(TargetNodeID, p.ID, EndNodeID, "trigger")
		} else {
			endInputs[p.ID] = p.Type
			connect(TargetNodeID, p.ID, EndNodeID, p.ID)
		}
		wired = true
	}

	if !wired {
		connect(BeginNodeID, "trigger", EndNodeID, "trigger")
	}

	wf.Nodes = []domain.Node{
		{ID: BeginNodeID, Type: core.BeginID, Config: map[string]any{"outputs": beginOutputs}},
		{ID: TargetNodeID, Type: pluginID, Config: config},
		{ID: EndNodeID, Type: core.EndID, Config: map[string]any{"inputs": endInputs}},
	}
	return wf, nil
}

// Execute runs req once in its mode and records the latency.
func (r *Runner) Execute(ctx context.Context, req Request) (*Result, error) {
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	res := &Result{PluginID: req.PluginID, Mode: mode}

	start := time.Now()
	switch mode {
	case ModeStandalone:
		var run *domain.RunResult
		run, err = r.Standalone(ctx, req.PluginID, req.Inputs, req.Config, req.UseCache)
		res.Run = run
		if run != nil {
			if node, ok := run.Node(TargetNodeID); ok && node.Status == domain.NodeStatusCompleted {
				res.Outputs = node.Outputs
				res.CacheHit = node.CacheHit
			}
		}
	default:
		res.Outputs, err = r.Direct(ctx, req.PluginID, req.Inputs, req.Config)
	}
	res.Duration = time.Since(start)

	r.metrics.ObserveStandalone(req.PluginID, string(mode), res.Duration, err == nil)
	if err != nil {
		res.Error = err.Error()
		r.logger.Debug("plugin execution failed",
			zap.String("plugin", req.PluginID),
			zap.String("mode", string(mode)),
			zap.Error(err))
		return res, err
	}
	return res, nil
}
