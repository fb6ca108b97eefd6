package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/dagflow/internal/application/workers"
	"github.com/aescanero/dagflow/internal/graph"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/plugin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// outcome is what a node job reports back to its coordinator. Loop nodes
// also carry the results of their last iteration.
type outcome struct {
	result *domain.NodeExecutionResult
	body   map[string]*domain.NodeExecutionResult
}

// run is the execution context of one graph run, or of one loop iteration.
// Everything but results is owned by the coordinating goroutine.
type run struct {
	s         *Scheduler
	g         *graph.Graph
	id        string
	depth     int
	iteration int
	useCache  bool
	members   map[string]bool
	order     []string

	status   map[string]domain.NodeStatus
	pending  map[string]int
	inputs   map[string]map[string]any
	trig     map[string]bool
	external map[string]map[string]any
	blocked  map[string]map[string]bool
	roots    map[string][]string
	queue    []string
	inflight int
	done     chan outcome

	mu      sync.RWMutex
	results map[string]*domain.NodeExecutionResult
}

func newRun(s *Scheduler, g *graph.Graph, id string, members map[string]bool, useCache bool, depth int) *run {
	r := &run{
		s:        s,
		g:        g,
		id:       id,
		depth:    depth,
		useCache: useCache,
		members:  members,
		order:    g.Sorted(members),
		status:   make(map[string]domain.NodeStatus, len(members)),
		pending:  make(map[string]int, len(members)),
		inputs:   make(map[string]map[string]any),
		trig:     make(map[string]bool),
		external: make(map[string]map[string]any),
		blocked:  make(map[string]map[string]bool),
		roots:    make(map[string][]string),
		done:     make(chan outcome, len(members)),
		results:  make(map[string]*domain.NodeExecutionResult, len(members)),
	}
	for _, id := range r.order {
		r.status[id] = domain.NodeStatusPending
		for _, c := range g.Incoming(id) {
			if members[c.From.NodeID] {
				r.pending[id]++
			}
		}
	}
	return r
}

// seed delivers outputs of src, a node outside the run, to the members it
// feeds.
func (r *run) seed(src *graph.Node, outputs map[string]any) {
	for _, c := range r.g.Outgoing(src.ID) {
		if r.members[c.To.NodeID] {
			r.deliver(src, c, outputs)
		}
	}
}

// execute coordinates the run until every member is settled or ctx ends.
func (r *run) execute(ctx context.Context) *domain.RunResult {
	started := time.Now()
	for _, id := range r.order {
		if r.pending[id] == 0 {
			r.queue = append(r.queue, id)
		}
	}

	for {
		for len(r.queue) > 0 {
			if ctx.Err() != nil {
				return r.cancel(ctx, started, context.Cause(ctx))
			}
			id := r.queue[0]
			r.queue = r.queue[1:]
			r.evaluate(ctx, id)
		}
		if r.inflight == 0 {
			break
		}
		select {
		case o := <-r.done:
			r.inflight--
			r.complete(ctx, o)
		case <-ctx.Done():
			return r.cancel(ctx, started, context.Cause(ctx))
		case <-r.s.pool.Done():
			// Queued jobs are dropped by a stopping pool and never report.
			return r.cancel(ctx, started, workers.ErrPoolStopped)
		}
	}

	for _, id := range r.order {
		if r.status[id].Terminal() {
			continue
		}
		if ctx.Err() != nil {
			return r.cancel(ctx, started, context.Cause(ctx))
		}
		node, _ := r.g.Node(id)
		r.skip(ctx, node, r.skipError(id, domain.SkipNotTriggered, ""))
	}
	return r.finish(started, false)
}

// evaluate decides the fate of a node whose incoming connections are all
// settled.
func (r *run) evaluate(ctx context.Context, id string) {
	node, _ := r.g.Node(id)
	if !r.trig[id] {
		r.skip(ctx, node, r.skipError(id, domain.SkipNotTriggered, ""))
		return
	}

	inputs := r.collectInputs(node)
	for _, p := range node.InputPorts {
		if p.IsControl() || !p.Required {
			continue
		}
		if _, ok := inputs[p.ID]; !ok {
			r.skip(ctx, node, r.skipError(id, domain.SkipMissingInput, p.ID))
			return
		}
	}
	r.transition(node, domain.NodeStatusReady)
	r.dispatch(ctx, node, inputs)
}

func (r *run) collectInputs(node *graph.Node) map[string]any {
	inputs := make(map[string]any)
	if node.Meta.Kind == domain.KindBegin {
		for k, v := range r.external[node.ID] {
			inputs[k] = v
		}
		return inputs
	}
	for _, p := range node.InputPorts {
		if p.IsControl() {
			continue
		}
		if v, ok := r.inputs[node.ID][p.ID]; ok {
			inputs[p.ID] = v
		} else if p.HasDefault() {
			inputs[p.ID] = p.Default
		}
	}
	return inputs
}

func (r *run) skipError(id string, reason domain.SkipReason, port string) *domain.SkipError {
	err := &domain.SkipError{NodeID: id, Reason: reason, Port: port}
	if len(r.blocked[id]) > 0 {
		err.Reason = domain.SkipUpstreamFailed
		for u := range r.blocked[id] {
			err.Upstream = append(err.Upstream, u)
		}
		sort.Strings(err.Upstream)
	}
	return err
}

func (r *run) skip(ctx context.Context, node *graph.Node, err *domain.SkipError) {
	now := time.Now()
	res := &domain.NodeExecutionResult{
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      domain.NodeStatusSkipped,
		StartedAt:   now,
		CompletedAt: now,
	}
	res.SetError(err)
	if err.Reason == domain.SkipUpstreamFailed {
		r.roots[node.ID] = err.Upstream
	}
	r.record(ctx, node, res)
	r.settle(node, res)
}

// dispatch hands a ready node to the worker pool. Loop nodes are driven
// from their own goroutine because they submit jobs themselves.
func (r *run) dispatch(ctx context.Context, node *graph.Node, inputs map[string]any) {
	r.transition(node, domain.NodeStatusRunning)
	r.inflight++
	r.s.publish(ctx, r.id, node.ID, domain.EventNodeStarted, r.eventData(node, nil))

	if node.IsLoop() {
		go func() {
			r.done <- r.runLoop(ctx, node, inputs)
		}()
		return
	}

	err := r.s.pool.Submit(ctx, "node:"+node.ID, func() {
		r.done <- outcome{result: r.invoke(ctx, node, inputs)}
	})
	if err == nil {
		return
	}
	r.inflight--
	if ctx.Err() != nil {
		return
	}
	now := time.Now()
	res := &domain.NodeExecutionResult{
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      domain.NodeStatusFailed,
		StartedAt:   now,
		CompletedAt: now,
	}
	res.SetError(&domain.NodeExecutionError{NodeID: node.ID, Err: fmt.Errorf("dispatch: %w", err)})
	r.record(ctx, node, res)
	r.settle(node, res)
}

// invoke runs on a pool worker: cache lookup, plugin call, fallback and
// output contract check.
func (r *run) invoke(ctx context.Context, node *graph.Node, inputs map[string]any) *domain.NodeExecutionResult {
	res := &domain.NodeExecutionResult{
		NodeID:    node.ID,
		NodeType:  node.Type,
		StartedAt: time.Now(),
	}
	defer func() { res.CompletedAt = time.Now() }()

	key := ""
	if r.cacheable(node) {
		if k, ok := cacheKey(node, inputs); ok {
			key = k
			out, hit, err := r.s.opts.Cache.Get(ctx, key)
			if err != nil {
				r.s.logger.Warn("cache lookup failed",
					zap.String("run_id", r.id),
					zap.String("node_id", node.ID),
					zap.Error(err))
			}
			r.s.opts.Metrics.RecordCacheLookup(hit)
			if hit {
				res.Status = domain.NodeStatusCompleted
				res.Outputs = out
				res.CacheHit = true
				return res
			}
		}
	}

	config := node.Config
	out, err := r.s.call(ctx, node, func(cctx context.Context) (map[string]any, error) {
		return node.Plugin.Execute(cctx, copyMap(inputs), config)
	})
	if err == nil {
		err = r.s.checkOutputs(node, out)
	}

	if err != nil {
		var cancelled *domain.CancelledError
		if fb, ok := node.Plugin.(plugin.Fallbacker); ok && !errors.As(err, &cancelled) {
			cause := err
			fbOut, fbErr := r.s.call(ctx, node, func(cctx context.Context) (map[string]any, error) {
				return fb.Fallback(cctx, copyMap(inputs), config, cause)
			})
			if fbErr == nil {
				fbErr = r.s.checkOutputs(node, fbOut)
			}
			if fbErr == nil {
				r.s.logger.Info("node recovered through fallback",
					zap.String("run_id", r.id),
					zap.String("node_id", node.ID),
					zap.Error(cause))
				res.Status = domain.NodeStatusCompleted
				res.Outputs = fbOut
				res.Fallback = true
				return res
			}
			err = multierr.Append(cause, fmt.Errorf("fallback: %w", fbErr))
		}
		res.Status = domain.NodeStatusFailed
		res.SetError(err)
		return res
	}

	res.Status = domain.NodeStatusCompleted
	res.Outputs = out
	if key != "" {
		if err := r.s.opts.Cache.Set(ctx, key, out); err != nil {
			r.s.logger.Warn("cache store failed",
				zap.String("run_id", r.id),
				zap.String("node_id", node.ID),
				zap.Error(err))
		}
	}
	return res
}

func (r *run) cacheable(node *graph.Node) bool {
	return r.useCache && r.s.opts.Cache != nil && !node.Meta.DisableCache && !node.IsLoop()
}

// complete records a finished job and releases its downstream nodes.
func (r *run) complete(ctx context.Context, o outcome) {
	node, _ := r.g.Node(o.result.NodeID)
	if len(o.body) > 0 {
		r.mu.Lock()
		for id, res := range o.body {
			r.results[id] = res
		}
		r.mu.Unlock()
	}
	r.record(ctx, node, o.result)
	r.settle(node, o.result)
}

// settle marks every outgoing connection of a terminal node as settled,
// delivering values and triggers when the node completed.
func (r *run) settle(node *graph.Node, res *domain.NodeExecutionResult) {
	var cause []string
	switch res.Status {
	case domain.NodeStatusFailed:
		cause = []string{node.ID}
	case domain.NodeStatusSkipped:
		cause = r.roots[node.ID]
	}

	for _, c := range r.g.Outgoing(node.ID) {
		dst := c.To.NodeID
		if !r.members[dst] {
			continue
		}
		if res.Status == domain.NodeStatusCompleted {
			r.deliver(node, c, res.Outputs)
		} else if len(cause) > 0 {
			if r.blocked[dst] == nil {
				r.blocked[dst] = make(map[string]bool)
			}
			for _, u := range cause {
				r.blocked[dst][u] = true
			}
		}
		r.pending[dst]--
		if r.pending[dst] == 0 {
			r.queue = append(r.queue, dst)
		}
	}
}

// deliver moves one output of src along c. Trigger-typed outputs fire
// unless the plugin set them to false; data outputs travel only when
// present.
func (r *run) deliver(src *graph.Node, c domain.Connection, outputs map[string]any) {
	from, ok := src.Output(c.From.Port)
	if !ok {
		return
	}
	v, present := outputs[c.From.Port]
	if from.IsControl() && !present {
		v, present = true, true
	}
	if !present {
		return
	}

	dst, ok := r.g.Node(c.To.NodeID)
	if !ok {
		return
	}
	to, ok := dst.Input(c.To.Port)
	if !ok {
		return
	}
	if to.Trigger && (!to.IsControl() || signals(v)) {
		r.trig[dst.ID] = true
	}
	if !to.IsControl() {
		if r.inputs[dst.ID] == nil {
			r.inputs[dst.ID] = make(map[string]any)
		}
		r.inputs[dst.ID][to.ID] = v
	}
}

// signals reports whether a value arriving on a control port fires it.
func signals(v any) bool {
	b, isBool := v.(bool)
	return !isBool || b
}

// transition moves a node through its state machine.
func (r *run) transition(node *graph.Node, next domain.NodeStatus) {
	cur := r.status[node.ID]
	if !cur.CanTransition(next) {
		r.s.logger.Error("unexpected node transition",
			zap.String("run_id", r.id),
			zap.String("node_id", node.ID),
			zap.String("from", string(cur)),
			zap.String("to", string(next)))
	}
	r.status[node.ID] = next
}

// record publishes a terminal result, then notifies metrics, events and logs.
func (r *run) record(ctx context.Context, node *graph.Node, res *domain.NodeExecutionResult) {
	r.mu.Lock()
	r.results[node.ID] = res
	r.mu.Unlock()
	r.transition(node, res.Status)

	r.s.opts.Metrics.RecordNodeExecuted(node.Type, string(res.Status), res.Duration())

	fields := []zap.Field{
		zap.String("run_id", r.id),
		zap.String("node_id", node.ID),
		zap.String("node_type", node.Type),
		zap.String("status", string(res.Status)),
		zap.Duration("duration", res.Duration()),
	}
	if r.depth > 0 {
		fields = append(fields, zap.Int("iteration", r.iteration))
	}

	var typ domain.EventType
	switch res.Status {
	case domain.NodeStatusCompleted:
		typ = domain.EventNodeCompleted
		if res.CacheHit {
			r.s.publish(ctx, r.id, node.ID, domain.EventNodeCached, r.eventData(node, res))
		}
		r.s.logger.Debug("node completed", append(fields, zap.Bool("cache_hit", res.CacheHit), zap.Bool("fallback", res.Fallback))...)
	case domain.NodeStatusFailed:
		typ = domain.EventNodeFailed
		r.s.logger.Warn("node failed", append(fields, zap.Error(res.Err))...)
	default:
		typ = domain.EventNodeSkipped
		r.s.logger.Debug("node skipped", append(fields, zap.Error(res.Err))...)
	}
	r.s.publish(ctx, r.id, node.ID, typ, r.eventData(node, res))
}

func (r *run) eventData(node *graph.Node, res *domain.NodeExecutionResult) map[string]any {
	data := map[string]any{"node_type": node.Type}
	if r.depth > 0 {
		data["iteration"] = r.iteration
		data["depth"] = r.depth
	}
	if res == nil {
		return data
	}
	data["status"] = string(res.Status)
	data["duration_ms"] = res.Duration().Milliseconds()
	if res.Outputs != nil {
		data["outputs"] = res.Outputs
	}
	if res.Error != "" {
		data["error"] = res.Error
	}
	if res.CacheHit {
		data["cache_hit"] = true
	}
	if res.Fallback {
		data["fallback"] = true
	}
	return data
}

// cancel marks every unfinished member as skipped by cancellation. Results
// of jobs still running are dropped when they arrive.
func (r *run) cancel(ctx context.Context, started time.Time, cause error) *domain.RunResult {
	now := time.Now()
	for _, id := range r.order {
		if r.status[id].Terminal() {
			continue
		}
		node, _ := r.g.Node(id)
		res := &domain.NodeExecutionResult{
			NodeID:      id,
			NodeType:    node.Type,
			Status:      domain.NodeStatusSkipped,
			StartedAt:   now,
			CompletedAt: now,
		}
		res.SetError(&domain.CancelledError{NodeID: id, Cause: cause})
		r.record(ctx, node, res)
	}
	return r.finish(started, true)
}

func (r *run) finish(started time.Time, cancelled bool) *domain.RunResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := make(map[string]*domain.NodeExecutionResult, len(r.results))
	for id, res := range r.results {
		nodes[id] = res
	}
	return &domain.RunResult{
		RunID:       r.id,
		WorkflowID:  r.g.ID(),
		Nodes:       nodes,
		StartedAt:   started,
		CompletedAt: time.Now(),
		Cancelled:   cancelled,
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
