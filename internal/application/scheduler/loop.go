package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aescanero/dagflow/internal/graph"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/plugin"
	"go.uber.org/zap"
)

// runLoop drives a loop node. Every iteration asks the plugin for the body
// seeds, then runs the body as a separate run whose only outside input is
// the loop node itself.
func (r *run) runLoop(ctx context.Context, node *graph.Node, inputs map[string]any) outcome {
	res := &domain.NodeExecutionResult{
		NodeID:    node.ID,
		NodeType:  node.Type,
		StartedAt: time.Now(),
	}
	var last map[string]*domain.NodeExecutionResult
	fail := func(err error) outcome {
		res.Status = domain.NodeStatusFailed
		res.SetError(err)
		res.CompletedAt = time.Now()
		return outcome{result: res, body: last}
	}

	contract := node.Meta.Loop
	looper, ok := node.Plugin.(plugin.Looper)
	if !ok || contract == nil {
		return fail(&domain.NodeExecutionError{NodeID: node.ID, Err: fmt.Errorf("%s is not a loop construct", node.Type)})
	}

	members := make(map[string]bool)
	for _, id := range r.g.LoopBody(node.ID) {
		members[id] = true
	}
	dropLoopBodies(r.g, members)

	feedback := r.backConnection(node, contract.FeedbackPort)
	exit := r.backConnection(node, contract.ExitPort)
	limit := node.MaxIterations()

	var state any
	if contract.StatePort != "" {
		state = inputs[contract.StatePort]
	}

	i := 0
	for limit <= 0 || i < limit {
		if i >= r.s.opts.MaxLoopIterations {
			return fail(&domain.NodeExecutionError{
				NodeID: node.ID,
				Err:    fmt.Errorf("loop exceeded %d iterations", r.s.opts.MaxLoopIterations),
			})
		}

		seeds, err := r.iterate(ctx, node, looper, i, state)
		if err == nil {
			err = r.s.checkOutputs(node, seeds)
		}
		if err != nil {
			return fail(err)
		}

		body := newRun(r.s, r.g, r.id, members, r.useCache, r.depth+1)
		body.iteration = i
		body.seed(node, seeds)
		result := body.execute(ctx)
		last = result.Nodes
		i++

		if result.Cancelled {
			return fail(&domain.CancelledError{NodeID: node.ID, Cause: context.Cause(ctx)})
		}
		if failed := result.WithStatus(domain.NodeStatusFailed); len(failed) > 0 {
			return fail(&domain.NodeExecutionError{
				NodeID: node.ID,
				Err:    fmt.Errorf("iteration %d: body node %q failed: %w", i-1, failed[0], result.Nodes[failed[0]].Err),
			})
		}

		if feedback != nil {
			if v, ok := backValue(*feedback, result, inputs); ok {
				state = v
			}
		}
		if exit != nil {
			v, ok := backValue(*exit, result, inputs)
			if !ok || !signals(v) {
				break
			}
		}
	}

	outputs := make(map[string]any, 3)
	if contract.ResultPort != "" {
		outputs[contract.ResultPort] = state
	}
	if contract.IterationsPort != "" {
		outputs[contract.IterationsPort] = i
	}
	if contract.DonePort != "" {
		outputs[contract.DonePort] = true
	}

	r.s.logger.Debug("loop finished",
		zap.String("run_id", r.id),
		zap.String("node_id", node.ID),
		zap.Int("iterations", i))

	res.Status = domain.NodeStatusCompleted
	res.Outputs = outputs
	res.Iterations = i
	res.CompletedAt = time.Now()
	return outcome{result: res, body: last}
}

// iterate calls the plugin's Iteration on a pool worker and waits for it.
func (r *run) iterate(ctx context.Context, node *graph.Node, looper plugin.Looper, index int, state any) (map[string]any, error) {
	ch := make(chan reply, 1)
	err := r.s.pool.Submit(ctx, fmt.Sprintf("loop:%s:%d", node.ID, index), func() {
		out, err := r.s.call(ctx, node, func(cctx context.Context) (map[string]any, error) {
			return looper.Iteration(cctx, index, state, node.Config)
		})
		ch <- reply{outputs: out, err: err}
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &domain.CancelledError{NodeID: node.ID, Cause: context.Cause(ctx)}
		}
		return nil, &domain.NodeExecutionError{NodeID: node.ID, Err: fmt.Errorf("dispatch: %w", err)}
	}

	select {
	case rep := <-ch:
		return rep.outputs, rep.err
	case <-ctx.Done():
		return nil, &domain.CancelledError{NodeID: node.ID, Cause: context.Cause(ctx)}
	}
}

// backConnection returns the connection feeding port of the loop node.
func (r *run) backConnection(node *graph.Node, port string) *domain.Connection {
	if port == "" {
		return nil
	}
	for _, c := range r.g.Incoming(node.ID) {
		if c.To.Port == port {
			return &c
		}
	}
	return nil
}

// backValue reads the value carried by c after an iteration. Sources inside
// the body are read from the iteration result, others from the loop inputs.
func backValue(c domain.Connection, result *domain.RunResult, inputs map[string]any) (any, bool) {
	if _, inBody := result.Nodes[c.From.NodeID]; inBody {
		return result.Output(c.From.NodeID, c.From.Port)
	}
	v, ok := inputs[c.To.Port]
	return v, ok
}
