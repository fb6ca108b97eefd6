package orchestrator

import (
	"errors"
	"fmt"

	"github.com/aescanero/dagflow/internal/graph"
	"github.com/aescanero/dagflow/internal/plugins"
	"github.com/aescanero/dagflow/internal/typesys"
	"github.com/aescanero/dagflow/pkg/domain"
	"go.uber.org/multierr"
)

// violationOrder is the order violations are reported in: structural
// checks by severity, then problems binding nodes to their plugins.
var violationOrder = []domain.ViolationCode{
	domain.ViolationDuplicateID,
	domain.ViolationDanglingEndpoint,
	domain.ViolationDirectionMismatch,
	domain.ViolationMultipleInputs,
	domain.ViolationTypeMismatch,
	domain.ViolationUnknownType,
	domain.ViolationMissingInput,
	domain.ViolationEntry,
	domain.ViolationUnreachable,
	domain.ViolationCycle,
	domain.ViolationUnboundedLoop,
	domain.ViolationLoopBody,
	domain.ViolationUnknownPlugin,
	domain.ViolationInvalidConfig,
	domain.ViolationInvalidPorts,
}

// Validator checks workflow definitions against the plugin and type
// registries and turns valid ones into executable graphs.
type Validator struct {
	types   *typesys.Registry
	plugins *plugins.Registry
}

// NewValidator creates a new workflow validator
func NewValidator(pluginReg *plugins.Registry) *Validator {
	return &Validator{
		types:   pluginReg.Types(),
		plugins: pluginReg,
	}
}

type report struct {
	buckets map[domain.ViolationCode][]domain.Violation
}

func (r *report) add(v domain.Violation) {
	if r.buckets == nil {
		r.buckets = make(map[domain.ViolationCode][]domain.Violation)
	}
	r.buckets[v.Code] = append(r.buckets[v.Code], v)
}

func (r *report) err(workflowID string) error {
	var all []domain.Violation
	for _, code := range violationOrder {
		all = append(all, r.buckets[code]...)
	}
	if len(all) == 0 {
		return nil
	}
	return &domain.ValidationError{WorkflowID: workflowID, Violations: all}
}

// Validate checks wf and returns its graph. Every violation found is
// reported in a single *domain.ValidationError.
func (v *Validator) Validate(wf *domain.Workflow) (*graph.Graph, error) {
	if wf == nil {
		return nil, &domain.ValidationError{Violations: []domain.Violation{{
			Code:    domain.ViolationEntry,
			Message: "workflow is nil",
		}}}
	}

	rep := &report{}
	specs, conns := v.checkIDs(wf, rep)
	nodes, declared := v.bindNodes(specs, rep)
	valid := v.checkConnections(conns, nodes, declared, rep)

	bound := make([]*graph.Node, 0, len(nodes))
	for _, spec := range specs {
		if n, ok := nodes[spec.ID]; ok {
			bound = append(bound, n)
		}
	}
	g := graph.New(wf, bound, valid)

	v.checkRequiredInputs(g, rep)
	v.checkEntry(g, rep)
	for _, cycle := range g.FindCycles() {
		rep.add(domain.Violation{
			Code:    domain.ViolationCycle,
			NodeID:  cycle[0],
			Message: fmt.Sprintf("nodes %v form a cycle outside any loop", cycle),
			Err:     &domain.CycleError{Path: cycle},
		})
	}
	v.checkLoops(g, rep)

	if err := rep.err(wf.ID); err != nil {
		return nil, err
	}
	return g, nil
}

// checkIDs reports empty and repeated node and connection ids and returns
// the first occurrence of each.
func (v *Validator) checkIDs(wf *domain.Workflow, rep *report) ([]domain.Node, []domain.Connection) {
	specs := make([]domain.Node, 0, len(wf.Nodes))
	seen := make(map[string]bool, len(wf.Nodes))
	for i, n := range wf.Nodes {
		switch {
		case n.ID == "":
			rep.add(domain.Violation{Code: domain.ViolationDuplicateID, Message: fmt.Sprintf("node at index %d has no id", i)})
		case seen[n.ID]:
			rep.add(domain.Violation{Code: domain.ViolationDuplicateID, NodeID: n.ID, Message: fmt.Sprintf("duplicate node id %q", n.ID)})
		default:
			seen[n.ID] = true
			specs = append(specs, n)
		}
	}

	conns := make([]domain.Connection, 0, len(wf.Connections))
	seenConn := make(map[string]bool, len(wf.Connections))
	for i, c := range wf.Connections {
		switch {
		case c.ID == "":
			rep.add(domain.Violation{Code: domain.ViolationDuplicateID, Message: fmt.Sprintf("connection at index %d has no id", i)})
		case seenConn[c.ID]:
			rep.add(domain.Violation{Code: domain.ViolationDuplicateID, ConnectionID: c.ID, Message: fmt.Sprintf("duplicate connection id %q", c.ID)})
		default:
			seenConn[c.ID] = true
			conns = append(conns, c)
		}
	}
	return specs, conns
}

// bindNodes resolves plugin, config and ports of every node. Nodes that
// fail to bind are left out of the result but still count as declared.
func (v *Validator) bindNodes(specs []domain.Node, rep *report) (map[string]*graph.Node, map[string]bool) {
	nodes := make(map[string]*graph.Node, len(specs))
	declared := make(map[string]bool, len(specs))
	for _, spec := range specs {
		declared[spec.ID] = true

		impl, err := v.plugins.Resolve(spec.Type)
		if err != nil {
			rep.add(domain.Violation{
				Code:    domain.ViolationUnknownPlugin,
				NodeID:  spec.ID,
				Message: fmt.Sprintf("node %q: no plugin for type %q", spec.ID, spec.Type),
				Err:     err,
			})
			continue
		}
		meta, err := v.plugins.Metadata(spec.Type)
		if err != nil {
			rep.add(domain.Violation{Code: domain.ViolationUnknownPlugin, NodeID: spec.ID, Message: err.Error(), Err: err})
			continue
		}

		cfg, err := v.plugins.ResolveConfig(meta, spec.Config)
		if err != nil {
			for _, e := range multierr.Errors(err) {
				rep.add(domain.Violation{
					Code:    domain.ViolationInvalidConfig,
					NodeID:  spec.ID,
					Message: fmt.Sprintf("node %q: %v", spec.ID, e),
					Err:     e,
				})
			}
			continue
		}

		inputs, outputs, err := v.plugins.ResolvePorts(meta, impl, cfg)
		if err != nil {
			viol := domain.Violation{
				Code:    domain.ViolationInvalidPorts,
				NodeID:  spec.ID,
				Message: fmt.Sprintf("node %q: %v", spec.ID, err),
				Err:     err,
			}
			var unknown *domain.UnknownTypeError
			if errors.As(err, &unknown) {
				viol.Code = domain.ViolationUnknownType
			}
			rep.add(viol)
			continue
		}

		nodes[spec.ID] = graph.NewNode(spec, meta, impl, cfg, inputs, outputs)
	}
	return nodes, declared
}

// checkConnections verifies endpoints, directions, fan-in and types, and
// returns the connections that join existing ports in the right direction.
func (v *Validator) checkConnections(conns []domain.Connection, nodes map[string]*graph.Node, declared map[string]bool, rep *report) []domain.Connection {
	valid := make([]domain.Connection, 0, len(conns))
	fanIn := make(map[domain.Endpoint][]string)

	for _, c := range conns {
		src, srcOK := v.endpoint(c, c.From, domain.DirectionOutput, nodes, declared, rep)
		dst, dstOK := v.endpoint(c, c.To, domain.DirectionInput, nodes, declared, rep)
		if !srcOK || !dstOK {
			continue
		}
		valid = append(valid, c)

		if !dst.Trigger {
			fanIn[c.To] = append(fanIn[c.To], c.ID)
		}

		ok, err := v.types.IsCompatible(src.Type, dst.Type)
		switch {
		case err != nil:
			rep.add(domain.Violation{
				Code:         domain.ViolationUnknownType,
				ConnectionID: c.ID,
				Message:      fmt.Sprintf("connection %q: %v", c.ID, err),
				Err:          err,
			})
		case !ok:
			mismatch := &domain.TypeMismatchError{ConnectionID: c.ID, From: src.Type, To: dst.Type}
			rep.add(domain.Violation{
				Code:         domain.ViolationTypeMismatch,
				ConnectionID: c.ID,
				Message:      mismatch.Error(),
				Err:          mismatch,
			})
		}
	}

	for _, c := range valid {
		ids, ok := fanIn[c.To]
		if !ok || len(ids) < 2 {
			continue
		}
		delete(fanIn, c.To)
		rep.add(domain.Violation{
			Code:    domain.ViolationMultipleInputs,
			NodeID:  c.To.NodeID,
			Message: fmt.Sprintf("data port %s.%s has %d incoming connections %v", c.To.NodeID, c.To.Port, len(ids), ids),
		})
	}
	return valid
}

// endpoint looks up one end of c. Endpoints on nodes that failed to bind are
// not reported again.
func (v *Validator) endpoint(c domain.Connection, ep domain.Endpoint, dir domain.Direction, nodes map[string]*graph.Node, declared map[string]bool, rep *report) (domain.Port, bool) {
	if !declared[ep.NodeID] {
		rep.add(domain.Violation{
			Code:         domain.ViolationDanglingEndpoint,
			ConnectionID: c.ID,
			Message:      fmt.Sprintf("connection %q references unknown node %q", c.ID, ep.NodeID),
		})
		return domain.Port{}, false
	}
	n, ok := nodes[ep.NodeID]
	if !ok {
		return domain.Port{}, false
	}

	lookup, opposite := n.Output, n.Input
	if dir == domain.DirectionInput {
		lookup, opposite = n.Input, n.Output
	}
	if p, ok := lookup(ep.Port); ok {
		return p, true
	}
	if _, ok := opposite(ep.Port); ok {
		rep.add(domain.Violation{
			Code:         domain.ViolationDirectionMismatch,
			ConnectionID: c.ID,
			NodeID:       ep.NodeID,
			Message:      fmt.Sprintf("connection %q uses %s.%s as an %s port", c.ID, ep.NodeID, ep.Port, dir),
		})
		return domain.Port{}, false
	}
	rep.add(domain.Violation{
		Code:         domain.ViolationDanglingEndpoint,
		ConnectionID: c.ID,
		NodeID:       ep.NodeID,
		Message:      fmt.Sprintf("connection %q references unknown port %s.%s", c.ID, ep.NodeID, ep.Port),
	})
	return domain.Port{}, false
}

func (v *Validator) checkRequiredInputs(g *graph.Graph, rep *report) {
	for _, n := range g.Nodes() {
		connected := make(map[string]bool)
		for _, c := range g.Incoming(n.ID) {
			connected[c.To.Port] = true
		}
		for _, p := range n.InputPorts {
			if !p.Required || p.HasDefault() || connected[p.ID] {
				continue
			}
			rep.add(domain.Violation{
				Code:    domain.ViolationMissingInput,
				NodeID:  n.ID,
				Message: fmt.Sprintf("required input %s.%s is not connected", n.ID, p.ID),
			})
		}
	}
}

func (v *Validator) checkEntry(g *graph.Graph, rep *report) {
	begins := g.BeginNodes()
	switch len(begins) {
	case 1:
	case 0:
		rep.add(domain.Violation{Code: domain.ViolationEntry, Message: "workflow has no begin node"})
		return
	default:
		rep.add(domain.Violation{Code: domain.ViolationEntry, Message: fmt.Sprintf("workflow has %d begin nodes %v", len(begins), begins)})
		return
	}

	reach := g.TriggerReachable(begins[0])
	for _, id := range g.IDs() {
		if reach[id] {
			continue
		}
		rep.add(domain.Violation{
			Code:    domain.ViolationUnreachable,
			NodeID:  id,
			Message: fmt.Sprintf("node %q can never be triggered from %q", id, begins[0]),
		})
	}
}

// checkLoops verifies that every loop is bounded and that its body only
// talks to the outside through the loop node.
func (v *Validator) checkLoops(g *graph.Graph, rep *report) {
	for _, id := range g.Loops() {
		loop, _ := g.Node(id)
		contract := loop.Meta.Loop

		exitWired := false
		for _, c := range g.Incoming(id) {
			if contract.ExitPort != "" && c.To.Port == contract.ExitPort {
				exitWired = true
			}
		}
		if loop.MaxIterations() <= 0 && !exitWired {
			rep.add(domain.Violation{
				Code:    domain.ViolationUnboundedLoop,
				NodeID:  id,
				Message: fmt.Sprintf("loop %q has neither a positive %s nor a connected exit port", id, contract.MaxIterationsField),
			})
		}

		body := g.LoopBody(id)
		inBody := make(map[string]bool, len(body))
		for _, b := range body {
			inBody[b] = true
		}
		for _, b := range body {
			for _, c := range g.Incoming(b) {
				src := c.From.NodeID
				switch {
				case src == id && !contract.IsBodyPort(c.From.Port):
					rep.add(domain.Violation{
						Code:         domain.ViolationLoopBody,
						NodeID:       b,
						ConnectionID: c.ID,
						Message:      fmt.Sprintf("loop %q port %q feeds its own body node %q", id, c.From.Port, b),
					})
				case src != id && !inBody[src]:
					rep.add(domain.Violation{
						Code:         domain.ViolationLoopBody,
						NodeID:       b,
						ConnectionID: c.ID,
						Message:      fmt.Sprintf("node %q outside loop %q feeds body node %q", src, id, b),
					})
				}
			}
			for _, c := range g.Outgoing(b) {
				if c.To.NodeID == id && !contract.IsBackPort(c.To.Port) {
					rep.add(domain.Violation{
						Code:         domain.ViolationLoopBody,
						NodeID:       b,
						ConnectionID: c.ID,
						Message:      fmt.Sprintf("body node %q may only feed loop %q through its feedback or exit port", b, id),
					})
				}
			}

			if inner, _ := g.Node(b); inner.IsLoop() {
				for _, nested := range g.LoopBody(b) {
					if nested == id {
						rep.add(domain.Violation{
							Code:    domain.ViolationLoopBody,
							NodeID:  b,
							Message: fmt.Sprintf("nested loop %q contains its enclosing loop %q", b, id),
						})
					}
				}
			}
		}
	}
}
