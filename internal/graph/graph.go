// Package graph indexes a workflow whose nodes have been bound to plugins.
//
// A Graph is built by the validator; the scheduler only ever receives graphs
// that passed validation. The package also holds the structural analyses
// both of them need: ancestors for partial runs, loop bodies, trigger
// reachability and cycle search.
package graph

import (
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/plugin"
)

// Node is a workflow node bound to its plugin, with config defaults applied
// and ports resolved.
type Node struct {
	ID     string
	Type   string
	Meta   domain.PluginMetadata
	Plugin plugin.Plugin
	Config map[string]any

	InputPorts  []domain.Port
	OutputPorts []domain.Port

	inputs  map[string]domain.Port
	outputs map[string]domain.Port
}

// NewNode binds spec to its plugin.
func NewNode(spec domain.Node, meta domain.PluginMetadata, impl plugin.Plugin, config map[string]any, inputs, outputs []domain.Port) *Node {
	n := &Node{
		ID:          spec.ID,
		Type:        spec.Type,
		Meta:        meta,
		Plugin:      impl,
		Config:      config,
		InputPorts:  inputs,
		OutputPorts: outputs,
		inputs:      make(map[string]domain.Port, len(inputs)),
		outputs:     make(map[string]domain.Port, len(outputs)),
	}
	for _, p := range inputs {
		n.inputs[p.ID] = p
	}
	for _, p := range outputs {
		n.outputs[p.ID] = p
	}
	return n
}

// Input returns the input port with the given id.
func (n *Node) Input(id string) (domain.Port, bool) {
	p, ok := n.inputs[id]
	return p, ok
}

// Output returns the output port with the given id.
func (n *Node) Output(id string) (domain.Port, bool) {
	p, ok := n.outputs[id]
	return p, ok
}

// IsLoop reports whether the node is a loop construct.
func (n *Node) IsLoop() bool {
	return n.Meta.Loop != nil
}

// MaxIterations returns the configured iteration bound of a loop node, or 0.
func (n *Node) MaxIterations() int {
	if n.Meta.Loop == nil || n.Meta.Loop.MaxIterationsField == "" {
		return 0
	}
	v, _ := AsInt(n.Config[n.Meta.Loop.MaxIterationsField])
	return v
}

// AsInt converts a decoded numeric value to int.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), float32(int(n)) == n
	case float64:
		return int(n), float64(int(n)) == n
	}
	return 0, false
}

// Graph is an indexed workflow.
type Graph struct {
	workflow *domain.Workflow
	nodes    map[string]*Node
	order    []string
	incoming map[string][]domain.Connection
	outgoing map[string][]domain.Connection
	begin    []string
	bodies   map[string][]string
}

// New indexes nodes and the connections joining two of them. Connections
// whose endpoints are not among nodes are dropped.
func New(wf *domain.Workflow, nodes []*Node, conns []domain.Connection) *Graph {
	g := &Graph{
		workflow: wf,
		nodes:    make(map[string]*Node, len(nodes)),
		incoming: make(map[string][]domain.Connection),
		outgoing: make(map[string][]domain.Connection),
		bodies:   make(map[string][]string),
	}
	for _, n := range nodes {
		if _, dup := g.nodes[n.ID]; dup {
			continue
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
		if n.Meta.Kind == domain.KindBegin {
			g.begin = append(g.begin, n.ID)
		}
	}
	for _, c := range conns {
		if _, ok := g.nodes[c.From.NodeID]; !ok {
			continue
		}
		if _, ok := g.nodes[c.To.NodeID]; !ok {
			continue
		}
		g.outgoing[c.From.NodeID] = append(g.outgoing[c.From.NodeID], c)
		g.incoming[c.To.NodeID] = append(g.incoming[c.To.NodeID], c)
	}
	for _, id := range g.order {
		if g.nodes[id].IsLoop() {
			g.bodies[id] = g.loopBody(id)
		}
	}
	return g
}

// Workflow returns the definition the graph was built from.
func (g *Graph) Workflow() *domain.Workflow {
	return g.workflow
}

// ID returns the workflow id.
func (g *Graph) ID() string {
	return g.workflow.ID
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node in declaration order.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, len(g.order))
	for i, id := range g.order {
		nodes[i] = g.nodes[id]
	}
	return nodes
}

// IDs returns every node id in declaration order.
func (g *Graph) IDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// Incoming returns the connections ending at id.
func (g *Graph) Incoming(id string) []domain.Connection {
	return g.incoming[id]
}

// Outgoing returns the connections starting at id.
func (g *Graph) Outgoing(id string) []domain.Connection {
	return g.outgoing[id]
}

// BeginNodes returns the ids of all begin nodes.
func (g *Graph) BeginNodes() []string {
	return g.begin
}

// Begin returns the begin node id of a valid graph.
func (g *Graph) Begin() string {
	if len(g.begin) == 0 {
		return ""
	}
	return g.begin[0]
}

// LoopBody returns the body of loop node id in declaration order.
func (g *Graph) LoopBody(id string) []string {
	return g.bodies[id]
}

// Loops returns the ids of all loop nodes.
func (g *Graph) Loops() []string {
	var ids []string
	for _, id := range g.order {
		if _, ok := g.bodies[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
