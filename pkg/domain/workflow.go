package domain

// Direction is the direction of a port relative to its node.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Port is a named, typed connection point on a node.
type Port struct {
	ID          string    `json:"id" yaml:"id"`
	Direction   Direction `json:"direction" yaml:"direction"`
	Type        string    `json:"type" yaml:"type"`
	Trigger     bool      `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// HasDefault reports whether the port supplies a value when nothing is connected.
func (p Port) HasDefault() bool {
	return p.Default != nil
}

// IsControl reports whether the port only carries trigger signals.
func (p Port) IsControl() bool {
	return p.Type == TypeTrigger
}

// Position is the display location of a node. The engine ignores it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a unit of computation bound to a plugin through its type id.
type Node struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Position *Position      `json:"position,omitempty" yaml:"position,omitempty"`
}

// Endpoint addresses one port of one node.
type Endpoint struct {
	NodeID string `json:"nodeId" yaml:"nodeId"`
	Port   string `json:"port" yaml:"port"`
}

// Connection is a typed edge from an output port to an input port.
type Connection struct {
	ID   string   `json:"id" yaml:"id"`
	From Endpoint `json:"from" yaml:"from"`
	To   Endpoint `json:"to" yaml:"to"`
}

// Workflow is the external definition of a graph.
type Workflow struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name,omitempty" yaml:"name,omitempty"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []Node       `json:"nodes" yaml:"nodes"`
	Connections []Connection `json:"connections" yaml:"connections"`
}

// Clone returns a deep copy of the workflow structure. Config values are
// copied one level deep, which is enough to keep callers from mutating a
// workflow that is being executed.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	clone := &Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Nodes:       make([]Node, len(w.Nodes)),
		Connections: make([]Connection, len(w.Connections)),
	}
	for i, n := range w.Nodes {
		cp := n
		if n.Config != nil {
			cp.Config = make(map[string]any, len(n.Config))
			for k, v := range n.Config {
				cp.Config[k] = v
			}
		}
		if n.Position != nil {
			pos := *n.Position
			cp.Position = &pos
		}
		clone.Nodes[i] = cp
	}
	copy(clone.Connections, w.Connections)
	return clone
}
