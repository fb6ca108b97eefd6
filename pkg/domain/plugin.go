package domain

// NodeKind classifies nodes the engine treats specially.
type NodeKind string

const (
	KindTask  NodeKind = ""
	KindBegin NodeKind = "begin"
	KindEnd   NodeKind = "end"
	KindLoop  NodeKind = "loop"
)

// ConfigField is one entry of a plugin's config contract.
type ConfigField struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// LoopContract describes how the scheduler drives a loop construct.
//
// BodyPorts are the outputs produced on every iteration; everything reachable
// from them forms the loop body. StatePort is the input holding the carried
// value, replaced after each pass by whatever arrives on FeedbackPort. A
// false value on ExitPort stops the loop. When the loop ends ResultPort
// receives the final state, IterationsPort the pass count and DonePort fires.
type LoopContract struct {
	BodyPorts          []string `json:"bodyPorts" yaml:"bodyPorts"`
	StatePort          string   `json:"statePort,omitempty" yaml:"statePort,omitempty"`
	FeedbackPort       string   `json:"feedbackPort,omitempty" yaml:"feedbackPort,omitempty"`
	ExitPort           string   `json:"exitPort,omitempty" yaml:"exitPort,omitempty"`
	ResultPort         string   `json:"resultPort,omitempty" yaml:"resultPort,omitempty"`
	IterationsPort     string   `json:"iterationsPort,omitempty" yaml:"iterationsPort,omitempty"`
	DonePort           string   `json:"donePort,omitempty" yaml:"donePort,omitempty"`
	MaxIterationsField string   `json:"maxIterationsField,omitempty" yaml:"maxIterationsField,omitempty"`
}

// IsBodyPort reports whether port feeds the loop body.
func (c *LoopContract) IsBodyPort(port string) bool {
	for _, p := range c.BodyPorts {
		if p == port {
			return true
		}
	}
	return false
}

// IsBackPort reports whether port receives values from the loop body.
func (c *LoopContract) IsBackPort(port string) bool {
	return port != "" && (port == c.FeedbackPort || port == c.ExitPort)
}

// PluginMetadata is the declared contract of a plugin.
type PluginMetadata struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Version      string        `json:"version" yaml:"version"`
	Category     string        `json:"category" yaml:"category"`
	Description  string        `json:"description,omitempty" yaml:"description,omitempty"`
	Kind         NodeKind      `json:"kind,omitempty" yaml:"kind,omitempty"`
	Inputs       []Port        `json:"inputs" yaml:"inputs"`
	Outputs      []Port        `json:"outputs" yaml:"outputs"`
	Config       []ConfigField `json:"config,omitempty" yaml:"config,omitempty"`
	Loop         *LoopContract `json:"loop,omitempty" yaml:"loop,omitempty"`
	DisableCache bool          `json:"disableCache,omitempty" yaml:"disableCache,omitempty"`
	Fallback     bool          `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// Input returns the declared input port with the given id.
func (m PluginMetadata) Input(id string) (Port, bool) {
	return findPort(m.Inputs, id)
}

// Output returns the declared output port with the given id.
func (m PluginMetadata) Output(id string) (Port, bool) {
	return findPort(m.Outputs, id)
}

func findPort(ports []Port, id string) (Port, bool) {
	for _, p := range ports {
		if p.ID == id {
			return p, true
		}
	}
	return Port{}, false
}
