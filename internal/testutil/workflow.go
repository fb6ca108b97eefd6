package testutil

import (
	"fmt"
	"testing"

	"github.com/aescanero/dagflow/internal/plugins"
	"github.com/aescanero/dagflow/internal/plugins/core"
	"github.com/aescanero/dagflow/internal/typesys"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/plugin"
	"github.com/stretchr/testify/require"
)

// Registry returns a plugin registry holding the default types, the core
// plugins and extra.
func Registry(t testing.TB, extra ...plugin.Plugin) *plugins.Registry {
	t.Helper()
	types, err := typesys.NewDefault()
	require.NoError(t, err)
	reg := plugins.NewRegistry(types)
	require.NoError(t, reg.Add(core.Plugins()...))
	require.NoError(t, reg.Add(extra...))
	return reg
}

// Builder assembles workflow definitions.
type Builder struct {
	wf domain.Workflow
}

// NewWorkflow starts a workflow with the given id.
func NewWorkflow(id string) *Builder {
	return &Builder{wf: domain.Workflow{ID: id, Name: id}}
}

// Begin adds a core.begin node called "begin".
func (b *Builder) Begin() *Builder {
	return b.Node("begin", core.BeginID, nil)
}

// Node adds a node.
func (b *Builder) Node(id, typ string, config map[string]any) *Builder {
	b.wf.Nodes = append(b.wf.Nodes, domain.Node{ID: id, Type: typ, Config: config})
	return b
}

// Connect adds a connection with a generated id.
func (b *Builder) Connect(from, fromPort, to, toPort string) *Builder {
	b.wf.Connections = append(b.wf.Connections, domain.Connection{
		ID:   fmt.Sprintf("c%d", len(b.wf.Connections)+1),
		From: domain.Endpoint{NodeID: from, Port: fromPort},
		To:   domain.Endpoint{NodeID: to, Port: toPort},
	})
	return b
}

// Trigger connects the trigger output of from to the trigger input of to.
func (b *Builder) Trigger(from, to string) *Builder {
	return b.Connect(from, "trigger", to, "trigger")
}

// Build returns a copy of the workflow built so far.
func (b *Builder) Build() *domain.Workflow {
	return b.wf.Clone()
}

// HelloWorld is begin -> constant("Hello World") -> end.
func HelloWorld() *domain.Workflow {
	return NewWorkflow("hello").
		Begin().
		Node("greet", core.ConstantID, map[string]any{"value": "Hello World", "type": domain.TypeString}).
		Node("end", core.EndID, nil).
		Trigger("begin", "greet").
		Connect("greet", "value", "end", "value").
		Build()
}
