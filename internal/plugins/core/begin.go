package core

import (
	"context"

	"github.com/aescanero/dagflow/pkg/domain"
)

// Begin is the single entry node of a workflow. It starts with an implicit
// trigger and emits the run inputs on the ports declared in its "outputs"
// config, falling back to the values in its "values" config.
type Begin struct{}

func (b *Begin) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		ID:          BeginID,
		Name:        "Begin",
		Version:     version,
		Category:    category,
		Description: "Workflow entry point",
		Kind:        domain.KindBegin,
		Outputs:     []domain.Port{triggerPort("trigger", domain.DirectionOutput)},
		Config: []domain.ConfigField{
			{Name: "outputs", Type: domain.TypeObject, Description: "Extra output ports, name to type"},
			{Name: "values", Type: domain.TypeObject, Description: "Default values for the extra outputs"},
		},
		DisableCache: true,
	}
}

func (b *Begin) ResolvePorts(config map[string]any) ([]domain.Port, []domain.Port, error) {
	types, names, err := portTypes(config, "outputs")
	if err != nil {
		return nil, nil, err
	}
	outputs := make([]domain.Port, 0, len(names))
	for _, name := range names {
		outputs = append(outputs, domain.Port{ID: name, Type: types[name]})
	}
	return nil, outputs, nil
}

func (b *Begin) Execute(_ context.Context, inputs, config map[string]any) (map[string]any, error) {
	_, names, err := portTypes(config, "outputs")
	if err != nil {
		return nil, err
	}
	values, _ := config["values"].(map[string]any)

	out := map[string]any{"trigger": true}
	for _, name := range names {
		if v, ok := inputs[name]; ok {
			out[name] = v
		} else if v, ok := values[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}
