package core

import (
	"context"

	"github.com/aescanero/dagflow/pkg/domain"
)

// End is a terminal node. Every data input is echoed on the output of the
// same name so results can be read from the end node.
type End struct{}

func (e *End) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		ID:          EndID,
		Name:        "End",
		Version:     version,
		Category:    category,
		Description: "Workflow exit point",
		Kind:        domain.KindEnd,
		Inputs: []domain.Port{
			triggerPort("trigger", domain.DirectionInput),
			{ID: "value", Direction: domain.DirectionInput, Type: domain.TypeAny, Trigger: true},
		},
		Outputs: []domain.Port{
			{ID: "value", Direction: domain.DirectionOutput, Type: domain.TypeAny},
		},
		Config: []domain.ConfigField{
			{Name: "inputs", Type: domain.TypeObject, Description: "Extra input ports, name to type"},
		},
		DisableCache: true,
	}
}

func (e *End) ResolvePorts(config map[string]any) ([]domain.Port, []domain.Port, error) {
	types, names, err := portTypes(config, "inputs")
	if err != nil {
		return nil, nil, err
	}
	inputs := make([]domain.Port, 0, len(names))
	outputs := make([]domain.Port, 0, len(names))
	for _, name := range names {
		inputs = append(inputs, domain.Port{ID: name, Type: types[name], Trigger: true})
		outputs = append(outputs, domain.Port{ID: name, Type: types[name]})
	}
	return inputs, outputs, nil
}

func (e *End) Execute(_ context.Context, inputs, _ map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if k == "trigger" {
			continue
		}
		out[k] = v
	}
	return out, nil
}
