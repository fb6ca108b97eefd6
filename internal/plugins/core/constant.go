package core

import (
	"context"
	"fmt"

	"github.com/aescanero/dagflow/pkg/domain"
)

// Constant emits its configured value once triggered.
type Constant struct{}

func (c *Constant) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		ID:          ConstantID,
		Name:        "Constant",
		Version:     version,
		Category:    category,
		Description: "Emits a fixed value",
		Inputs:      []domain.Port{triggerPort("trigger", domain.DirectionInput)},
		Outputs: []domain.Port{
			{ID: "value", Direction: domain.DirectionOutput, Type: domain.TypeAny},
			triggerPort("trigger", domain.DirectionOutput),
		},
		Config: []domain.ConfigField{
			{Name: "value", Type: domain.TypeAny, Required: true},
			{Name: "type", Type: domain.TypeString, Default: domain.TypeAny, Description: "Declared type of the value port"},
		},
	}
}

func (c *Constant) ResolvePorts(config map[string]any) ([]domain.Port, []domain.Port, error) {
	typ := domain.TypeAny
	if raw, ok := config["type"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return nil, nil, fmt.Errorf("type must be a string, got %T", raw)
		}
		typ = s
	}
	return nil, []domain.Port{{ID: "value", Type: typ}}, nil
}

func (c *Constant) Execute(_ context.Context, _, config map[string]any) (map[string]any, error) {
	return map[string]any{"value": config["value"]}, nil
}
