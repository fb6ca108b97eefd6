// Package core provides the nodes the engine itself relies on: the workflow
// entry and exit points, constants and the bounded loop construct.
package core

import (
	"fmt"
	"sort"

	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/plugin"
)

// Node type ids.
const (
	BeginID    = "core.begin"
	EndID      = "core.end"
	ConstantID = "core.constant"
	LoopID     = "core.loop"
)

const (
	category = "core"
	version  = "1.0.0"
)

// Plugins returns fresh instances of every core plugin.
func Plugins() []plugin.Plugin {
	return []plugin.Plugin{
		&Begin{},
		&End{},
		&Constant{},
		&Loop{},
	}
}

func triggerPort(id string, dir domain.Direction) domain.Port {
	return domain.Port{ID: id, Direction: dir, Type: domain.TypeTrigger, Trigger: dir == domain.DirectionInput}
}

// portTypes reads a name -> type map from a config value.
func portTypes(cfg map[string]any, field string) (map[string]string, []string, error) {
	raw, ok := cfg[field]
	if !ok || raw == nil {
		return nil, nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("%s must be an object of port name to type", field)
	}
	types := make(map[string]string, len(m))
	names := make([]string, 0, len(m))
	for name, v := range m {
		typ, ok := v.(string)
		if !ok {
			return nil, nil, fmt.Errorf("%s.%s: type must be a string, got %T", field, name, v)
		}
		types[name] = typ
		names = append(names, name)
	}
	sort.Strings(names)
	return types, names, nil
}
