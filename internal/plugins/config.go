package plugins

import (
	"fmt"
	"sort"

	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/plugin"
	"go.uber.org/multierr"
)

// ResolveConfig checks cfg against the plugin's config fields and returns a
// copy with defaults applied. Unknown keys, missing required fields and
// values of the wrong type are reported together as *domain.ConfigError values.
func (r *Registry) ResolveConfig(meta domain.PluginMetadata, cfg map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(meta.Config))
	known := make(map[string]bool, len(meta.Config))
	var errs error

	for _, f := range meta.Config {
		known[f.Name] = true
		v, ok := cfg[f.Name]
		if !ok || v == nil {
			if f.Required {
				errs = multierr.Append(errs, &domain.ConfigError{Field: f.Name, Reason: "is required"})
				continue
			}
			if f.Default != nil {
				resolved[f.Name] = f.Default
			}
			continue
		}
		conforms, err := r.types.Conforms(f.Type, v)
		if err != nil {
			errs = multierr.Append(errs, &domain.ConfigError{Field: f.Name, Reason: err.Error()})
			continue
		}
		if !conforms {
			errs = multierr.Append(errs, &domain.ConfigError{
				Field:  f.Name,
				Reason: fmt.Sprintf("expected %s, got %T", f.Type, v),
			})
			continue
		}
		resolved[f.Name] = v
	}

	unknown := make([]string, 0)
	for k := range cfg {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		errs = multierr.Append(errs, &domain.ConfigError{Field: k, Reason: "is not a recognized field"})
	}

	if errs != nil {
		return nil, errs
	}
	return resolved, nil
}

// ResolvePorts returns the effective ports of a node using impl with the
// resolved config. Ports derived from config replace declared ports that
// share their id.
func (r *Registry) ResolvePorts(meta domain.PluginMetadata, impl plugin.Plugin, cfg map[string]any) (inputs, outputs []domain.Port, err error) {
	inputs, outputs = meta.Inputs, meta.Outputs

	resolver, ok := impl.(plugin.PortResolver)
	if !ok {
		return inputs, outputs, nil
	}
	extraIn, extraOut, err := resolver.ResolvePorts(cfg)
	if err != nil {
		return nil, nil, err
	}
	if extraIn, err = r.normalizePorts(meta.ID, extraIn, domain.DirectionInput); err != nil {
		return nil, nil, err
	}
	if extraOut, err = r.normalizePorts(meta.ID, extraOut, domain.DirectionOutput); err != nil {
		return nil, nil, err
	}
	return mergePorts(inputs, extraIn), mergePorts(outputs, extraOut), nil
}

func mergePorts(declared, extra []domain.Port) []domain.Port {
	merged := make([]domain.Port, 0, len(declared)+len(extra))
	index := make(map[string]int, len(declared)+len(extra))
	for _, p := range declared {
		index[p.ID] = len(merged)
		merged = append(merged, p)
	}
	for _, p := range extra {
		if i, ok := index[p.ID]; ok {
			merged[i] = p
			continue
		}
		index[p.ID] = len(merged)
		merged = append(merged, p)
	}
	return merged
}
