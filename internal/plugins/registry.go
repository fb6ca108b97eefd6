package plugins

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/dagflow/internal/typesys"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/plugin"
	"go.uber.org/multierr"
)

type entry struct {
	meta domain.PluginMetadata
	impl plugin.Plugin
}

// Registry maps node-type ids to plugin implementations.
type Registry struct {
	types *typesys.Registry

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates a plugin registry validating port types against types.
func NewRegistry(types *typesys.Registry) *Registry {
	return &Registry{
		types:   types,
		entries: make(map[string]*entry),
	}
}

// Types returns the type registry used for validation.
func (r *Registry) Types() *typesys.Registry {
	return r.types
}

// Register adds impl under meta.ID.
func (r *Registry) Register(meta domain.PluginMetadata, impl plugin.Plugin) error {
	if impl == nil {
		return &domain.MetadataConflictError{PluginID: meta.ID, Reason: "implementation is nil"}
	}
	normalized, err := r.checkMetadata(meta, impl)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[meta.ID]; exists {
		return &domain.MetadataConflictError{PluginID: meta.ID, Reason: "already registered"}
	}
	r.entries[meta.ID] = &entry{meta: normalized, impl: impl}
	return nil
}

// Add registers each plugin under its own metadata and reports every failure.
func (r *Registry) Add(impls ...plugin.Plugin) error {
	var errs error
	for _, impl := range impls {
		if impl == nil {
			errs = multierr.Append(errs, &domain.MetadataConflictError{Reason: "implementation is nil"})
			continue
		}
		errs = multierr.Append(errs, r.Register(impl.Metadata(), impl))
	}
	return errs
}

// Unregister removes a plugin. It returns false if id was not registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Resolve returns the implementation registered for id.
func (r *Registry) Resolve(id string) (plugin.Plugin, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.impl, nil
}

// Metadata returns the normalized metadata registered for id.
func (r *Registry) Metadata(id string) (domain.PluginMetadata, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.PluginMetadata{}, err
	}
	return e.meta, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, err := r.lookup(id)
	return err == nil
}

// ListMetadata returns the metadata of every plugin ordered by id.
func (r *Registry) ListMetadata() []domain.PluginMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metas := make([]domain.PluginMetadata, 0, len(r.entries))
	for _, e := range r.entries {
		metas = append(metas, e.meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	return metas
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, &domain.PluginNotFoundError{ID: id}
	}
	return e, nil
}

// checkMetadata validates declared ports, config fields and capabilities and
// returns a normalized copy.
func (r *Registry) checkMetadata(meta domain.PluginMetadata, impl plugin.Plugin) (domain.PluginMetadata, error) {
	conflict := func(format string, args ...any) error {
		return &domain.MetadataConflictError{PluginID: meta.ID, Reason: fmt.Sprintf(format, args...)}
	}

	if meta.ID == "" {
		return meta, conflict("id is required")
	}

	inputs, err := r.normalizePorts(meta.ID, meta.Inputs, domain.DirectionInput)
	if err != nil {
		return meta, err
	}
	outputs, err := r.normalizePorts(meta.ID, meta.Outputs, domain.DirectionOutput)
	if err != nil {
		return meta, err
	}
	meta.Inputs, meta.Outputs = inputs, outputs

	seen := make(map[string]bool)
	for _, f := range meta.Config {
		if f.Name == "" {
			return meta, conflict("config field name is required")
		}
		if seen[f.Name] {
			return meta, conflict("duplicate config field %q", f.Name)
		}
		seen[f.Name] = true
		if !r.types.Has(f.Type) {
			return meta, &domain.MetadataConflictError{
				PluginID: meta.ID,
				Reason:   fmt.Sprintf("config field %q", f.Name),
				Err:      &domain.UnknownTypeError{Name: f.Type},
			}
		}
		if f.Default != nil {
			if ok, _ := r.types.Conforms(f.Type, f.Default); !ok {
				return meta, conflict("default of config field %q is not a %s", f.Name, f.Type)
			}
		}
	}

	if meta.Kind == domain.KindLoop && meta.Loop == nil {
		return meta, conflict("loop plugins must declare a loop contract")
	}
	if meta.Loop != nil {
		if err := checkLoopContract(meta, impl); err != nil {
			return meta, err
		}
		meta.Kind = domain.KindLoop
	}

	_, meta.Fallback = impl.(plugin.Fallbacker)
	return meta, nil
}

func (r *Registry) normalizePorts(pluginID string, ports []domain.Port, dir domain.Direction) ([]domain.Port, error) {
	out := make([]domain.Port, len(ports))
	seen := make(map[string]bool, len(ports))
	for i, p := range ports {
		if p.ID == "" {
			return nil, &domain.MetadataConflictError{PluginID: pluginID, Reason: fmt.Sprintf("%s port without id", dir)}
		}
		if seen[p.ID] {
			return nil, &domain.MetadataConflictError{PluginID: pluginID, Reason: fmt.Sprintf("duplicate %s port %q", dir, p.ID)}
		}
		seen[p.ID] = true
		if !r.types.Has(p.Type) {
			return nil, &domain.MetadataConflictError{
				PluginID: pluginID,
				Reason:   fmt.Sprintf("%s port %q", dir, p.ID),
				Err:      &domain.UnknownTypeError{Name: p.Type},
			}
		}
		p.Direction = dir
		if dir == domain.DirectionOutput {
			p.Required = false
		}
		out[i] = p
	}
	return out, nil
}

func checkLoopContract(meta domain.PluginMetadata, impl plugin.Plugin) error {
	conflict := func(format string, args ...any) error {
		return &domain.MetadataConflictError{PluginID: meta.ID, Reason: fmt.Sprintf(format, args...)}
	}
	if _, ok := impl.(plugin.Looper); !ok {
		return conflict("loop contract declared but implementation is not a Looper")
	}
	c := meta.Loop
	if len(c.BodyPorts) == 0 {
		return conflict("loop contract declares no body ports")
	}
	for _, p := range c.BodyPorts {
		if _, ok := meta.Output(p); !ok {
			return conflict("loop body port %q is not a declared output", p)
		}
	}
	for _, p := range []string{c.StatePort, c.FeedbackPort, c.ExitPort} {
		if p == "" {
			continue
		}
		if _, ok := meta.Input(p); !ok {
			return conflict("loop port %q is not a declared input", p)
		}
	}
	for _, p := range []string{c.ResultPort, c.IterationsPort, c.DonePort} {
		if p == "" {
			continue
		}
		if _, ok := meta.Output(p); !ok {
			return conflict("loop port %q is not a declared output", p)
		}
		if c.IsBodyPort(p) {
			return conflict("loop port %q cannot be both a body and an exit port", p)
		}
	}
	if c.MaxIterationsField != "" {
		found := false
		for _, f := range meta.Config {
			if f.Name == c.MaxIterationsField {
				found = true
				break
			}
		}
		if !found {
			return conflict("max iterations field %q is not a declared config field", c.MaxIterationsField)
		}
	}
	if c.MaxIterationsField == "" && c.ExitPort == "" {
		return conflict("loop contract needs a max iterations field or an exit port")
	}
	return nil
}
