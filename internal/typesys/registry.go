package typesys

import (
	_ "embed"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/aescanero/dagflow/pkg/domain"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultDefinitions []byte

// Registry holds type definitions and compatibility rules.
type Registry struct {
	mu      sync.RWMutex
	types   map[string]domain.TypeDefinition
	order   []string
	rules   []domain.TypeRule
	allowed map[string]map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:   make(map[string]domain.TypeDefinition),
		allowed: make(map[string]map[string]bool),
	}
}

// NewDefault creates a registry holding the built-in types.
func NewDefault() (*Registry, error) {
	r := NewRegistry()
	if err := r.LoadDefaults(); err != nil {
		return nil, err
	}
	return r, nil
}

// Parse decodes a YAML or JSON type system definition.
func Parse(data []byte) (*domain.TypeSystem, error) {
	var ts domain.TypeSystem
	if err := yaml.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("failed to parse type system: %w", err)
	}
	return &ts, nil
}

// LoadDefaults registers the built-in types. Loading them twice is a no-op.
func (r *Registry) LoadDefaults() error {
	ts, err := Parse(defaultDefinitions)
	if err != nil {
		return err
	}
	return r.Load(ts)
}

// LoadFile registers the types and rules defined in a YAML or JSON file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read type system %s: %w", path, err)
	}
	ts, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return r.Load(ts)
}

// Load registers a type system. Types may appear in any order; base types
// are resolved once the whole set is known.
func (r *Registry) Load(ts *domain.TypeSystem) error {
	pending := make([]domain.TypeDefinition, len(ts.Types))
	copy(pending, ts.Types)

	var errs error
	for len(pending) > 0 {
		var next []domain.TypeDefinition
		for _, def := range pending {
			if def.Base != "" && def.Base != def.Name && !r.Has(def.Base) && declares(pending, def.Base) {
				next = append(next, def)
				continue
			}
			errs = multierr.Append(errs, r.AddType(def))
		}
		if len(next) == len(pending) {
			for _, def := range next {
				errs = multierr.Append(errs, fmt.Errorf("type %q: base chain through %q is cyclic", def.Name, def.Base))
			}
			break
		}
		pending = next
	}

	for _, rule := range ts.Rules {
		errs = multierr.Append(errs, r.AddRule(rule))
	}
	return errs
}

func declares(defs []domain.TypeDefinition, name string) bool {
	for _, def := range defs {
		if def.Name == name {
			return true
		}
	}
	return false
}

// AddType registers a type. Re-adding an identical definition is accepted.
func (r *Registry) AddType(def domain.TypeDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("type name is required")
	}
	if def.Base == def.Name {
		return fmt.Errorf("type %q cannot be its own base", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.types[def.Name]; ok {
		if existing.Base == def.Base {
			return nil
		}
		return fmt.Errorf("type %q already registered with base %q", def.Name, existing.Base)
	}
	if def.Base != "" {
		if _, ok := r.types[def.Base]; !ok {
			return &domain.UnknownTypeError{Name: def.Base}
		}
	}

	r.types[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// AddRule registers a compatibility rule.
func (r *Registry) AddRule(rule domain.TypeRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.types[rule.From]; !ok {
		return &domain.UnknownTypeError{Name: rule.From}
	}
	for _, to := range rule.To {
		if _, ok := r.types[to]; !ok {
			return &domain.UnknownTypeError{Name: to}
		}
	}

	for _, to := range rule.To {
		r.allow(rule.From, to)
		if rule.Bidirectional {
			r.allow(to, rule.From)
		}
	}
	r.rules = append(r.rules, rule)
	return nil
}

func (r *Registry) allow(from, to string) {
	targets, ok := r.allowed[from]
	if !ok {
		targets = make(map[string]bool)
		r.allowed[from] = targets
	}
	targets[to] = true
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// Get returns the definition of name.
func (r *Registry) Get(name string) (domain.TypeDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[name]
	return def, ok
}

// Types lists definitions in registration order.
func (r *Registry) Types() []domain.TypeDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]domain.TypeDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.types[name])
	}
	return defs
}

// Rules lists registered rules.
func (r *Registry) Rules() []domain.TypeRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules := make([]domain.TypeRule, len(r.rules))
	copy(rules, r.rules)
	return rules
}

// IsCompatible reports whether a value of type from may flow into a port of
// type to.
func (r *Registry) IsCompatible(from, to string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.types[from]; !ok {
		return false, &domain.UnknownTypeError{Name: from}
	}
	if _, ok := r.types[to]; !ok {
		return false, &domain.UnknownTypeError{Name: to}
	}
	if from == domain.TypeAny || to == domain.TypeAny {
		return true, nil
	}

	for t := from; t != ""; t = r.types[t].Base {
		if t == to || r.allowed[t][to] {
			return true, nil
		}
	}
	return false, nil
}

// Conforms reports whether v is an acceptable runtime value for typeName.
// The check uses the primitive at the root of the base chain; types that do
// not derive from a primitive accept any value.
func (r *Registry) Conforms(typeName string, v any) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.types[typeName]; !ok {
		return false, &domain.UnknownTypeError{Name: typeName}
	}
	if v == nil {
		return true, nil
	}

	for t := typeName; t != ""; t = r.types[t].Base {
		if check, ok := primitives[t]; ok {
			return check(reflect.ValueOf(v)), nil
		}
	}
	return true, nil
}

var primitives = map[string]func(reflect.Value) bool{
	domain.TypeAny:     func(reflect.Value) bool { return true },
	domain.TypeTrigger: func(reflect.Value) bool { return true },
	domain.TypeString:  func(v reflect.Value) bool { return v.Kind() == reflect.String },
	domain.TypeBoolean: func(v reflect.Value) bool { return v.Kind() == reflect.Bool },
	domain.TypeNumber:  isNumber,
	domain.TypeInteger: isInteger,
	domain.TypeObject: func(v reflect.Value) bool {
		return (v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String) || v.Kind() == reflect.Struct
	},
	domain.TypeArray: func(v reflect.Value) bool {
		return v.Kind() == reflect.Slice || v.Kind() == reflect.Array
	},
}

func isNumber(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isInteger(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		return f == float64(int64(f))
	}
	return false
}
