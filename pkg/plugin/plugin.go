// Package plugin defines the contract every node implementation satisfies.
//
// A plugin declares its metadata (ports and config fields) and executes on a
// map of input values keyed by port id, returning a map of output values
// keyed by port id. Optional capabilities are expressed as extra interfaces:
//
//   - Fallbacker: produce an alternative result when Execute fails
//   - PortResolver: derive additional ports from the node config
//   - Looper: drive a loop construct one iteration at a time
package plugin

import (
	"context"

	"github.com/aescanero/dagflow/pkg/domain"
)

// Plugin is the uniform execute contract.
type Plugin interface {
	Metadata() domain.PluginMetadata
	Execute(ctx context.Context, inputs, config map[string]any) (map[string]any, error)
}

// Fallbacker is implemented by plugins that can recover from a failed Execute.
type Fallbacker interface {
	Fallback(ctx context.Context, inputs, config map[string]any, cause error) (map[string]any, error)
}

// PortResolver is implemented by plugins whose ports depend on node config.
// Returned ports are merged over the declared ones, matching by id.
type PortResolver interface {
	ResolvePorts(config map[string]any) (inputs, outputs []domain.Port, err error)
}

// Looper is implemented by loop constructs. Iteration returns the values
// emitted on the body ports for pass index, given the carried state.
type Looper interface {
	Iteration(ctx context.Context, index int, state any, config map[string]any) (map[string]any, error)
}

// ExecuteFunc is the signature of Func.Fn.
type ExecuteFunc func(ctx context.Context, inputs, config map[string]any) (map[string]any, error)

// FallbackFunc is the signature of a fallback handler.
type FallbackFunc func(ctx context.Context, inputs, config map[string]any, cause error) (map[string]any, error)

// Func adapts a function to the Plugin interface.
type Func struct {
	Meta domain.PluginMetadata
	Fn   ExecuteFunc
}

// New returns a Plugin backed by fn.
func New(meta domain.PluginMetadata, fn ExecuteFunc) *Func {
	return &Func{Meta: meta, Fn: fn}
}

func (f *Func) Metadata() domain.PluginMetadata {
	return f.Meta
}

func (f *Func) Execute(ctx context.Context, inputs, config map[string]any) (map[string]any, error) {
	return f.Fn(ctx, inputs, config)
}

type withFallback struct {
	Plugin
	fallback FallbackFunc
}

// WithFallback wraps p so that it declares the fallback capability.
func WithFallback(p Plugin, fn FallbackFunc) Plugin {
	return &withFallback{Plugin: p, fallback: fn}
}

func (w *withFallback) Fallback(ctx context.Context, inputs, config map[string]any, cause error) (map[string]any, error) {
	return w.fallback(ctx, inputs, config, cause)
}
