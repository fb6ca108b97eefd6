package core

import (
	"context"

	"github.com/aescanero/dagflow/pkg/domain"
)

// Loop is the bounded iteration construct. On every pass it emits the
// carried state on "item", the pass number on "index" and fires "iterate";
// the nodes reachable from those ports form the loop body. The body returns
// the next state on "feedback" and may stop the loop early with a false
// "continue".
type Loop struct{}

func (l *Loop) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		ID:          LoopID,
		Name:        "Loop",
		Version:     version,
		Category:    category,
		Description: "Repeats its body until max_iterations or a false continue",
		Kind:        domain.KindLoop,
		Inputs: []domain.Port{
			triggerPort("trigger", domain.DirectionInput),
			{ID: "value", Type: domain.TypeAny, Description: "Initial state"},
			{ID: "feedback", Type: domain.TypeAny, Description: "Next state, from the body"},
			{ID: "continue", Type: domain.TypeBoolean, Description: "False stops the loop"},
		},
		Outputs: []domain.Port{
			{ID: "item", Type: domain.TypeAny},
			{ID: "index", Type: domain.TypeInteger},
			triggerPort("iterate", domain.DirectionOutput),
			{ID: "result", Type: domain.TypeAny},
			{ID: "iterations", Type: domain.TypeInteger},
			triggerPort("done", domain.DirectionOutput),
		},
		Config: []domain.ConfigField{
			{Name: "max_iterations", Type: domain.TypeInteger, Default: 0, Description: "Upper bound on passes, 0 for none"},
		},
		Loop: &domain.LoopContract{
			BodyPorts:          []string{"item", "index", "iterate"},
			StatePort:          "value",
			FeedbackPort:       "feedback",
			ExitPort:           "continue",
			ResultPort:         "result",
			IterationsPort:     "iterations",
			DonePort:           "done",
			MaxIterationsField: "max_iterations",
		},
		DisableCache: true,
	}
}

func (l *Loop) Iteration(_ context.Context, index int, state any, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"item":    state,
		"index":   index,
		"iterate": true,
	}, nil
}

// Execute runs the first pass only; the scheduler drives full iteration.
func (l *Loop) Execute(ctx context.Context, inputs, config map[string]any) (map[string]any, error) {
	return l.Iteration(ctx, 0, inputs["value"], config)
}
