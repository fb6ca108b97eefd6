// Package testutil holds plugins and builders shared by the engine tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/dagflow/pkg/domain"
)

// ExecutionRecord is the wall-clock span of one Execute call.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Task is a configurable plugin for scheduler tests. It reads "in" and
// writes "out"; Delay, Err and Transform change what a call does.
type Task struct {
	ID         string
	InputType  string
	OutputType string
	// RequiredInput marks "in" as required.
	RequiredInput bool
	Delay         time.Duration
	Err           error
	NoCache       bool
	// Transform computes the outputs. The default copies "in" to "out".
	Transform func(inputs map[string]any) (map[string]any, error)

	calls   atomic.Int64
	mu      sync.Mutex
	records []ExecutionRecord
}

// NewTask creates a task plugin with any-typed ports.
func NewTask(id string) *Task {
	return &Task{ID: id}
}

func (t *Task) Metadata() domain.PluginMetadata {
	in, out := t.InputType, t.OutputType
	if in == "" {
		in = domain.TypeAny
	}
	if out == "" {
		out = domain.TypeAny
	}
	return domain.PluginMetadata{
		ID:       t.ID,
		Name:     t.ID,
		Version:  "0.0.1",
		Category: "test",
		Inputs: []domain.Port{
			{ID: "trigger", Type: domain.TypeTrigger, Trigger: true},
			{ID: "in", Type: in, Required: t.RequiredInput},
		},
		Outputs: []domain.Port{
			{ID: "out", Type: out},
			{ID: "trigger", Type: domain.TypeTrigger},
		},
		DisableCache: t.NoCache,
	}
}

func (t *Task) Execute(ctx context.Context, inputs, _ map[string]any) (map[string]any, error) {
	t.calls.Add(1)
	rec := ExecutionRecord{Start: time.Now()}
	defer func() {
		rec.End = time.Now()
		t.mu.Lock()
		t.records = append(t.records, rec)
		t.mu.Unlock()
	}()

	if t.Delay > 0 {
		select {
		case <-time.After(t.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.Err != nil {
		return nil, t.Err
	}
	if t.Transform != nil {
		return t.Transform(inputs)
	}
	out := map[string]any{}
	if v, ok := inputs["in"]; ok {
		out["out"] = v
	}
	return out, nil
}

// Calls returns how many times Execute ran.
func (t *Task) Calls() int {
	return int(t.calls.Load())
}

// Records returns the spans of every Execute call so far.
func (t *Task) Records() []ExecutionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ExecutionRecord(nil), t.records...)
}
