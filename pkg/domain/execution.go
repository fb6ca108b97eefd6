package domain

import (
	"sort"
	"time"
)

// NodeStatus is the state of a node within one run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusReady     NodeStatus = "ready"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Terminal reports whether no further transition is possible.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed || s == NodeStatusSkipped
}

// CanTransition reports whether a node may move from s to next. Nodes go
// Pending -> Ready -> Running -> terminal, and any unfinished node may be
// skipped.
func (s NodeStatus) CanTransition(next NodeStatus) bool {
	switch s {
	case NodeStatusPending:
		return next == NodeStatusReady || next == NodeStatusSkipped
	case NodeStatusReady:
		return next == NodeStatusRunning || next == NodeStatusSkipped
	case NodeStatusRunning:
		return next.Terminal()
	}
	return false
}

// NodeExecutionResult is the outcome of one node in one run.
type NodeExecutionResult struct {
	NodeID      string         `json:"node_id"`
	NodeType    string         `json:"node_type"`
	Status      NodeStatus     `json:"status"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Err         error          `json:"-"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	CacheHit    bool           `json:"cache_hit,omitempty"`
	Fallback    bool           `json:"fallback,omitempty"`
	Iterations  int            `json:"iterations,omitempty"`
}

// SetError records err as the cause of the result.
func (r *NodeExecutionResult) SetError(err error) {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Error = ""
	}
}

// Duration is the time spent between start and completion.
func (r *NodeExecutionResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunResult is the per-node result map of a finished run.
type RunResult struct {
	RunID       string                          `json:"run_id"`
	WorkflowID  string                          `json:"workflow_id"`
	Nodes       map[string]*NodeExecutionResult `json:"nodes"`
	StartedAt   time.Time                       `json:"started_at"`
	CompletedAt time.Time                       `json:"completed_at"`
	Cancelled   bool                            `json:"cancelled,omitempty"`
}

// Node returns the result recorded for a node.
func (r *RunResult) Node(id string) (*NodeExecutionResult, bool) {
	res, ok := r.Nodes[id]
	return res, ok
}

// Output returns the value a completed node produced on port.
func (r *RunResult) Output(nodeID, port string) (any, bool) {
	res, ok := r.Nodes[nodeID]
	if !ok || res.Status != NodeStatusCompleted {
		return nil, false
	}
	v, ok := res.Outputs[port]
	return v, ok
}

// WithStatus lists the ids of nodes in the given state, sorted.
func (r *RunResult) WithStatus(status NodeStatus) []string {
	var ids []string
	for id, res := range r.Nodes {
		if res.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Succeeded reports whether the run finished without failed nodes.
func (r *RunResult) Succeeded() bool {
	return !r.Cancelled && len(r.WithStatus(NodeStatusFailed)) == 0
}

// RunStatus is the lifecycle state of a submitted run.
type RunStatus string

const (
	RunStatusSubmitted RunStatus = "submitted"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// RunState is the persisted record of a submitted run.
type RunState struct {
	RunID       string         `json:"run_id"`
	ParentRunID string         `json:"parent_run_id,omitempty"`
	Workflow    *Workflow      `json:"workflow"`
	Status      RunStatus      `json:"status"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Targets     []string       `json:"targets,omitempty"`
	UseCache    bool           `json:"use_cache,omitempty"`
	Result      *RunResult     `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
