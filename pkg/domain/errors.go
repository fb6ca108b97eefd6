package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRunNotFound is returned by run storage when no state exists for an id.
var ErrRunNotFound = errors.New("run not found")

// ViolationCode classifies a validation failure.
type ViolationCode string

const (
	ViolationDuplicateID       ViolationCode = "duplicate_id"
	ViolationUnknownPlugin     ViolationCode = "unknown_plugin"
	ViolationInvalidConfig     ViolationCode = "invalid_config"
	ViolationInvalidPorts      ViolationCode = "invalid_ports"
	ViolationDanglingEndpoint  ViolationCode = "dangling_endpoint"
	ViolationDirectionMismatch ViolationCode = "direction_mismatch"
	ViolationMultipleInputs    ViolationCode = "multiple_inputs"
	ViolationTypeMismatch      ViolationCode = "type_mismatch"
	ViolationUnknownType       ViolationCode = "unknown_type"
	ViolationMissingInput      ViolationCode = "missing_input"
	ViolationEntry             ViolationCode = "entry"
	ViolationUnreachable       ViolationCode = "unreachable"
	ViolationCycle             ViolationCode = "cycle"
	ViolationUnboundedLoop     ViolationCode = "unbounded_loop"
	ViolationLoopBody          ViolationCode = "loop_body"
	ViolationUnknownTarget     ViolationCode = "unknown_target"
)

// Violation is a single structural defect found in a workflow.
type Violation struct {
	Code         ViolationCode `json:"code"`
	NodeID       string        `json:"node_id,omitempty"`
	ConnectionID string        `json:"connection_id,omitempty"`
	Message      string        `json:"message"`
	Err          error         `json:"-"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

func (v Violation) Unwrap() error {
	return v.Err
}

// ValidationError carries every violation found in a workflow.
type ValidationError struct {
	WorkflowID string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("workflow %q is invalid (%d violations): %s",
		e.WorkflowID, len(e.Violations), strings.Join(msgs, "; "))
}

// Unwrap exposes the violations to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Violations))
	for i, v := range e.Violations {
		errs[i] = v
	}
	return errs
}

// Has reports whether a violation with the given code was recorded.
func (e *ValidationError) Has(code ViolationCode) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// UnknownTypeError is returned when a type name is not registered.
type UnknownTypeError struct {
	Name string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown type %q", e.Name)
}

// TypeMismatchError is returned when a connection joins incompatible types.
type TypeMismatchError struct {
	ConnectionID string
	From         string
	To           string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("connection %q: type %q is not compatible with %q", e.ConnectionID, e.From, e.To)
}

// PluginNotFoundError is returned when no plugin is registered for a type id.
type PluginNotFoundError struct {
	ID string
}

func (e *PluginNotFoundError) Error() string {
	return fmt.Sprintf("plugin %q not found", e.ID)
}

// MetadataConflictError is returned when plugin metadata cannot be registered.
type MetadataConflictError struct {
	PluginID string
	Reason   string
	Err      error
}

func (e *MetadataConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin %q: %s: %v", e.PluginID, e.Reason, e.Err)
	}
	return fmt.Sprintf("plugin %q: %s", e.PluginID, e.Reason)
}

func (e *MetadataConflictError) Unwrap() error {
	return e.Err
}

// ConfigError reports a config value that violates the plugin's config contract.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %q: %s", e.Field, e.Reason)
}

// CycleError reports a cycle that does not pass through a loop construct.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

// ContractViolationError is returned when a node breaks its declared ports.
type ContractViolationError struct {
	NodeID string
	Port   string
	Reason string
}

func (e *ContractViolationError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("node %q violates its contract: %s", e.NodeID, e.Reason)
	}
	return fmt.Sprintf("node %q port %q violates its contract: %s", e.NodeID, e.Port, e.Reason)
}

// NodeExecutionError wraps a failure raised by plugin code.
type NodeExecutionError struct {
	NodeID string
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q failed: %v", e.NodeID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a node exceeds its time budget.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %q timed out after %s", e.NodeID, e.Timeout)
}

// CancelledError marks nodes skipped because their run was cancelled.
type CancelledError struct {
	NodeID string
	Cause  error
}

func (e *CancelledError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("node %q cancelled: %v", e.NodeID, e.Cause)
	}
	return fmt.Sprintf("node %q cancelled", e.NodeID)
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// SkipReason explains why a node was never executed.
type SkipReason string

const (
	SkipUpstreamFailed SkipReason = "upstream failed"
	SkipNotTriggered   SkipReason = "not triggered"
	SkipMissingInput   SkipReason = "missing required input"
)

// SkipError is recorded on nodes that were skipped without running.
type SkipError struct {
	NodeID   string
	Reason   SkipReason
	Upstream []string
	Port     string
}

func (e *SkipError) Error() string {
	msg := fmt.Sprintf("node %q skipped: %s", e.NodeID, e.Reason)
	if e.Port != "" {
		msg += fmt.Sprintf(" %q", e.Port)
	}
	if len(e.Upstream) > 0 {
		msg += fmt.Sprintf(" (upstream: %s)", strings.Join(e.Upstream, ", "))
	}
	return msg
}
