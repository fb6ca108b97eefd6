// Package orchestrator validates workflows and manages their runs.
//
// The validator checks a workflow definition against the plugin and type
// registries, reporting every violation it finds, and produces the indexed
// graph the scheduler executes.
//
// The manager owns the run lifecycle:
//   - Submitting validated workflows for asynchronous execution
//   - Persisting run state through RunStorage
//   - Publishing run events on the event bus
//   - Waiting on, cancelling and re-running runs
package orchestrator
