// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Type and plugin discovery
//   - Workflow validation
//   - Run submission, inspection, cancellation and partial re-runs
//   - Single plugin execution and benchmarking
//   - Health checks and Prometheus metrics
package http
