// Package scheduler executes validated graphs.
//
// Each run is coordinated by a single goroutine that owns the per-node
// state. A node is evaluated once every incoming connection from a node in
// the run has settled, either by delivering a value or trigger or by turning
// out to be a dead path. Settled nodes without a trigger, or missing a
// required input, are skipped; the rest are dispatched to the worker pool.
// Plugin calls run with a per-node timeout and their results flow back to
// the coordinator over a buffered channel, so workers never wait on it.
//
// Loop nodes run their body as a fresh run per iteration until the
// configured bound or a false exit signal.
package scheduler
