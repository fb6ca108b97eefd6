// Package workers implements the bounded worker pool node jobs run on.
//
// The pool owns a fixed number of goroutines reading from a shared job
// queue. Submit blocks once every worker is busy and the queue is full, so
// the pool size caps how many plugins execute at once across all runs.
//
// The health monitor periodically reports worker status to the metrics
// collector and to registered listeners.
package workers
