// Package standalone runs a single plugin outside a user-authored workflow.
//
// Direct mode calls the plugin's Execute with no graph machinery. Standalone
// mode wraps the plugin between a begin and an end node and runs the
// resulting workflow through the scheduler, so caching, timeouts and error
// containment behave exactly as they do inside a graph. Both modes can be
// benchmarked over repeated iterations.
package standalone
