// Package ports defines the interfaces dagflow uses to talk to its
// collaborators: the event bus, run storage, the result cache and metrics.
//
// Adapters under pkg/adapters implement these interfaces for Redis,
// Prometheus and in-memory use.
package ports
