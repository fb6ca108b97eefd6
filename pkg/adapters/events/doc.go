// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams, broadcast by default or load-balanced through a consumer group
//   - memory: In-process fan-out for single-node deployments and tests
package events
