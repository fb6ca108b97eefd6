// Package cache provides result cache implementations. Keys are content
// addresses computed by the scheduler, so entries never need invalidation.
//
// Implementations:
//   - redis: JSON values with an optional TTL, shared between processes
//   - memory: In-process map
package cache
