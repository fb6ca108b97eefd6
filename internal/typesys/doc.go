// Package typesys implements the type registry used to check connections.
//
// Compatibility of a source type with a destination type is resolved in this
// order:
//   - identical names are compatible
//   - an explicit rule from the source lists the destination (bidirectional
//     rules also allow the reverse pair)
//   - the source's base type, recursively, is checked in its place
//   - the universal "any" type matches everything in either direction
//
// Names that are not registered yield a *domain.UnknownTypeError rather than
// an incompatible result.
package typesys
