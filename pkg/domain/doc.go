// Package domain holds the data model shared by every dagflow component.
//
// It defines:
//   - The graph model (Workflow, Node, Port, Connection)
//   - Type definitions and compatibility rules
//   - Plugin metadata and the typed config-field contract
//   - Per-node and per-run execution results
//   - Events and the error taxonomy
//
// Types in this package carry no behaviour beyond small helpers; validation
// and execution live in the internal application packages.
package domain
