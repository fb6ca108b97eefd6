// Package plugins implements the plugin registry.
//
// The registry is an explicit object built at startup and injected into the
// validator and scheduler. It rejects metadata whose ports or config fields
// reference unknown types, duplicate ids, and loop contracts that do not
// line up with the declared ports. It also enforces each plugin's config
// contract before execution.
package plugins
