// Package prometheus exports engine metrics through client_golang. Every
// collector registers on the Registerer it is given so tests and embedded
// engines can keep their own registry.
package prometheus
