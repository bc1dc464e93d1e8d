// Package metrics exposes Prometheus collectors for the MCP server.
//
// Collectors are created against an injected prometheus.Registerer so tests
// can use private registries. The *Metrics handle is passed to the transport
// and upstream client; a nil handle disables instrumentation without any
// call-site checks.
package metrics
