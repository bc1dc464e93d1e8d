// Package auth provides bearer-token verification for the MCP HTTP endpoint.
//
// Multi-tenant deployments put the server on a shared host where arbitrary
// clients can reach /mcp; the operator mints HS256 JWTs (see the token CLI
// command) and the transport requires one on initialize. Single-tenant
// deployments leave the verifier unset and accept unauthenticated sessions.
//
// This gate authenticates access to the adapter itself. It is unrelated to
// the upstream Metricool credentials, which are forwarded as query
// parameters by the upstream client.
package auth
