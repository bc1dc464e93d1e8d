// Package mcp implements the Model Context Protocol transports for the
// analytics tools.
//
// # HTTP transport
//
// The primary deployment is Streamable HTTP: JSON-RPC 2.0 over POST to a
// single /mcp endpoint. An initialize request creates a session bound to one
// handler instance (a tools.Toolbox); the generated id is returned in the
// Mcp-Session-Id response header and must accompany every later request.
// Requests with a missing or unknown session id are rejected without
// creating a session. DELETE terminates a session; idle sessions are
// evicted by a janitor goroutine.
//
// Methods: initialize, notifications/* (acknowledged with 202), tools/list,
// tools/call. Server-initiated SSE streams are not supported.
//
// # Error mapping
//
// Client errors (malformed request, unknown session, unknown tool, missing
// required argument) become JSON-RPC errors and never reach the upstream
// API. Upstream failures become tool results with isError set, so the
// caller sees the failure next to a readable message: application errors
// carry the HTTP status, contract violations are labeled distinctly.
//
// # Multi-tenant mode
//
// With a ToolboxFactory configured, initialize may carry
// Metricool-User-Id / Metricool-User-Token / Metricool-Blog-Id headers to
// bind the new session to different upstream credentials. A bearer-token
// gate (HS256 JWT, see the auth package) can be required in front of it.
//
// # Stdio transport
//
// NewStdioServer exposes the identical catalog over stdin/stdout via the
// mcp-go SDK for clients that spawn local servers.
package mcp
