// Package config handles configuration loading for metricool-mcp.
//
// # Overview
//
// Two loading paths produce the same Config: a YAML file with environment
// variable expansion, or the environment alone. The serve command prefers
// the file when one exists; stdio deployments normally run env-only because
// MCP clients pass settings through the child process environment.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from METRICOOL_MCP_CONFIG environment variable
//  2. ~/.config/metricool-mcp/config.yaml (respecting XDG_CONFIG_HOME)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	metricool:
//	  user_token: "${METRICOOL_USER_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Upstream credentials (required):
//
//	metricool:
//	  user_id: "123456"
//	  user_token: "${METRICOOL_USER_TOKEN}"
//	  blog_id: "987654"        # optional default brand
//	  base_url: ""             # optional, defaults to the production host
//
// Server and sessions:
//
//	server:
//	  http_addr: ":8383"
//	sessions:
//	  idle_timeout: "30m"
//
// Multi-tenant gating:
//
//	auth:
//	  require_bearer: true
//	  jwt_secret: "${METRICOOL_MCP_JWT_SECRET}"
//	  header_credentials: true
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "metricool-mcp"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
// Logging and metrics:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Both paths validate that the upstream credentials are present (missing
// credentials are fatal at startup, never a per-call error), that the JWT
// secret is long enough when bearer auth is required, and that durations
// and log levels parse.
package config
