// Package tools declares the analytics tool catalog and its dispatcher.
//
// # Catalog
//
// Exactly six tools are exposed:
//
//   - list-brands: brands (profiles) visible to the account
//   - get-timeline: daily time series for one metric
//   - get-values: aggregated snapshot for one category
//   - get-posts: published posts for one channel
//   - list-reports: report generation history
//   - report-status: state of one report job
//
// The catalog is declared once as a data table — name, description, raw
// JSON schema, handler — and consumed by both the Streamable HTTP transport
// and the stdio transport, so the two deployment variants can never drift.
//
// # Dispatch
//
// A Toolbox binds the table to one upstream client and one default
// workspace. Call routes by exact name match; unknown names return
// ErrUnknownTool. Handlers validate arguments first (required arguments are
// coerced to strings and trimmed; blank means invalid) and only then touch
// the network, so client errors are guaranteed to cost zero upstream calls.
//
// # Workspace resolution
//
// Most tools are scoped to a brand. Precedence: the per-call "workspace"
// argument, then the configured default blog id, then an ArgumentError that
// names the missing configuration.
package tools
