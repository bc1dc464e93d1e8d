// Package upstream wraps the Metricool analytics HTTP API.
//
// # Overview
//
// Every tool invocation maps to exactly one authenticated GET against a
// single base host. Authentication is query-string based: userId and
// userToken are appended to every request. Workspace scoping (blogId) and
// date ranges are ordinary query parameters supplied by the caller; empty
// values are omitted entirely rather than sent as empty strings.
//
// # Error taxonomy
//
// Failures split into two kinds callers can tell apart:
//
//   - *APIError: the API answered with a non-2xx status. Carries the status
//     code and a best-effort message extracted from the body. A transient
//     5xx may be worth retrying.
//   - *ContractError: the API answered 2xx but the body violated its own
//     contract (non-JSON content type, malformed JSON). Retrying is
//     unlikely to help; the schema has drifted.
//
// A 204 response yields a nil document, not an error.
//
// Credentials never appear in logs or error text.
package upstream
