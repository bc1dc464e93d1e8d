// ABOUTME: MCP-compatible HTTP server exposing the analytics tools to external agents.
// ABOUTME: Implements Streamable HTTP transport (spec 2025-11-25) with session management.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/metricool-mcp/internal/auth"
	"github.com/2389/metricool-mcp/internal/metrics"
	"github.com/2389/metricool-mcp/internal/tools"
	"github.com/2389/metricool-mcp/internal/upstream"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Credential override headers honored on initialize when multi-tenant mode
// is enabled. They build a session-scoped toolbox for a different account.
const (
	headerUserID    = "Metricool-User-Id"
	headerUserToken = "Metricool-User-Token"
	headerBlogID    = "Metricool-Blog-Id"
)

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCP-specific types

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolboxFactory builds a handler instance for per-request credentials in
// multi-tenant deployments. blogID may be empty.
type ToolboxFactory func(userID, userToken, blogID string) (*tools.Toolbox, error)

// Config holds configuration for the MCP server.
type Config struct {
	Toolbox        *tools.Toolbox // default handler instance (process credentials)
	ToolboxFactory ToolboxFactory // optional per-request credential override support
	Logger         *slog.Logger
	Verifier       auth.TokenVerifier // optional bearer-token gate on initialize
	RequireAuth    bool               // if true, reject initialize without a valid bearer token
	Metrics        *metrics.Metrics
	ServerVersion  string
	SessionTTL     time.Duration // idle eviction threshold; 0 means the 30m default
}

// defaultSessionTTL bounds the session map when no TTL is configured.
const defaultSessionTTL = 30 * time.Minute

// Server implements MCP-compatible HTTP endpoints for external agents.
// Conforms to MCP Streamable HTTP transport specification (2025-11-25).
type Server struct {
	toolbox       *tools.Toolbox
	factory       ToolboxFactory
	logger        *slog.Logger
	verifier      auth.TokenVerifier
	requireAuth   bool
	metrics       *metrics.Metrics
	serverVersion string
	sessionTTL    time.Duration
	sessions      *sessionStore
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Toolbox == nil {
		return nil, errors.New("toolbox is required")
	}
	if cfg.RequireAuth && cfg.Verifier == nil {
		return nil, errors.New("token verifier required when auth is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	version := cfg.ServerVersion
	if version == "" {
		version = "dev"
	}

	return &Server{
		toolbox:       cfg.Toolbox,
		factory:       cfg.ToolboxFactory,
		logger:        logger,
		verifier:      cfg.Verifier,
		requireAuth:   cfg.RequireAuth,
		metrics:       cfg.Metrics,
		serverVersion: version,
		sessionTTL:    ttl,
		sessions:      newSessionStore(),
	}, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
}

// RunJanitor evicts idle sessions until the context is cancelled. Intended
// to run in its own goroutine next to the HTTP server.
func (s *Server) RunJanitor(ctx context.Context) {
	interval := s.sessionTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := s.sessions.evictIdle(s.sessionTTL)
			if len(evicted) > 0 {
				s.logger.Info("evicted idle MCP sessions", "count", len(evicted))
			}
			s.metrics.SetActiveSessions(s.sessions.count())
		}
	}
}

// SessionCount returns the number of active sessions (for monitoring).
func (s *Server) SessionCount() int {
	return s.sessions.count()
}

// handleMCP is the single MCP endpoint supporting POST, GET, and DELETE per
// the Streamable HTTP transport spec (2025-11-25).
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// We don't support server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session per the Streamable HTTP spec.
// Verifies the caller owns the session to prevent unauthorized termination.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if sess.ownerToken != "" {
		if bearerToken(r) != sess.ownerToken {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	s.sessions.delete(sessionID)
	s.metrics.SetActiveSessions(s.sessions.count())
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	s.metrics.ObserveRequest(req.Method)

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// Validate protocol version header (not required on initialize).
	// Per spec: server default assumption if missing is 2025-03-26.
	if !isInitialize && protoVersion != "" {
		if !supportedProtocolVersions[protoVersion] {
			http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
			return
		}
	}

	// Validate session on non-initialize requests
	var sess *session
	if !isInitialize {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		var ok bool
		sess, ok = s.sessions.get(sessionID)
		if !ok {
			// Session expired or invalid - client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", isNotification,
		"session_id", sessionID,
	)

	// Handle notifications: accept and return HTTP 202 with no body
	if isNotification {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, r, req)
	case "tools/list":
		s.handleToolsList(w, req, sess)
	case "tools/call":
		s.handleToolsCall(w, r, req, sess)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// handleInitialize handles the MCP initialize handshake and creates a session.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	ownerToken := bearerToken(r)

	if s.requireAuth {
		if ownerToken == "" {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "authentication required", nil)
			return
		}
		if _, err := s.verifier.Verify(ownerToken); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid or expired token", nil)
			return
		}
	}

	toolbox, err := s.selectToolbox(r)
	if err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, err.Error(), nil)
		return
	}

	sess := s.sessions.create(latestProtocolVersion, toolbox, ownerToken)
	s.metrics.SetActiveSessions(s.sessions.count())

	s.logger.Info("MCP session created",
		"session_id", sess.id,
		"protocol_version", sess.protocolVersion,
	)

	// Set the session ID header so the client can use it on subsequent requests
	w.Header().Set("Mcp-Session-Id", sess.id)

	result := map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "metricool-mcp",
			"version": s.serverVersion,
		},
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

// selectToolbox picks the handler instance for a new session: the default
// toolbox, or a credential-scoped one when override headers are present and
// multi-tenant mode is enabled.
func (s *Server) selectToolbox(r *http.Request) (*tools.Toolbox, error) {
	userID := strings.TrimSpace(r.Header.Get(headerUserID))
	userToken := strings.TrimSpace(r.Header.Get(headerUserToken))
	if userID == "" && userToken == "" {
		return s.toolbox, nil
	}

	if s.factory == nil {
		return nil, errors.New("per-request credentials are not enabled on this server")
	}
	if userID == "" || userToken == "" {
		return nil, errors.New("both Metricool-User-Id and Metricool-User-Token headers are required")
	}

	blogID := strings.TrimSpace(r.Header.Get(headerBlogID))
	toolbox, err := s.factory(userID, userToken, blogID)
	if err != nil {
		s.logger.Warn("per-request toolbox construction failed", "error", err)
		return nil, errors.New("invalid per-request credentials")
	}
	return toolbox, nil
}

// handleToolsList handles tools/list requests.
func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest, sess *session) {
	descriptors := sess.toolbox.Descriptors()

	result := MCPListToolsResult{
		Tools: make([]MCPToolInfo, len(descriptors)),
	}
	for i, d := range descriptors {
		result.Tools[i] = MCPToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}
	}

	s.logger.Debug("tools/list", "count", len(descriptors))

	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsCall handles tools/call requests.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, sess *session) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}

	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	// Generate request ID for correlation
	requestID := uuid.New().String()

	s.logger.Debug("tools/call",
		"tool_name", params.Name,
		"request_id", requestID,
		"session_id", sess.id,
	)

	out, err := sess.toolbox.Call(r.Context(), params.Name, params.Arguments)
	if err != nil {
		s.handleToolError(w, req.ID, params.Name, requestID, err)
		return
	}

	text, err := json.Marshal(out)
	if err != nil {
		s.metrics.ObserveToolCall(params.Name, metrics.OutcomeInternalError)
		s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "failed to encode tool result", nil)
		return
	}

	s.metrics.ObserveToolCall(params.Name, metrics.OutcomeOK)
	s.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"request_id", requestID,
	)

	s.sendJSONRPCResult(w, req.ID, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: string(text)}},
	})
}

// handleToolError maps a tool failure onto the wire. Client errors become
// JSON-RPC errors without ever having touched the upstream API; upstream
// failures become error content blocks so the caller sees them alongside a
// readable message and can decide whether to retry.
func (s *Server) handleToolError(w http.ResponseWriter, id json.RawMessage, toolName, requestID string, err error) {
	var argErr *tools.ArgumentError
	var apiErr *upstream.APIError
	var contractErr *upstream.ContractError

	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		s.metrics.ObserveToolCall(toolName, metrics.OutcomeClientError)
		s.sendJSONRPCError(w, id, JSONRPCInvalidParams, "tool not found", nil)

	case errors.As(err, &argErr):
		s.metrics.ObserveToolCall(toolName, metrics.OutcomeClientError)
		s.sendJSONRPCError(w, id, JSONRPCInvalidParams, argErr.Error(), nil)

	case errors.As(err, &apiErr):
		s.metrics.ObserveToolCall(toolName, metrics.OutcomeUpstreamError)
		s.logger.Warn("upstream rejected tool call",
			"tool_name", toolName,
			"request_id", requestID,
			"status", apiErr.Status,
		)
		s.sendToolErrorResult(w, id, apiErr.Error())

	case errors.As(err, &contractErr):
		s.metrics.ObserveToolCall(toolName, metrics.OutcomeContractError)
		s.logger.Warn("upstream contract violation",
			"tool_name", toolName,
			"request_id", requestID,
			"error", err,
		)
		s.sendToolErrorResult(w, id, contractErr.Error())

	case errors.Is(err, context.DeadlineExceeded):
		s.metrics.ObserveToolCall(toolName, metrics.OutcomeInternalError)
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "tool execution timed out", nil)

	case errors.Is(err, context.Canceled):
		s.metrics.ObserveToolCall(toolName, metrics.OutcomeInternalError)
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "request cancelled", nil)

	default:
		s.metrics.ObserveToolCall(toolName, metrics.OutcomeInternalError)
		s.logger.Warn("tool execution failed",
			"tool_name", toolName,
			"request_id", requestID,
			"error", err,
		)
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "tool execution failed", nil)
	}
}

// bearerToken extracts the Authorization bearer token, if any.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

// sendToolErrorResult sends a successful JSON-RPC response whose tool result
// is an error content block.
func (s *Server) sendToolErrorResult(w http.ResponseWriter, id json.RawMessage, message string) {
	s.sendJSONRPCResult(w, id, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: message}},
		IsError: true,
	})
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
