// ABOUTME: Tests for the MCP Streamable HTTP server.
// ABOUTME: Covers the handshake, session lifecycle, tool dispatch, and error mapping.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/2389/metricool-mcp/internal/auth"
	"github.com/2389/metricool-mcp/internal/tools"
	"github.com/2389/metricool-mcp/internal/upstream"
)

// fakeUpstream satisfies tools.Getter and records every call.
type fakeUpstream struct {
	calls int
	raw   json.RawMessage
	err   error
}

func (f *fakeUpstream) Get(_ context.Context, _ string, _ url.Values) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.raw, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, fake *fakeUpstream, mutate func(*Config)) *Server {
	t.Helper()

	toolbox, err := tools.NewToolbox(tools.Config{
		Upstream:    fake,
		DefaultBlog: "987",
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewToolbox() error = %v", err)
	}

	cfg := Config{
		Toolbox:       toolbox,
		Logger:        quietLogger(),
		ServerVersion: "test",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}

func postJSON(t *testing.T, srv *Server, sessionID string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.handleMCP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return resp
}

// initializeSession performs the handshake and returns the session id.
func initializeSession(t *testing.T, srv *Server) string {
	t.Helper()
	w := postJSON(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("initialize status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	sessionID := w.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize did not set Mcp-Session-Id header")
	}
	return sessionID
}

// callToolResult extracts the tool result from a tools/call response.
func callToolResult(t *testing.T, resp JSONRPCResponse) MCPCallToolResult {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshaling result: %v", err)
	}
	var result MCPCallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decoding tool result: %v", err)
	}
	return result
}

func TestUnsupportedHTTPMethods(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/mcp", nil)
			w := httptest.NewRecorder()
			srv.handleMCP(w, req)
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s status = %d, want 405", method, w.Code)
			}
		})
	}
}

func TestInitialize(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)

	w := postJSON(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("Mcp-Session-Id") == "" {
		t.Error("missing Mcp-Session-Id header")
	}

	resp := decodeResponse(t, w)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result type = %T, want map", resp.Result)
	}
	if result["protocolVersion"] != "2025-11-25" {
		t.Errorf("protocolVersion = %v, want 2025-11-25", result["protocolVersion"])
	}
	serverInfo, _ := result["serverInfo"].(map[string]any)
	if serverInfo["name"] != "metricool-mcp" {
		t.Errorf("serverInfo.name = %v, want metricool-mcp", serverInfo["name"])
	}

	if srv.SessionCount() != 1 {
		t.Errorf("SessionCount() = %d, want 1", srv.SessionCount())
	}
}

func TestInvalidJSON(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)

	w := postJSON(t, srv, "", `{not json`, nil)
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCParseError {
		t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCParseError)
	}
}

func TestInvalidJSONRPCVersion(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)

	w := postJSON(t, srv, "", `{"jsonrpc":"1.0","id":1,"method":"initialize"}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
		t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCInvalidRequest)
	}
}

func TestRequestWithoutSession(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)

	w := postJSON(t, srv, "", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRequestWithUnknownSession(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)

	w := postJSON(t, srv, "no-such-session", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	// A rejected request must not create a session
	if srv.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", srv.SessionCount())
	}
}

func TestUnsupportedProtocolVersionHeader(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)
	sessionID := initializeSession(t, srv)

	w := postJSON(t, srv, sessionID, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		map[string]string{"Mcp-Protocol-Version": "1999-01-01"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestNotificationAccepted(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)
	sessionID := initializeSession(t, srv)

	w := postJSON(t, srv, sessionID, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("notification response body = %q, want empty", w.Body.String())
	}
}

func TestMethodNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)
	sessionID := initializeSession(t, srv)

	w := postJSON(t, srv, sessionID, `{"jsonrpc":"2.0","id":3,"method":"resources/list"}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCMethodNotFound {
		t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCMethodNotFound)
	}
}

func TestToolsList(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)
	sessionID := initializeSession(t, srv)

	w := postJSON(t, srv, sessionID, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	raw, _ := json.Marshal(resp.Result)
	var result MCPListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decoding tools/list result: %v", err)
	}
	if len(result.Tools) != 6 {
		t.Fatalf("len(tools) = %d, want 6", len(result.Tools))
	}
	for _, tool := range result.Tools {
		if tool.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
		if len(tool.InputSchema) == 0 {
			t.Errorf("tool %s has no input schema", tool.Name)
		}
	}
}

func TestToolsCallSuccess(t *testing.T) {
	fake := &fakeUpstream{raw: json.RawMessage(`[["20240101","5"],["20240102","7"]]`)}
	srv := newTestServer(t, fake, nil)
	sessionID := initializeSession(t, srv)

	w := postJSON(t, srv, sessionID,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"get-timeline","arguments":{"metric":"followers"}}}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result := callToolResult(t, resp)
	if result.IsError {
		t.Fatalf("IsError = true, content: %+v", result.Content)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("content = %+v, want one text block", result.Content)
	}

	var points []map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].Text), &points); err != nil {
		t.Fatalf("decoding shaped payload: %v", err)
	}
	if len(points) != 2 || points[0]["date"] != "20240101" || points[0]["value"] != float64(5) {
		t.Errorf("shaped payload = %v", points)
	}
	if fake.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", fake.calls)
	}
}

func TestToolsCallMissingRequiredArgument(t *testing.T) {
	fake := &fakeUpstream{}
	srv := newTestServer(t, fake, nil)
	sessionID := initializeSession(t, srv)

	w := postJSON(t, srv, sessionID,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"get-timeline","arguments":{}}}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidParams {
		t.Fatalf("error = %+v, want code %d", resp.Error, JSONRPCInvalidParams)
	}
	if !strings.Contains(resp.Error.Message, "metric") {
		t.Errorf("error message %q does not name the missing argument", resp.Error.Message)
	}
	// Invalid invocations never reach the upstream
	if fake.calls != 0 {
		t.Errorf("upstream calls = %d, want 0", fake.calls)
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)
	sessionID := initializeSession(t, srv)

	w := postJSON(t, srv, sessionID,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"no-such-tool"}}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidParams {
		t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCInvalidParams)
	}
}

func TestToolsCallUpstreamError(t *testing.T) {
	fake := &fakeUpstream{err: &upstream.APIError{Status: 401, Message: "token rejected"}}
	srv := newTestServer(t, fake, nil)
	sessionID := initializeSession(t, srv)

	w := postJSON(t, srv, sessionID,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"list-brands"}}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error != nil {
		t.Fatalf("upstream failures must be tool results, got JSON-RPC error: %+v", resp.Error)
	}

	result := callToolResult(t, resp)
	if !result.IsError {
		t.Fatal("IsError = false, want true")
	}
	if len(result.Content) != 1 || !strings.Contains(result.Content[0].Text, "401") {
		t.Errorf("content = %+v, want text containing the upstream status", result.Content)
	}
}

func TestToolsCallContractError(t *testing.T) {
	fake := &fakeUpstream{err: &upstream.ContractError{Reason: "unexpected content type"}}
	srv := newTestServer(t, fake, nil)
	sessionID := initializeSession(t, srv)

	w := postJSON(t, srv, sessionID,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"list-brands"}}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error != nil {
		t.Fatalf("contract violations must be tool results, got JSON-RPC error: %+v", resp.Error)
	}

	result := callToolResult(t, resp)
	if !result.IsError {
		t.Fatal("IsError = false, want true")
	}
}

func TestToolsCallInternalError(t *testing.T) {
	fake := &fakeUpstream{err: errors.New("connection reset")}
	srv := newTestServer(t, fake, nil)
	sessionID := initializeSession(t, srv)

	w := postJSON(t, srv, sessionID,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"list-brands"}}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInternalError {
		t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCInternalError)
	}
}

func TestSessionReusesSameToolbox(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)
	sessionID := initializeSession(t, srv)

	first, ok := srv.sessions.get(sessionID)
	if !ok {
		t.Fatal("session not found")
	}
	second, _ := srv.sessions.get(sessionID)
	if first.toolbox != second.toolbox {
		t.Error("same session id routed to different handler instances")
	}
}

func TestDeleteSession(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)
	sessionID := initializeSession(t, srv)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	w := httptest.NewRecorder()
	srv.handleMCP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	// Subsequent use of the terminated session fails
	w2 := postJSON(t, srv, sessionID, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
	if w2.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w2.Code)
	}
}

func TestDeleteUnknownSession(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", "no-such-session")
	w := httptest.NewRecorder()
	srv.handleMCP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestInitializeRequiresBearerWhenGated(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("0123456789abcdef0123456789abcdef"))
	srv := newTestServer(t, &fakeUpstream{}, func(cfg *Config) {
		cfg.Verifier = verifier
		cfg.RequireAuth = true
	})

	t.Run("missing token", func(t *testing.T) {
		w := postJSON(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, nil)
		resp := decodeResponse(t, w)
		if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
			t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCInvalidRequest)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		w := postJSON(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
			map[string]string{"Authorization": "Bearer garbage"})
		resp := decodeResponse(t, w)
		if resp.Error == nil {
			t.Error("expected an error for an invalid token")
		}
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := verifier.Generate("agent-1", time.Hour)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		w := postJSON(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
			map[string]string{"Authorization": "Bearer " + token})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		resp := decodeResponse(t, w)
		if resp.Error != nil {
			t.Errorf("unexpected error: %+v", resp.Error)
		}
	})
}

func TestDeleteVerifiesSessionOwner(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("0123456789abcdef0123456789abcdef"))
	srv := newTestServer(t, &fakeUpstream{}, func(cfg *Config) {
		cfg.Verifier = verifier
		cfg.RequireAuth = true
	})

	token, err := verifier.Generate("agent-1", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	w := postJSON(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		map[string]string{"Authorization": "Bearer " + token})
	sessionID := w.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("missing session id")
	}

	// DELETE with a different token is rejected
	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	req.Header.Set("Authorization", "Bearer somebody-else")
	rec := httptest.NewRecorder()
	srv.handleMCP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}

	// DELETE with the owning token succeeds
	req2 := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req2.Header.Set("Mcp-Session-Id", sessionID)
	req2.Header.Set("Authorization", "Bearer "+token)
	rec2 := httptest.NewRecorder()
	srv.handleMCP(rec2, req2)
	if rec2.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec2.Code)
	}
}

func TestHeaderCredentialsBuildScopedToolbox(t *testing.T) {
	tenantUpstream := &fakeUpstream{raw: json.RawMessage(`[]`)}
	var gotUserID, gotUserToken, gotBlogID string

	srv := newTestServer(t, &fakeUpstream{}, func(cfg *Config) {
		cfg.ToolboxFactory = func(userID, userToken, blogID string) (*tools.Toolbox, error) {
			gotUserID, gotUserToken, gotBlogID = userID, userToken, blogID
			return tools.NewToolbox(tools.Config{
				Upstream:    tenantUpstream,
				DefaultBlog: blogID,
				Logger:      quietLogger(),
			})
		}
	})

	w := postJSON(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, map[string]string{
		"Metricool-User-Id":    "555",
		"Metricool-User-Token": "tenant-token",
		"Metricool-Blog-Id":    "111",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	sessionID := w.Header().Get("Mcp-Session-Id")

	if gotUserID != "555" || gotUserToken != "tenant-token" || gotBlogID != "111" {
		t.Errorf("factory got (%s, %s, %s)", gotUserID, gotUserToken, gotBlogID)
	}

	// Calls on this session hit the tenant-scoped upstream
	w2 := postJSON(t, srv, sessionID,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list-reports"}}`, nil)
	resp := decodeResponse(t, w2)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if tenantUpstream.calls != 1 {
		t.Errorf("tenant upstream calls = %d, want 1", tenantUpstream.calls)
	}
}

func TestHeaderCredentialsRejectedWithoutFactory(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)

	w := postJSON(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, map[string]string{
		"Metricool-User-Id":    "555",
		"Metricool-User-Token": "tenant-token",
	})
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
		t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCInvalidRequest)
	}
	if srv.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", srv.SessionCount())
	}
}

func TestOversizedBody(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, nil)

	big := bytes.Repeat([]byte("a"), MaxRequestBodySize+2)
	w := postJSON(t, srv, "", string(big), nil)
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
		t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCInvalidRequest)
	}
}
