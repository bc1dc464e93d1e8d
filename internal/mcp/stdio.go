// ABOUTME: Stdio deployment variant built on the mcp-go SDK.
// ABOUTME: Serves the same tool catalog; session plumbing is the SDK's.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/2389/metricool-mcp/internal/tools"
	"github.com/2389/metricool-mcp/internal/upstream"
)

// NewStdioServer builds an mcp-go server over the shared tool catalog.
// Used by the stdio entry point, where clients like Claude Desktop spawn the
// process and speak MCP over stdin/stdout.
func NewStdioServer(toolbox *tools.Toolbox, version string, logger *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"metricool-mcp",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Read-only access to Metricool social analytics: "+
			"brand listings, metric timelines, aggregated snapshots, published posts, and report jobs."),
	)

	for _, d := range toolbox.Descriptors() {
		tool := mcpgo.NewToolWithRawSchema(d.Name, d.Description, d.InputSchema)
		name := d.Name
		s.AddTool(tool, func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			out, err := toolbox.Call(ctx, name, req.GetArguments())
			if err != nil {
				return stdioToolError(name, err, logger)
			}
			text, err := json.Marshal(out)
			if err != nil {
				return nil, err
			}
			return mcpgo.NewToolResultText(string(text)), nil
		})
	}

	return s
}

// ServeStdio runs the stdio transport until EOF or context cancellation.
func ServeStdio(ctx context.Context, s *server.MCPServer) error {
	return server.ServeStdio(s, server.WithStdioContextFunc(func(context.Context) context.Context {
		return ctx
	}))
}

// stdioToolError mirrors the HTTP transport's error mapping: upstream
// failures become error results the model can read, client errors surface
// as protocol errors.
func stdioToolError(name string, err error, logger *slog.Logger) (*mcpgo.CallToolResult, error) {
	var apiErr *upstream.APIError
	var contractErr *upstream.ContractError

	switch {
	case errors.As(err, &apiErr), errors.As(err, &contractErr):
		logger.Warn("upstream failure", "tool_name", name, "error", err)
		return mcpgo.NewToolResultError(err.Error()), nil
	default:
		return nil, err
	}
}
