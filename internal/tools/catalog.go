// ABOUTME: Static tool catalog and name-based dispatcher for the analytics tools.
// ABOUTME: The descriptor table is the single schema source for every entry point.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
)

// ErrUnknownTool is returned when dispatch finds no handler for a name.
var ErrUnknownTool = errors.New("unknown tool")

// ArgumentError is a client error: the invocation itself is invalid and no
// upstream call was attempted.
type ArgumentError struct {
	Name   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %q %s", e.Name, e.Reason)
}

// Getter is the one upstream capability handlers need. Satisfied by
// *upstream.Client; tests substitute call-counting fakes.
type Getter interface {
	Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
}

// Descriptor describes one tool for tools/list responses.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// handlerFunc runs one invocation against the toolbox's upstream client.
type handlerFunc func(tb *Toolbox, ctx context.Context, args map[string]any) (any, error)

// entry binds a descriptor to its handler in the catalog table.
type entry struct {
	desc Descriptor
	run  handlerFunc
}

// catalog is the one source of truth for tool names, schemas, and handlers.
// Both the HTTP transport and the stdio transport consume it.
var catalog = []entry{
	{
		desc: Descriptor{
			Name:        "list-brands",
			Description: "List the Metricool brands (profiles) visible to the configured account, with their ids and timezones.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
		run: (*Toolbox).listBrands,
	},
	{
		desc: Descriptor{
			Name:        "get-timeline",
			Description: "Fetch the daily time series for one metric (e.g. followers, interactions) as date/value pairs.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"metric":{"type":"string","description":"Metric identifier, e.g. followers"},"start":{"type":"string","description":"Range start as YYYYMMDD"},"end":{"type":"string","description":"Range end as YYYYMMDD"},"workspace":{"type":"string","description":"Brand (blog) id overriding the configured default"}},"required":["metric"]}`),
		},
		run: (*Toolbox).getTimeline,
	},
	{
		desc: Descriptor{
			Name:        "get-values",
			Description: "Fetch the aggregated snapshot values for one metric category on a given day.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"category":{"type":"string","description":"Metric category, e.g. community or engagement"},"date":{"type":"string","description":"Snapshot day as YYYYMMDD, defaults to the latest available"},"workspace":{"type":"string","description":"Brand (blog) id overriding the configured default"}},"required":["category"]}`),
		},
		run: (*Toolbox).getValues,
	},
	{
		desc: Descriptor{
			Name:        "get-posts",
			Description: "List published posts for one channel (facebook, instagram, twitter, linkedin, tiktok or youtube) in a date range.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"channel":{"type":"string","description":"Channel name, defaults to facebook","enum":["facebook","instagram","twitter","linkedin","tiktok","youtube"]},"start":{"type":"string","description":"Range start as YYYYMMDD"},"end":{"type":"string","description":"Range end as YYYYMMDD"},"workspace":{"type":"string","description":"Brand (blog) id overriding the configured default"}},"required":[]}`),
		},
		run: (*Toolbox).getPosts,
	},
	{
		desc: Descriptor{
			Name:        "list-reports",
			Description: "List the report generation history for a brand.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"workspace":{"type":"string","description":"Brand (blog) id overriding the configured default"}},"required":[]}`),
		},
		run: (*Toolbox).listReports,
	},
	{
		desc: Descriptor{
			Name:        "report-status",
			Description: "Fetch the status of one report generation job by its job id.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"jobId":{"type":"string","description":"Report job id returned when the report was requested"},"workspace":{"type":"string","description":"Brand (blog) id overriding the configured default"}},"required":["jobId"]}`),
		},
		run: (*Toolbox).reportStatus,
	},
}

// Config holds construction parameters for a Toolbox.
type Config struct {
	Upstream    Getter
	DefaultBlog string
	Logger      *slog.Logger
}

// Toolbox is one handler instance: the dispatch table bound to an upstream
// client and a default workspace. Each MCP session holds exactly one.
type Toolbox struct {
	upstream    Getter
	defaultBlog string
	logger      *slog.Logger
	byName      map[string]entry
}

// NewToolbox builds a toolbox over the static catalog.
func NewToolbox(cfg Config) (*Toolbox, error) {
	if cfg.Upstream == nil {
		return nil, errors.New("upstream client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]entry, len(catalog))
	for _, e := range catalog {
		byName[e.desc.Name] = e
	}

	return &Toolbox{
		upstream:    cfg.Upstream,
		defaultBlog: cfg.DefaultBlog,
		logger:      logger,
		byName:      byName,
	}, nil
}

// Descriptors returns the catalog in declaration order.
func (tb *Toolbox) Descriptors() []Descriptor {
	out := make([]Descriptor, len(catalog))
	for i, e := range catalog {
		out[i] = e.desc
	}
	return out
}

// Call dispatches one invocation by tool name.
func (tb *Toolbox) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	e, ok := tb.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return e.run(tb, ctx, args)
}
