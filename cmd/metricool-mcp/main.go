// ABOUTME: Entry point for the metricool-mcp server.
// ABOUTME: Exposes Metricool analytics as MCP tools over Streamable HTTP or stdio.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsnet"

	"github.com/2389/metricool-mcp/internal/auth"
	"github.com/2389/metricool-mcp/internal/config"
	"github.com/2389/metricool-mcp/internal/mcp"
	"github.com/2389/metricool-mcp/internal/metrics"
	"github.com/2389/metricool-mcp/internal/tools"
	"github.com/2389/metricool-mcp/internal/upstream"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                _        _                _
 _ __ ___   ___| |_ _ __(_) ___ ___   ___ | |      _ __ ___   ___ _ __
| '_ ' _ \ / _ \ __| '__| |/ __/ _ \ / _ \| |_____| '_ ' _ \ / __| '_ \
| | | | | |  __/ |_| |  | | (_| (_) | (_) | |_____| | | | | | (__| |_) |
|_| |_| |_|\___|\__|_|  |_|\___\___/ \___/|_|     |_| |_| |_|\___| .__/
                                                                 |_|
`

// getConfigPath returns the path to the config file.
// Priority: METRICOOL_MCP_CONFIG env var > XDG_CONFIG_HOME/metricool-mcp/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("METRICOOL_MCP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "metricool-mcp", "config.yaml")
}

// loadConfig prefers the YAML file when one exists and falls back to the
// environment, which is the usual path for stdio deployments.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		cfg, err := config.Load(configPath)
		return cfg, configPath, err
	}
	cfg, err := config.FromEnv()
	return cfg, "(environment)", err
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: metricool-mcp <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the Streamable HTTP server")
		fmt.Println("  stdio                  Speak MCP over stdin/stdout")
		fmt.Println("  tools                  List the exposed tools")
		fmt.Println("  token --sub NAME       Mint a bearer token for multi-tenant mode")
		fmt.Println("  version                Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "stdio":
		err = runStdio(ctx)
	case "tools":
		err = runTools()
	case "token":
		err = runToken()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Account: %s\n", cfg.Metricool.UserID)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting metricool-mcp",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	srv, err := buildServer(cfg, logger, m)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	go srv.RunJanitor(ctx)

	ln, cleanup, err := listen(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}()

	logger.Info("listening", "addr", ln.Addr().String())
	if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// buildServer wires the upstream client, toolbox, and MCP transport from
// the validated configuration.
func buildServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*mcp.Server, error) {
	client, err := upstream.NewClient(upstream.Config{
		BaseURL:   cfg.Metricool.BaseURL,
		UserID:    cfg.Metricool.UserID,
		UserToken: cfg.Metricool.UserToken,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		return nil, fmt.Errorf("creating upstream client: %w", err)
	}

	toolbox, err := tools.NewToolbox(tools.Config{
		Upstream:    client,
		DefaultBlog: cfg.Metricool.BlogID,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating toolbox: %w", err)
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	var factory mcp.ToolboxFactory
	if cfg.Auth.HeaderCredentials {
		baseURL := cfg.Metricool.BaseURL
		factory = func(userID, userToken, blogID string) (*tools.Toolbox, error) {
			perUser, err := upstream.NewClient(upstream.Config{
				BaseURL:   baseURL,
				UserID:    userID,
				UserToken: userToken,
				Logger:    logger,
				Metrics:   m,
			})
			if err != nil {
				return nil, err
			}
			return tools.NewToolbox(tools.Config{
				Upstream:    perUser,
				DefaultBlog: blogID,
				Logger:      logger,
			})
		}
	}

	srv, err := mcp.NewServer(mcp.Config{
		Toolbox:        toolbox,
		ToolboxFactory: factory,
		Logger:         logger,
		Verifier:       verifier,
		RequireAuth:    cfg.Auth.RequireBearer,
		Metrics:        m,
		ServerVersion:  version,
		SessionTTL:     cfg.Sessions.IdleTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}
	return srv, nil
}

// listen returns a plain TCP listener, or a tsnet listener when Tailscale
// serving is enabled.
func listen(ctx context.Context, cfg *config.Config, logger *slog.Logger) (net.Listener, func(), error) {
	if !cfg.Tailscale.Enabled {
		ln, err := net.Listen("tcp", cfg.Server.HTTPAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on %s: %w", cfg.Server.HTTPAddr, err)
		}
		return ln, func() {}, nil
	}

	ts := &tsnet.Server{
		Hostname:  cfg.Tailscale.Hostname,
		AuthKey:   cfg.Tailscale.AuthKey,
		Dir:       cfg.Tailscale.StateDir,
		Ephemeral: cfg.Tailscale.Ephemeral,
		Logf:      func(string, ...any) {}, // tsnet is chatty; surface state via Up below
	}

	status, err := ts.Up(ctx)
	if err != nil {
		_ = ts.Close()
		return nil, nil, fmt.Errorf("bringing up tailscale: %w", err)
	}
	logger.Info("tailscale up", "hostname", cfg.Tailscale.Hostname, "ips", status.TailscaleIPs)

	cleanup := func() { _ = ts.Close() }

	if cfg.Tailscale.Funnel {
		ln, err := ts.ListenFunnel("tcp", ":443")
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("enabling funnel: %w", err)
		}
		return ln, cleanup, nil
	}

	ln, err := ts.Listen("tcp", ":80")
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("tailscale listen: %w", err)
	}
	return ln, cleanup, nil
}

func runStdio(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// stdout carries the protocol; logs must go to stderr
	logger := setupLogger(config.LoggingConfig{Level: cfg.Logging.Level, Format: "json"}, os.Stderr)

	client, err := upstream.NewClient(upstream.Config{
		BaseURL:   cfg.Metricool.BaseURL,
		UserID:    cfg.Metricool.UserID,
		UserToken: cfg.Metricool.UserToken,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating upstream client: %w", err)
	}

	toolbox, err := tools.NewToolbox(tools.Config{
		Upstream:    client,
		DefaultBlog: cfg.Metricool.BlogID,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating toolbox: %w", err)
	}

	return mcp.ServeStdio(ctx, mcp.NewStdioServer(toolbox, version, logger))
}

func runTools() error {
	// The catalog is static; a throwaway toolbox is enough to read it.
	toolbox, err := tools.NewToolbox(tools.Config{Upstream: noopGetter{}})
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)
	for _, d := range toolbox.Descriptors() {
		cyan.Println(d.Name)
		gray.Printf("  %s\n", d.Description)
	}
	return nil
}

func runToken() error {
	var sub string
	ttl := 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--sub":
			if i+1 >= len(args) {
				return fmt.Errorf("--sub requires a value")
			}
			sub = args[i+1]
			i++
		case strings.HasPrefix(arg, "--sub="):
			sub = strings.TrimPrefix(arg, "--sub=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			parsed, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = parsed
			i++
		case strings.HasPrefix(arg, "--ttl="):
			parsed, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = parsed
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if strings.TrimSpace(sub) == "" {
		return fmt.Errorf("--sub flag is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(sub, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// noopGetter satisfies tools.Getter for commands that never call upstream.
type noopGetter struct{}

func (noopGetter) Get(context.Context, string, url.Values) (json.RawMessage, error) {
	return nil, nil
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = &colorHandler{
			out:   out,
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	_, err := fmt.Fprint(h.out, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		out:    h.out,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		out:    h.out,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
