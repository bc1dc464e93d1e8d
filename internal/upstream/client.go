// ABOUTME: Authenticated HTTP client for the Metricool analytics API.
// ABOUTME: Injects query-string credentials and normalizes failures into typed errors.

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/metricool-mcp/internal/metrics"
)

// DefaultBaseURL is the production Metricool API host.
const DefaultBaseURL = "https://app.metricool.com"

// maxResponseBody caps how much of an upstream response we read (4MB).
const maxResponseBody = 4 << 20

// APIError is an upstream application error: the API answered with a
// non-2xx status. Callers may retry transient 5xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("metricool api: status %d", e.Status)
	}
	return fmt.Sprintf("metricool api: status %d: %s", e.Status, e.Message)
}

// ContractError is an upstream contract violation: the API answered 2xx but
// the body was not the JSON it promises. Retrying is unlikely to help.
type ContractError struct {
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("metricool api: invalid response: %s", e.Reason)
}

// Config holds construction parameters for the client.
type Config struct {
	BaseURL    string
	UserID     string
	UserToken  string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Client issues authenticated requests against a single Metricool host.
// Credentials are immutable for the lifetime of the client.
type Client struct {
	base      *url.URL
	userID    string
	userToken string
	http      *http.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewClient validates the credentials and returns a ready client.
// Missing credentials are a construction error, never a per-call one.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errors.New("metricool user id is required")
	}
	if strings.TrimSpace(cfg.UserToken) == "" {
		return nil, errors.New("metricool user token is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:      base,
		userID:    strings.TrimSpace(cfg.UserID),
		userToken: strings.TrimSpace(cfg.UserToken),
		http:      httpClient,
		logger:    logger,
		metrics:   cfg.Metrics,
	}, nil
}

// Get performs one authenticated GET against the given API path. The query
// receives the credential parameters; empty values in the caller's query are
// dropped so unset parameters are omitted entirely. A 204 yields a nil
// document. Non-2xx statuses become *APIError, unparsable bodies become
// *ContractError.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	// The path arrives with its segments already escaped; concatenating
	// strings (rather than assigning url.URL.Path) keeps them that way.
	target := strings.TrimRight(c.base.String(), "/") + path

	q := url.Values{}
	for key, vals := range query {
		for _, v := range vals {
			if v != "" {
				q.Add(key, v)
			}
		}
	}
	q.Set("userId", c.userID)
	q.Set("userToken", c.userToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	c.metrics.ObserveUpstream(path, elapsed)
	if err != nil {
		// The error string may embed the full URL including credentials.
		c.logger.Warn("upstream request failed", "path", path, "elapsed", elapsed)
		return nil, fmt.Errorf("calling metricool api %s: %w", path, sanitizeURLError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &ContractError{Reason: "truncated body"}
	}

	c.logger.Debug("upstream response",
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed", elapsed,
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Message: extractMessage(body)}
	}

	if resp.StatusCode == http.StatusNoContent || len(body) == 0 {
		return nil, nil
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !isJSONMediaType(mediaType) {
			return nil, &ContractError{Reason: fmt.Sprintf("unexpected content type %q", ct)}
		}
	}

	if !json.Valid(body) {
		return nil, &ContractError{Reason: "malformed JSON body"}
	}

	return json.RawMessage(body), nil
}

// UserID reports the account the client is bound to. Used for logging at
// startup; the token is deliberately not exposed.
func (c *Client) UserID() string {
	return c.userID
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// extractMessage pulls a human-readable message out of an error body.
// Metricool error payloads carry either an "error" or a "message" field;
// plain-text bodies are passed through truncated.
func extractMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

// sanitizeURLError strips query strings from transport errors so credentials
// never leak into logs or client-facing messages.
func sanitizeURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if u, parseErr := url.Parse(urlErr.URL); parseErr == nil {
			u.RawQuery = ""
			return fmt.Errorf("%s %s: %w", urlErr.Op, u.String(), urlErr.Err)
		}
		return urlErr.Err
	}
	return err
}
