// ABOUTME: Tests for the CLI glue.
// ABOUTME: Guards that loggers write to their configured sink, never a hard-coded stream.

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/2389/metricool-mcp/internal/config"
)

func TestSetupLoggerWritesToGivenSink(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := setupLogger(config.LoggingConfig{Level: "info", Format: format}, &buf)

			logger.Info("sink check", "key", "value")

			out := buf.String()
			if !strings.Contains(out, "sink check") {
				t.Errorf("log output %q missing the message", out)
			}
			if !strings.Contains(out, "key") {
				t.Errorf("log output %q missing the attribute", out)
			}
		})
	}
}

func TestSetupLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("below threshold")
	logger.Warn("at threshold")

	out := buf.String()
	if strings.Contains(out, "below threshold") {
		t.Errorf("info line leaked through warn level: %q", out)
	}
	if !strings.Contains(out, "at threshold") {
		t.Errorf("warn line missing: %q", out)
	}
}
