package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func captureLogger(t *testing.T, cfg LogConfig) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	return NewLogger(cfg), &buf
}

func TestLoggerEmitsJSON(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{Level: "info", Format: "json"})
	logger.Info(context.Background(), "skill loaded", "name", "github-helper")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "skill loaded" || record["name"] != "github-helper" {
		t.Fatalf("record = %v", record)
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{Level: "warn"})
	logger.Info(context.Background(), "too quiet")
	if buf.Len() != 0 {
		t.Fatalf("info should be suppressed at warn level: %s", buf.String())
	}
	logger.Warn(context.Background(), "loud enough")
	if buf.Len() == 0 {
		t.Fatal("warn should be emitted")
	}
}

func TestLoggerRedactsAnthropicKey(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{})
	key := "sk-ant-" + strings.Repeat("a", 100)
	logger.Error(context.Background(), "request failed", "detail", "auth header was "+key)

	out := buf.String()
	if strings.Contains(out, key) {
		t.Fatal("API key leaked into log output")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction marker: %s", out)
	}
}

func TestLoggerRedactsNearSecretKey(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{})
	secret := "ed25519:" + strings.Repeat("4", 88)
	logger.Info(context.Background(), "imported key "+secret)
	if strings.Contains(buf.String(), secret) {
		t.Fatal("NEAR secret key leaked into log output")
	}
}

func TestLoggerRedactsErrorValues(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{})
	err := errors.New("upstream said: bearer eyJhbGciOi.eyJzdWIiOi.c2lnbmF0dXJl")
	logger.Error(context.Background(), "provider error", "error", err)
	if strings.Contains(buf.String(), "eyJhbGciOi.eyJzdWIiOi") {
		t.Fatalf("JWT leaked: %s", buf.String())
	}
}

func TestLoggerRedactsSensitiveMapKeys(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{})
	logger.Info(context.Background(), "request", "headers", map[string]any{
		"Authorization": "Bearer abc123",
		"Accept":        "application/json",
	})
	out := buf.String()
	if strings.Contains(out, "abc123") {
		t.Fatalf("authorization header leaked: %s", out)
	}
	if !strings.Contains(out, "application/json") {
		t.Fatalf("benign header should survive: %s", out)
	}
}

func TestLoggerIncludesContextIDs(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{})
	ctx := AddRequestID(AddSessionID(context.Background(), "sess-1"), "req-9")
	logger.Info(ctx, "turn started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatal(err)
	}
	if record["request_id"] != "req-9" || record["session_id"] != "sess-1" {
		t.Fatalf("record = %v", record)
	}
	if GetRequestID(ctx) != "req-9" {
		t.Fatal("GetRequestID mismatch")
	}
}

func TestLoggerCustomRedactPattern(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{RedactPatterns: []string{`ICLK[0-9]+`}})
	logger.Info(context.Background(), "backup envelope ICLK12345 written")
	if strings.Contains(buf.String(), "ICLK12345") {
		t.Fatal("custom pattern not applied")
	}
}

func TestWithFields(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{})
	logger.WithFields("component", "bridge").Info(context.Background(), "connected")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatal(err)
	}
	if record["component"] != "bridge" {
		t.Fatalf("record = %v", record)
	}
}

func TestLoggerTextFormat(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{Format: "text"})
	logger.Info(context.Background(), "hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("text output = %s", buf.String())
	}
}
