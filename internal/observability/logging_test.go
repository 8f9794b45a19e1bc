package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	logger.Info(context.Background(), "hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output by default: %v", err)
	}
	if record["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", record["msg"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	ctx := context.Background()
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below warn should be filtered, got: %s", out)
	}
	if !strings.Contains(out, "warn message") {
		t.Errorf("warn message missing from output: %s", out)
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := context.Background()
	logger.Info(ctx, "auth", "header", "bearer abcdefghij0123456789")
	logger.Info(ctx, "key", "value", "sk-ant-"+strings.Repeat("a", 96))

	out := buf.String()
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction markers in output: %s", out)
	}
	if strings.Contains(out, "abcdefghij0123456789") {
		t.Errorf("token leaked into output: %s", out)
	}
}

func TestLoggerRedactsSensitiveMapKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	logger.Info(context.Background(), "login", "fields", map[string]any{
		"auth_token": "super-secret-value",
		"user":       "alice",
	})

	out := buf.String()
	if strings.Contains(out, "super-secret-value") {
		t.Errorf("auth_token value leaked: %s", out)
	}
	if !strings.Contains(out, "alice") {
		t.Errorf("non-sensitive value should survive: %s", out)
	}
}

func TestLoggerContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := AddUserID(context.Background(), "user-1")
	ctx = AddPromptID(ctx, "prompt-9")
	ctx = AddAgentID(ctx, "agent-3")

	logger.Info(ctx, "step")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if record["user_id"] != "user-1" {
		t.Errorf("user_id = %v, want user-1", record["user_id"])
	}
	if record["prompt_id"] != "prompt-9" {
		t.Errorf("prompt_id = %v, want prompt-9", record["prompt_id"])
	}
	if record["agent_id"] != "agent-3" {
		t.Errorf("agent_id = %v, want agent-3", record["agent_id"])
	}
}

func TestGetPromptID(t *testing.T) {
	if got := GetPromptID(context.Background()); got != "" {
		t.Errorf("GetPromptID on empty context = %q, want empty", got)
	}
	ctx := AddPromptID(context.Background(), "p-1")
	if got := GetPromptID(ctx); got != "p-1" {
		t.Errorf("GetPromptID = %q, want p-1", got)
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf}).WithFields("component", "runtime")

	logger.Info(context.Background(), "started")

	if !strings.Contains(buf.String(), `"component":"runtime"`) {
		t.Errorf("component field missing: %s", buf.String())
	}
}
