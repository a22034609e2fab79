package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestConfigure_LevelAndFormat(t *testing.T) {
	defer Configure(Options{})

	var buf bytes.Buffer
	Configure(Options{Level: "warning", JSON: true, Output: &buf})
	L().Info("dropped")
	L().Warn("kept", "err", "boom")

	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "dropped") {
		t.Fatalf("info record should be filtered at warn level: %q", line)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("want a single JSON record, got %q: %v", line, err)
	}
	if rec["msg"] != "kept" || rec["err"] != "boom" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestInitFromEnv(t *testing.T) {
	defer Configure(Options{})
	t.Setenv("XSLTTESTER_LOG_LEVEL", "debug")
	t.Setenv("XSLTTESTER_LOG_JSON", "not-a-bool")
	InitFromEnv()
	if !L().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug level should be enabled")
	}
}
