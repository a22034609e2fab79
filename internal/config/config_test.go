package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xslttester.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeFile(t, `schema_version: v1
log:
  level: debug
server:
  metrics_port: 9100
transform:
  timeout: 5s
sinks: [stdout, kafka]
sink_configs:
  stdout:
    print_header: true
  kafka:
    brokers: [localhost:9092]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Server.MetricsPort != 9100 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Server.GRPCPort != 7070 {
		t.Fatalf("want default grpc port 7070, got %d", cfg.Server.GRPCPort)
	}
	if cfg.Transform.Timeout != 5*time.Second {
		t.Fatalf("want 5s timeout, got %v", cfg.Transform.Timeout)
	}
	if len(cfg.Sinks) != 2 || !cfg.SinkConfigs.Stdout.PrintHeader {
		t.Fatalf("sinks not loaded: %+v", cfg.Sinks)
	}
	if cfg.SinkConfigs.Kafka.Topic != "xslttester.results" || cfg.SinkConfigs.Kafka.Brokers[0] != "localhost:9092" {
		t.Fatalf("kafka block: %+v", cfg.SinkConfigs.Kafka)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SchemaVersion != SupportedSchema || cfg.Transform.Timeout != 30*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0] != "stdout" {
		t.Fatalf("want default stdout sink, got %v", cfg.Sinks)
	}
}

func TestLoad_InvalidSchema(t *testing.T) {
	path := writeFile(t, "schema_version: v999\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid schema_version")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "server:\n  grpc_port: 1000\n")
	t.Setenv("XSLTTESTER__SERVER__GRPC_PORT", "2000")
	t.Setenv("XSLTTESTER__TRANSFORM__REMOTE", "localhost:2000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.GRPCPort != 2000 {
		t.Fatalf("env did not override grpc_port: %d", cfg.Server.GRPCPort)
	}
	if cfg.Transform.Remote != "localhost:2000" {
		t.Fatalf("env did not set remote: %q", cfg.Transform.Remote)
	}
}

func TestSinkConfig(t *testing.T) {
	cfg, _ := Load("")
	if _, err := cfg.SinkConfig("stdout"); err != nil {
		t.Fatalf("stdout: %v", err)
	}
	if _, err := cfg.SinkConfig("carrier-pigeon"); err == nil {
		t.Fatal("expected error for unknown sink")
	}
}

func TestDump(t *testing.T) {
	cfg, _ := Load("")
	var buf bytes.Buffer
	if err := Dump(&buf, cfg); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"schema_version: v1", "timeout: 30s", "grpc_port: 7070"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump missing %q:\n%s", want, out)
		}
	}
}
