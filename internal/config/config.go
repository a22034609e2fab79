// Package config loads the xslttester configuration: an optional YAML file
// overlaid with XSLTTESTER__ environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"xslttester/sink/kafka"
	"xslttester/sink/stdout"
)

const (
	SupportedSchema = "v1"
	// EnvPrefix is stripped from variable names; "__" separates levels, so
	// XSLTTESTER__SERVER__GRPC_PORT sets server.grpc_port.
	EnvPrefix = "XSLTTESTER__"
)

type Log struct {
	Level string `koanf:"level" yaml:"level"`
	JSON  bool   `koanf:"json" yaml:"json"`
}

type Server struct {
	GRPCPort    int `koanf:"grpc_port" yaml:"grpc_port"`
	MetricsPort int `koanf:"metrics_port" yaml:"metrics_port"` // 0 = no /metrics
}

type Transform struct {
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
	// Remote is a gRPC address; empty runs transforms in-process.
	Remote string `koanf:"remote" yaml:"remote"`
}

type SinkConfigs struct {
	Stdout stdout.Config `koanf:"stdout" yaml:"stdout"`
	Kafka  kafka.Config  `koanf:"kafka" yaml:"kafka"`
}

type Config struct {
	SchemaVersion string      `koanf:"schema_version" yaml:"schema_version"`
	Log           Log         `koanf:"log" yaml:"log"`
	Server        Server      `koanf:"server" yaml:"server"`
	Transform     Transform   `koanf:"transform" yaml:"transform"`
	Sinks         []string    `koanf:"sinks" yaml:"sinks"`
	SinkConfigs   SinkConfigs `koanf:"sink_configs" yaml:"sink_configs"`
}

// Load merges YAML at path (if present) with env-vars and fills defaults.
// An empty path or a missing file yields defaults plus environment.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("config schema_version %q not supported (want %q)", sv, SupportedSchema)
	}

	if err := k.Load(env.Provider(EnvPrefix, "__", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

func applyDefaults(c *Config) {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SupportedSchema
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 7070
	}
	if c.Transform.Timeout == 0 {
		c.Transform.Timeout = 30 * time.Second
	}
	if c.Sinks == nil {
		c.Sinks = []string{"stdout"}
	}
	if c.SinkConfigs.Kafka.Topic == "" {
		c.SinkConfigs.Kafka.Topic = "xslttester.results"
	}
	if c.SinkConfigs.Kafka.Acks == 0 {
		c.SinkConfigs.Kafka.Acks = 1
	}
}

// SinkConfig returns the driver config block for the named sink.
func (c Config) SinkConfig(name string) (any, error) {
	switch name {
	case "stdout":
		return c.SinkConfigs.Stdout, nil
	case "kafka":
		return c.SinkConfigs.Kafka, nil
	}
	return nil, fmt.Errorf("no config block for sink %q", name)
}

// Dump writes the effective configuration as YAML.
func Dump(w io.Writer, c Config) error {
	enc := yamlv3.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
