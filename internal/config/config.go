// Package config provides configuration loading for taskd.
//
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables, with hardcoded defaults filling the gaps.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete taskd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	NATS          NATSConfig          `koanf:"nats"`
	Observability ObservabilityConfig `koanf:"observability"`
	Telemetry     TelemetryConfig     `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds note store configuration.
type StoreConfig struct {
	// Path is the SQLite database file, or ":memory:" for an ephemeral store.
	Path string `koanf:"path"`
}

// NATSConfig holds attribute-change event bus configuration.
type NATSConfig struct {
	// URL of an external NATS server. Ignored when Embedded is true.
	URL string `koanf:"url"`
	// Embedded starts an in-process NATS server instead of connecting out.
	Embedded bool `koanf:"embedded"`
}

// ObservabilityConfig holds logging configuration.
type ObservabilityConfig struct {
	ServiceName string `koanf:"service_name"`
	// Development selects the human-readable zap development logger.
	Development bool `koanf:"development"`
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure       bool     `koanf:"insecure"`
	SamplingRate   float64  `koanf:"sampling_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// NewDefaultConfig returns the built-in defaults. Telemetry is disabled by
// default for installations without an OTEL collector.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8284,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
		NATS: NATSConfig{
			URL:      "nats://localhost:4222",
			Embedded: true,
		},
		Observability: ObservabilityConfig{
			ServiceName: "taskd",
			Development: false,
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			SamplingRate:   1.0,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "taskd.db"
	}
	return filepath.Join(home, ".local", "share", "taskd", "taskd.db")
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.embedded is false")
	}
	if c.Observability.ServiceName == "" {
		return fmt.Errorf("observability.service_name cannot be empty")
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("telemetry.sampling_rate must be between 0 and 1, got %v", c.Telemetry.SamplingRate)
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("telemetry.protocol must be \"grpc\" or \"http/protobuf\", got %q", c.Telemetry.Protocol)
	}
	return nil
}
