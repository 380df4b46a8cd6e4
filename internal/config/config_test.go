package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 8284, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.NotEmpty(t, cfg.Store.Path)
	assert.True(t, cfg.NATS.Embedded)
	assert.Equal(t, "taskd", cfg.Observability.ServiceName)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "grpc", cfg.Telemetry.Protocol)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.http_port",
		},
		{
			name:    "empty store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: "store.path",
		},
		{
			name: "external nats needs url",
			mutate: func(c *Config) {
				c.NATS.Embedded = false
				c.NATS.URL = ""
			},
			wantErr: "nats.url",
		},
		{
			name:    "empty service name",
			mutate:  func(c *Config) { c.Observability.ServiceName = "" },
			wantErr: "observability.service_name",
		},
		{
			name:    "sampling rate out of range",
			mutate:  func(c *Config) { c.Telemetry.SamplingRate = 1.5 },
			wantErr: "telemetry.sampling_rate",
		},
		{
			name:    "unknown telemetry protocol",
			mutate:  func(c *Config) { c.Telemetry.Protocol = "carrier-pigeon" },
			wantErr: "telemetry.protocol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWithFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9090
  shutdown_timeout: 5s
store:
  path: /tmp/test-taskd.db
nats:
  embedded: false
  url: nats://example:4222
`), 0o600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "/tmp/test-taskd.db", cfg.Store.Path)
	assert.False(t, cfg.NATS.Embedded)
	assert.Equal(t, "nats://example:4222", cfg.NATS.URL)

	// Untouched sections keep their defaults.
	assert.Equal(t, "taskd", cfg.Observability.ServiceName)
}

func TestLoadWithFile_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9090\n"), 0o600))

	t.Setenv("SERVER_HTTP_PORT", "7070")
	t.Setenv("STORE_PATH", "/tmp/env-taskd.db")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/tmp/env-taskd.db", cfg.Store.Path)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8284, cfg.Server.Port)
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))

	_, err := LoadWithFile(path)
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("bogus")))

	out, err := Duration(2 * time.Minute).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2m0s", string(out))
}
