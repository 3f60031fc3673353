package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
feed:
  url: wss://depot.example.net/feed
  reconnect_base_delay: 500ms
  reconnect_max_delay: 10s
log:
  level: debug
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.URL != "wss://depot.example.net/feed" {
		t.Errorf("Feed.URL = %q, want %q", cfg.Feed.URL, "wss://depot.example.net/feed")
	}
	if cfg.Feed.ReconnectBaseDelay.Duration != 500*time.Millisecond {
		t.Errorf("Feed.ReconnectBaseDelay = %v, want 500ms", cfg.Feed.ReconnectBaseDelay)
	}
	if cfg.Feed.ReconnectMaxDelay.Duration != 10*time.Second {
		t.Errorf("Feed.ReconnectMaxDelay = %v, want 10s", cfg.Feed.ReconnectMaxDelay)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	yaml := `
feed:
  url: ws://localhost:8080/feed
  reconnect_base_delay: fast
`
	path := writeTempFile(t, yaml)

	if _, err := Load(path); err == nil {
		t.Error("Load() = nil error, want duration parse failure")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
sim:
  source:
    kind: postgres
  database:
    host: localhost
    name: depot
    user: feedsim
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Sim.Database.Password != "secret123" {
		t.Errorf("Sim.Database.Password = %q, want %q", cfg.Sim.Database.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
feed:
  url: ws://localhost:9000/feed
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Explicit value survives
	if cfg.Feed.URL != "ws://localhost:9000/feed" {
		t.Errorf("Feed.URL = %q, want explicit value", cfg.Feed.URL)
	}

	// Check defaults were applied
	if cfg.Feed.ReconnectBaseDelay.Duration != DefaultReconnectBaseDelay {
		t.Errorf("Feed.ReconnectBaseDelay = %v, want default %v", cfg.Feed.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Feed.ReconnectMultiplier != DefaultReconnectMultiplier {
		t.Errorf("Feed.ReconnectMultiplier = %v, want default %v", cfg.Feed.ReconnectMultiplier, DefaultReconnectMultiplier)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want default %q", cfg.Log.Level, DefaultLogLevel)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Sim.Source.Kind != DefaultSourceKind {
		t.Errorf("Sim.Source.Kind = %q, want default %q", cfg.Sim.Source.Kind, DefaultSourceKind)
	}
	if cfg.Sim.Database.Port != DefaultDBPort {
		t.Errorf("Sim.Database.Port = %d, want default %d", cfg.Sim.Database.Port, DefaultDBPort)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return Default() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing feed url",
			mutate:  func(c *Config) { c.Feed.URL = "" },
			wantErr: "feed.url is required",
		},
		{
			name: "max delay below base delay",
			mutate: func(c *Config) {
				c.Feed.ReconnectBaseDelay = Duration{10 * time.Second}
				c.Feed.ReconnectMaxDelay = Duration{time.Second}
			},
			wantErr: "feed.reconnect_max_delay (1s) cannot be below reconnect_base_delay (10s)",
		},
		{
			name:    "multiplier below one",
			mutate:  func(c *Config) { c.Feed.ReconnectMultiplier = 0.5 },
			wantErr: "feed.reconnect_multiplier must be >= 1",
		},
		{
			name:    "jitter out of range",
			mutate:  func(c *Config) { c.Feed.ReconnectJitter = 1.5 },
			wantErr: "feed.reconnect_jitter must be between 0 and 1, got 1.5",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: `log.level must be debug, info, warn, or error, got "verbose"`,
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "logfmt" },
			wantErr: `log.format must be text or json, got "logfmt"`,
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "unknown source kind",
			mutate:  func(c *Config) { c.Sim.Source.Kind = "kafka" },
			wantErr: `sim.source.kind must be synthetic or postgres, got "kafka"`,
		},
		{
			name:    "synthetic without topics",
			mutate:  func(c *Config) { c.Sim.Source.Topics = nil },
			wantErr: "sim.source.topics must name at least one topic",
		},
		{
			name:    "postgres without host",
			mutate:  func(c *Config) { c.Sim.Source.Kind = "postgres" },
			wantErr: "sim.database.host is required",
		},
		{
			name: "postgres min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Sim.Source.Kind = "postgres"
				c.Sim.Database.Host = "localhost"
				c.Sim.Database.Name = "depot"
				c.Sim.Database.User = "feedsim"
				c.Sim.Database.Password = "pass"
				c.Sim.Database.MaxConns = 5
				c.Sim.Database.MinConns = 10
			},
			wantErr: "sim.database.min_conns (10) cannot exceed max_conns (5)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
