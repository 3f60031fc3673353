package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can use strings like "30s"
// or "500ms". yaml.v3 has no native duration support.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the root configuration shared by the feedmux binaries.
type Config struct {
	Feed    FeedConfig    `yaml:"feed"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Sim     SimConfig     `yaml:"sim"`
}

// FeedConfig holds the client side: endpoint, transport timeouts, and the
// reconnect policy.
type FeedConfig struct {
	URL              string   `yaml:"url"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	PingInterval     Duration `yaml:"ping_interval"`
	PingTimeout      Duration `yaml:"ping_timeout"`
	WriteTimeout     Duration `yaml:"write_timeout"`
	FrameBufferSize  int      `yaml:"frame_buffer_size"`
	PendingCapacity  int      `yaml:"pending_capacity"`

	ReconnectBaseDelay  Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay   Duration `yaml:"reconnect_max_delay"`
	ReconnectMultiplier float64  `yaml:"reconnect_multiplier"`
	ReconnectJitter     float64  `yaml:"reconnect_jitter"`
	StableResetAfter    Duration `yaml:"stable_reset_after"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// SimConfig holds the feed simulator server settings.
type SimConfig struct {
	ListenAddr string       `yaml:"listen_addr"`
	Path       string       `yaml:"path"`
	Source     SourceConfig `yaml:"source"`
	Database   DBConfig     `yaml:"database"` // required when source.kind is postgres
}

// SourceConfig selects and tunes the simulator's event source.
type SourceConfig struct {
	Kind     string   `yaml:"kind"`     // synthetic, postgres
	Interval Duration `yaml:"interval"` // synthetic emit interval
	Topics   []string `yaml:"topics"`   // synthetic topics
	Channel  string   `yaml:"channel"`  // postgres NOTIFY channel
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
