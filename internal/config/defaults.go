package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultFeedURL          = "ws://localhost:8080/feed"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultFrameBufferSize  = 4096
	DefaultPendingCapacity  = 64

	DefaultReconnectBaseDelay  = 1 * time.Second
	DefaultReconnectMaxDelay   = 30 * time.Second
	DefaultReconnectMultiplier = 2.0
	DefaultReconnectJitter     = 0.2
	DefaultStableResetAfter    = 60 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"

	DefaultSimListenAddr  = ":8080"
	DefaultSimPath        = "/feed"
	DefaultSourceKind     = "synthetic"
	DefaultSourceInterval = 2 * time.Second
	DefaultNotifyChannel  = "feed_events"

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2
)

// DefaultSourceTopics are the topics the synthetic source emits on when the
// config names none.
func DefaultSourceTopics() []string {
	return []string{"trainsets", "fitness", "alerts"}
}

func (c *Config) applyDefaults() {
	// Feed defaults
	if c.Feed.URL == "" {
		c.Feed.URL = DefaultFeedURL
	}
	if c.Feed.HandshakeTimeout.Duration == 0 {
		c.Feed.HandshakeTimeout = Duration{DefaultHandshakeTimeout}
	}
	if c.Feed.PingInterval.Duration == 0 {
		c.Feed.PingInterval = Duration{DefaultPingInterval}
	}
	if c.Feed.PingTimeout.Duration == 0 {
		c.Feed.PingTimeout = Duration{DefaultPingTimeout}
	}
	if c.Feed.WriteTimeout.Duration == 0 {
		c.Feed.WriteTimeout = Duration{DefaultWriteTimeout}
	}
	if c.Feed.FrameBufferSize == 0 {
		c.Feed.FrameBufferSize = DefaultFrameBufferSize
	}
	if c.Feed.PendingCapacity == 0 {
		c.Feed.PendingCapacity = DefaultPendingCapacity
	}
	if c.Feed.ReconnectBaseDelay.Duration == 0 {
		c.Feed.ReconnectBaseDelay = Duration{DefaultReconnectBaseDelay}
	}
	if c.Feed.ReconnectMaxDelay.Duration == 0 {
		c.Feed.ReconnectMaxDelay = Duration{DefaultReconnectMaxDelay}
	}
	if c.Feed.ReconnectMultiplier == 0 {
		c.Feed.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if c.Feed.ReconnectJitter == 0 {
		c.Feed.ReconnectJitter = DefaultReconnectJitter
	}
	if c.Feed.StableResetAfter.Duration == 0 {
		c.Feed.StableResetAfter = Duration{DefaultStableResetAfter}
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Sim defaults
	if c.Sim.ListenAddr == "" {
		c.Sim.ListenAddr = DefaultSimListenAddr
	}
	if c.Sim.Path == "" {
		c.Sim.Path = DefaultSimPath
	}
	if c.Sim.Source.Kind == "" {
		c.Sim.Source.Kind = DefaultSourceKind
	}
	if c.Sim.Source.Interval.Duration == 0 {
		c.Sim.Source.Interval = Duration{DefaultSourceInterval}
	}
	if len(c.Sim.Source.Topics) == 0 {
		c.Sim.Source.Topics = DefaultSourceTopics()
	}
	if c.Sim.Source.Channel == "" {
		c.Sim.Source.Channel = DefaultNotifyChannel
	}
	applyDBDefaults(&c.Sim.Database)
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
