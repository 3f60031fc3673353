package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return errors.New("feed.url is required")
	}
	if c.Feed.ReconnectBaseDelay.Duration <= 0 {
		return errors.New("feed.reconnect_base_delay must be > 0")
	}
	if c.Feed.ReconnectMaxDelay.Duration < c.Feed.ReconnectBaseDelay.Duration {
		return fmt.Errorf("feed.reconnect_max_delay (%v) cannot be below reconnect_base_delay (%v)",
			c.Feed.ReconnectMaxDelay.Duration, c.Feed.ReconnectBaseDelay.Duration)
	}
	if c.Feed.ReconnectMultiplier < 1 {
		return errors.New("feed.reconnect_multiplier must be >= 1")
	}
	if c.Feed.ReconnectJitter < 0 || c.Feed.ReconnectJitter > 1 {
		return fmt.Errorf("feed.reconnect_jitter must be between 0 and 1, got %v", c.Feed.ReconnectJitter)
	}
	if c.Feed.FrameBufferSize < 1 {
		return errors.New("feed.frame_buffer_size must be >= 1")
	}
	if c.Feed.PendingCapacity < 1 {
		return errors.New("feed.pending_capacity must be >= 1")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if c.Sim.ListenAddr == "" {
		return errors.New("sim.listen_addr is required")
	}
	switch c.Sim.Source.Kind {
	case "synthetic":
		if c.Sim.Source.Interval.Duration <= 0 {
			return errors.New("sim.source.interval must be > 0")
		}
		if len(c.Sim.Source.Topics) == 0 {
			return errors.New("sim.source.topics must name at least one topic")
		}
	case "postgres":
		if c.Sim.Source.Channel == "" {
			return errors.New("sim.source.channel is required")
		}
		if err := c.Sim.Database.validate("sim.database"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("sim.source.kind must be synthetic or postgres, got %q", c.Sim.Source.Kind)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
