package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *BridgeConfig) Validate() error {
	if c.Agent.ID == "" {
		return errors.New("agent.id is required")
	}

	if err := c.Remote.validate("remote"); err != nil {
		return err
	}

	if c.Matching.MinTimeBetweenBidUpdates < 0 {
		return errors.New("matching.min_time_between_bid_updates must be >= 0")
	}

	if c.Bids.Expiration <= 0 {
		return errors.New("bids.expiration must be > 0")
	}
	if c.Bids.SweepInterval <= 0 {
		return errors.New("bids.sweep_interval must be > 0")
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
		if c.Journal.FlushInterval <= 0 {
			return errors.New("journal.flush_interval must be > 0")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (r *RemoteConfig) validate(prefix string) error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%s.url is invalid: %v", prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s.url must use ws or wss, got %q", prefix, r.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("%s.url must include a host", prefix)
	}
	if r.ReconnectInterval <= 0 {
		return fmt.Errorf("%s.reconnect_interval must be > 0", prefix)
	}
	if r.ConnectTimeout <= 0 {
		return fmt.Errorf("%s.connect_timeout must be > 0", prefix)
	}
	if r.InitialDelay < 0 {
		return fmt.Errorf("%s.initial_delay must be >= 0", prefix)
	}
	if r.WriteTimeout <= 0 {
		return fmt.Errorf("%s.write_timeout must be > 0", prefix)
	}
	if r.PingInterval <= 0 {
		return fmt.Errorf("%s.ping_interval must be > 0", prefix)
	}
	if r.PingTimeout < r.PingInterval {
		return fmt.Errorf("%s.ping_timeout (%v) must be >= ping_interval (%v)", prefix, r.PingTimeout, r.PingInterval)
	}
	if r.BufferSize < 1 {
		return fmt.Errorf("%s.buffer_size must be >= 1", prefix)
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

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level %q is invalid: %w", l.Level, err)
	}
	return level, nil
}
