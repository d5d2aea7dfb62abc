package config

import "time"

// BridgeConfig is the root configuration for the bridge process.
type BridgeConfig struct {
	Agent    AgentConfig    `yaml:"agent"`
	Remote   RemoteConfig   `yaml:"remote"`
	Matching MatchingConfig `yaml:"matching"`
	Bids     BidsConfig     `yaml:"bids"`
	Journal  JournalConfig  `yaml:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AgentConfig identifies this bridge to the remote matcher.
type AgentConfig struct {
	ID string `yaml:"id"`
}

// RemoteConfig configures the session to the remote matcher.
type RemoteConfig struct {
	URL               string        `yaml:"url"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	BufferSize        int           `yaml:"buffer_size"`
}

// MatchingConfig configures the local matching side.
type MatchingConfig struct {
	MinTimeBetweenBidUpdates time.Duration `yaml:"min_time_between_bid_updates"`
}

// BidsConfig configures pending bid reclamation.
type BidsConfig struct {
	Expiration    time.Duration `yaml:"expiration"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// JournalConfig configures the optional event journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds database connection settings.
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

// MetricsConfig configures the health and metrics HTTP server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
