package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAgentID                  = "matcherendpointproxy"
	DefaultRemoteURL                = "ws://localhost:8080/powermatcher/websockets/agentendpoint"
	DefaultReconnectInterval        = 30 * time.Second
	DefaultConnectTimeout           = 60 * time.Second
	DefaultInitialDelay             = 1 * time.Second
	DefaultWriteTimeout             = 5 * time.Second
	DefaultPingInterval             = 15 * time.Second
	DefaultPingTimeout              = 60 * time.Second
	DefaultSessionBufferSize        = 1000
	DefaultMinTimeBetweenBidUpdates = 1000 * time.Millisecond
	DefaultBidExpiration            = 600 * time.Second
	DefaultSweepInterval            = 60 * time.Second
	DefaultDBPort                   = 5432
	DefaultDBSSLMode                = "prefer"
	DefaultMaxConns                 = 4
	DefaultMinConns                 = 1
	DefaultBatchSize                = 500
	DefaultFlushInterval            = 1 * time.Second
	DefaultJournalBufferSize        = 1024
	DefaultMetricsPort              = 9090
	DefaultMetricsPath              = "/metrics"
	DefaultLogLevel                 = "info"
	DefaultLogFormat                = "text"
)

func (c *BridgeConfig) applyDefaults() {
	if c.Agent.ID == "" {
		c.Agent.ID = DefaultAgentID
	}

	// Remote defaults
	if c.Remote.URL == "" {
		c.Remote.URL = DefaultRemoteURL
	}
	if c.Remote.ReconnectInterval == 0 {
		c.Remote.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Remote.ConnectTimeout == 0 {
		c.Remote.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Remote.InitialDelay == 0 {
		c.Remote.InitialDelay = DefaultInitialDelay
	}
	if c.Remote.WriteTimeout == 0 {
		c.Remote.WriteTimeout = DefaultWriteTimeout
	}
	if c.Remote.PingInterval == 0 {
		c.Remote.PingInterval = DefaultPingInterval
	}
	if c.Remote.PingTimeout == 0 {
		c.Remote.PingTimeout = DefaultPingTimeout
	}
	if c.Remote.BufferSize == 0 {
		c.Remote.BufferSize = DefaultSessionBufferSize
	}

	if c.Matching.MinTimeBetweenBidUpdates == 0 {
		c.Matching.MinTimeBetweenBidUpdates = DefaultMinTimeBetweenBidUpdates
	}

	// Bid store defaults
	if c.Bids.Expiration == 0 {
		c.Bids.Expiration = DefaultBidExpiration
	}
	if c.Bids.SweepInterval == 0 {
		c.Bids.SweepInterval = DefaultSweepInterval
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
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
