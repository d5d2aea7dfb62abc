package connection

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrStaleConnection   = errors.New("connection stale (no ping)")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrStopped           = errors.New("supervisor stopped")
)

// ConnectError reports a failed connect attempt. It is always recoverable.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// State is the supervisor's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Handler receives session events. Calls for one session come from a single
// goroutine, in order: OnSessionOpened, OnMessage..., OnSessionClosed.
type Handler interface {
	OnSessionOpened(s Session)
	OnMessage(s Session, msg TimestampedMessage)
	OnSessionClosed(s Session, err error)
}

// SessionConfig configures a WebSocket session.
type SessionConfig struct {
	URL            string        // WebSocket URL including query (e.g., ws://host/agentendpoint?agentId=a1)
	Header         http.Header   // Extra handshake headers (nil = none)
	ConnectTimeout time.Duration // Max time for dial + handshake
	PingInterval   time.Duration // How often we ping the remote
	PingTimeout    time.Duration // Max time without ping/pong/data before the session is stale
	WriteTimeout   time.Duration // Write deadline for sends
	BufferSize     int           // Message channel buffer size
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ConnectTimeout: 60 * time.Second,
		PingInterval:   15 * time.Second,
		PingTimeout:    60 * time.Second,
		WriteTimeout:   5 * time.Second,
		BufferSize:     1000,
	}
}

// SupervisorConfig configures the Supervisor.
type SupervisorConfig struct {
	Session           SessionConfig
	InitialDelay      time.Duration // Delay before the first reconnect tick
	ReconnectInterval time.Duration // Fixed interval between reconnect ticks
}

// DefaultSupervisorConfig returns sensible defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Session:           DefaultSessionConfig(),
		InitialDelay:      1 * time.Second,
		ReconnectInterval: 30 * time.Second,
	}
}

// SupervisorStats counts connection lifecycle events.
type SupervisorStats struct {
	State           State
	ConnectAttempts int64
	ConnectFailures int64
	Disconnects     int64
}
