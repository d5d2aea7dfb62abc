package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session represents a single WebSocket connection to the remote matcher.
// A Session is used once: after Close it cannot be reconnected.
type Session interface {
	// ID identifies this session in logs and journal rows.
	ID() uuid.UUID

	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection, letting in-flight sends finish first.
	Close() error

	// Send writes a text frame.
	Send(data []byte) error

	// Messages returns a channel of received frames.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// Done is closed once the session stops reading (remote close, error, or Close).
	Done() <-chan struct{}

	// IsOpen reports whether the underlying connection is live.
	IsOpen() bool
}

// session implements the Session interface.
type session struct {
	id     uuid.UUID
	cfg    SessionConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{} // closed by Close
	readDone chan struct{} // closed when readLoop exits

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	lastSeenAt time.Time
	closed     bool
}

// NewSession creates a new, unconnected WebSocket session.
func NewSession(cfg SessionConfig, logger *slog.Logger) Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()

	return &session{
		id:       id,
		cfg:      cfg,
		logger:   logger.With("session_id", id),
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// ID returns the session ID.
func (s *session) ID() uuid.UUID {
	return s.id
}

// Connect establishes the WebSocket connection.
func (s *session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, s.cfg.Header)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		// Close raced with the dial.
		s.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	s.conn = conn
	s.connected = true
	s.lastSeenAt = time.Now()
	s.mu.Unlock()

	// Remote pings count as liveness; answer with pong
	conn.SetPingHandler(func(data string) error {
		s.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Pongs answer our heartbeat pings
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	go s.readLoop()
	go s.heartbeatLoop()

	s.logger.Debug("websocket connected", "url", s.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	conn := s.conn
	s.mu.Unlock()

	// Signal goroutines to stop
	close(s.done)

	if conn == nil {
		return nil
	}

	// Wait for any in-flight Send to complete or fail
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "normal disconnect"),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// Send writes raw bytes to the connection as a text frame.
func (s *session) Send(data []byte) error {
	s.mu.RLock()
	if !s.connected {
		s.mu.RUnlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.RUnlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (s *session) Messages() <-chan TimestampedMessage {
	return s.messages
}

// Errors returns the errors channel.
func (s *session) Errors() <-chan error {
	return s.errors
}

// Done returns a channel closed when the session stops reading.
func (s *session) Done() <-chan struct{} {
	return s.readDone
}

// IsOpen returns the current connection state.
func (s *session) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastSeenAt = time.Now()
	s.mu.Unlock()
}

// readLoop reads messages from the WebSocket and sends them to the messages channel.
func (s *session) readLoop() {
	defer close(s.readDone)
	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-s.done:
				return
			default:
				select {
				case s.errors <- err:
				default:
				}
				return
			}
		}

		s.touch()

		msg := TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		select {
		case s.messages <- msg:
		case <-s.done:
			return
		default:
			s.logger.Warn("message buffer full, dropping message")
		}
	}
}

// heartbeatLoop pings the remote and closes the connection once it goes stale.
func (s *session) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.readDone:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}

			s.mu.RLock()
			lastSeen := s.lastSeenAt
			s.mu.RUnlock()

			if time.Since(lastSeen) > s.cfg.PingTimeout {
				s.logger.Warn("no ping received, connection stale",
					"last_seen", lastSeen,
					"timeout", s.cfg.PingTimeout,
				)
				select {
				case s.errors <- ErrStaleConnection:
				default:
				}
				// Unblocks readLoop, which marks the session closed
				s.conn.Close()
				return
			}
		}
	}
}
