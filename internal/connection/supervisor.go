package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Supervisor keeps one session to the remote matcher alive.
type Supervisor struct {
	cfg     SupervisorConfig
	handler Handler
	logger  *slog.Logger

	// newSession is swapped in tests
	newSession func(SessionConfig, *slog.Logger) Session

	state   atomic.Int32
	connect singleflight.Group

	mu      sync.Mutex
	session Session
	stopped bool

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	attempts    atomic.Int64
	failures    atomic.Int64
	disconnects atomic.Int64
}

// NewSupervisor creates a Supervisor that reports session events to handler.
func NewSupervisor(cfg SupervisorConfig, handler Handler, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		cfg:        cfg,
		handler:    handler,
		logger:     logger,
		newSession: NewSession,
	}
}

// Start begins the reconnect schedule: first tick after InitialDelay, then every ReconnectInterval.
// A stopped Supervisor may be started again.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.reconnectLoop()

	s.logger.Info("connection supervisor started",
		"url", s.cfg.Session.URL,
		"initial_delay", s.cfg.InitialDelay,
		"reconnect_interval", s.cfg.ReconnectInterval,
		"connect_timeout", s.cfg.Session.ConnectTimeout,
	)

	return nil
}

// Stop cancels the reconnect schedule and closes any live session.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.logger.Info("stopping connection supervisor")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	if err := s.Disconnect(); err != nil {
		s.logger.Warn("disconnect during stop failed", "error", err)
	}

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("connection supervisor stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("connection supervisor stop timed out")
		return ctx.Err()
	}
}

// Connect opens a session unless one is already open. Concurrent callers share
// one attempt. A failed attempt returns a *ConnectError and leaves the
// supervisor Disconnected.
func (s *Supervisor) Connect(ctx context.Context) error {
	_, err, _ := s.connect.Do("connect", func() (any, error) {
		return nil, s.doConnect(ctx)
	})
	return err
}

// Disconnect closes the live session, if any.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()

	if sess == nil {
		return nil
	}

	err := sess.Close()
	s.state.Store(int32(StateDisconnected))
	s.disconnects.Add(1)

	s.logger.Info("disconnected", "session_id", sess.ID())
	return err
}

// IsOpen reports whether the current session is live.
func (s *Supervisor) IsOpen() bool {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	return sess != nil && sess.IsOpen()
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Stats returns lifecycle counters.
func (s *Supervisor) Stats() SupervisorStats {
	return SupervisorStats{
		State:           s.State(),
		ConnectAttempts: s.attempts.Load(),
		ConnectFailures: s.failures.Load(),
		Disconnects:     s.disconnects.Load(),
	}
}

// doConnect runs a single connect attempt.
func (s *Supervisor) doConnect(ctx context.Context) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		if s.State() == StateConnected {
			return nil
		}
		return ErrConnectInProgress
	}
	s.attempts.Add(1)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Session.ConnectTimeout)
	defer cancel()

	sess := s.newSession(s.cfg.Session, s.logger)
	s.logger.Info("connecting", "url", s.cfg.Session.URL, "session_id", sess.ID())

	if err := sess.Connect(ctx); err != nil {
		s.failures.Add(1)
		s.state.Store(int32(StateDisconnected))
		return &ConnectError{URL: s.cfg.Session.URL, Err: err}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		sess.Close()
		s.state.Store(int32(StateDisconnected))
		return ErrStopped
	}
	s.session = sess
	s.state.Store(int32(StateConnected))
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("connected", "session_id", sess.ID())

	s.handler.OnSessionOpened(sess)
	go s.pump(sess)

	return nil
}

// reconnectLoop fires connect attempts on a fixed schedule.
func (s *Supervisor) reconnectLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return
	case <-timer.C:
	}
	s.tick()

	ticker := time.NewTicker(s.cfg.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick attempts a connect only while Disconnected.
func (s *Supervisor) tick() {
	if s.State() != StateDisconnected {
		return
	}

	if err := s.Connect(s.ctx); err != nil && err != ErrStopped {
		s.logger.Warn("unable to connect to remote matcher",
			"error", err,
			"retry_in", s.cfg.ReconnectInterval,
		)
	}
}

// pump delivers one session's frames to the handler until the session ends.
func (s *Supervisor) pump(sess Session) {
	defer s.wg.Done()

	var cause error

loop:
	for {
		select {
		case msg := <-sess.Messages():
			s.handler.OnMessage(sess, msg)
		case err := <-sess.Errors():
			cause = err
			break loop
		case <-sess.Done():
			break loop
		}
	}

	// Deliver frames read before the close
	for {
		select {
		case msg := <-sess.Messages():
			s.handler.OnMessage(sess, msg)
			continue
		default:
		}
		break
	}

	sess.Close()

	s.mu.Lock()
	current := s.session == sess
	if current {
		s.session = nil
		s.state.Store(int32(StateDisconnected))
		s.disconnects.Add(1)
	}
	s.mu.Unlock()

	s.logger.Info("session closed",
		"session_id", sess.ID(),
		"error", cause,
	)

	s.handler.OnSessionClosed(sess, cause)
}
