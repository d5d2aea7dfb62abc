package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// recordingHandler records session events.
type recordingHandler struct {
	mu       sync.Mutex
	opened   int
	closed   int
	messages []string
	lastErr  error

	openedCh chan Session
	closedCh chan Session
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		openedCh: make(chan Session, 10),
		closedCh: make(chan Session, 10),
	}
}

func (h *recordingHandler) OnSessionOpened(s Session) {
	h.mu.Lock()
	h.opened++
	h.mu.Unlock()
	h.openedCh <- s
}

func (h *recordingHandler) OnMessage(s Session, msg TimestampedMessage) {
	h.mu.Lock()
	h.messages = append(h.messages, string(msg.Data))
	h.mu.Unlock()
}

func (h *recordingHandler) OnSessionClosed(s Session, err error) {
	h.mu.Lock()
	h.closed++
	h.lastErr = err
	h.mu.Unlock()
	h.closedCh <- s
}

func (h *recordingHandler) counts() (opened, closed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened, h.closed
}

// gatedServer refuses upgrades until available is set.
type gatedServer struct {
	*httptest.Server
	available atomic.Bool
	upgrades  atomic.Int64
	delay     time.Duration
	handler   func(*websocket.Conn)
}

func newGatedServer(t *testing.T, handler func(*websocket.Conn)) *gatedServer {
	gs := &gatedServer{handler: handler}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	gs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !gs.available.Load() {
			http.Error(w, "matcher unavailable", http.StatusServiceUnavailable)
			return
		}
		if gs.delay > 0 {
			time.Sleep(gs.delay)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		gs.upgrades.Add(1)
		defer conn.Close()
		gs.handler(conn)
	}))
	return gs
}

func testSupervisorConfig(url string) SupervisorConfig {
	return SupervisorConfig{
		Session:           testSessionConfig(url),
		InitialDelay:      10 * time.Millisecond,
		ReconnectInterval: 50 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestSupervisor_ConnectAndDeliver(t *testing.T) {
	server := newGatedServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		drain(conn)
	})
	server.available.Store(true)
	defer server.Close()

	h := newRecordingHandler()
	sup := NewSupervisor(testSupervisorConfig(wsURL(server.Server)), h, nil)

	if err := sup.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sup.Stop(context.Background())

	if sup.State() != StateConnected {
		t.Errorf("State = %v, want connected", sup.State())
	}
	if !sup.IsOpen() {
		t.Error("expected IsOpen to return true")
	}

	select {
	case <-h.openedCh:
	case <-time.After(time.Second):
		t.Fatal("OnSessionOpened not called")
	}

	waitFor(t, time.Second, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.messages) == 1 && h.messages[0] == "hello"
	}, "message not delivered")

	// Second connect is a no-op while connected
	if err := sup.Connect(context.Background()); err != nil {
		t.Errorf("Connect while connected: %v", err)
	}
	if got := server.upgrades.Load(); got != 1 {
		t.Errorf("upgrades = %d, want 1", got)
	}
}

func TestSupervisor_ConnectFailure(t *testing.T) {
	server := newGatedServer(t, drain)
	defer server.Close()

	h := newRecordingHandler()
	sup := NewSupervisor(testSupervisorConfig(wsURL(server.Server)), h, nil)

	err := sup.Connect(context.Background())
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectError, got %v", err)
	}
	if connErr.URL != wsURL(server.Server) {
		t.Errorf("URL = %q, want %q", connErr.URL, wsURL(server.Server))
	}

	if sup.State() != StateDisconnected {
		t.Errorf("State = %v, want disconnected", sup.State())
	}

	stats := sup.Stats()
	if stats.ConnectAttempts != 1 || stats.ConnectFailures != 1 {
		t.Errorf("stats = %+v, want 1 attempt and 1 failure", stats)
	}

	if opened, _ := h.counts(); opened != 0 {
		t.Errorf("opened = %d, want 0", opened)
	}
}

func TestSupervisor_SingleAttemptInFlight(t *testing.T) {
	server := newGatedServer(t, drain)
	server.available.Store(true)
	server.delay = 100 * time.Millisecond
	defer server.Close()

	h := newRecordingHandler()
	sup := NewSupervisor(testSupervisorConfig(wsURL(server.Server)), h, nil)
	defer sup.Stop(context.Background())

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- sup.Connect(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, ErrConnectInProgress) {
			t.Errorf("unexpected connect error: %v", err)
		}
	}

	if got := server.upgrades.Load(); got != 1 {
		t.Errorf("upgrades = %d, want 1", got)
	}
	if opened, _ := h.counts(); opened != 1 {
		t.Errorf("opened = %d, want 1", opened)
	}
}

func TestSupervisor_ReconnectsWhenRemoteReturns(t *testing.T) {
	server := newGatedServer(t, drain)
	defer server.Close()

	h := newRecordingHandler()
	sup := NewSupervisor(testSupervisorConfig(wsURL(server.Server)), h, nil)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop(context.Background())

	// Remote is down for a few ticks
	waitFor(t, 2*time.Second, func() bool {
		return sup.Stats().ConnectFailures >= 2
	}, "expected repeated failed attempts")

	if sup.State() != StateDisconnected {
		t.Errorf("State = %v, want disconnected while remote is down", sup.State())
	}

	server.available.Store(true)

	waitFor(t, 2*time.Second, func() bool {
		return sup.State() == StateConnected
	}, "supervisor never reconnected")

	select {
	case <-h.openedCh:
	case <-time.After(time.Second):
		t.Fatal("OnSessionOpened not called")
	}
}

func TestSupervisor_SessionDropTriggersReconnect(t *testing.T) {
	var first atomic.Bool
	first.Store(true)

	server := newGatedServer(t, func(conn *websocket.Conn) {
		if first.CompareAndSwap(true, false) {
			// Drop the first session right away
			return
		}
		drain(conn)
	})
	server.available.Store(true)
	defer server.Close()

	h := newRecordingHandler()
	sup := NewSupervisor(testSupervisorConfig(wsURL(server.Server)), h, nil)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop(context.Background())

	var firstSess Session
	select {
	case firstSess = <-h.openedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("first session never opened")
	}

	select {
	case closed := <-h.closedCh:
		if closed.ID() != firstSess.ID() {
			t.Errorf("closed session %s, want %s", closed.ID(), firstSess.ID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnSessionClosed not called after remote drop")
	}

	select {
	case second := <-h.openedCh:
		if second.ID() == firstSess.ID() {
			t.Error("expected a fresh session after reconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never reconnected after drop")
	}

	if got := sup.Stats().Disconnects; got < 1 {
		t.Errorf("Disconnects = %d, want >= 1", got)
	}
}

func TestSupervisor_Stop(t *testing.T) {
	server := newGatedServer(t, drain)
	server.available.Store(true)
	defer server.Close()

	h := newRecordingHandler()
	sup := NewSupervisor(testSupervisorConfig(wsURL(server.Server)), h, nil)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return sup.State() == StateConnected
	}, "supervisor never connected")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if sup.IsOpen() {
		t.Error("expected IsOpen to return false after Stop")
	}
	if sup.State() != StateDisconnected {
		t.Errorf("State = %v, want disconnected", sup.State())
	}
	if _, closed := h.counts(); closed != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}

	if err := sup.Connect(context.Background()); err != ErrStopped {
		t.Errorf("Connect after Stop: expected ErrStopped, got %v", err)
	}
}

func TestSupervisor_RestartAfterStop(t *testing.T) {
	server := newGatedServer(t, drain)
	server.available.Store(true)
	defer server.Close()

	h := newRecordingHandler()
	sup := NewSupervisor(testSupervisorConfig(wsURL(server.Server)), h, nil)

	for round := 1; round <= 2; round++ {
		if err := sup.Start(context.Background()); err != nil {
			t.Fatalf("round %d: Start failed: %v", round, err)
		}

		waitFor(t, 2*time.Second, func() bool {
			return sup.State() == StateConnected
		}, "supervisor never connected")

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := sup.Stop(ctx)
		cancel()
		if err != nil {
			t.Fatalf("round %d: Stop failed: %v", round, err)
		}
	}

	if opened, _ := h.counts(); opened != 2 {
		t.Errorf("opened = %d, want 2", opened)
	}
}
