package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/matchbridge/internal/bidstore"
	"github.com/rickgao/matchbridge/internal/connection"
	"github.com/rickgao/matchbridge/internal/model"
	"github.com/rickgao/matchbridge/internal/protocol"
)

// Bridge is the remote matching endpoint seen by the local matching logic.
type Bridge struct {
	cfg       Config
	local     LocalMatcher
	registry  Registry
	store     *bidstore.Store
	logger    *slog.Logger
	observers []Observer

	seq atomic.Int64

	// mu covers the session handle, the registered flag, and every
	// store Save/Retrieve made by the bridge.
	mu         sync.Mutex
	link       Link
	session    connection.Session
	registered bool
	stopping   bool

	// Stats
	bidsSent        atomic.Int64
	transmitErrors  atomic.Int64
	pricesMatched   atomic.Int64
	pricesUnmatched atomic.Int64
	decodeErrors    atomic.Int64
}

// New creates a Bridge. Nothing is dialed until Start.
func New(cfg Config, local LocalMatcher, registry Registry, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("agent_id", cfg.AgentID)

	return &Bridge{
		cfg:      cfg,
		local:    local,
		registry: registry,
		store:    bidstore.New(cfg.Store, logger),
		logger:   logger,
	}
}

// AddObserver registers o for bridge events. Call before Start.
func (b *Bridge) AddObserver(o Observer) {
	b.observers = append(b.observers, o)
}

// ID identifies the bridge as a matching endpoint.
func (b *Bridge) ID() string {
	return b.cfg.AgentID
}

// Start validates the remote URL and begins connecting. A stopped Bridge may
// be started again; it reconnects and waits for a fresh ClusterInfo.
func (b *Bridge) Start(ctx context.Context) error {
	if b.cfg.AgentID == "" {
		return ErrMissingAgentID
	}
	target, err := EndpointURL(b.cfg.URL, b.cfg.AgentID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.link == nil {
		supCfg := b.cfg.Supervisor
		supCfg.Session.URL = target
		b.link = connection.NewSupervisor(supCfg, b, b.logger)
	}
	link := b.link
	b.stopping = false
	b.mu.Unlock()

	b.store.OnSweep = func(n int) {
		b.each(func(o Observer) { o.BidsExpired(n) })
	}
	if err := b.store.Start(ctx); err != nil {
		return fmt.Errorf("start bid store: %w", err)
	}
	if err := link.Start(ctx); err != nil {
		b.store.Stop(ctx)
		return fmt.Errorf("start link: %w", err)
	}

	b.logger.Info("bridge started", "url", target)
	return nil
}

// Stop refuses further bids, unregisters the bridge, and closes the session.
// The bridge is Unregistered when Stop returns.
func (b *Bridge) Stop(ctx context.Context) error {
	b.logger.Info("stopping bridge")

	b.mu.Lock()
	b.stopping = true
	link := b.link
	sess := b.dropSessionLocked()
	b.mu.Unlock()

	if sess != nil {
		sess.Close()
	}

	var errs []error
	if link != nil {
		if err := link.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop link: %w", err))
		}
	}
	if err := b.store.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop bid store: %w", err))
	}

	b.logger.Info("bridge stopped", "pending_bids", b.store.Len())
	return errors.Join(errs...)
}

// OnLocalBidProduced numbers, records, and sends bid. It returns the update
// only if the frame was written to a live session.
func (b *Bridge) OnLocalBidProduced(bid model.AggregatedBid) (model.BidUpdate, bool) {
	if b.linkState() != connection.StateConnected {
		b.logger.Debug("not connected, bid not sent")
		return model.BidUpdate{}, false
	}

	b.mu.Lock()
	sess := b.session
	if b.stopping || sess == nil {
		b.mu.Unlock()
		return model.BidUpdate{}, false
	}

	update := model.BidUpdate{Bid: bid, Seq: b.seq.Add(1)}
	data, err := protocol.EncodeBidUpdate(update)
	if err != nil {
		b.mu.Unlock()
		b.logger.Error("failed to encode bid update", "seq", update.Seq, "error", err)
		return model.BidUpdate{}, false
	}

	sentAt := time.Now()
	if err := b.store.Save(update.Seq, bid, sentAt); err != nil {
		b.logger.Warn("failed to record bid", "seq", update.Seq, "error", err)
	}

	if err := sess.Send(data); err != nil {
		// The record stays until the sweep reclaims it
		dropped := b.dropSessionIfCurrentLocked(sess)
		b.mu.Unlock()

		b.transmitErrors.Add(1)
		b.logger.Warn("failed to send bid update, closing session",
			"seq", update.Seq,
			"session_id", sess.ID(),
			"error", err,
		)
		sess.Close()
		b.each(func(o Observer) { o.TransmitFailed(update.Seq, err) })
		if dropped {
			b.each(func(o Observer) { o.SessionClosed(sess.ID(), err) })
		}
		return model.BidUpdate{}, false
	}
	b.mu.Unlock()

	b.bidsSent.Add(1)
	b.logger.Debug("bid update sent", "seq", update.Seq, "session_id", sess.ID())
	b.each(func(o Observer) { o.BidSent(update, sess.ID(), sentAt) })

	return update, true
}

// OnInboundMessage handles a frame from the current session.
func (b *Bridge) OnInboundMessage(data []byte) {
	b.handleMessage(nil, data, time.Now())
}

// OnRemoteSessionClosed forgets the current session and unregisters the bridge.
func (b *Bridge) OnRemoteSessionClosed() {
	b.mu.Lock()
	sess := b.dropSessionLocked()
	b.mu.Unlock()

	if sess != nil {
		b.logger.Info("remote session closed", "session_id", sess.ID())
		b.each(func(o Observer) { o.SessionClosed(sess.ID(), nil) })
	}
}

// IsUsable reports whether the local matching logic is configured and the
// session is connected.
func (b *Bridge) IsUsable() bool {
	return b.local.IsConfigured() && b.linkState() == connection.StateConnected
}

// State returns the registration state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registered {
		return StateRegistered
	}
	return StateUnregistered
}

// Stats returns a snapshot of bridge counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	link := b.link
	b.mu.Unlock()

	stats := Stats{
		State:           b.State(),
		Usable:          b.IsUsable(),
		SessionID:       b.sessionID(),
		PendingBids:     b.store.Len(),
		LastSequence:    b.seq.Load(),
		BidsSent:        b.bidsSent.Load(),
		TransmitErrors:  b.transmitErrors.Load(),
		PricesMatched:   b.pricesMatched.Load(),
		PricesUnmatched: b.pricesUnmatched.Load(),
		DecodeErrors:    b.decodeErrors.Load(),
	}
	if link != nil {
		stats.Link = link.Stats()
	}
	return stats
}

// OnSessionOpened implements connection.Handler.
func (b *Bridge) OnSessionOpened(s connection.Session) {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		s.Close()
		return
	}
	// The previous session's close may not have been delivered yet
	var stale connection.Session
	if b.session != nil && b.session != s {
		stale = b.dropSessionLocked()
	}
	b.session = s
	b.mu.Unlock()

	if stale != nil {
		b.logger.Info("session replaced, bridge unregistered", "session_id", stale.ID())
		b.each(func(o Observer) { o.SessionClosed(stale.ID(), nil) })
	}
	b.logger.Info("session opened, waiting for cluster info", "session_id", s.ID())
}

// OnMessage implements connection.Handler.
func (b *Bridge) OnMessage(s connection.Session, msg connection.TimestampedMessage) {
	b.handleMessage(s, msg.Data, msg.ReceivedAt)
}

// OnSessionClosed implements connection.Handler.
func (b *Bridge) OnSessionClosed(s connection.Session, err error) {
	b.mu.Lock()
	dropped := b.dropSessionIfCurrentLocked(s)
	b.mu.Unlock()

	if !dropped {
		return
	}

	b.logger.Info("session lost, bridge unregistered", "session_id", s.ID(), "error", err)
	b.each(func(o Observer) { o.SessionClosed(s.ID(), err) })
}

// handleMessage decodes and dispatches a frame. A nil from means the current session.
func (b *Bridge) handleMessage(from connection.Session, data []byte, receivedAt time.Time) {
	env, err := protocol.Decode(data)
	if err != nil {
		b.decodeErrors.Add(1)
		b.logger.Warn("dropping undecodable message", "error", err, "len", len(data))
		b.each(func(o Observer) { o.DecodeFailed(err) })
		return
	}

	switch env.Type {
	case protocol.PayloadPriceUpdate:
		b.handlePriceUpdate(*env.PriceUpdate, receivedAt)
	case protocol.PayloadClusterInfo:
		b.handleClusterInfo(from, *env.ClusterInfo)
	default:
		b.logger.Debug("ignoring inbound payload", "payload_type", env.Type)
	}
}

func (b *Bridge) handlePriceUpdate(u protocol.PriceUpdate, receivedAt time.Time) {
	b.mu.Lock()
	rec, ok := b.store.Retrieve(u.Seq)
	b.mu.Unlock()

	if !ok {
		// Late, duplicate, or reclaimed
		b.pricesUnmatched.Add(1)
		b.logger.Debug("price for unknown sequence number", "seq", u.Seq)
		b.each(func(o Observer) { o.PriceUnmatched(u.Seq) })
		return
	}

	priced, err := protocol.MapPrice(rec.Bid.MarketBasis, u)
	if err != nil {
		b.logger.Warn("price outside market basis of bid",
			"seq", u.Seq,
			"price", u.Price,
			"error", err,
		)
		return
	}

	b.pricesMatched.Add(1)
	b.local.PublishPrice(priced.Price, rec.Bid)

	b.logger.Debug("price published",
		"seq", u.Seq,
		"price", priced.Price.Value,
		"latency", receivedAt.Sub(rec.SentAt),
	)
	b.each(func(o Observer) { o.PriceMatched(priced, rec, receivedAt) })
}

func (b *Bridge) handleClusterInfo(from connection.Session, info model.ClusterInfo) {
	b.mu.Lock()
	if b.stopping || b.session == nil || (from != nil && from != b.session) {
		b.mu.Unlock()
		b.logger.Debug("ignoring cluster info without a live session", "cluster_id", info.ClusterID)
		return
	}

	b.local.Configure(info.MarketBasis, info.ClusterID, b.cfg.MinTimeBetweenBidUpdates)
	if !b.registered {
		b.registry.Register(b)
		b.registered = true
	}
	b.mu.Unlock()

	b.logger.Info("cluster info applied, bridge registered",
		"cluster_id", info.ClusterID,
		"commodity", info.MarketBasis.Commodity,
		"price_steps", info.MarketBasis.PriceSteps,
	)
	b.each(func(o Observer) { o.ClusterInfoApplied(info) })
}

// dropSessionIfCurrentLocked drops s only if it is still the active session. Must hold b.mu.
func (b *Bridge) dropSessionIfCurrentLocked(s connection.Session) bool {
	if b.session == nil || b.session != s {
		return false
	}
	b.dropSessionLocked()
	return true
}

// dropSessionLocked clears the session, unregisters, and discards the
// cluster configuration it announced. Must hold b.mu.
func (b *Bridge) dropSessionLocked() connection.Session {
	sess := b.session
	b.session = nil

	if b.registered {
		b.registry.Unregister(b)
		b.registered = false
	}
	b.local.Deconfigure()

	return sess
}

func (b *Bridge) linkState() connection.State {
	b.mu.Lock()
	link := b.link
	b.mu.Unlock()
	if link == nil {
		return connection.StateDisconnected
	}
	return link.State()
}

func (b *Bridge) each(fn func(Observer)) {
	for _, o := range b.observers {
		fn(o)
	}
}

// EndpointURL validates raw as a ws or wss URL and sets its agentId query parameter.
func EndpointURL(raw, agentID string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	q := u.Query()
	q.Set("agentId", agentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sessionID returns the active session's ID, or uuid.Nil.
func (b *Bridge) sessionID() uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return uuid.Nil
	}
	return b.session.ID()
}
