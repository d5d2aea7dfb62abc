package remote

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/rickgao/matchbridge/internal/model"
	"github.com/rickgao/matchbridge/internal/protocol"
)

// PriceFunc prices a bid update. Returning false sends no price.
type PriceFunc func(model.BidUpdate) (decimal.Decimal, bool)

// Config configures a Server.
type Config struct {
	ClusterID    string
	MarketBasis  model.MarketBasis
	WriteTimeout time.Duration
}

// Stats counts server activity.
type Stats struct {
	Sessions   int
	BidUpdates int64
	Prices     int64
	Rejected   int64
}

// peer is one connected bridge.
type peer struct {
	agentID string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Server is an http.Handler speaking the bridge protocol.
type Server struct {
	cfg      Config
	price    PriceFunc
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
	wg    sync.WaitGroup

	bidUpdates atomic.Int64
	prices     atomic.Int64
	rejected   atomic.Int64
}

// NewServer creates a Server. A nil price uses Equilibrium.
func NewServer(cfg Config, price PriceFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if price == nil {
		price = Equilibrium
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	return &Server{
		cfg:    cfg,
		price:  price,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		peers: make(map[*peer]struct{}),
	}
}

// ServeHTTP upgrades a bridge connection identified by the agentId query parameter.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		s.rejected.Add(1)
		http.Error(w, "agentId query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "agent_id", agentID, "error", err)
		return
	}

	p := &peer{agentID: agentID, conn: conn}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("bridge connected", "agent_id", agentID, "remote_addr", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		conn.Close()
		s.wg.Done()
		s.logger.Info("bridge disconnected", "agent_id", agentID)
	}()

	if err := s.announce(p, s.clusterInfo()); err != nil {
		s.logger.Warn("failed to send cluster info", "agent_id", agentID, "error", err)
		return
	}

	s.serve(p)
}

// Announce sends a cluster announcement to every connected bridge.
func (s *Server) Announce(info model.ClusterInfo) {
	s.mu.Lock()
	s.cfg.ClusterID = info.ClusterID
	s.cfg.MarketBasis = info.MarketBasis
	peers := s.snapshot()
	s.mu.Unlock()

	for _, p := range peers {
		if err := s.announce(p, info); err != nil {
			s.logger.Warn("failed to send cluster info", "agent_id", p.agentID, "error", err)
		}
	}
}

// Agents returns the agent IDs of connected bridges, sorted.
func (s *Server) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents := make([]string, 0, len(s.peers))
	for p := range s.peers {
		agents = append(agents, p.agentID)
	}
	slices.Sort(agents)
	return agents
}

// CloseAll drops every connected bridge.
func (s *Server) CloseAll() {
	s.mu.Lock()
	peers := s.snapshot()
	s.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
}

// Wait blocks until every session handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Stats returns server counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	sessions := len(s.peers)
	s.mu.Unlock()

	return Stats{
		Sessions:   sessions,
		BidUpdates: s.bidUpdates.Load(),
		Prices:     s.prices.Load(),
		Rejected:   s.rejected.Load(),
	}
}

func (s *Server) serve(p *peer) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("dropping undecodable frame", "agent_id", p.agentID, "error", err)
			continue
		}
		if env.Type != protocol.PayloadBidUpdate {
			s.logger.Debug("ignoring payload", "agent_id", p.agentID, "payload_type", env.Type)
			continue
		}

		s.bidUpdates.Add(1)
		update := *env.BidUpdate
		price, ok := s.price(update)
		if !ok {
			continue
		}

		out, err := protocol.EncodePriceUpdate(update.Seq, price)
		if err != nil {
			s.logger.Error("failed to encode price", "seq", update.Seq, "error", err)
			continue
		}
		if err := s.write(p, out); err != nil {
			s.logger.Warn("failed to send price", "agent_id", p.agentID, "seq", update.Seq, "error", err)
			return
		}
		s.prices.Add(1)
	}
}

func (s *Server) announce(p *peer, info model.ClusterInfo) error {
	data, err := protocol.EncodeClusterInfo(info)
	if err != nil {
		return err
	}
	return s.write(p, data)
}

func (s *Server) write(p *peer, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) clusterInfo() model.ClusterInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.ClusterInfo{ClusterID: s.cfg.ClusterID, MarketBasis: s.cfg.MarketBasis}
}

// snapshot copies the peer set. Must hold s.mu.
func (s *Server) snapshot() []*peer {
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

// Equilibrium prices a bid at the first price step where its demand is no
// longer positive, or at the maximum price if demand never drops to zero.
func Equilibrium(u model.BidUpdate) (decimal.Decimal, bool) {
	basis := u.Bid.MarketBasis
	for step, demand := range u.Bid.Demand {
		if demand <= 0 {
			return basis.PriceOfStep(step), true
		}
	}
	return basis.MaximumPrice, true
}

// Fixed prices every bid at price.
func Fixed(price decimal.Decimal) PriceFunc {
	return func(model.BidUpdate) (decimal.Decimal, bool) {
		return price, true
	}
}
