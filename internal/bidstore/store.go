// Package bidstore holds bids that have been sent to the remote matcher and are
// waiting for the price that answers them.
package bidstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/matchbridge/internal/model"
)

// ErrDuplicateSequence is returned when a sequence number is saved twice.
var ErrDuplicateSequence = errors.New("sequence number already stored")

// Record is a bid that was sent and has not yet been priced.
type Record struct {
	Seq    int64
	Bid    model.AggregatedBid
	SentAt time.Time
}

// Config holds reclamation settings.
type Config struct {
	MaxAge        time.Duration // Records older than this are purged (default: 10m)
	SweepInterval time.Duration // How often the sweep runs (default: 1m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAge:        10 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Store maps sequence numbers to pending bids. Safe for concurrent use.
type Store struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[int64]Record

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// OnSweep is called with the number of records purged by each sweep that purged any.
	OnSweep func(purged int)
}

// New creates an empty Store.
func New(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		records: make(map[int64]Record),
	}
}

// Save stores the bid sent under seq.
func (s *Store) Save(seq int64, bid model.AggregatedBid, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[seq]; exists {
		return ErrDuplicateSequence
	}
	s.records[seq] = Record{Seq: seq, Bid: bid, SentAt: sentAt}
	return nil
}

// Retrieve returns the record for seq and removes it, so a sequence number is
// matched at most once.
func (s *Store) Retrieve(seq int64) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[seq]
	if ok {
		delete(s.records, seq)
	}
	return rec, ok
}

// Len returns the number of pending records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sweep removes records sent more than MaxAge before now and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	cutoff := now.Add(-s.cfg.MaxAge)

	s.mu.Lock()
	purged := 0
	for seq, rec := range s.records {
		if rec.SentAt.Before(cutoff) {
			delete(s.records, seq)
			purged++
		}
	}
	remaining := len(s.records)
	s.mu.Unlock()

	if purged > 0 {
		s.logger.Debug("purged expired bids",
			"purged", purged,
			"remaining", remaining,
			"max_age", s.cfg.MaxAge,
		)
		if s.OnSweep != nil {
			s.OnSweep(purged)
		}
	}
	return purged
}

// Start begins the periodic sweep.
func (s *Store) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info("bid store started",
		"max_age", s.cfg.MaxAge,
		"sweep_interval", s.cfg.SweepInterval,
	)
	return nil
}

// Stop halts the sweep. Stored records are kept.
func (s *Store) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sweepLoop runs Sweep every SweepInterval.
func (s *Store) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}
