package endpoint

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/matchbridge/internal/model"
)

// SubmitFunc publishes an aggregated bid upstream.
type SubmitFunc func(model.AggregatedBid) (model.BidUpdate, bool)

// ThrottleStats counts throttle outcomes.
type ThrottleStats struct {
	Submitted  int64 // bids handed to submit
	Accepted   int64 // bids submit reported as sent
	Superseded int64 // bids replaced by a newer one before submission
}

// Throttle submits at most one bid per interval. Bids offered inside the
// interval replace each other; the latest is submitted when the interval ends.
type Throttle struct {
	interval func() time.Duration
	submit   SubmitFunc
	logger   *slog.Logger

	mu       sync.Mutex
	pending  *model.AggregatedBid
	lastSent time.Time
	timer    *time.Timer
	stopped  bool
	stats    ThrottleStats
}

// NewThrottle creates a Throttle. interval is read on every offer so it
// follows configuration changes.
func NewThrottle(interval func() time.Duration, submit SubmitFunc, logger *slog.Logger) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}

	return &Throttle{
		interval: interval,
		submit:   submit,
		logger:   logger,
	}
}

// Offer submits bid now if the interval has elapsed, otherwise schedules it.
func (t *Throttle) Offer(bid model.AggregatedBid) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	wait := t.interval() - time.Since(t.lastSent)
	if wait <= 0 && t.timer == nil {
		t.lastSent = time.Now()
		t.stats.Submitted++
		t.mu.Unlock()
		t.send(bid)
		return
	}

	if t.pending != nil {
		t.stats.Superseded++
	}
	t.pending = &bid
	if t.timer == nil {
		if wait < 0 {
			wait = 0
		}
		t.timer = time.AfterFunc(wait, t.flush)
	}
	t.mu.Unlock()
}

// Stop discards any pending bid.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Stats returns throttle counters.
func (t *Throttle) Stats() ThrottleStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Throttle) flush() {
	t.mu.Lock()
	t.timer = nil
	bid := t.pending
	t.pending = nil
	if t.stopped || bid == nil {
		t.mu.Unlock()
		return
	}
	t.lastSent = time.Now()
	t.stats.Submitted++
	t.mu.Unlock()

	t.send(*bid)
}

func (t *Throttle) send(bid model.AggregatedBid) {
	if _, ok := t.submit(bid); !ok {
		t.logger.Debug("bid not sent upstream")
		return
	}

	t.mu.Lock()
	t.stats.Accepted++
	t.mu.Unlock()
}
