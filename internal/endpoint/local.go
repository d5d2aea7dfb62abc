package endpoint

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/matchbridge/internal/model"
)

// PriceHandler receives prices matched to the bids that produced them.
type PriceHandler interface {
	HandlePrice(price model.Price, bid model.AggregatedBid)
}

// PriceHandlerFunc adapts a function to PriceHandler.
type PriceHandlerFunc func(price model.Price, bid model.AggregatedBid)

func (f PriceHandlerFunc) HandlePrice(price model.Price, bid model.AggregatedBid) {
	f(price, bid)
}

// Configuration is the market configuration announced by the remote matcher.
type Configuration struct {
	ClusterID                string
	MarketBasis              model.MarketBasis
	MinTimeBetweenBidUpdates time.Duration
	ConfiguredAt             time.Time
}

// Local is the local matching logic's view of the remote matcher.
type Local struct {
	handler PriceHandler
	logger  *slog.Logger

	mu         sync.RWMutex
	config     Configuration
	configured bool
}

// NewLocal creates an unconfigured Local that publishes prices to handler.
func NewLocal(handler PriceHandler, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}

	return &Local{
		handler: handler,
		logger:  logger,
	}
}

// Configure applies a cluster announcement. Reapplying is always safe.
func (l *Local) Configure(basis model.MarketBasis, clusterID string, minTimeBetweenBidUpdates time.Duration) {
	l.mu.Lock()
	prev, had := l.config, l.configured
	l.config = Configuration{
		ClusterID:                clusterID,
		MarketBasis:              basis,
		MinTimeBetweenBidUpdates: minTimeBetweenBidUpdates,
		ConfiguredAt:             time.Now(),
	}
	l.configured = true
	l.mu.Unlock()

	if had && prev.ClusterID == clusterID && prev.MarketBasis.Equal(basis) {
		l.logger.Debug("cluster configuration unchanged", "cluster_id", clusterID)
		return
	}

	l.logger.Info("cluster configured",
		"cluster_id", clusterID,
		"commodity", basis.Commodity,
		"currency", basis.Currency,
		"min_price", basis.MinimumPrice,
		"max_price", basis.MaximumPrice,
		"price_steps", basis.PriceSteps,
	)
}

// Deconfigure forgets the current configuration until the next Configure.
func (l *Local) Deconfigure() {
	l.mu.Lock()
	was := l.configured
	l.configured = false
	l.mu.Unlock()

	if was {
		l.logger.Info("cluster configuration cleared")
	}
}

// IsConfigured reports whether a cluster announcement is in effect.
func (l *Local) IsConfigured() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.configured
}

// Configuration returns the current configuration and whether one is in effect.
func (l *Local) Configuration() (Configuration, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config, l.configured
}

// BidInterval returns the minimum time between bid updates, or zero when unconfigured.
func (l *Local) BidInterval() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.configured {
		return 0
	}
	return l.config.MinTimeBetweenBidUpdates
}

// PublishPrice hands a matched price to the local matching logic.
func (l *Local) PublishPrice(price model.Price, bid model.AggregatedBid) {
	if l.handler == nil {
		l.logger.Warn("no price handler, dropping price", "price", price.Value)
		return
	}
	l.handler.HandlePrice(price, bid)
}

// NewThrottle returns a Throttle paced by this endpoint's bid interval.
func (l *Local) NewThrottle(submit SubmitFunc) *Throttle {
	return NewThrottle(l.BidInterval, submit, l.logger)
}
