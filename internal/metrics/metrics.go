package metrics

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/matchbridge/internal/bidstore"
	"github.com/rickgao/matchbridge/internal/bridge"
	"github.com/rickgao/matchbridge/internal/model"
)

const namespace = "matchbridge"

// BridgeSource exposes bridge counters for scrape-time gauges.
type BridgeSource interface {
	Stats() bridge.Stats
}

// Metrics records bridge events. It implements bridge.Observer.
type Metrics struct {
	reg *prometheus.Registry

	bidsSent        prometheus.Counter
	transmitErrors  prometheus.Counter
	pricesMatched   prometheus.Counter
	pricesUnmatched prometheus.Counter
	decodeErrors    prometheus.Counter
	clusterInfos    prometheus.Counter
	sessionsClosed  prometheus.Counter
	bidsExpired     prometheus.Counter
	priceLatency    prometheus.Histogram
}

var _ bridge.Observer = (*Metrics)(nil)

// New creates Metrics on a fresh registry that also carries Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		bidsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_sent_total",
			Help:      "Bid updates written to the remote matcher",
		}),
		transmitErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmit_errors_total",
			Help:      "Bid updates that failed to write",
		}),
		pricesMatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prices_matched_total",
			Help:      "Price updates matched to a pending bid and published",
		}),
		pricesUnmatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prices_unmatched_total",
			Help:      "Price updates for unknown, late, or duplicate sequence numbers",
		}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped as undecodable",
		}),
		clusterInfos: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_info_total",
			Help:      "Cluster announcements applied",
		}),
		sessionsClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Sessions lost while active",
		}),
		bidsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_expired_total",
			Help:      "Pending bids reclaimed without a price",
		}),
		priceLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "price_latency_seconds",
			Help:      "Time from sending a bid to receiving its price",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RegisterBridge adds gauges read from src at scrape time.
func (m *Metrics) RegisterBridge(src BridgeSource) {
	f := promauto.With(m.reg)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_bids",
		Help:      "Bids awaiting a price",
	}, func() float64 {
		return float64(src.Stats().PendingBids)
	})

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered",
		Help:      "1 while the bridge is registered as a matching endpoint",
	}, func() float64 {
		return boolFloat(src.Stats().State == bridge.StateRegistered)
	})

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "usable",
		Help:      "1 while the bridge is configured and connected",
	}, func() float64 {
		return boolFloat(src.Stats().Usable)
	})

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_state",
		Help:      "Supervisor state: 0 disconnected, 1 connecting, 2 connected",
	}, func() float64 {
		return float64(src.Stats().Link.State)
	})

	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_attempts_total",
		Help:      "Connect attempts made by the supervisor",
	}, func() float64 {
		return float64(src.Stats().Link.ConnectAttempts)
	})

	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_failures_total",
		Help:      "Connect attempts that failed",
	}, func() float64 {
		return float64(src.Stats().Link.ConnectFailures)
	})
}

// RegisterGauge adds a named gauge read from fn at scrape time.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

func (m *Metrics) BidSent(model.BidUpdate, uuid.UUID, time.Time) { m.bidsSent.Inc() }
func (m *Metrics) TransmitFailed(int64, error)                   { m.transmitErrors.Inc() }
func (m *Metrics) PriceUnmatched(int64)                          { m.pricesUnmatched.Inc() }
func (m *Metrics) DecodeFailed(error)                            { m.decodeErrors.Inc() }
func (m *Metrics) ClusterInfoApplied(model.ClusterInfo)          { m.clusterInfos.Inc() }
func (m *Metrics) SessionClosed(uuid.UUID, error)                { m.sessionsClosed.Inc() }
func (m *Metrics) BidsExpired(n int)                             { m.bidsExpired.Add(float64(n)) }

func (m *Metrics) PriceMatched(_ model.PriceUpdate, rec bidstore.Record, receivedAt time.Time) {
	m.pricesMatched.Inc()
	m.priceLatency.Observe(receivedAt.Sub(rec.SentAt).Seconds())
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
