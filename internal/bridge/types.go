package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/matchbridge/internal/bidstore"
	"github.com/rickgao/matchbridge/internal/connection"
	"github.com/rickgao/matchbridge/internal/endpoint"
	"github.com/rickgao/matchbridge/internal/model"
)

// Errors
var (
	ErrInvalidURL     = errors.New("invalid remote url")
	ErrMissingAgentID = errors.New("agent id is required")
)

// LocalMatcher is the local matching logic fed by the bridge.
type LocalMatcher interface {
	// Configure applies a cluster announcement.
	Configure(basis model.MarketBasis, clusterID string, minTimeBetweenBidUpdates time.Duration)

	// Deconfigure drops the announcement after the session it came from is lost.
	Deconfigure()

	// IsConfigured reports whether an announcement is in effect.
	IsConfigured() bool

	// PublishPrice delivers a price together with the bid it prices.
	PublishPrice(price model.Price, bid model.AggregatedBid)
}

// Registry makes the bridge discoverable to local dispatchers.
type Registry interface {
	Register(e endpoint.Endpoint)
	Unregister(e endpoint.Endpoint)
}

// Link supervises the session to the remote matcher.
type Link interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() connection.State
	Stats() connection.SupervisorStats
}

// Observer receives bridge events. Methods must not block.
type Observer interface {
	BidSent(update model.BidUpdate, sessionID uuid.UUID, sentAt time.Time)
	TransmitFailed(seq int64, err error)
	PriceMatched(update model.PriceUpdate, rec bidstore.Record, receivedAt time.Time)
	PriceUnmatched(seq int64)
	DecodeFailed(err error)
	ClusterInfoApplied(info model.ClusterInfo)
	SessionClosed(sessionID uuid.UUID, err error)
	BidsExpired(n int)
}

// NopObserver ignores every event. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) BidSent(model.BidUpdate, uuid.UUID, time.Time)              {}
func (NopObserver) TransmitFailed(int64, error)                                {}
func (NopObserver) PriceMatched(model.PriceUpdate, bidstore.Record, time.Time) {}
func (NopObserver) PriceUnmatched(int64)                                       {}
func (NopObserver) DecodeFailed(error)                                         {}
func (NopObserver) ClusterInfoApplied(model.ClusterInfo)                       {}
func (NopObserver) SessionClosed(uuid.UUID, error)                             {}
func (NopObserver) BidsExpired(int)                                            {}

// State is the bridge's registration state.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// Config configures a Bridge.
type Config struct {
	AgentID                  string        // Identifies this bridge to the remote matcher
	URL                      string        // Remote agent endpoint; agentId is appended as a query parameter
	MinTimeBetweenBidUpdates time.Duration // Passed to the local matching logic with each cluster announcement
	Supervisor               connection.SupervisorConfig
	Store                    bidstore.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AgentID:                  "matcherendpointproxy",
		URL:                      "ws://localhost:8080/powermatcher/websockets/agentendpoint",
		MinTimeBetweenBidUpdates: time.Second,
		Supervisor:               connection.DefaultSupervisorConfig(),
		Store:                    bidstore.DefaultConfig(),
	}
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	State           State
	Usable          bool
	SessionID       uuid.UUID // uuid.Nil while no session is active
	PendingBids     int
	LastSequence    int64
	BidsSent        int64
	TransmitErrors  int64
	PricesMatched   int64
	PricesUnmatched int64
	DecodeErrors    int64
	Link            connection.SupervisorStats
}
