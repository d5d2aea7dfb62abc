package endpoint

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// ChangeBufferSize is the capacity of the registry change channel.
const ChangeBufferSize = 100

// Endpoint is a matching endpoint that local dispatchers can route bids to.
type Endpoint interface {
	ID() string
	IsUsable() bool
}

// ChangeType describes a registry change.
type ChangeType string

const (
	ChangeRegistered   ChangeType = "registered"
	ChangeUnregistered ChangeType = "unregistered"
)

// Change is emitted when an endpoint is registered or unregistered.
type Change struct {
	EndpointID string
	Type       ChangeType
	At         time.Time
}

// Registry tracks discoverable matching endpoints.
type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	endpoints map[string]Endpoint
	changes   chan Change
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:    logger,
		endpoints: make(map[string]Endpoint),
		changes:   make(chan Change, ChangeBufferSize),
	}
}

// Register makes e discoverable. Registering an endpoint twice is a no-op.
func (r *Registry) Register(e Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[e.ID()]; ok {
		return
	}
	r.endpoints[e.ID()] = e
	r.notifyChange(Change{EndpointID: e.ID(), Type: ChangeRegistered, At: time.Now()})

	r.logger.Info("matching endpoint registered", "endpoint", e.ID())
}

// Unregister removes e. Unknown endpoints are ignored.
func (r *Registry) Unregister(e Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[e.ID()]; !ok {
		return
	}
	delete(r.endpoints, e.ID())
	r.notifyChange(Change{EndpointID: e.ID(), Type: ChangeUnregistered, At: time.Now()})

	r.logger.Info("matching endpoint unregistered", "endpoint", e.ID())
}

// Lookup returns a registered endpoint by ID.
func (r *Registry) Lookup(id string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[id]
	return e, ok
}

// Usable returns registered endpoints that currently report IsUsable, ordered by ID.
func (r *Registry) Usable() []Endpoint {
	r.mu.RLock()
	all := make([]Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		all = append(all, e)
	}
	r.mu.RUnlock()

	// IsUsable is called without the registry lock held
	usable := all[:0]
	for _, e := range all {
		if e.IsUsable() {
			usable = append(usable, e)
		}
	}
	slices.SortFunc(usable, func(a, b Endpoint) int {
		return strings.Compare(a.ID(), b.ID())
	})
	return usable
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// Changes returns the registry change stream.
func (r *Registry) Changes() <-chan Change {
	return r.changes
}

// notifyChange sends without blocking. Must hold r.mu.
func (r *Registry) notifyChange(c Change) {
	select {
	case r.changes <- c:
	default:
		r.logger.Warn("registry change buffer full, dropping change",
			"endpoint", c.EndpointID,
			"type", c.Type,
		)
	}
}
