package model

import (
	"errors"
	"fmt"
	"maps"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrInvalidMarketBasis = errors.New("invalid market basis")
	ErrInvalidBid         = errors.New("invalid bid")
	ErrPriceOutOfRange    = errors.New("price outside market basis bounds")
)

// -----------------------------------------------------------------------------
// Market Basis
// -----------------------------------------------------------------------------

// MarketBasis is the coordinate system for all bids and prices in a cluster.
type MarketBasis struct {
	Commodity    string          // e.g. "electricity"
	Currency     string          // ISO code, e.g. "EUR"
	MinimumPrice decimal.Decimal // Price at step 0
	MaximumPrice decimal.Decimal // Price at step PriceSteps-1
	PriceSteps   int             // Number of discrete price steps (>= 2)
	Significance int             // Decimal places prices are rounded to
}

// Validate checks that the market basis can describe a price axis.
func (mb MarketBasis) Validate() error {
	if mb.Commodity == "" {
		return fmt.Errorf("%w: commodity is required", ErrInvalidMarketBasis)
	}
	if mb.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidMarketBasis)
	}
	if mb.PriceSteps < 2 {
		return fmt.Errorf("%w: price_steps must be >= 2, got %d", ErrInvalidMarketBasis, mb.PriceSteps)
	}
	if mb.Significance < 0 {
		return fmt.Errorf("%w: significance must be >= 0, got %d", ErrInvalidMarketBasis, mb.Significance)
	}
	if !mb.MinimumPrice.LessThan(mb.MaximumPrice) {
		return fmt.Errorf("%w: minimum price (%s) must be below maximum price (%s)",
			ErrInvalidMarketBasis, mb.MinimumPrice, mb.MaximumPrice)
	}
	return nil
}

// Equal reports whether two market bases describe the same price axis.
func (mb MarketBasis) Equal(other MarketBasis) bool {
	return mb.Commodity == other.Commodity &&
		mb.Currency == other.Currency &&
		mb.MinimumPrice.Equal(other.MinimumPrice) &&
		mb.MaximumPrice.Equal(other.MaximumPrice) &&
		mb.PriceSteps == other.PriceSteps &&
		mb.Significance == other.Significance
}

// PriceIncrement returns the price distance between two adjacent steps.
func (mb MarketBasis) PriceIncrement() decimal.Decimal {
	return mb.MaximumPrice.Sub(mb.MinimumPrice).Div(decimal.NewFromInt(int64(mb.PriceSteps - 1)))
}

// PriceOfStep returns the price at a step, rounded to the significance.
// Steps outside the axis are clamped.
func (mb MarketBasis) PriceOfStep(step int) decimal.Decimal {
	switch {
	case step <= 0:
		return mb.MinimumPrice
	case step >= mb.PriceSteps-1:
		return mb.MaximumPrice
	}
	p := mb.MinimumPrice.Add(mb.PriceIncrement().Mul(decimal.NewFromInt(int64(step))))
	return p.Round(int32(mb.Significance))
}

// StepOfPrice returns the nearest step for a price, clamped to the axis.
func (mb MarketBasis) StepOfPrice(price decimal.Decimal) int {
	step := int(price.Sub(mb.MinimumPrice).Div(mb.PriceIncrement()).Round(0).IntPart())
	if step < 0 {
		return 0
	}
	if step > mb.PriceSteps-1 {
		return mb.PriceSteps - 1
	}
	return step
}

// -----------------------------------------------------------------------------
// Bids
// -----------------------------------------------------------------------------

// Bid is a demand curve over the price steps of a market basis.
type Bid struct {
	MarketBasis MarketBasis
	Demand      []float64 // One value per price step, non-increasing
}

// NewBid validates the demand curve and returns a bid holding its own copy.
func NewBid(basis MarketBasis, demand []float64) (Bid, error) {
	if err := basis.Validate(); err != nil {
		return Bid{}, err
	}
	if len(demand) != basis.PriceSteps {
		return Bid{}, fmt.Errorf("%w: demand has %d points, market basis has %d steps",
			ErrInvalidBid, len(demand), basis.PriceSteps)
	}
	for i := 1; i < len(demand); i++ {
		if demand[i] > demand[i-1] {
			return Bid{}, fmt.Errorf("%w: demand rises at step %d (%g > %g)",
				ErrInvalidBid, i, demand[i], demand[i-1])
		}
	}
	return Bid{
		MarketBasis: basis,
		Demand:      append([]float64(nil), demand...),
	}, nil
}

// DemandAt returns the demand at the step nearest to price.
func (b Bid) DemandAt(price decimal.Decimal) float64 {
	if len(b.Demand) == 0 {
		return 0
	}
	return b.Demand[b.MarketBasis.StepOfPrice(price)]
}

// MaximumDemand returns the demand at the lowest price.
func (b Bid) MaximumDemand() float64 {
	if len(b.Demand) == 0 {
		return 0
	}
	return b.Demand[0]
}

// MinimumDemand returns the demand at the highest price.
func (b Bid) MinimumDemand() float64 {
	if len(b.Demand) == 0 {
		return 0
	}
	return b.Demand[len(b.Demand)-1]
}

// AggregatedBid is the local node's outward bid at a point in time.
// AgentBids references the child bids it was built from and never leaves the process.
type AggregatedBid struct {
	Bid
	AgentBids map[string]int64 // agent ID -> child bid number
}

// NewAggregatedBid wraps a bid with copies of its child bid references.
func NewAggregatedBid(bid Bid, agentBids map[string]int64) AggregatedBid {
	return AggregatedBid{
		Bid:       bid,
		AgentBids: maps.Clone(agentBids),
	}
}

// -----------------------------------------------------------------------------
// Prices
// -----------------------------------------------------------------------------

// Price is a price value placed on a market basis.
type Price struct {
	MarketBasis MarketBasis
	Value       decimal.Decimal
}

// NewPrice checks that value lies within the market basis bounds.
func NewPrice(basis MarketBasis, value decimal.Decimal) (Price, error) {
	if value.LessThan(basis.MinimumPrice) || value.GreaterThan(basis.MaximumPrice) {
		return Price{}, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrPriceOutOfRange, value, basis.MinimumPrice, basis.MaximumPrice)
	}
	return Price{MarketBasis: basis, Value: value}, nil
}

// Step returns the price step nearest to this price.
func (p Price) Step() int {
	return p.MarketBasis.StepOfPrice(p.Value)
}

// -----------------------------------------------------------------------------
// Messages
// -----------------------------------------------------------------------------

// BidUpdate is an aggregated bid tagged with the sequence number it was sent under.
type BidUpdate struct {
	Bid AggregatedBid
	Seq int64
}

// PriceUpdate prices the bid sent under Seq.
type PriceUpdate struct {
	Price Price
	Seq   int64
}

// ClusterInfo announces a cluster's identity and market basis.
type ClusterInfo struct {
	ClusterID   string
	MarketBasis MarketBasis
}
