package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rickgao/matchbridge/internal/model"
)

// Errors
var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownPayload = errors.New("unknown payload type")
)

// PayloadType discriminates the payload carried by an envelope.
type PayloadType string

const (
	PayloadBidUpdate   PayloadType = "BID_UPDATE"
	PayloadPriceUpdate PayloadType = "PRICE_UPDATE"
	PayloadClusterInfo PayloadType = "CLUSTER_INFO"
)

// DecodeError reports a frame that could not be decoded. It is never fatal:
// the frame is dropped and receiving continues.
type DecodeError struct {
	PayloadType PayloadType // Empty if the envelope itself was unreadable
	Err         error
}

func (e *DecodeError) Error() string {
	if e.PayloadType == "" {
		return "decode envelope: " + e.Err.Error()
	}
	return fmt.Sprintf("decode %s: %v", e.PayloadType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Envelope is a decoded frame. Exactly one payload field is set, matching Type.
type Envelope struct {
	Type        PayloadType
	BidUpdate   *model.BidUpdate
	PriceUpdate *PriceUpdate
	ClusterInfo *model.ClusterInfo
}

// PriceUpdate is an inbound price before it is placed on a market basis.
// The bridge maps it with MapPrice using the basis of the bid it prices.
type PriceUpdate struct {
	Seq   int64
	Price decimal.Decimal
}

// Wire types for JSON parsing

// envelopeWire is the outer frame.
type envelopeWire struct {
	PayloadType PayloadType     `json:"payloadType"`
	Payload     json.RawMessage `json:"payload"`
}

// outboundEnvelope is the outer frame for encoding.
type outboundEnvelope struct {
	PayloadType PayloadType `json:"payloadType"`
	Payload     any         `json:"payload"`
}

// marketBasisWire is the wire format of a market basis.
type marketBasisWire struct {
	Commodity    string      `json:"commodity"`
	Currency     string      `json:"currency"`
	MinPrice     json.Number `json:"minPrice"`
	MaxPrice     json.Number `json:"maxPrice"`
	PriceSteps   int         `json:"priceSteps"`
	Significance int         `json:"significance"`
}

// priceUpdateWire is the wire format for PRICE_UPDATE payloads.
type priceUpdateWire struct {
	SequenceNumber *int64       `json:"sequenceNumber"`
	Price          *json.Number `json:"price"`
}

// clusterInfoWire is the wire format for CLUSTER_INFO payloads.
type clusterInfoWire struct {
	ClusterID   string           `json:"clusterId"`
	MarketBasis *marketBasisWire `json:"marketBasis"`
}

// bidWire is the wire format of a demand curve.
type bidWire struct {
	MarketBasis *marketBasisWire `json:"marketBasis"`
	Demand      []float64        `json:"demand"`
}

// bidUpdateWire is the wire format for BID_UPDATE payloads.
type bidUpdateWire struct {
	SequenceNumber *int64   `json:"sequenceNumber"`
	Bid            *bidWire `json:"bid"`
}
