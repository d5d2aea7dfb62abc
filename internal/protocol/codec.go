package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rickgao/matchbridge/internal/model"
)

// EncodeBidUpdate encodes an outbound bid. Child bid references are not sent.
func EncodeBidUpdate(u model.BidUpdate) ([]byte, error) {
	seq := u.Seq
	basis := encodeMarketBasis(u.Bid.MarketBasis)
	return encode(PayloadBidUpdate, bidUpdateWire{
		SequenceNumber: &seq,
		Bid: &bidWire{
			MarketBasis: &basis,
			Demand:      u.Bid.Demand,
		},
	})
}

// EncodePriceUpdate encodes a price for the bid sent under seq.
func EncodePriceUpdate(seq int64, price decimal.Decimal) ([]byte, error) {
	n := json.Number(price.String())
	return encode(PayloadPriceUpdate, priceUpdateWire{
		SequenceNumber: &seq,
		Price:          &n,
	})
}

// EncodeClusterInfo encodes a cluster announcement.
func EncodeClusterInfo(info model.ClusterInfo) ([]byte, error) {
	basis := encodeMarketBasis(info.MarketBasis)
	return encode(PayloadClusterInfo, clusterInfoWire{
		ClusterID:   info.ClusterID,
		MarketBasis: &basis,
	})
}

func encode(t PayloadType, payload any) ([]byte, error) {
	data, err := json.Marshal(outboundEnvelope{PayloadType: t, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return data, nil
}

func encodeMarketBasis(mb model.MarketBasis) marketBasisWire {
	return marketBasisWire{
		Commodity:    mb.Commodity,
		Currency:     mb.Currency,
		MinPrice:     json.Number(mb.MinimumPrice.String()),
		MaxPrice:     json.Number(mb.MaximumPrice.String()),
		PriceSteps:   mb.PriceSteps,
		Significance: mb.Significance,
	}
}

// Decode parses one frame. Any failure is returned as a *DecodeError.
func Decode(data []byte) (Envelope, error) {
	var env envelopeWire
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if env.PayloadType == "" {
		return Envelope{}, &DecodeError{Err: fmt.Errorf("%w: missing payloadType", ErrMalformed)}
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return Envelope{}, &DecodeError{
			PayloadType: env.PayloadType,
			Err:         fmt.Errorf("%w: missing payload", ErrMalformed),
		}
	}

	out := Envelope{Type: env.PayloadType}
	var err error

	switch env.PayloadType {
	case PayloadPriceUpdate:
		out.PriceUpdate, err = decodePriceUpdate(env.Payload)
	case PayloadClusterInfo:
		out.ClusterInfo, err = decodeClusterInfo(env.Payload)
	case PayloadBidUpdate:
		out.BidUpdate, err = decodeBidUpdate(env.Payload)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownPayload, env.PayloadType)
	}

	if err != nil {
		return Envelope{}, &DecodeError{PayloadType: env.PayloadType, Err: err}
	}
	return out, nil
}

// MapPrice places a decoded price value on the market basis of the bid it prices.
func MapPrice(basis model.MarketBasis, u PriceUpdate) (model.PriceUpdate, error) {
	price, err := model.NewPrice(basis, u.Price)
	if err != nil {
		return model.PriceUpdate{}, err
	}
	return model.PriceUpdate{Price: price, Seq: u.Seq}, nil
}

func decodePriceUpdate(raw json.RawMessage) (*PriceUpdate, error) {
	var w priceUpdateWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	seq, err := sequenceNumber(w.SequenceNumber)
	if err != nil {
		return nil, err
	}
	if w.Price == nil {
		return nil, fmt.Errorf("%w: missing price", ErrMalformed)
	}
	price, err := parseDecimal("price", *w.Price)
	if err != nil {
		return nil, err
	}
	return &PriceUpdate{Seq: seq, Price: price}, nil
}

func decodeClusterInfo(raw json.RawMessage) (*model.ClusterInfo, error) {
	var w clusterInfoWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.ClusterID == "" {
		return nil, fmt.Errorf("%w: missing clusterId", ErrMalformed)
	}
	basis, err := decodeMarketBasis(w.MarketBasis)
	if err != nil {
		return nil, err
	}
	return &model.ClusterInfo{ClusterID: w.ClusterID, MarketBasis: basis}, nil
}

func decodeBidUpdate(raw json.RawMessage) (*model.BidUpdate, error) {
	var w bidUpdateWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	seq, err := sequenceNumber(w.SequenceNumber)
	if err != nil {
		return nil, err
	}
	if w.Bid == nil {
		return nil, fmt.Errorf("%w: missing bid", ErrMalformed)
	}
	basis, err := decodeMarketBasis(w.Bid.MarketBasis)
	if err != nil {
		return nil, err
	}
	bid, err := model.NewBid(basis, w.Bid.Demand)
	if err != nil {
		return nil, err
	}
	return &model.BidUpdate{Bid: model.NewAggregatedBid(bid, nil), Seq: seq}, nil
}

func decodeMarketBasis(w *marketBasisWire) (model.MarketBasis, error) {
	if w == nil {
		return model.MarketBasis{}, fmt.Errorf("%w: missing marketBasis", ErrMalformed)
	}
	minPrice, err := parseDecimal("marketBasis.minPrice", w.MinPrice)
	if err != nil {
		return model.MarketBasis{}, err
	}
	maxPrice, err := parseDecimal("marketBasis.maxPrice", w.MaxPrice)
	if err != nil {
		return model.MarketBasis{}, err
	}

	mb := model.MarketBasis{
		Commodity:    w.Commodity,
		Currency:     w.Currency,
		MinimumPrice: minPrice,
		MaximumPrice: maxPrice,
		PriceSteps:   w.PriceSteps,
		Significance: w.Significance,
	}
	if err := mb.Validate(); err != nil {
		return model.MarketBasis{}, err
	}
	return mb, nil
}

func sequenceNumber(seq *int64) (int64, error) {
	if seq == nil {
		return 0, fmt.Errorf("%w: missing sequenceNumber", ErrMalformed)
	}
	if *seq < 1 {
		return 0, fmt.Errorf("%w: sequenceNumber must be >= 1, got %d", ErrMalformed, *seq)
	}
	return *seq, nil
}

func parseDecimal(field string, n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: missing %s", ErrMalformed, field)
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s: %v", ErrMalformed, field, err)
	}
	return d, nil
}
