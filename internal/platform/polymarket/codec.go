package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/feed"
)

// NewSpec builds the feed spec for one outcome token.
func NewSpec(name, endpoint, assetID string) feed.Spec {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	sub, _ := json.Marshal(WSCommand{Type: "market", Assets: []string{assetID}})
	return feed.Spec{Name: name, Endpoint: endpoint, Subscribe: [][]byte{sub}}
}

// Decoder turns book and price_change events for one asset into
// observations valued at the top-of-book mid. Frames may hold a single event
// or an array of events; the last usable quote in the frame wins.
type Decoder struct {
	assetID string
}

// NewDecoder returns a Decoder for assetID.
func NewDecoder(assetID string) *Decoder {
	return &Decoder{assetID: assetID}
}

// Decode implements feed.Decoder.
func (d *Decoder) Decode(raw feed.RawMessage) (domain.PriceObservation, bool, error) {
	data := bytes.TrimSpace(raw.Data)
	if len(data) == 0 || bytes.EqualFold(data, []byte("PONG")) {
		return domain.PriceObservation{}, false, nil
	}

	var events []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &events); err != nil {
			return domain.PriceObservation{}, false, &domain.DecodeError{Source: "polymarket", Reason: "invalid json", Err: err}
		}
	case '{':
		events = []json.RawMessage{data}
	default:
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "polymarket", Reason: "unexpected frame"}
	}

	var (
		mid   float64
		found bool
	)
	for _, ev := range events {
		m, ok, err := d.decodeEvent(ev)
		if err != nil {
			return domain.PriceObservation{}, false, err
		}
		if ok {
			mid, found = m, true
		}
	}
	if !found {
		return domain.PriceObservation{}, false, nil
	}

	obs := domain.PriceObservation{
		Source:     domain.SourcePredictionMarket,
		Value:      mid,
		ObservedAt: raw.ReceivedAt,
		Sequence:   raw.Seq,
	}
	if err := obs.Validate(); err != nil {
		return domain.PriceObservation{}, false, err
	}
	return obs, true, nil
}

func (d *Decoder) decodeEvent(data []byte) (float64, bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, false, &domain.DecodeError{Source: "polymarket", Reason: "invalid json", Err: err}
	}

	switch env.EventType {
	case "book":
		var book BookMessage
		if err := json.Unmarshal(data, &book); err != nil {
			return 0, false, &domain.DecodeError{Source: "polymarket", Reason: "book", Err: err}
		}
		if book.AssetID != d.assetID {
			return 0, false, nil
		}
		return bookMid(&book)

	case "price_change":
		var pc PriceChangeMessage
		if err := json.Unmarshal(data, &pc); err != nil {
			return 0, false, &domain.DecodeError{Source: "polymarket", Reason: "price_change", Err: err}
		}
		var (
			mid   float64
			found bool
		)
		for _, ch := range pc.PriceChanges {
			if ch.AssetID != d.assetID || ch.BestBid == "" || ch.BestAsk == "" {
				continue
			}
			m, ok, err := midOf(ch.BestBid, ch.BestAsk)
			if err != nil {
				return 0, false, err
			}
			if ok {
				mid, found = m, true
			}
		}
		return mid, found, nil

	case "last_trade_price", "tick_size_change":
		return 0, false, nil

	default:
		return 0, false, &domain.DecodeError{Source: "polymarket", Reason: "unexpected event_type " + strconv.Quote(env.EventType)}
	}
}

// bookMid takes best bid = max bid, best ask = min ask. A one-sided book
// carries no quote.
func bookMid(b *BookMessage) (float64, bool, error) {
	var bestBid, bestAsk float64
	for _, lvl := range b.Bids {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			return 0, false, &domain.DecodeError{Source: "polymarket", Reason: "bid price", Err: err}
		}
		if p > bestBid {
			bestBid = p
		}
	}
	for _, lvl := range b.Asks {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			return 0, false, &domain.DecodeError{Source: "polymarket", Reason: "ask price", Err: err}
		}
		if bestAsk == 0 || p < bestAsk {
			bestAsk = p
		}
	}
	if bestBid <= 0 || bestAsk <= 0 {
		return 0, false, nil
	}
	return (bestBid + bestAsk) / 2, true, nil
}

func midOf(bid, ask string) (float64, bool, error) {
	b, err := strconv.ParseFloat(bid, 64)
	if err != nil {
		return 0, false, &domain.DecodeError{Source: "polymarket", Reason: "best_bid", Err: err}
	}
	a, err := strconv.ParseFloat(ask, 64)
	if err != nil {
		return 0, false, &domain.DecodeError{Source: "polymarket", Reason: "best_ask", Err: err}
	}
	if b <= 0 || a <= 0 {
		return 0, false, nil
	}
	return (b + a) / 2, true, nil
}
