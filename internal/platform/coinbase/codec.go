// Package coinbase decodes the Coinbase Exchange ticker channel into
// reference price observations.
package coinbase

import (
	"encoding/json"
	"strconv"

	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/feed"
)

// DefaultEndpoint is the public market data websocket.
const DefaultEndpoint = "wss://ws-feed.exchange.coinbase.com"

// subscribeCommand is the JSON payload sent after every handshake.
type subscribeCommand struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// tickerMessage is the subset of the ticker channel used here.
type tickerMessage struct {
	Type      string `json:"type"`
	Sequence  uint64 `json:"sequence"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
}

// NewSpec builds the feed spec for one product, e.g. "BTC-USD".
func NewSpec(name, endpoint, productID string) feed.Spec {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	sub, _ := json.Marshal(subscribeCommand{
		Type:       "subscribe",
		ProductIDs: []string{productID},
		Channels:   []string{"ticker", "heartbeat"},
	})
	return feed.Spec{Name: name, Endpoint: endpoint, Subscribe: [][]byte{sub}}
}

// Decoder turns ticker frames into reference observations. The venue
// sequence number is used as the observation sequence.
type Decoder struct {
	productID string
}

// NewDecoder returns a Decoder that only accepts ticks for productID.
func NewDecoder(productID string) *Decoder {
	return &Decoder{productID: productID}
}

// Decode implements feed.Decoder.
func (d *Decoder) Decode(raw feed.RawMessage) (domain.PriceObservation, bool, error) {
	var msg tickerMessage
	if err := json.Unmarshal(raw.Data, &msg); err != nil {
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "coinbase", Reason: "invalid json", Err: err}
	}

	switch msg.Type {
	case "subscriptions", "heartbeat":
		return domain.PriceObservation{}, false, nil
	case "error":
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "coinbase", Reason: "venue error: " + msg.Message + " " + msg.Reason}
	case "ticker":
	default:
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "coinbase", Reason: "unexpected message type " + strconv.Quote(msg.Type)}
	}

	if msg.ProductID != d.productID {
		return domain.PriceObservation{}, false, nil
	}

	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil {
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "coinbase", Reason: "price", Err: err}
	}

	obs := domain.PriceObservation{
		Source:     domain.SourceReference,
		Value:      price,
		ObservedAt: raw.ReceivedAt,
		Sequence:   msg.Sequence,
	}
	if err := obs.Validate(); err != nil {
		return domain.PriceObservation{}, false, err
	}
	return obs, true, nil
}
