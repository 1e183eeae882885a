// Package binance decodes Binance raw trade streams into reference price
// observations.
package binance

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/feed"
)

// DefaultEndpoint is the Binance.US raw stream base.
const DefaultEndpoint = "wss://stream.binance.us:9443/ws"

type subscribeCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// tradeMessage is a <symbol>@trade event. EventTime must be declared or
// encoding/json folds "E" onto "e".
type tradeMessage struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   uint64 `json:"t"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	Time      int64  `json:"T"`
}

// NewSpec builds the feed spec for a symbol such as "BTCUSDT".
func NewSpec(name, endpoint, symbol string) feed.Spec {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	sub, _ := json.Marshal(subscribeCommand{
		Method: "SUBSCRIBE",
		Params: []string{strings.ToLower(symbol) + "@trade"},
		ID:     1,
	})
	return feed.Spec{Name: name, Endpoint: endpoint, Subscribe: [][]byte{sub}}
}

// Decoder turns trade events into observations sequenced by trade id.
type Decoder struct {
	symbol string
}

// NewDecoder returns a Decoder for symbol.
func NewDecoder(symbol string) *Decoder {
	return &Decoder{symbol: strings.ToUpper(symbol)}
}

// Decode implements feed.Decoder.
func (d *Decoder) Decode(raw feed.RawMessage) (domain.PriceObservation, bool, error) {
	var envelope struct {
		tradeMessage
		Result json.RawMessage `json:"result"`
		ID     *int            `json:"id"`
		Code   int             `json:"code"`
		Msg    string          `json:"msg"`
	}
	if err := json.Unmarshal(raw.Data, &envelope); err != nil {
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "binance", Reason: "invalid json", Err: err}
	}

	if envelope.Code != 0 {
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "binance", Reason: "venue error: " + envelope.Msg}
	}
	// {"result":null,"id":1} acknowledges SUBSCRIBE.
	if envelope.ID != nil && envelope.Event == "" {
		return domain.PriceObservation{}, false, nil
	}
	if envelope.Event != "trade" {
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "binance", Reason: "unexpected event " + strconv.Quote(envelope.Event)}
	}
	if envelope.Symbol != d.symbol {
		return domain.PriceObservation{}, false, nil
	}

	price, err := strconv.ParseFloat(envelope.Price, 64)
	if err != nil {
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "binance", Reason: "price", Err: err}
	}

	obs := domain.PriceObservation{
		Source:     domain.SourceReference,
		Value:      price,
		ObservedAt: raw.ReceivedAt,
		Sequence:   envelope.TradeID,
	}
	if err := obs.Validate(); err != nil {
		return domain.PriceObservation{}, false, err
	}
	return obs, true, nil
}
