// Package kraken decodes the Kraken v1 public ticker channel into reference
// price observations.
package kraken

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/feed"
)

// DefaultEndpoint is the public websocket.
const DefaultEndpoint = "wss://ws.kraken.com"

type subscription struct {
	Name string `json:"name"`
}

type subscribeCommand struct {
	Event        string       `json:"event"`
	Pair         []string     `json:"pair"`
	Subscription subscription `json:"subscription"`
}

// tickerFields is the payload object of a ticker array. Each side is
// [price, wholeLotVolume, lotVolume]; c is [price, lotVolume].
type tickerFields struct {
	Ask  []string `json:"a"`
	Bid  []string `json:"b"`
	Last []string `json:"c"`
}

// NewSpec builds the feed spec for one pair, e.g. "XBT/USD".
func NewSpec(name, endpoint, pair string) feed.Spec {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	sub, _ := json.Marshal(subscribeCommand{
		Event:        "subscribe",
		Pair:         []string{pair},
		Subscription: subscription{Name: "ticker"},
	})
	return feed.Spec{Name: name, Endpoint: endpoint, Subscribe: [][]byte{sub}}
}

// Decoder turns ticker arrays into observations priced at the mean of best
// ask, best bid and last trade. Kraken v1 carries no sequence, so the
// connection's frame counter is used.
type Decoder struct {
	pair string
}

// NewDecoder returns a Decoder for pair.
func NewDecoder(pair string) *Decoder {
	return &Decoder{pair: pair}
}

// Decode implements feed.Decoder.
func (d *Decoder) Decode(raw feed.RawMessage) (domain.PriceObservation, bool, error) {
	data := bytes.TrimSpace(raw.Data)
	if len(data) == 0 {
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "kraken", Reason: "empty frame"}
	}

	// Objects are events: heartbeat, systemStatus, subscriptionStatus.
	if data[0] == '{' {
		var ev struct {
			Event        string `json:"event"`
			Status       string `json:"status"`
			ErrorMessage string `json:"errorMessage"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return domain.PriceObservation{}, false, &domain.DecodeError{Source: "kraken", Reason: "invalid json", Err: err}
		}
		if ev.Status == "error" {
			return domain.PriceObservation{}, false, &domain.DecodeError{Source: "kraken", Reason: "venue error: " + ev.ErrorMessage}
		}
		return domain.PriceObservation{}, false, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "kraken", Reason: "invalid json", Err: err}
	}
	if len(parts) < 4 {
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "kraken", Reason: fmt.Sprintf("array of %d elements", len(parts))}
	}

	var channel, pair string
	if err := json.Unmarshal(parts[len(parts)-2], &channel); err != nil {
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "kraken", Reason: "channel name", Err: err}
	}
	if channel != "ticker" {
		return domain.PriceObservation{}, false, nil
	}
	if err := json.Unmarshal(parts[len(parts)-1], &pair); err != nil {
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "kraken", Reason: "pair", Err: err}
	}
	if pair != d.pair {
		return domain.PriceObservation{}, false, nil
	}

	var t tickerFields
	if err := json.Unmarshal(parts[1], &t); err != nil {
		return domain.PriceObservation{}, false, &domain.DecodeError{Source: "kraken", Reason: "ticker payload", Err: err}
	}

	var sum float64
	for _, side := range []struct {
		name string
		vals []string
	}{{"a", t.Ask}, {"b", t.Bid}, {"c", t.Last}} {
		if len(side.vals) == 0 {
			return domain.PriceObservation{}, false, &domain.DecodeError{Source: "kraken", Reason: "missing " + side.name}
		}
		p, err := strconv.ParseFloat(side.vals[0], 64)
		if err != nil {
			return domain.PriceObservation{}, false, &domain.DecodeError{Source: "kraken", Reason: "price " + side.name, Err: err}
		}
		sum += p
	}

	obs := domain.PriceObservation{
		Source:     domain.SourceReference,
		Value:      sum / 3,
		ObservedAt: raw.ReceivedAt,
		Sequence:   raw.Seq,
	}
	if err := obs.Validate(); err != nil {
		return domain.PriceObservation{}, false, err
	}
	return obs, true, nil
}
