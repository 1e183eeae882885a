// Package polymarket decodes the Polymarket CLOB market channel into
// prediction-market quote observations.
package polymarket

// DefaultEndpoint is the CLOB market channel websocket.
const DefaultEndpoint = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// WSCommand is the JSON payload sent to the market channel to subscribe.
type WSCommand struct {
	Type   string   `json:"type"`
	Assets []string `json:"assets_ids"`
}

// envelope identifies a market channel event.
type envelope struct {
	EventType string `json:"event_type"`
}

// BookMessage is a full order book snapshot for one asset.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage carries one or more level updates, each with the
// resulting top of book.
type PriceChangeMessage struct {
	EventType    string        `json:"event_type"`
	Market       string        `json:"market"`
	PriceChanges []PriceChange `json:"price_changes"`
	Timestamp    string        `json:"timestamp"`
}

// PriceChange is a single level update inside a PriceChangeMessage.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"` // "0" means level removed
	Side    string `json:"side"` // "BUY" or "SELL"
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}
