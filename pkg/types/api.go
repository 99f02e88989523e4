package types

// ————————————————————————————————————————————————————————————————————————
// Upstream API shapes
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON returned by the Gamma API (market
// discovery), the CLOB REST API (order books), the public Data API (trades),
// and the market WebSocket channel. Prices and sizes arrive as strings to
// preserve decimal precision; normalization parses them in internal/market.

// RawPriceLevel is a single bid or ask level as returned by the CLOB API.
type RawPriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market    string          `json:"market"` // condition ID
	AssetID   string          `json:"asset_id"`
	Bids      []RawPriceLevel `json:"bids"`
	Asks      []RawPriceLevel `json:"asks"`
	Hash      string          `json:"hash"`
	Timestamp string          `json:"timestamp"` // epoch ms as string
}

// GammaMarket is the JSON shape returned by the Gamma API markets listing.
// Outcomes, OutcomePrices and ClobTokenIds are JSON-encoded arrays inside
// strings (a Gamma quirk).
type GammaMarket struct {
	ConditionID   string   `json:"conditionId"`
	Question      string   `json:"question"`
	EndDate       string   `json:"endDate"`
	EndDateISO    string   `json:"endDateIso"`
	Active        bool     `json:"active"`
	Closed        bool     `json:"closed"`
	Archived      bool     `json:"archived"`
	Volume        string   `json:"volume"`
	Liquidity     string   `json:"liquidity"`
	Outcomes      string   `json:"outcomes"`      // JSON array of 2 names
	OutcomePrices string   `json:"outcomePrices"` // JSON array of 2 "0"/"1" strings
	ClobTokenIds  string   `json:"clobTokenIds"`  // JSON array of 2 token IDs
	NegRisk       bool     `json:"negRisk"`
	Category      string   `json:"category"`
	Tags          []string `json:"tags"`
	Events        []struct {
		Slug  string `json:"slug"`
		Title string `json:"title"`
	} `json:"events"`
}

// PublicTrade is one executed trade from the public Data API (no auth).
// Timestamps are epoch seconds.
type PublicTrade struct {
	ProxyWallet     string  `json:"proxyWallet"` // taker address
	Side            string  `json:"side"`        // "BUY" or "SELL"
	Asset           string  `json:"asset"`       // token ID
	ConditionID     string  `json:"conditionId"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"` // epoch sec
	TransactionHash string  `json:"transactionHash"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events (market channel)
// ————————————————————————————————————————————————————————————————————————

// WSBookEvent is a full order book snapshot from the market WS channel.
type WSBookEvent struct {
	EventType string          `json:"event_type"` // always "book"
	AssetID   string          `json:"asset_id"`
	Market    string          `json:"market"` // condition ID
	Timestamp string          `json:"timestamp"`
	Hash      string          `json:"hash"`
	Buys      []RawPriceLevel `json:"buys"`  // bid levels
	Sells     []RawPriceLevel `json:"sells"` // ask levels
}

// WSSubscribeMsg is the initial subscription message for the market channel.
type WSSubscribeMsg struct {
	Type     string   `json:"type"` // "market"
	AssetIDs []string `json:"assets_ids,omitempty"`
}

// WSUpdateMsg dynamically subscribes or unsubscribes assets after connect.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}
