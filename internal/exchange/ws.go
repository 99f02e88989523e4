// ws.go implements the market WebSocket feed.
//
// The feed subscribes by asset ID (token ID) on the public market channel and
// receives "book" snapshots for the order book. It auto-reconnects with
// exponential backoff (1s to 30s max), giving up after ten consecutive
// failures, and re-subscribes to all tracked IDs on reconnection. A read
// deadline (90s) ensures silent server failures are detected within ~2
// missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polysentry/pkg/types"
)

const (
	pingInterval         = 50 * time.Second // how often we send PING to keep alive
	readTimeout          = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait     = 30 * time.Second // cap on exponential backoff
	maxReconnectAttempts = 10               // consecutive failures before giving up
	writeTimeout         = 10 * time.Second // deadline for outgoing messages
	bookBufferSize       = 256              // buffer for book events
)

// WSFeed manages the market-channel WebSocket connection. It handles the
// connection lifecycle, subscription tracking, message routing, and automatic
// reconnection with exponential backoff.
type WSFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn and closed
	closed bool       // set by Close; Run exits cleanly instead of reconnecting

	reconnectWait time.Duration // initial backoff, doubled per attempt

	// Track subscriptions for automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool // token IDs

	bookCh chan types.WSBookEvent

	logger *slog.Logger
}

// NewMarketFeed creates a WebSocket feed for the market channel (public).
func NewMarketFeed(wsURL string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:           wsURL,
		reconnectWait: time.Second,
		subscribed:    make(map[string]bool),
		bookCh:        make(chan types.WSBookEvent, bookBufferSize),
		logger:        logger.With("component", "ws_market"),
	}
}

// BookEvents returns a read-only channel of book snapshot events.
func (f *WSFeed) BookEvents() <-chan types.WSBookEvent { return f.bookCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled, Close is called, or the dial fails
// maxReconnectAttempts times in a row.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := f.reconnectWait
	attempts := 0

	for {
		connected, err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if f.isClosed() {
			return nil
		}
		if connected {
			// A live connection resets the failure streak.
			attempts = 0
			backoff = f.reconnectWait
		}

		attempts++
		if attempts >= maxReconnectAttempts {
			return fmt.Errorf("websocket: giving up after %d attempts: %w", attempts, err)
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"attempt", attempts,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds token IDs to the live subscription.
func (f *WSFeed) Subscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(types.WSUpdateMsg{
		Operation: "subscribe",
		AssetIDs:  ids,
	})
}

// Unsubscribe removes token IDs from the subscription.
func (f *WSFeed) Unsubscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(types.WSUpdateMsg{
		Operation: "unsubscribe",
		AssetIDs:  ids,
	})
}

// Close shuts the connection down for good; Run returns instead of
// reconnecting.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	f.closed = true
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) isClosed() bool {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	return f.closed
}

// connectAndRead dials and pumps messages until the connection drops. The
// bool reports whether a connection was ever established, so the caller can
// distinguish a failed dial from a dropped session.
func (f *WSFeed) connectAndRead(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	// Send initial subscription
	if err := f.sendInitialSubscription(); err != nil {
		return true, fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "subscriptions", f.subscriptionCount())

	// Start ping goroutine
	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if server goes silent
	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) subscriptionCount() int {
	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	return len(f.subscribed)
}

func (f *WSFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	return f.writeJSON(types.WSSubscribeMsg{
		Type:     "market",
		AssetIDs: ids,
	})
}

func (f *WSFeed) dispatchMessage(data []byte) {
	// Peek at event_type to route
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		select {
		case f.bookCh <- evt:
		default:
			f.logger.Warn("book channel full, dropping event", "asset", evt.AssetID)
		}

	case "price_change", "last_trade_price", "tick_size_change", "best_bid_ask", "new_market", "market_resolved":
		// Informational events the snapshot poller already covers
		f.logger.Debug("ignoring event", "type", envelope.EventType)

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
