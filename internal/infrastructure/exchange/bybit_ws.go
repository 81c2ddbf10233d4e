package exchange

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsReconnectDelay = 5 * time.Second

// OnQuoteUpdate registers a callback for best bid/ask changes.
func (b *BybitAdapter) OnQuoteUpdate(callback func(symbol string, bid, ask float64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quoteCallbacks = append(b.quoteCallbacks, callback)
}

// OnBarClosed registers a callback for confirmed klines.
func (b *BybitAdapter) OnBarClosed(callback func(symbol string, closedAt time.Time)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.barCallbacks = append(b.barCallbacks, callback)
}

// StreamMarket keeps a websocket subscription to the kline and top-of-book topics of
// symbol, reconnecting until ctx is cancelled.
func (b *BybitAdapter) StreamMarket(ctx context.Context, symbol, interval string) error {
	for {
		err := b.streamOnce(ctx, symbol, interval)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("Websocket disconnected, reconnecting", zap.Error(err), zap.Duration("delay", wsReconnectDelay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wsReconnectDelay):
		}
	}
}

func (b *BybitAdapter) streamOnce(ctx context.Context, symbol, interval string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.wsConn = conn
	b.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer func() {
		conn.Close()
		b.mu.Lock()
		b.wsConn = nil
		b.mu.Unlock()
	}()

	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"kline." + interval + "." + symbol, "orderbook.1." + symbol},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		return err
	}
	b.logger.Info("Websocket subscribed", zap.String("symbol", symbol), zap.String("interval", interval))

	go b.keepAlive(conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		b.handleMessage(message)
	}
}

// keepAlive sends Bybit's application level ping.
func (b *BybitAdapter) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			b.mu.Lock()
			err := conn.WriteJSON(map[string]string{"op": "ping"})
			b.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

type wsEnvelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type wsKline struct {
	Start     int64 `json:"start"`
	Confirm   bool  `json:"confirm"`
	Timestamp int64 `json:"timestamp"`
}

type wsOrderBook struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

func (b *BybitAdapter) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		b.logger.Debug("WS unmarshal error", zap.Error(err))
		return
	}

	switch {
	case strings.HasPrefix(env.Topic, "kline."):
		parts := strings.Split(env.Topic, ".")
		if len(parts) != 3 {
			return
		}
		var klines []wsKline
		if err := json.Unmarshal(env.Data, &klines); err != nil {
			return
		}
		for _, k := range klines {
			if k.Confirm {
				b.fireBarClosed(parts[2], k)
			}
		}

	case strings.HasPrefix(env.Topic, "orderbook.1."):
		var ob wsOrderBook
		if err := json.Unmarshal(env.Data, &ob); err != nil {
			return
		}
		// deltas without both sides carry no new top of book
		if len(ob.Bids) == 0 || len(ob.Asks) == 0 || len(ob.Bids[0]) == 0 || len(ob.Asks[0]) == 0 {
			return
		}
		bid, ask := parseFloat(ob.Bids[0][0]), parseFloat(ob.Asks[0][0])
		if bid <= 0 || ask <= 0 {
			return
		}
		symbol := strings.TrimPrefix(env.Topic, "orderbook.1.")

		b.mu.Lock()
		callbacks := make([]func(string, float64, float64), len(b.quoteCallbacks))
		copy(callbacks, b.quoteCallbacks)
		b.mu.Unlock()

		for _, cb := range callbacks {
			cb(symbol, bid, ask)
		}
	}
}

func (b *BybitAdapter) fireBarClosed(symbol string, k wsKline) {
	b.mu.Lock()
	if b.lastConfirmed[symbol] == k.Start {
		b.mu.Unlock()
		return
	}
	b.lastConfirmed[symbol] = k.Start
	callbacks := make([]func(string, time.Time), len(b.barCallbacks))
	copy(callbacks, b.barCallbacks)
	b.mu.Unlock()

	closedAt := time.UnixMilli(k.Timestamp).UTC()
	for _, cb := range callbacks {
		cb(symbol, closedAt)
	}
}
