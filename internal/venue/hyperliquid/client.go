// Package hyperliquid streams the Hyperliquid perp market over its public
// websocket. Instruments are bare coin names ("WIF", not a pair symbol).
package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"perpflow/internal/metrics"
	"perpflow/internal/model"
	"perpflow/internal/venue"
)

const (
	pingInterval     = 50 * time.Second
	handshakeTimeout = 15 * time.Second
	writeTimeout     = 10 * time.Second
)

// Client is a Hyperliquid websocket adapter for a single coin.
type Client struct {
	url  string
	coin string

	mu   sync.Mutex // guards writes; the ping loop runs beside the reader
	conn *websocket.Conn
}

// New returns an adapter for coin on the websocket at url.
func New(url, coin string) *Client {
	return &Client{url: url, coin: coin}
}

func (c *Client) Venue() string { return venue.Hyperliquid }

// Run implements venue.Adapter.
func (c *Client) Run(ctx context.Context, out chan<- venue.Event) error {
	defer close(out)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial hyperliquid: %v", venue.ErrConnectionLost, err)
	}
	c.conn = conn
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := c.subscribe(); err != nil {
		return err
	}
	log.Info().Str("venue", venue.Hyperliquid).Str("coin", c.coin).Msg("subscribed")

	go c.pingLoop(done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", venue.ErrConnectionLost, err)
		}
		metrics.WSMessages.WithLabelValues(venue.Hyperliquid).Inc()

		events, err := c.handleFrame(raw)
		if err != nil {
			return err
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *Client) subscribe() error {
	for _, typ := range []string{"l2Book", "trades"} {
		req := map[string]any{
			"method": "subscribe",
			"subscription": map[string]string{
				"type": typ,
				"coin": c.coin,
			},
		}
		payload, _ := json.Marshal(req)
		if err := c.write(payload); err != nil {
			return fmt.Errorf("%w: subscribe: %v", venue.ErrConnectionLost, err)
		}
	}
	return nil
}

func (c *Client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write([]byte(`{"method":"ping"}`)); err != nil {
				return
			}
		}
	}
}

type frame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type bookPayload struct {
	Coin   string       `json:"coin"`
	Time   float64      `json:"time"`
	Levels [2][]l2Level `json:"levels"`
}

type l2Level struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

type tradePayload struct {
	Coin string `json:"coin"`
	Side string `json:"side"` // "B" buyer aggressed, "A" seller aggressed
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time any    `json:"time"`
}

// handleFrame decodes one frame. Subscription errors are fatal; malformed
// frames are counted and dropped.
func (c *Client) handleFrame(raw []byte) ([]venue.Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		metrics.ParseErrors.WithLabelValues(venue.Hyperliquid).Inc()
		return nil, nil
	}

	switch f.Channel {
	case "l2Book":
		if ev, ok := c.parseBook(f.Data); ok {
			return []venue.Event{ev}, nil
		}
	case "trades":
		return c.parseTrades(f.Data), nil
	case "error":
		var reason string
		if err := json.Unmarshal(f.Data, &reason); err != nil {
			reason = string(f.Data)
		}
		return nil, &venue.SubscribeRejectedError{Venue: venue.Hyperliquid, Reason: reason}
	case "subscriptionResponse", "pong":
		// Acknowledgements carry no market data.
	}
	return nil, nil
}

func (c *Client) parseBook(data json.RawMessage) (venue.Event, bool) {
	var book bookPayload
	if err := json.Unmarshal(data, &book); err != nil {
		metrics.ParseErrors.WithLabelValues(venue.Hyperliquid).Inc()
		return venue.Event{}, false
	}

	received := time.Now()
	if book.Time > 0 {
		received = venue.UnixAuto(book.Time)
	}
	snap := &model.BookSnapshot{
		Instrument: c.coin,
		Venue:      venue.Hyperliquid,
		Bids:       parseLevels(book.Levels[0]),
		Asks:       parseLevels(book.Levels[1]),
		ReceivedAt: received,
	}
	return venue.Event{Book: snap}, true
}

func parseLevels(raw []l2Level) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price := venue.Float(lvl.Px)
		qty := venue.Float(lvl.Sz)
		if qty > 0 {
			levels = append(levels, model.PriceLevel{Price: price, Quantity: qty})
		}
	}
	return levels
}

func (c *Client) parseTrades(data json.RawMessage) []venue.Event {
	var trades []tradePayload
	if err := json.Unmarshal(data, &trades); err != nil {
		metrics.ParseErrors.WithLabelValues(venue.Hyperliquid).Inc()
		return nil
	}

	var events []venue.Event
	for _, t := range trades {
		side := model.Buy
		if t.Side == "A" {
			side = model.Sell
		}
		occurred := time.Now()
		if ts := venue.Float(t.Time); ts > 0 {
			occurred = venue.UnixAuto(ts)
		}
		events = append(events, venue.Event{Trade: &model.Trade{
			Instrument: c.coin,
			Venue:      venue.Hyperliquid,
			Price:      venue.Float(t.Px),
			Quantity:   venue.Float(t.Sz),
			Side:       side,
			OccurredAt: occurred,
		}})
	}
	return events
}
