// Package blofin streams BloFin perpetual market data over its public
// websocket. The book channel is books5: five-level snapshots every 100 ms,
// so depth-capped metrics downstream see at most five levels per side.
package blofin

import (
	"bytes"
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
	pingInterval     = 25 * time.Second
	handshakeTimeout = 15 * time.Second
	writeTimeout     = 10 * time.Second
)

// Client is a BloFin websocket adapter for a single instrument.
type Client struct {
	url    string
	symbol string

	mu   sync.Mutex // guards writes; the ping loop runs beside the reader
	conn *websocket.Conn
}

// New returns an adapter for instId (e.g. "WIF-USDT") on the public
// websocket at url.
func New(url, symbol string) *Client {
	return &Client{url: url, symbol: symbol}
}

func (c *Client) Venue() string { return venue.BloFin }

// Run implements venue.Adapter.
func (c *Client) Run(ctx context.Context, out chan<- venue.Event) error {
	defer close(out)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial blofin: %v", venue.ErrConnectionLost, err)
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
	log.Info().Str("venue", venue.BloFin).Str("symbol", c.symbol).Msg("subscribed")

	// App-level heartbeat: literal "ping" every 25 s, answered "pong".
	go c.pingLoop(done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", venue.ErrConnectionLost, err)
		}
		metrics.WSMessages.WithLabelValues(venue.BloFin).Inc()

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
	sub := map[string]any{
		"op": "subscribe",
		"args": []map[string]string{
			{"channel": "trades", "instId": c.symbol},
			{"channel": "books5", "instId": c.symbol},
		},
	}
	payload, _ := json.Marshal(sub)
	if err := c.write(payload); err != nil {
		return fmt.Errorf("%w: subscribe: %v", venue.ErrConnectionLost, err)
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
			if err := c.write([]byte("ping")); err != nil {
				return
			}
		}
	}
}

type frame struct {
	Event string `json:"event"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

type bookPayload struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
	Ts   any        `json:"ts"`
}

type tradePayload struct {
	Price any    `json:"price"`
	Size  any    `json:"size"`
	Side  string `json:"side"`
	Ts    any    `json:"ts"`
}

// handleFrame decodes one text frame. Returned errors are fatal
// (subscription rejections); malformed frames are counted and dropped.
func (c *Client) handleFrame(raw []byte) ([]venue.Event, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("pong")) {
		return nil, nil
	}

	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		metrics.ParseErrors.WithLabelValues(venue.BloFin).Inc()
		return nil, nil
	}

	switch f.Event {
	case "error":
		return nil, &venue.SubscribeRejectedError{Venue: venue.BloFin, Reason: f.Msg}
	case "subscribe", "unsubscribe":
		return nil, nil
	}

	switch f.Arg.Channel {
	case "trades":
		return c.parseTrades(f.Data), nil
	case "books5":
		if ev, ok := c.parseBook(f.Data); ok {
			return []venue.Event{ev}, nil
		}
	}
	return nil, nil
}

func (c *Client) parseTrades(data json.RawMessage) []venue.Event {
	var trades []tradePayload
	if err := json.Unmarshal(data, &trades); err != nil {
		metrics.ParseErrors.WithLabelValues(venue.BloFin).Inc()
		return nil
	}

	var events []venue.Event
	for _, t := range trades {
		side := model.Buy
		if t.Side == "sell" {
			side = model.Sell
		}
		occurred := time.Now()
		if ts := venue.Float(t.Ts); ts > 0 {
			occurred = venue.UnixAuto(ts)
		}
		events = append(events, venue.Event{Trade: &model.Trade{
			Instrument: c.symbol,
			Venue:      venue.BloFin,
			Price:      venue.Float(t.Price),
			Quantity:   venue.Float(t.Size),
			Side:       side,
			OccurredAt: occurred,
		}})
	}
	return events
}

// parseBook accepts the books5 snapshot either as a bare object or as a
// one-element list, both of which BloFin pushes.
func (c *Client) parseBook(data json.RawMessage) (venue.Event, bool) {
	if len(data) == 0 {
		return venue.Event{}, false
	}

	payload := data
	if data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil || len(list) == 0 {
			metrics.ParseErrors.WithLabelValues(venue.BloFin).Inc()
			return venue.Event{}, false
		}
		payload = list[0]
	}

	var book bookPayload
	if err := json.Unmarshal(payload, &book); err != nil {
		metrics.ParseErrors.WithLabelValues(venue.BloFin).Inc()
		return venue.Event{}, false
	}

	snap := &model.BookSnapshot{
		Instrument: c.symbol,
		Venue:      venue.BloFin,
		Bids:       parseLevels(book.Bids),
		Asks:       parseLevels(book.Asks),
		ReceivedAt: time.Now(),
	}
	return venue.Event{Book: snap}, true
}

func parseLevels(raw [][]string) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		price := venue.Float(lvl[0])
		qty := venue.Float(lvl[1])
		if qty > 0 {
			levels = append(levels, model.PriceLevel{Price: price, Quantity: qty})
		}
	}
	return levels
}
