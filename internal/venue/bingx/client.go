// Package bingx streams the BingX perpetual swap market over its compressed
// public websocket.
package bingx

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"perpflow/internal/metrics"
	"perpflow/internal/model"
	"perpflow/internal/venue"
)

const (
	depthChannel = "depth20@500ms"
	tradeChannel = "trade"

	handshakeTimeout = 15 * time.Second
	writeTimeout     = 10 * time.Second
)

// Client is a BingX websocket adapter for a single instrument.
type Client struct {
	url    string
	symbol string
}

// New returns an adapter for symbol (e.g. "WIF-USDT") on the swap-market
// websocket at url.
func New(url, symbol string) *Client {
	return &Client{url: url, symbol: symbol}
}

func (c *Client) Venue() string { return venue.BingX }

// Run implements venue.Adapter.
func (c *Client) Run(ctx context.Context, out chan<- venue.Event) error {
	defer close(out)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial bingx: %v", venue.ErrConnectionLost, err)
	}
	defer conn.Close()

	// Unblock the read loop on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := c.subscribe(conn); err != nil {
		return err
	}
	log.Info().Str("venue", venue.BingX).Str("symbol", c.symbol).Msg("subscribed")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", venue.ErrConnectionLost, err)
		}
		metrics.WSMessages.WithLabelValues(venue.BingX).Inc()

		events, pong, err := c.handleFrame(raw)
		if err != nil {
			return err
		}
		if pong != nil {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: pong: %v", venue.ErrConnectionLost, err)
			}
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

func (c *Client) subscribe(conn *websocket.Conn) error {
	for i, channel := range []string{depthChannel, tradeChannel} {
		req := map[string]any{
			"id":       fmt.Sprintf("sub-%s-%d", c.symbol, i),
			"reqType":  "sub",
			"dataType": c.symbol + "@" + channel,
		}
		payload, _ := json.Marshal(req)
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return fmt.Errorf("%w: subscribe: %v", venue.ErrConnectionLost, err)
		}
	}
	return nil
}

// frame is the superset of shapes BingX pushes on the market stream.
type frame struct {
	Ping     json.RawMessage `json:"ping"`
	Code     *int            `json:"code"`
	Msg      string          `json:"msg"`
	PingTime int64           `json:"pingTime"`
	ID       string          `json:"id"`
	DataType string          `json:"dataType"`
	Data     json.RawMessage `json:"data"`
}

type depthPayload struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// handleFrame decodes one raw websocket frame. It returns the normalized
// events, an optional pong payload that must be written back, and a fatal
// error for negative subscription acks. Malformed frames are counted and
// dropped.
func (c *Client) handleFrame(raw []byte) ([]venue.Event, []byte, error) {
	data := decompress(raw)

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		metrics.ParseErrors.WithLabelValues(venue.BingX).Inc()
		return nil, nil, nil
	}

	// Two ping shapes, one pong answer.
	if len(f.Ping) > 0 {
		return nil, []byte(`{"pong":` + string(f.Ping) + `}`), nil
	}
	if f.Code != nil && f.Msg == "Ping" {
		pingTime := f.PingTime
		if pingTime == 0 {
			pingTime = time.Now().UnixMilli()
		}
		return nil, []byte(fmt.Sprintf(`{"pong":%d}`, pingTime)), nil
	}

	// Subscription ack.
	if f.ID != "" && f.DataType == "" {
		if f.Code != nil && *f.Code != 0 {
			reason := f.Msg
			if reason == "" {
				reason = fmt.Sprintf("code %d", *f.Code)
			}
			return nil, nil, &venue.SubscribeRejectedError{Venue: venue.BingX, Reason: reason}
		}
		return nil, nil, nil
	}

	switch {
	case strings.Contains(f.DataType, "@depth") && len(f.Data) > 0:
		if ev, ok := c.parseDepth(f.Data); ok {
			return []venue.Event{ev}, nil, nil
		}
	case strings.Contains(f.DataType, "@trade") && len(f.Data) > 0:
		return c.parseTrades(f.Data), nil, nil
	}
	return nil, nil, nil
}

func (c *Client) parseDepth(data json.RawMessage) (venue.Event, bool) {
	var d depthPayload
	if err := json.Unmarshal(data, &d); err != nil {
		metrics.ParseErrors.WithLabelValues(venue.BingX).Inc()
		return venue.Event{}, false
	}

	snap := &model.BookSnapshot{
		Instrument: c.symbol,
		Venue:      venue.BingX,
		Bids:       parseLevels(d.Bids),
		Asks:       parseLevels(d.Asks),
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

// parseTrades handles the three trade payload shapes BingX uses: a single
// object {p,q,m,T}, an array [T,p,q,m], or a list of either.
func (c *Client) parseTrades(data json.RawMessage) []venue.Event {
	var items []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			metrics.ParseErrors.WithLabelValues(venue.BingX).Inc()
			return nil
		}
		// An array whose head is a number or string is one positional trade,
		// not a list.
		if len(items) > 0 && items[0][0] != '{' && items[0][0] != '[' {
			items = []json.RawMessage{data}
		}
	} else {
		items = []json.RawMessage{data}
	}

	var events []venue.Event
	for _, item := range items {
		if t, ok := c.parseTrade(item); ok {
			events = append(events, venue.Event{Trade: t})
		}
	}
	return events
}

func (c *Client) parseTrade(item json.RawMessage) (*model.Trade, bool) {
	if len(item) == 0 {
		return nil, false
	}

	if item[0] == '{' {
		var t struct {
			P any  `json:"p"`
			Q any  `json:"q"`
			M bool `json:"m"`
			T any  `json:"T"`
		}
		if err := json.Unmarshal(item, &t); err != nil {
			metrics.ParseErrors.WithLabelValues(venue.BingX).Inc()
			return nil, false
		}
		return c.newTrade(venue.Float(t.P), venue.Float(t.Q), t.M, venue.Float(t.T)), true
	}

	// Positional form: [T, p, q, m].
	var arr []any
	if err := json.Unmarshal(item, &arr); err != nil || len(arr) < 4 {
		metrics.ParseErrors.WithLabelValues(venue.BingX).Inc()
		return nil, false
	}
	maker, _ := arr[3].(bool)
	return c.newTrade(venue.Float(arr[1]), venue.Float(arr[2]), maker, venue.Float(arr[0])), true
}

// newTrade maps the maker flag to the aggressor side: m=true means the buyer
// was the maker, so the taker sold.
func (c *Client) newTrade(price, qty float64, maker bool, ts float64) *model.Trade {
	side := model.Buy
	if maker {
		side = model.Sell
	}
	occurred := time.Now()
	if ts > 0 {
		occurred = venue.UnixAuto(ts)
	}
	return &model.Trade{
		Instrument: c.symbol,
		Venue:      venue.BingX,
		Price:      price,
		Quantity:   qty,
		Side:       side,
		OccurredAt: occurred,
	}
}

// decompress gunzips a frame, falling back to the raw bytes for the plain
// JSON messages BingX occasionally sends on the same stream.
func decompress(raw []byte) []byte {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return raw
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return raw
	}
	return plain
}
