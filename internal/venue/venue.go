// Package venue implements the exchange adapters. Each adapter owns one
// websocket connection for one instrument and pumps normalized book and
// trade events to its watcher. Adapters never reconnect on their own;
// reconnection policy belongs to the watcher.
package venue

import (
	"context"
	"errors"
	"fmt"

	"perpflow/internal/model"
)

// Venue identifiers as used in watch keys and the contract catalog.
const (
	BingX       = "bingx"
	BloFin      = "blofin"
	Hyperliquid = "hyperliquid"
)

// ErrConnectionLost is returned by Run when the transport closes for any
// reason other than context cancellation.
var ErrConnectionLost = errors.New("venue: connection lost")

// SubscribeRejectedError is returned when the venue negatively acknowledges
// a subscription request. The watcher surfaces it and does not retry.
type SubscribeRejectedError struct {
	Venue  string
	Reason string
}

func (e *SubscribeRejectedError) Error() string {
	return fmt.Sprintf("venue %s: subscribe rejected: %s", e.Venue, e.Reason)
}

// Event is one normalized item from a venue stream. Exactly one of Book and
// Trade is set.
type Event struct {
	Book  *model.BookSnapshot
	Trade *model.Trade
}

// Adapter is the capability set common to all venues.
//
// Run connects, subscribes the instrument's book and trade channels, and
// sends events on out until the connection drops or ctx is canceled. Run
// closes out before returning. It returns nil on cancellation,
// ErrConnectionLost (possibly wrapped) on transport failure, or a
// *SubscribeRejectedError.
type Adapter interface {
	Run(ctx context.Context, out chan<- Event) error
	Venue() string
}

// Known reports whether v names a supported venue.
func Known(v string) bool {
	switch v {
	case BingX, BloFin, Hyperliquid:
		return true
	}
	return false
}
