// Package hub fans out stats and alert messages to connected websocket
// clients. A slow client never blocks the pipeline: each subscriber has a
// bounded queue and is dropped when it stops draining.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"perpflow/internal/metrics"
)

const sinkBuffer = 64

// Envelope message types on the client stream.
const (
	TypeInit      = "init"
	TypeStats     = "stats"
	TypeAlert     = "alert"
	TypeHeartbeat = "heartbeat"
)

// Envelope wraps every message pushed to clients.
type Envelope struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"` // "venue:symbol" for stats
	Data any    `json:"data,omitempty"`
}

// Hub is the broadcast fan-out point.
type Hub struct {
	mu    sync.Mutex
	sinks map[string]chan []byte
}

func New() *Hub {
	return &Hub{sinks: make(map[string]chan []byte)}
}

// Subscribe registers a sink and returns its id and receive channel. The
// channel is closed when the sink is unsubscribed or dropped.
func (h *Hub) Subscribe() (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, sinkBuffer)

	h.mu.Lock()
	h.sinks[id] = ch
	n := len(h.sinks)
	h.mu.Unlock()

	metrics.Clients.Set(float64(n))
	log.Debug().Str("client", id).Int("clients", n).Msg("hub subscribe")
	return id, ch
}

// Unsubscribe removes a sink and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.sinks[id]
	if ok {
		delete(h.sinks, id)
	}
	n := len(h.sinks)
	h.mu.Unlock()

	if ok {
		close(ch)
		metrics.Clients.Set(float64(n))
		log.Debug().Str("client", id).Int("clients", n).Msg("hub unsubscribe")
	}
}

// BroadcastStats pushes a stats envelope for one instrument to all sinks.
func (h *Hub) BroadcastStats(key string, stats any) {
	h.broadcast(Envelope{Type: TypeStats, Key: key, Data: stats})
}

// BroadcastAlert pushes an alert envelope to all sinks.
func (h *Hub) BroadcastAlert(alert any) {
	h.broadcast(Envelope{Type: TypeAlert, Data: alert})
}

// broadcast serializes once and fans out. A sink whose queue is full is
// dropped and closed rather than blocking the caller.
func (h *Hub) broadcast(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("type", env.Type).Msg("hub marshal")
		return
	}

	var dropped []string

	h.mu.Lock()
	for id, ch := range h.sinks {
		select {
		case ch <- payload:
		default:
			delete(h.sinks, id)
			close(ch)
			dropped = append(dropped, id)
		}
	}
	n := len(h.sinks)
	h.mu.Unlock()

	if len(dropped) > 0 {
		metrics.Clients.Set(float64(n))
		for _, id := range dropped {
			log.Warn().Str("client", id).Msg("dropping slow client")
		}
	}
}

// Clients reports the current subscriber count.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sinks)
}
