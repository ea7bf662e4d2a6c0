package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"perpflow/internal/hub"
)

const (
	heartbeatIdle  = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsClient serializes writes: the broadcast pump and the command replies
// share one connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsClient) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.send(payload)
}

// clientCommand is what browsers send on the socket.
type clientCommand struct {
	Action   string `json:"action"` // "watch" or "unwatch"
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

// handleWS upgrades the connection, replays the current state, then bridges
// hub broadcasts out and watch commands in until either side closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	client := &wsClient{conn: conn}

	id, feed := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	defer conn.Close()

	init := hub.Envelope{
		Type: hub.TypeInit,
		Data: map[string]any{
			"watching":       s.registry.List(),
			"contract_count": s.catalog.Count(),
		},
	}
	if err := client.sendJSON(init); err != nil {
		return
	}

	go s.writePump(client, feed)
	s.readPump(client, id)
}

// writePump drains the hub feed and emits a heartbeat when the stream has
// been idle for 30s. It exits when the feed closes, which also happens when
// the hub drops a slow client.
func (s *Server) writePump(client *wsClient, feed <-chan []byte) {
	ticker := time.NewTicker(heartbeatIdle)
	defer ticker.Stop()

	heartbeat, _ := json.Marshal(hub.Envelope{Type: hub.TypeHeartbeat})
	lastWrite := time.Now()

	for {
		select {
		case payload, ok := <-feed:
			if !ok {
				client.conn.Close()
				return
			}
			if err := client.send(payload); err != nil {
				return
			}
			lastWrite = time.Now()
		case <-ticker.C:
			if time.Since(lastWrite) < heartbeatIdle {
				continue
			}
			if err := client.send(heartbeat); err != nil {
				return
			}
			lastWrite = time.Now()
		}
	}
}

func (s *Server) readPump(client *wsClient, id string) {
	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		if bytes.Equal(bytes.TrimSpace(raw), []byte("ping")) {
			if err := client.send([]byte("pong")); err != nil {
				return
			}
			continue
		}

		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case "watch":
			key, _, err := s.registry.Watch(cmd.Exchange, cmd.Symbol)
			if err != nil {
				client.sendJSON(map[string]any{"type": "error", "message": err.Error()})
				continue
			}
			client.sendJSON(map[string]any{"type": "watching", "key": key})
		case "unwatch":
			s.registry.Unwatch(cmd.Exchange, cmd.Symbol)
			key := cmd.Exchange + ":" + cmd.Symbol
			client.sendJSON(map[string]any{"type": "unwatched", "key": key})
		default:
			log.Debug().Str("client", id).Str("action", cmd.Action).Msg("unknown ws action")
		}
	}
}
