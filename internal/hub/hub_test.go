package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEnvelope(t *testing.T, ch <-chan []byte) Envelope {
	t.Helper()
	select {
	case payload, ok := <-ch:
		require.True(t, ok, "feed closed")
		var env Envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return Envelope{}
	}
}

func TestBroadcastStatsReachesAllSinks(t *testing.T) {
	h := New()
	_, ch1 := h.Subscribe()
	_, ch2 := h.Subscribe()

	assert.Equal(t, 2, h.Clients())

	h.BroadcastStats("bingx:WIF-USDT", map[string]any{"last_price": 2.5})

	for _, ch := range []<-chan []byte{ch1, ch2} {
		env := recvEnvelope(t, ch)
		assert.Equal(t, TypeStats, env.Type)
		assert.Equal(t, "bingx:WIF-USDT", env.Key)
	}
}

func TestBroadcastAlertHasNoKey(t *testing.T) {
	h := New()
	_, ch := h.Subscribe()

	h.BroadcastAlert(map[string]any{"type": "whale_trade"})

	env := recvEnvelope(t, ch)
	assert.Equal(t, TypeAlert, env.Type)
	assert.Empty(t, env.Key)
}

func TestUnsubscribeClosesFeed(t *testing.T) {
	h := New()
	id, ch := h.Subscribe()

	h.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Clients())

	// Second unsubscribe is a no-op.
	h.Unsubscribe(id)
}

func TestSlowSinkIsDropped(t *testing.T) {
	h := New()
	_, slow := h.Subscribe()
	_, healthy := h.Subscribe()

	// Fill the slow sink's buffer, then overflow it. The healthy sink is
	// drained after every broadcast and never backs up.
	for i := 0; i <= sinkBuffer; i++ {
		h.BroadcastStats("bingx:WIF-USDT", i)
		recvEnvelope(t, healthy)
	}

	assert.Equal(t, 1, h.Clients())

	// The slow feed drains its buffer and then reports closed.
	for i := 0; i < sinkBuffer; i++ {
		_, ok := <-slow
		require.True(t, ok)
	}
	_, ok := <-slow
	assert.False(t, ok)

	// The surviving subscriber still receives.
	h.BroadcastAlert("still alive")
	env := recvEnvelope(t, healthy)
	assert.Equal(t, TypeAlert, env.Type)
}
