package blofin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpflow/internal/model"
	"perpflow/internal/venue"
)

func TestHandleFramePongSkipped(t *testing.T) {
	c := New("", "WIF-USDT")

	events, err := c.handleFrame([]byte("pong"))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestHandleFrameSubscribeAck(t *testing.T) {
	c := New("", "WIF-USDT")

	events, err := c.handleFrame([]byte(
		`{"event":"subscribe","arg":{"channel":"books5","instId":"WIF-USDT"}}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestHandleFrameErrorEvent(t *testing.T) {
	c := New("", "WIF-USDT")

	_, err := c.handleFrame([]byte(`{"event":"error","msg":"channel not found","code":"60018"}`))
	var rejected *venue.SubscribeRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, venue.BloFin, rejected.Venue)
	assert.Equal(t, "channel not found", rejected.Reason)
}

func TestHandleFrameBookObject(t *testing.T) {
	c := New("", "WIF-USDT")
	frame := `{"arg":{"channel":"books5","instId":"WIF-USDT"},"data":{` +
		`"bids":[["2.5","100"],["2.49","0"]],"asks":[["2.51","80"]],"ts":"1727000000000"}}`

	events, err := c.handleFrame([]byte(frame))
	require.NoError(t, err)
	require.Len(t, events, 1)

	book := events[0].Book
	require.NotNil(t, book)
	assert.Equal(t, venue.BloFin, book.Venue)
	require.Len(t, book.Bids, 1) // zero quantity filtered
	assert.Equal(t, model.PriceLevel{Price: 2.5, Quantity: 100}, book.Bids[0])
	require.Len(t, book.Asks, 1)
}

func TestHandleFrameBookListWrapped(t *testing.T) {
	c := New("", "WIF-USDT")
	frame := `{"arg":{"channel":"books5","instId":"WIF-USDT"},"data":[{` +
		`"bids":[["2.5","100"]],"asks":[["2.51","80"]],"ts":"1727000000000"}]}`

	events, err := c.handleFrame([]byte(frame))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Book)
	assert.Equal(t, 2.5, events[0].Book.Bids[0].Price)
}

func TestHandleFrameTrades(t *testing.T) {
	c := New("", "WIF-USDT")
	frame := `{"arg":{"channel":"trades","instId":"WIF-USDT"},"data":[` +
		`{"price":"2.5","size":"100","side":"buy","ts":"1727000000000"},` +
		`{"price":"2.49","size":"50","side":"sell","ts":"1727000000001"}]}`

	events, err := c.handleFrame([]byte(frame))
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0].Trade
	require.NotNil(t, first)
	assert.Equal(t, "WIF-USDT", first.Instrument)
	assert.Equal(t, 2.5, first.Price)
	assert.Equal(t, 100.0, first.Quantity)
	assert.Equal(t, model.Buy, first.Side)
	assert.Equal(t, int64(1727000000000), first.OccurredAt.UnixMilli())

	assert.Equal(t, model.Sell, events[1].Trade.Side)
}

func TestHandleFrameMalformedDropped(t *testing.T) {
	c := New("", "WIF-USDT")

	events, err := c.handleFrame([]byte(`{{{`))
	require.NoError(t, err)
	assert.Empty(t, events)
}
