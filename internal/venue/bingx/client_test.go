package bingx

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpflow/internal/model"
	"perpflow/internal/venue"
)

func gz(t *testing.T, payload string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestHandleFrameGzipPing(t *testing.T) {
	c := New("", "WIF-USDT")

	events, pong, err := c.handleFrame(gz(t, `{"ping":"2177"}`))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.JSONEq(t, `{"pong":"2177"}`, string(pong))
}

func TestHandleFrameCodePing(t *testing.T) {
	c := New("", "WIF-USDT")

	events, pong, err := c.handleFrame([]byte(`{"code":0,"msg":"Ping","pingTime":1727000000000}`))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, `{"pong":1727000000000}`, string(pong))
}

func TestHandleFrameSubscribeRejected(t *testing.T) {
	c := New("", "WIF-USDT")

	_, _, err := c.handleFrame([]byte(`{"id":"sub-WIF-USDT-0","code":100400,"msg":"invalid symbol"}`))
	var rejected *venue.SubscribeRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, venue.BingX, rejected.Venue)
	assert.Equal(t, "invalid symbol", rejected.Reason)
}

func TestHandleFrameSubscribeAck(t *testing.T) {
	c := New("", "WIF-USDT")

	events, pong, err := c.handleFrame([]byte(`{"id":"sub-WIF-USDT-0","code":0,"msg":""}`))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Nil(t, pong)
}

func TestHandleFrameDepth(t *testing.T) {
	c := New("", "WIF-USDT")
	frame := `{"dataType":"WIF-USDT@depth20@500ms","data":{` +
		`"bids":[["2.5","100"],["2.49","0"],["2.48","50"]],` +
		`"asks":[["2.51","80"]]}}`

	events, _, err := c.handleFrame(gz(t, frame))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Book)

	book := events[0].Book
	assert.Equal(t, "WIF-USDT", book.Instrument)
	assert.Equal(t, venue.BingX, book.Venue)
	// Zero-quantity level filtered out.
	require.Len(t, book.Bids, 2)
	assert.Equal(t, model.PriceLevel{Price: 2.5, Quantity: 100}, book.Bids[0])
	require.Len(t, book.Asks, 1)
	assert.Equal(t, model.PriceLevel{Price: 2.51, Quantity: 80}, book.Asks[0])
}

func TestHandleFrameTradeShapes(t *testing.T) {
	c := New("", "WIF-USDT")

	t.Run("single object", func(t *testing.T) {
		events, _, err := c.handleFrame([]byte(
			`{"dataType":"WIF-USDT@trade","data":{"p":"2.5","q":"100","m":false,"T":1727000000000}}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		tr := events[0].Trade
		require.NotNil(t, tr)
		assert.Equal(t, 2.5, tr.Price)
		assert.Equal(t, 100.0, tr.Quantity)
		assert.Equal(t, model.Buy, tr.Side)
		assert.Equal(t, int64(1727000000000), tr.OccurredAt.UnixMilli())
	})

	t.Run("maker flag maps to sell", func(t *testing.T) {
		events, _, err := c.handleFrame([]byte(
			`{"dataType":"WIF-USDT@trade","data":{"p":"2.5","q":"1","m":true,"T":1727000000000}}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.Sell, events[0].Trade.Side)
	})

	t.Run("list of objects", func(t *testing.T) {
		events, _, err := c.handleFrame([]byte(
			`{"dataType":"WIF-USDT@trade","data":[` +
				`{"p":"2.5","q":"1","m":false,"T":1727000000000},` +
				`{"p":"2.6","q":"2","m":true,"T":1727000000001}]}`))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, model.Buy, events[0].Trade.Side)
		assert.Equal(t, model.Sell, events[1].Trade.Side)
	})

	t.Run("positional array", func(t *testing.T) {
		events, _, err := c.handleFrame([]byte(
			`{"dataType":"WIF-USDT@trade","data":[1727000000000,"2.5","100",true]}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		tr := events[0].Trade
		assert.Equal(t, 2.5, tr.Price)
		assert.Equal(t, 100.0, tr.Quantity)
		assert.Equal(t, model.Sell, tr.Side)
	})

	t.Run("list of positional arrays", func(t *testing.T) {
		events, _, err := c.handleFrame([]byte(
			`{"dataType":"WIF-USDT@trade","data":[[1727000000000,"2.5","1",false],[1727000000001,"2.6","2",true]]}`))
		require.NoError(t, err)
		require.Len(t, events, 2)
	})
}

func TestHandleFrameMalformedDropped(t *testing.T) {
	c := New("", "WIF-USDT")

	events, pong, err := c.handleFrame([]byte(`not json at all`))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Nil(t, pong)
}
