package wire

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestDecodeHeartbeat(t *testing.T) {
	ev := Decode([]byte(`{"channel":"heartbeat"}`), fixedNow)
	assert.Equal(t, KindHeartbeat, ev.Kind)
}

func TestDecodeSubscribeAck(t *testing.T) {
	raw := []byte(`{"method":"subscribe","success":true,"params":{"channel":"ticker"}}`)
	ev := Decode(raw, fixedNow)

	require.Equal(t, KindSubscribeAck, ev.Kind)
	require.NotNil(t, ev.Ack)
	assert.True(t, ev.Ack.Success)
	assert.Equal(t, "ticker", ev.Ack.Channel)
}

func TestDecodeSubscribeAckFailure(t *testing.T) {
	raw := []byte(`{"method":"subscribe","success":false,"error":"symbol unavailable","params":{"channel":"book"}}`)
	ev := Decode(raw, fixedNow)

	require.Equal(t, KindSubscribeAck, ev.Kind)
	assert.False(t, ev.Ack.Success)
	assert.Equal(t, "symbol unavailable", ev.Ack.Error)
}

func TestDecodeTickerSnapshot(t *testing.T) {
	raw := []byte(`{"channel":"ticker","type":"snapshot","data":[{"symbol":"BTC/USD","bid":"50000.1","bid_qty":"0.5","ask":"50001.2","ask_qty":"0.25","last":"50000.5","volume":"120.4","vwap":"49800.1","low":"49000","high":"51000","change":"100","change_pct":"0.2"}]}`)
	ev := Decode(raw, fixedNow)

	require.Equal(t, KindTicker, ev.Kind)
	require.Len(t, ev.Tickers, 1)
	rec := ev.Tickers[0]
	assert.Equal(t, "BTC/USD", rec.Symbol)
	assert.Equal(t, TypeSnapshot, rec.Kind)
	assert.True(t, rec.Bid.Equal(decimal.RequireFromString("50000.1")))
	assert.Equal(t, "2024-03-01 12:00:00.000", rec.Timestamp)
}

func TestDecodeTickerUpdateDefaultsType(t *testing.T) {
	raw := []byte(`{"channel":"ticker","data":[{"symbol":"BTC/USD","bid":"1","bid_qty":"1","ask":"1","ask_qty":"1","last":"1","volume":"1","vwap":"1","low":"1","high":"1","change":"1","change_pct":"1"}]}`)
	ev := Decode(raw, fixedNow)

	require.Equal(t, KindTicker, ev.Kind)
	assert.Equal(t, TypeUpdate, ev.Tickers[0].Kind)
}

func TestDecodeBookL2SnapshotWithChecksum(t *testing.T) {
	raw := []byte(`{"channel":"book","type":"snapshot","data":[{"symbol":"BTC/USD","checksum":123456,"bids":[{"price":"100.0","qty":"1.0"}],"asks":[{"price":"101.0","qty":"2.0"}]}]}`)
	ev := Decode(raw, fixedNow)

	require.Equal(t, KindBookL2, ev.Kind)
	require.Len(t, ev.BooksL2, 1)
	rec := ev.BooksL2[0]
	assert.Equal(t, uint32(123456), rec.Checksum)
	require.Len(t, rec.Bids, 1)
	require.Len(t, rec.Asks, 1)
	assert.True(t, rec.Bids[0].Price.Equal(decimal.RequireFromString("100.0")))
}

func TestDecodeBookL3UpdateWithEvents(t *testing.T) {
	raw := []byte(`{"channel":"level3","type":"update","data":[{"symbol":"BTC/USD","checksum":999,"bids":[{"order_id":"o1","limit_price":"100","order_qty":"1","timestamp":"t1","event":"add"}],"asks":[]}]}`)
	ev := Decode(raw, fixedNow)

	require.Equal(t, KindBookL3, ev.Kind)
	require.Len(t, ev.BooksL3, 1)
	require.Len(t, ev.BooksL3[0].Bids, 1)
	assert.Equal(t, EventAdd, ev.BooksL3[0].Bids[0].Event)
	assert.Equal(t, "o1", ev.BooksL3[0].Bids[0].OrderID)
}

func TestDecodeUnknownChannel(t *testing.T) {
	ev := Decode([]byte(`{"channel":"mystery"}`), fixedNow)
	assert.Equal(t, KindUnknown, ev.Kind)
}

func TestDecodeNoChannelIsDecoderError(t *testing.T) {
	ev := Decode([]byte(`{"nope":1}`), fixedNow)
	require.Equal(t, KindError, ev.Kind)
	assert.NotNil(t, ev.Err)
}

func TestDecodeTickerMissingDataIsDecoderError(t *testing.T) {
	ev := Decode([]byte(`{"channel":"ticker"}`), fixedNow)
	require.Equal(t, KindError, ev.Kind)
	assert.NotNil(t, ev.Err)
}

func TestDecimalFieldAcceptsStringOrNumber(t *testing.T) {
	stringItem := []byte(`{"price":"10.5"}`)
	numberItem := []byte(`{"price":10.5}`)
	missingItem := []byte(`{}`)

	assert.True(t, decimalField(stringItem, "price").Equal(decimal.NewFromFloat(10.5)))
	assert.True(t, decimalField(numberItem, "price").Equal(decimal.NewFromFloat(10.5)))
	assert.True(t, decimalField(missingItem, "price").IsZero())
}

func TestKindStringer(t *testing.T) {
	assert.Equal(t, "book", KindBookL2.String())
	assert.Equal(t, "level3", KindBookL3.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
