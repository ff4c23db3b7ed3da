package writer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdepth/krakenfeed/internal/wire"
)

func sampleBookL2(symbol string) wire.BookL2Record {
	return wire.BookL2Record{
		Timestamp: "2024-03-01 12:00:00.000",
		Symbol:    symbol,
		Kind:      wire.TypeSnapshot,
		Bids:      []wire.PriceLevel{{Price: decimal.RequireFromString("100"), Qty: decimal.RequireFromString("1")}},
		Asks:      []wire.PriceLevel{{Price: decimal.RequireFromString("101"), Qty: decimal.RequireFromString("1")}},
		Checksum:  12345,
	}
}

func TestBookL2JSONLWriterProducesNestedEnvelope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.jsonl")
	w, err := NewBookL2JSONLWriter(path, false)
	require.NoError(t, err)
	w.SetFlushInterval(0)

	require.NoError(t, w.WriteRecord(sampleBookL2("BTC/USD")))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var line l2jsonLine
	require.NoError(t, json.Unmarshal(raw, &line))
	assert.Equal(t, "book", line.Channel)
	assert.Equal(t, "snapshot", line.Type)
	assert.Equal(t, "BTC/USD", line.Data.Symbol)
	assert.Equal(t, uint32(12345), line.Data.Checksum)
	require.Len(t, line.Data.Bids, 1)
	assert.Equal(t, [2]string{"100", "1"}, line.Data.Bids[0])
}

func TestBookL2JSONLWriterOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.jsonl")
	w, err := NewBookL2JSONLWriter(path, false)
	require.NoError(t, err)
	w.SetFlushInterval(0)

	require.NoError(t, w.WriteRecord(sampleBookL2("BTC/USD")))
	require.NoError(t, w.WriteRecord(sampleBookL2("ETH/USD")))
	require.NoError(t, w.Close())

	lines := readLines(t, path)
	assert.Len(t, lines, 2)
	assert.Equal(t, int64(2), w.RecordCount())
}
