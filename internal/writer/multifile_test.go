package writer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertSymbolToken(t *testing.T) {
	assert.Equal(t, "out_BTC_USD.csv", insertSymbolToken("out.csv", "BTC/USD", ".csv"))
	assert.Equal(t, "out_BTC_USD.csv", insertSymbolToken("out", "BTC/USD", ".csv"))
}

func TestMultiFileBookL2JSONLWriterOpensOneFilePerSymbol(t *testing.T) {
	base := filepath.Join(t.TempDir(), "book.jsonl")
	mw := NewMultiFileBookL2JSONLWriter(base, false)
	mw.SetFlushInterval(0)

	require.NoError(t, mw.WriteRecord(sampleBookL2("BTC/USD")))
	require.NoError(t, mw.WriteRecord(sampleBookL2("ETH/USD")))
	require.NoError(t, mw.WriteRecord(sampleBookL2("BTC/USD")))
	require.NoError(t, mw.Close())

	assert.Equal(t, 2, mw.FileCount())
	assert.Equal(t, int64(3), mw.TotalRecordCount())

	_, err := os.Stat(insertSymbolToken(base, "BTC/USD", ".jsonl"))
	assert.NoError(t, err)
	_, err = os.Stat(insertSymbolToken(base, "ETH/USD", ".jsonl"))
	assert.NoError(t, err)
}

func TestMultiFileTickerCSVWriterForwardsConfig(t *testing.T) {
	base := filepath.Join(t.TempDir(), "ticker.csv")
	mw := NewMultiFileTickerCSVWriter(base, false)
	mw.SetFlushInterval(0)
	mw.SetMemoryThreshold(0)

	require.NoError(t, mw.WriteRecord(sampleTicker("BTC/USD")))
	require.NoError(t, mw.FlushAll())
	require.NoError(t, mw.Close())

	assert.Equal(t, int64(1), mw.TotalRecordCount())
}
