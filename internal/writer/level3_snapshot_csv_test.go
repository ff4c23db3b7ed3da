package writer

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdepth/krakenfeed/internal/orderbook"
)

func TestLevel3SnapshotCSVWriterIncludesOrderColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap_l3.csv")
	w, err := NewLevel3SnapshotCSVWriter(path, false)
	require.NoError(t, err)
	w.SetFlushInterval(0)

	row := Level3SnapshotCSVRow{
		Timestamp: "2024-03-01 12:00:00.000",
		Symbol:    "BTC/USD",
		Metrics: orderbook.L3Metrics{
			BidOrderCount: 3,
			AskOrderCount: 2,
			AddEvents:     5,
		},
	}
	require.NoError(t, w.WriteSnapshot(row))
	require.NoError(t, w.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(l3SnapshotHeader, ","), lines[0])
	assert.Contains(t, lines[1], "3,2") // bid_order_count,ask_order_count
	assert.Contains(t, lines[1], ",5,") // add_events
}
