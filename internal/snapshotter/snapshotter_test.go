package snapshotter

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdepth/krakenfeed/internal/writer"
)

func readAllLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func l2Line(ts, symbol string, checksum int, bids, asks string) string {
	return `{"timestamp":"` + ts + `","channel":"book","type":"snapshot","data":{` +
		`"symbol":"` + symbol + `","checksum":` + strconv.Itoa(checksum) + `,"bids":` + bids + `,"asks":` + asks + `}}`
}

func TestRunL2SamplesAtIntervalBoundary(t *testing.T) {
	lines := []string{
		l2Line("2024-01-01 00:00:00.000", "BTC/USD", 0, `[["50000.0","1.0"]]`, `[["50001.0","1.0"]]`),
		l2Line("2024-01-01 00:00:05.000", "BTC/USD", 0, `[["50000.0","2.0"]]`, `[["50001.0","2.0"]]`),
		l2Line("2024-01-01 00:00:11.000", "BTC/USD", 0, `[["50000.0","3.0"]]`, `[["50001.0","3.0"]]`),
	}
	path := filepath.Join(t.TempDir(), "out.csv")
	out, err := writer.NewSnapshotCSVWriter(path, false)
	require.NoError(t, err)

	err = RunL2(strings.NewReader(strings.Join(lines, "\n")+"\n"), out, 10, nil)
	require.NoError(t, err)
	require.NoError(t, out.Close())

	rows := readAllLines(t, path)
	require.Len(t, rows, 2, "header plus exactly one sampled row (10s interval crossed once)")
	assert.Contains(t, rows[1], "BTC/USD")
}

func TestRunL2SkipsMalformedLines(t *testing.T) {
	lines := []string{
		`not json at all`,
		l2Line("2024-01-01 00:00:00.000", "BTC/USD", 0, `[["50000.0","1.0"]]`, `[["50001.0","1.0"]]`),
	}
	path := filepath.Join(t.TempDir(), "out.csv")
	out, err := writer.NewSnapshotCSVWriter(path, false)
	require.NoError(t, err)

	err = RunL2(strings.NewReader(strings.Join(lines, "\n")+"\n"), out, 10, nil)
	require.NoError(t, err)
	require.NoError(t, out.Close())

	rows := readAllLines(t, path)
	assert.Len(t, rows, 1, "malformed line must be skipped, not abort the run")
}

func TestRunL2FiltersBySymbol(t *testing.T) {
	lines := []string{
		l2Line("2024-01-01 00:00:00.000", "BTC/USD", 0, `[["50000.0","1.0"]]`, `[["50001.0","1.0"]]`),
		l2Line("2024-01-01 00:00:11.000", "BTC/USD", 0, `[["50000.0","1.0"]]`, `[["50001.0","1.0"]]`),
		l2Line("2024-01-01 00:00:00.000", "ETH/USD", 0, `[["3000.0","1.0"]]`, `[["3001.0","1.0"]]`),
		l2Line("2024-01-01 00:00:11.000", "ETH/USD", 0, `[["3000.0","1.0"]]`, `[["3001.0","1.0"]]`),
	}
	path := filepath.Join(t.TempDir(), "out.csv")
	out, err := writer.NewSnapshotCSVWriter(path, false)
	require.NoError(t, err)

	err = RunL2(strings.NewReader(strings.Join(lines, "\n")+"\n"), out, 10, map[string]bool{"ETH/USD": true})
	require.NoError(t, err)
	require.NoError(t, out.Close())

	rows := readAllLines(t, path)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[1], "ETH/USD")
}

func l3Line(ts, symbol, typ string, bids, asks string) string {
	return `{"timestamp":"` + ts + `","channel":"level3","type":"` + typ + `","data":{` +
		`"symbol":"` + symbol + `","checksum":0,"bids":` + bids + `,"asks":` + asks + `}}`
}

func TestRunL3ResetsEventCountersBetweenSamples(t *testing.T) {
	lines := []string{
		l3Line("2024-01-01 00:00:00.000", "BTC/USD", "snapshot",
			`[{"order_id":"b1","limit_price":"50000.0","order_qty":"1.0","timestamp":"t"}]`,
			`[{"order_id":"a1","limit_price":"50001.0","order_qty":"1.0","timestamp":"t"}]`),
		l3Line("2024-01-01 00:00:05.000", "BTC/USD", "update",
			`[{"order_id":"b2","limit_price":"49999.0","order_qty":"1.0","timestamp":"t","event":"add"}]`,
			`[]`),
		l3Line("2024-01-01 00:00:11.000", "BTC/USD", "update",
			`[{"order_id":"b3","limit_price":"49998.0","order_qty":"1.0","timestamp":"t","event":"add"}]`,
			`[]`),
		l3Line("2024-01-01 00:00:22.000", "BTC/USD", "update",
			`[]`, `[]`),
	}
	path := filepath.Join(t.TempDir(), "out.csv")
	out, err := writer.NewLevel3SnapshotCSVWriter(path, false)
	require.NoError(t, err)

	err = RunL3(strings.NewReader(strings.Join(lines, "\n")+"\n"), out, 10, nil)
	require.NoError(t, err)
	require.NoError(t, out.Close())

	rows := readAllLines(t, path)
	require.Len(t, rows, 3, "header plus two sampled rows, across 10s boundaries at t=11 and t=22")
	// add_events is column 21: b2 and b3 land before the t=11 sample, and
	// nothing is added between the reset and the t=22 sample.
	assert.Equal(t, "2", strings.Split(rows[1], ",")[21])
	assert.Equal(t, "0", strings.Split(rows[2], ",")[21])
}

func TestRunL3SkipsMalformedLines(t *testing.T) {
	lines := []string{
		`{not valid json`,
		l3Line("2024-01-01 00:00:00.000", "BTC/USD", "snapshot", `[]`, `[]`),
	}
	path := filepath.Join(t.TempDir(), "out.csv")
	out, err := writer.NewLevel3SnapshotCSVWriter(path, false)
	require.NoError(t, err)

	err = RunL3(strings.NewReader(strings.Join(lines, "\n")+"\n"), out, 10, nil)
	require.NoError(t, err)
	require.NoError(t, out.Close())

	rows := readAllLines(t, path)
	assert.Len(t, rows, 1)
}
