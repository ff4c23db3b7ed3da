package writer

import (
	"bufio"
	"encoding/csv"
	"os"
	"sync"
	"time"

	"github.com/kdepth/krakenfeed/internal/kerrors"
	"github.com/kdepth/krakenfeed/internal/orderbook"
)

const snapshotRecordSize = 200

var l2SnapshotHeader = []string{
	"timestamp", "symbol",
	"best_bid", "best_bid_qty", "best_ask", "best_ask_qty",
	"spread", "spread_bps", "mid_price",
	"bid_volume_top10", "ask_volume_top10", "imbalance",
	"depth_10_bps", "depth_25_bps", "depth_50_bps",
}

// SnapshotCSVRow pairs an L2Metrics sample with the symbol/timestamp it was
// taken for (the offline snapshotter, C9, is the primary producer).
type SnapshotCSVRow struct {
	Timestamp string
	Symbol    string
	Metrics   orderbook.L2Metrics
}

// SnapshotCSVWriter writes L2 microstructure metric rows with adaptive
// (trailing-zero-stripped) numeric formatting (C6, C5).
type SnapshotCSVWriter struct {
	policy flushPolicy

	mu       sync.Mutex
	buffered []SnapshotCSVRow
	file     *os.File
	bw       *bufio.Writer
	cw       *csv.Writer

	headerWritten bool
	snapshotCount int64
}

// NewSnapshotCSVWriter constructs a writer targeting filename.
func NewSnapshotCSVWriter(filename string, append bool) (*SnapshotCSVWriter, error) {
	w := &SnapshotCSVWriter{policy: newFlushPolicy()}
	w.policy.setBaseFilename(filename)
	if err := w.open(filename, append); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *SnapshotCSVWriter) open(filename string, append bool) error {
	flags := os.O_CREATE | os.O_WRONLY
	if append {
		flags |= os.O_APPEND
		if fi, err := os.Stat(filename); err == nil && fi.Size() > 0 {
			w.headerWritten = true
		}
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(filename, flags, 0o644)
	if err != nil {
		return kerrors.NewWriterIOError(filename, err)
	}
	w.file = f
	w.bw = bufio.NewWriter(f)
	w.cw = csv.NewWriter(w.bw)
	if !w.headerWritten {
		if err := w.cw.Write(l2SnapshotHeader); err != nil {
			return kerrors.NewWriterIOError(filename, err)
		}
		w.headerWritten = true
	}
	return nil
}

// SetFlushInterval configures the time-based flush trigger (0 disables).
func (w *SnapshotCSVWriter) SetFlushInterval(interval time.Duration) { w.policy.setFlushInterval(interval) }

// SetMemoryThreshold configures the memory-based flush trigger in bytes.
func (w *SnapshotCSVWriter) SetMemoryThreshold(bytes int64) { w.policy.setMemoryThreshold(bytes) }

// SetSegmentMode enables hourly/daily file rotation.
func (w *SnapshotCSVWriter) SetSegmentMode(mode SegmentMode) { w.policy.setSegmentMode(mode, w) }

// WriteSnapshot buffers one metrics row and runs the flush policy check.
// Once a prior flush has failed, the writer is degraded and drops
// subsequent rows instead of growing an unbounded buffer (§4.6/§7).
func (w *SnapshotCSVWriter) WriteSnapshot(row SnapshotCSVRow) error {
	if err := w.policy.guardWrite(); err != nil {
		return err
	}
	w.mu.Lock()
	w.buffered = append(w.buffered, row)
	w.mu.Unlock()
	return w.policy.checkAndFlush(w)
}

// ForceFlush flushes unconditionally, for shutdown.
func (w *SnapshotCSVWriter) ForceFlush() error { return w.policy.forceFlush(w) }

// SnapshotCount returns the number of rows written to disk so far.
func (w *SnapshotCSVWriter) SnapshotCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotCount
}

// Close force-flushes and closes the underlying file.
func (w *SnapshotCSVWriter) Close() error {
	if err := w.ForceFlush(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cw.Flush()
	if err := w.bw.Flush(); err != nil {
		return kerrors.NewWriterIOError(w.file.Name(), err)
	}
	return w.file.Close()
}

func (w *SnapshotCSVWriter) bufferSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffered)
}

func (w *SnapshotCSVWriter) recordSize() int       { return snapshotRecordSize }
func (w *SnapshotCSVWriter) fileExtension() string { return ".csv" }
func (w *SnapshotCSVWriter) onSegmentModeSet()     {}

func (w *SnapshotCSVWriter) performFlush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, row := range w.buffered {
		m := row.Metrics
		record := []string{
			row.Timestamp, row.Symbol,
			formatAdaptive(m.BestBid), formatAdaptive(m.BestBidQty),
			formatAdaptive(m.BestAsk), formatAdaptive(m.BestAskQty),
			formatAdaptive(m.Spread), formatAdaptive(m.SpreadBps), formatAdaptive(m.MidPrice),
			formatAdaptive(m.BidVolumeTop10), formatAdaptive(m.AskVolumeTop10), formatAdaptive(m.Imbalance),
			formatAdaptive(m.Depth10Bps), formatAdaptive(m.Depth25Bps), formatAdaptive(m.Depth50Bps),
		}
		if err := w.cw.Write(record); err != nil {
			return kerrors.NewWriterIOError(w.file.Name(), err)
		}
		w.snapshotCount++
	}
	w.buffered = w.buffered[:0]
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		return kerrors.NewWriterIOError(w.file.Name(), err)
	}
	return w.bw.Flush()
}

func (w *SnapshotCSVWriter) performSegmentTransition(newFilename string) error {
	w.mu.Lock()
	old := w.file
	w.headerWritten = false
	w.mu.Unlock()
	if err := w.open(newFilename, false); err != nil {
		return err
	}
	return old.Close()
}
